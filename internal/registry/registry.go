package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/casualjim/beacon/pkg/uuidx"
)

var (
	// ErrCapacityExceeded is returned by Create when the registry already
	// holds the maximum number of live connections.
	ErrCapacityExceeded = errors.New("connection registry is at capacity")
	// ErrDuplicateID is returned by Create when the caller-supplied id
	// collides with a live connection.
	ErrDuplicateID = errors.New("connection id is already registered")
)

// Registry owns every live connection. All mutation of the connection set
// goes through a single exclusive lock; connection-internal state (inbox,
// rate window) is independently synchronized.
type Registry struct {
	mu    sync.Mutex
	conns map[string]*Connection

	max       int
	inboxSize int
	log       *slog.Logger
}

// New creates a registry capped at maxConnections, allocating inboxes of
// inboxSize for each connection it creates.
func New(maxConnections, inboxSize int, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		conns:     make(map[string]*Connection),
		max:       maxConnections,
		inboxSize: inboxSize,
		log:       log,
	}
}

// Create registers a new connection. An empty id gets a generated one.
func (r *Registry) Create(id string, metadata map[string]any) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createLocked(id, metadata)
}

func (r *Registry) createLocked(id string, metadata map[string]any) (*Connection, error) {
	if len(r.conns) >= r.max {
		return nil, fmt.Errorf("%w (%d)", ErrCapacityExceeded, r.max)
	}
	if id == "" {
		id = uuidx.NewString()
	}
	if _, ok := r.conns[id]; ok {
		return nil, fmt.Errorf("connection %s: %w", id, ErrDuplicateID)
	}
	conn := newConnection(id, r.inboxSize, metadata)
	r.conns[id] = conn
	r.log.Info("connection created", slog.String("connection_id", id))
	return conn, nil
}

// Get looks up a connection and touches its activity timestamp when found.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.Lock()
	conn, ok := r.conns[id]
	r.mu.Unlock()
	if ok {
		conn.Touch()
	}
	return conn, ok
}

// GetOrCreate resolves a connection, registering it lazily when absent.
func (r *Registry) GetOrCreate(id string, metadata map[string]any) (*Connection, error) {
	r.mu.Lock()
	if conn, ok := r.conns[id]; ok {
		r.mu.Unlock()
		conn.Touch()
		return conn, nil
	}
	conn, err := r.createLocked(id, metadata)
	r.mu.Unlock()
	return conn, err
}

// Remove deletes a connection. It is idempotent; removing an absent id is a
// no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	_, ok := r.conns[id]
	delete(r.conns, id)
	r.mu.Unlock()
	if ok {
		r.log.Info("connection removed", slog.String("connection_id", id))
	}
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Subscribers collects the ids of connections subscribed to any of the given
// channels. A connection matching several channels appears once.
func (r *Registry) Subscribers(channels []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, conn := range r.conns {
		for _, ch := range channels {
			if conn.Subscribed(ch) {
				ids = append(ids, id)
				break
			}
		}
	}
	return ids
}

// SweepIdle removes every connection idle for longer than maxIdle and
// returns the number removed.
func (r *Registry) SweepIdle(maxIdle time.Duration) int {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, conn := range r.conns {
		if conn.IdleFor(now) > maxIdle {
			delete(r.conns, id)
			removed++
			r.log.Info("removed stale connection", slog.String("connection_id", id))
		}
	}
	return removed
}

// Run sweeps idle connections on a fixed interval until the context is
// cancelled.
func (r *Registry) Run(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := r.SweepIdle(maxIdle); removed > 0 {
				r.log.Info("swept idle connections", slog.Int("removed", removed))
			}
		}
	}
}
