package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alphadose/haxmap"

	"github.com/casualjim/beacon/events"
)

// ErrInboxFull signals that an enqueue attempt timed out waiting for space
// in a connection's inbox.
var ErrInboxFull = errors.New("connection inbox is full")

// Connection holds the per-subscriber state: the channel patterns it is
// subscribed to, a bounded inbox of pending events, rate-limit bookkeeping
// and an activity timestamp used by the idle sweeper.
//
// A connection belongs to exactly one registry. The registry owns membership;
// the inbox is owned by the connection and drained only by its subscriber.
type Connection struct {
	ID        string
	CreatedAt time.Time

	subscriptions *haxmap.Map[string, struct{}]
	inbox         chan events.Event
	metadata      map[string]any

	mu              sync.Mutex
	lastActivity    time.Time
	rateWindowStart time.Time
	rateCount       int
	deliveredTotal  int
}

func newConnection(id string, inboxSize int, metadata map[string]any) *Connection {
	now := time.Now()
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &Connection{
		ID:              id,
		CreatedAt:       now,
		subscriptions:   haxmap.New[string, struct{}](),
		inbox:           make(chan events.Event, inboxSize),
		metadata:        metadata,
		lastActivity:    now,
		rateWindowStart: now,
	}
}

// Subscribe adds channel patterns to the connection's subscription set.
// Subscriptions are cumulative; there is no unsubscribe short of removing
// the connection.
func (c *Connection) Subscribe(channels ...string) {
	for _, ch := range channels {
		c.subscriptions.Set(ch, struct{}{})
	}
}

// Subscribed reports whether the connection subscribes to the given channel.
func (c *Connection) Subscribed(channel string) bool {
	_, ok := c.subscriptions.Get(channel)
	return ok
}

// Channels returns the connection's current subscription patterns.
func (c *Connection) Channels() []string {
	out := make([]string, 0, c.subscriptions.Len())
	c.subscriptions.ForEach(func(ch string, _ struct{}) bool {
		out = append(out, ch)
		return true
	})
	return out
}

// Events exposes the inbox for draining by the connection's subscriber.
func (c *Connection) Events() <-chan events.Event {
	return c.inbox
}

// Enqueue attempts to push an event into the inbox, giving up with
// ErrInboxFull once the timeout elapses so a full inbox never blocks the
// delivery path indefinitely.
func (c *Connection) Enqueue(ctx context.Context, ev events.Event, timeout time.Duration) error {
	select {
	case c.inbox <- ev:
		return nil
	case <-time.After(timeout):
		return ErrInboxFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of undrained events in the inbox.
func (c *Connection) Pending() int {
	return len(c.inbox)
}

// Touch records subscriber activity for the idle sweeper.
func (c *Connection) Touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// IdleFor returns how long the connection has gone without activity.
func (c *Connection) IdleFor(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastActivity)
}

// AdmitDelivery checks the connection's rate window and, when it is under
// the limit, counts the delivery against it in the same critical section.
// A window older than the given duration is reset. Returns false when the
// connection has exhausted its allowance for the current window.
func (c *Connection) AdmitDelivery(maxEvents int, window time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if now.Sub(c.rateWindowStart) > window {
		c.rateWindowStart = now
		c.rateCount = 0
	}
	if c.rateCount >= maxEvents {
		return false
	}
	c.rateCount++
	c.deliveredTotal++
	return true
}

// Temporary reports whether the connection was flagged for removal once its
// single long-poll wait completes.
func (c *Connection) Temporary() bool {
	v, ok := c.metadata["temporary"].(bool)
	return ok && v
}

// Meta returns a transport-specific annotation set at creation. The metadata
// map is read-only after construction.
func (c *Connection) Meta(key string) (any, bool) {
	v, ok := c.metadata[key]
	return v, ok
}
