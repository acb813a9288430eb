package beacon

import (
	"context"
	"time"

	"github.com/go-openapi/strfmt"

	"github.com/casualjim/beacon/events"
)

// WaitStatus is the three-state outcome of a long-poll wait.
type WaitStatus string

const (
	StatusUpdates WaitStatus = "updates"
	StatusTimeout WaitStatus = "timeout"
	StatusError   WaitStatus = "error"
)

// WaitRequest carries the optional parameters of WaitForUpdates.
type WaitRequest struct {
	// Targets to subscribe the connection to. Each target subscribes both
	// "{target}:*" and "*:{target}"; when empty the connection subscribes
	// to everything.
	Targets []string
	// Timeout bounds the wait. Zero means the configured default; values
	// above the configured maximum are clamped.
	Timeout time.Duration
	// Filter keeps only matching events. When nil a default filter using
	// Since is applied.
	Filter *events.Filter
	// Since drops events older than this timestamp when no explicit filter
	// is given.
	Since strfmt.DateTime
}

// WaitResult is the outcome of a long-poll wait.
type WaitResult struct {
	Status      WaitStatus     `json:"status"`
	Events      []events.Event `json:"events"`
	Summary     events.Summary `json:"summary"`
	LastEventID string         `json:"last_event_id,omitempty"`
	Duration    time.Duration  `json:"duration"`
	Err         error          `json:"-"`
}

// WaitForUpdates blocks until a matching event arrives on the connection's
// inbox or the deadline elapses. The connection is created lazily when
// absent, and the requested target channels are added to its subscriptions
// cumulatively.
//
// Events are collected until the deadline, except that a critical-priority
// match returns immediately with everything gathered so far. A connection
// flagged temporary is removed from the registry on every exit path.
func (b *Broker) WaitForUpdates(ctx context.Context, connectionID string, req WaitRequest) WaitResult {
	start := time.Now()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = b.cfg.DefaultWait
	}
	if timeout > b.cfg.MaxWait {
		timeout = b.cfg.MaxWait
	}

	conn, err := b.registry.GetOrCreate(connectionID, nil)
	if err != nil {
		return WaitResult{Status: StatusError, Err: err, Duration: time.Since(start)}
	}
	defer func() {
		if conn.Temporary() {
			b.registry.Remove(conn.ID)
		}
	}()

	var channels []string
	if len(req.Targets) > 0 {
		for _, target := range req.Targets {
			channels = append(channels, target+":*", "*:"+target)
		}
	} else {
		channels = []string{"*"}
	}
	conn.Subscribe(channels...)

	filter := req.Filter
	if filter == nil {
		filter = &events.Filter{Since: req.Since}
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	var collected []events.Event
collect:
	for {
		select {
		case ev := <-conn.Events():
			if !filter.Matches(ev) {
				continue
			}
			collected = append(collected, ev)
			if ev.Priority == events.PriorityCritical {
				break collect
			}
		case <-deadline.C:
			break collect
		case <-ctx.Done():
			return WaitResult{Status: StatusError, Err: ctx.Err(), Duration: time.Since(start)}
		}
	}

	if len(collected) == 0 {
		return WaitResult{Status: StatusTimeout, Events: []events.Event{}, Duration: time.Since(start)}
	}
	return WaitResult{
		Status:      StatusUpdates,
		Events:      collected,
		Summary:     events.Summarize(collected),
		LastEventID: collected[len(collected)-1].ID,
		Duration:    time.Since(start),
	}
}
