package beacon

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fogfish/opts"

	"github.com/casualjim/beacon/events"
	"github.com/casualjim/beacon/internal/registry"
	"github.com/casualjim/beacon/pkg/slogx"
)

// Registry error taxonomy, re-exported so callers don't reach into internal
// packages.
var (
	ErrCapacityExceeded = registry.ErrCapacityExceeded
	ErrDuplicateID      = registry.ErrDuplicateID
)

// Broker is the in-process event broadcast core: it fans emitted events out
// to subscribed connections, serves long-poll waits and catch-up syncs, and
// keeps delivery metrics. Construct one per process and hand it to every
// collaborator that needs it; tests create a fresh instance each.
type Broker struct {
	cfg      Config
	log      *slog.Logger
	registry *registry.Registry
	history  *history
	metrics  *Metrics
	handlers *handlerRegistry
}

// New constructs a broker from the default configuration and the provided
// options.
func New(options ...opts.Option[Config]) (*Broker, error) {
	cfg := defaultConfig()
	if err := opts.Apply(&cfg, options); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Broker{
		cfg:      cfg,
		log:      cfg.Logger,
		registry: registry.New(cfg.MaxConnections, cfg.InboxSize, cfg.Logger),
		history:  newHistory(cfg.HistorySize),
		metrics:  newMetrics(),
		handlers: newHandlerRegistry(cfg.Logger),
	}, nil
}

// Run drives background maintenance (idle sweep, periodic metrics report)
// and blocks until the context is cancelled. Typically invoked as
// `go broker.Run(ctx)` from the process entry point.
func (b *Broker) Run(ctx context.Context) {
	go b.registry.Run(ctx, b.cfg.SweepInterval, b.cfg.MaxIdle)

	ticker := time.NewTicker(b.cfg.MetricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := b.Metrics()
			b.log.Info("event metrics",
				slog.Int64("total_events", snap.TotalEvents),
				slog.Float64("events_per_second", snap.EventsPerSecond),
				slog.Int64("failed_deliveries", snap.FailedDeliveries),
				slog.Int64("rate_limit_hits", snap.RateLimitHits),
			)
		}
	}
}

// Emit constructs an event, records it in history and metrics, runs any
// registered handlers, and distributes it to matching connections. Delivery
// is best-effort: the event is returned to the caller regardless of fan-out
// outcome, and a slow or broken subscriber never affects the emitter.
func (b *Broker) Emit(ctx context.Context, kind events.Kind, source, target, action string, payload map[string]any, options ...opts.Option[EmitOptions]) (events.Event, error) {
	eo := EmitOptions{Priority: events.PriorityNormal}
	if err := opts.Apply(&eo, options); err != nil {
		return events.Event{}, err
	}

	ev := events.New(kind, source, target, action, payload)
	ev.Metadata = eo.Metadata
	ev.Priority = eo.Priority
	ev.CorrelationID = eo.CorrelationID
	if eo.TTL > 0 {
		ev.TTL = eo.TTL
	}

	b.history.Append(ev)
	b.metrics.RecordEvent(ev)
	b.handlers.invoke(ctx, ev)
	b.distribute(ctx, ev)

	b.log.Debug("event emitted",
		slog.String("action", ev.Action),
		slog.String("target", ev.Target),
		slogx.Stringer("priority", ev.Priority),
	)
	return ev, nil
}

func (b *Broker) distribute(ctx context.Context, ev events.Event) {
	// Each matched connection gets its own goroutine: one stalled inbox must
	// not delay the others or the emitter.
	for _, id := range b.registry.Subscribers(ev.Channels()) {
		go b.deliver(ctx, id, ev)
	}
}

func (b *Broker) deliver(ctx context.Context, connectionID string, ev events.Event) {
	conn, ok := b.registry.Get(connectionID)
	if !ok {
		return
	}

	if !conn.AdmitDelivery(b.cfg.RateLimitEvents, b.cfg.RateLimitWindow) {
		b.log.Warn("connection is rate limited", slog.String("connection_id", connectionID))
		b.metrics.RecordRateLimit()
		return
	}

	for attempt := 1; attempt <= b.cfg.MaxRetryAttempts; attempt++ {
		err := conn.Enqueue(ctx, ev, b.cfg.EnqueueTimeout)
		if err == nil {
			return
		}
		if !errors.Is(err, registry.ErrInboxFull) {
			// Context cancelled, the emitter is shutting down.
			return
		}
		if attempt == b.cfg.MaxRetryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * b.cfg.RetryDelay):
		}
	}

	b.log.Warn("failed to deliver event",
		slog.String("connection_id", connectionID),
		slog.String("event_id", ev.ID),
		slog.Int("attempts", b.cfg.MaxRetryAttempts),
	)
	b.metrics.RecordFailedDelivery()
}

// Connections returns the number of live connections.
func (b *Broker) Connections() int {
	return b.registry.Len()
}

// TemporaryConnection registers a connection that is removed automatically
// once its first WaitForUpdates call completes, whatever the outcome.
func (b *Broker) TemporaryConnection(id string) (string, error) {
	conn, err := b.registry.Create(id, map[string]any{"temporary": true})
	if err != nil {
		return "", err
	}
	return conn.ID, nil
}

// RemoveConnection tears down a connection. Removing an unknown id is a
// no-op.
func (b *Broker) RemoveConnection(id string) {
	b.registry.Remove(id)
}
