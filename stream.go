package beacon

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-openapi/strfmt"

	"github.com/casualjim/beacon/events"
	"github.com/casualjim/beacon/pkg/slogx"
)

// Notification frame types sent to a streaming sink.
const (
	NotifyConnection = "connection"
	NotifyEvent      = "event"
	NotifyHeartbeat  = "heartbeat"
	NotifyError      = "error"
)

// Notification is the transport-agnostic frame the streaming loop hands to
// its sink: an initial connection frame carrying the resumable connection
// id, forwarded events, periodic heartbeats, and errors.
type Notification struct {
	Type         string          `json:"type"`
	ID           string          `json:"id,omitempty"`
	ConnectionID string          `json:"connection_id,omitempty"`
	Channels     []string        `json:"channels,omitempty"`
	RetryMillis  int64           `json:"retry,omitempty"`
	Event        *events.Event   `json:"event,omitempty"`
	Message      string          `json:"message,omitempty"`
	Timestamp    strfmt.DateTime `json:"timestamp"`
}

// Sink receives notifications from a streaming loop. A Send error ends the
// loop; transports use it to signal subscriber disconnect.
type Sink interface {
	Send(Notification) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Notification) error

func (f SinkFunc) Send(n Notification) error { return f(n) }

// StreamRequest carries the optional parameters of Stream.
type StreamRequest struct {
	// ConnectionID to register under; generated when empty. Reconnecting
	// subscribers pass the id from their previous connection frame.
	ConnectionID string
	// Channels to subscribe; defaults to everything.
	Channels []string
	// Metadata annotates the connection for the transport (client address,
	// user agent, ...).
	Metadata map[string]any
}

// Stream runs the push-style delivery loop for one subscriber: it registers
// a connection, sends the connection-established frame, then forwards inbox
// events and emits a heartbeat whenever the inbox stays idle for the
// configured interval. The loop ends when the context is cancelled (the
// transport detected a disconnect) or the sink fails; the connection is
// removed from the registry on every exit path.
func (b *Broker) Stream(ctx context.Context, sink Sink, req StreamRequest) error {
	channels := req.Channels
	if len(channels) == 0 {
		channels = []string{"*"}
	}

	meta := map[string]any{"type": "stream", "channels": channels}
	for k, v := range req.Metadata {
		meta[k] = v
	}

	conn, err := b.registry.Create(req.ConnectionID, meta)
	if err != nil {
		_ = sink.Send(Notification{
			Type:      NotifyError,
			Message:   err.Error(),
			Timestamp: strfmt.DateTime(time.Now()),
		})
		return err
	}
	defer b.registry.Remove(conn.ID)

	conn.Subscribe(channels...)

	if err := sink.Send(Notification{
		Type:         NotifyConnection,
		ID:           conn.ID,
		ConnectionID: conn.ID,
		Channels:     channels,
		RetryMillis:  b.cfg.RetryHintMillis,
		Timestamp:    strfmt.DateTime(time.Now()),
	}); err != nil {
		return err
	}
	b.log.Info("stream established", slog.String("connection_id", conn.ID))

	for {
		select {
		case <-ctx.Done():
			b.log.Info("stream closed", slog.String("connection_id", conn.ID))
			return nil
		case ev := <-conn.Events():
			if err := sink.Send(Notification{
				Type:      NotifyEvent,
				ID:        ev.ID,
				Event:     &ev,
				Timestamp: strfmt.DateTime(time.Now()),
			}); err != nil {
				return err
			}
		case <-time.After(b.cfg.HeartbeatInterval):
			if _, err := b.Emit(ctx, events.KindHeartbeat, "system", "connection", "heartbeat",
				map[string]any{"connection_id": conn.ID},
				WithPriority(events.PriorityLow),
			); err != nil {
				b.log.Error("failed to emit heartbeat", slogx.Error(err))
			}
			if err := sink.Send(Notification{
				Type:      NotifyHeartbeat,
				Timestamp: strfmt.DateTime(time.Now()),
			}); err != nil {
				return err
			}
		}
	}
}
