package beacon

import (
	"context"

	"github.com/fogfish/opts"

	"github.com/casualjim/beacon/events"
	"github.com/casualjim/beacon/pkg/slogx"
)

// Op is a record-store operation whose result feeds an emitted event.
type Op func(context.Context) (map[string]any, error)

// Notify composes an operation with event emission: after the inner
// operation succeeds its result is broadcast under the given kind, and a
// failure broadcasts a high-priority error event before the error is
// returned. Apply it at the call sites that need auto-emission:
//
//	createNote := beacon.Notify(b, events.KindCreate, "store", "note", "create_note",
//		beacon.WithUIHint("navigate_to"))(rawCreate)
func Notify(b *Broker, kind events.Kind, source, target, action string, options ...opts.Option[EmitOptions]) func(Op) Op {
	return func(inner Op) Op {
		return func(ctx context.Context) (map[string]any, error) {
			result, err := inner(ctx)
			if err != nil {
				if _, emitErr := b.Emit(ctx, events.KindError, source, target, action,
					map[string]any{"error": err.Error()},
					WithPriority(events.PriorityHigh),
					WithMetadata(map[string]any{"operation": action}),
				); emitErr != nil {
					b.log.Error("failed to emit error event", slogx.Error(emitErr))
				}
				return nil, err
			}

			meta := map[string]any{"operation": action}
			if id, ok := result["id"]; ok {
				meta["resource_id"] = id
			}
			emitOpts := append([]opts.Option[EmitOptions]{WithMetadata(meta)}, options...)
			if _, emitErr := b.Emit(ctx, kind, source, target, action, result, emitOpts...); emitErr != nil {
				b.log.Error("failed to emit event", slogx.Error(emitErr))
			}
			return result, nil
		}
	}
}
