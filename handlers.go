package beacon

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/casualjim/beacon/events"
	"github.com/casualjim/beacon/pkg/slogx"
)

// Handler processes an event matched by a registered channel pattern.
type Handler func(context.Context, events.Event) error

type handlerEntry struct {
	id       uint64
	priority int
	fn       Handler
}

// handlerRegistry keeps (priority, handler) pairs per channel pattern in
// priority order. Handler failures are logged and never abort the remaining
// handlers or the emit.
type handlerRegistry struct {
	mu       sync.Mutex
	seq      uint64
	patterns map[string][]handlerEntry
	log      *slog.Logger
}

func newHandlerRegistry(log *slog.Logger) *handlerRegistry {
	return &handlerRegistry{
		patterns: make(map[string][]handlerEntry),
		log:      log,
	}
}

// RegisterHandler adds fn for a channel pattern; higher priorities run
// first. The returned func removes the registration and is safe to call
// more than once.
func (b *Broker) RegisterHandler(pattern string, priority int, fn Handler) func() {
	return b.handlers.register(pattern, priority, fn)
}

func (r *handlerRegistry) register(pattern string, priority int, fn Handler) func() {
	r.mu.Lock()
	r.seq++
	id := r.seq
	entries := append(r.patterns[pattern], handlerEntry{id: id, priority: priority, fn: fn})
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].priority > entries[j].priority })
	r.patterns[pattern] = entries
	r.mu.Unlock()

	r.log.Debug("handler registered", slog.String("pattern", pattern), slog.Int("priority", priority))

	var once sync.Once
	return func() {
		once.Do(func() { r.unregister(pattern, id) })
	}
}

func (r *handlerRegistry) unregister(pattern string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.patterns[pattern]
	r.patterns[pattern] = slices.DeleteFunc(entries, func(e handlerEntry) bool { return e.id == id })
}

func (r *handlerRegistry) invoke(ctx context.Context, ev events.Event) {
	for _, pattern := range ev.Channels() {
		r.mu.Lock()
		entries := slices.Clone(r.patterns[pattern])
		r.mu.Unlock()
		for _, entry := range entries {
			r.run(ctx, pattern, entry, ev)
		}
	}
}

func (r *handlerRegistry) run(ctx context.Context, pattern string, entry handlerEntry, ev events.Event) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("event handler panicked", slog.String("pattern", pattern), slog.Any("panic", p))
		}
	}()
	if err := entry.fn(ctx, ev); err != nil {
		r.log.Error("event handler failed", slog.String("pattern", pattern), slogx.Error(err))
	}
}
