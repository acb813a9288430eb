package beacon

import (
	"sync"

	"github.com/casualjim/beacon/events"
)

// history is a bounded ring of emitted events in emission order, used only
// for catch-up sync. Overflow evicts the oldest entry; it provides no
// delivery guarantees.
type history struct {
	mu    sync.Mutex
	buf   []events.Event
	max   int
	start int
	count int
}

func newHistory(max int) *history {
	return &history{max: max}
}

func (h *history) Append(ev events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count < h.max {
		h.buf = append(h.buf, ev)
		h.count++
		return
	}
	h.buf[h.start] = ev
	h.start = (h.start + 1) % h.max
}

// Snapshot copies the retained events oldest-first.
func (h *history) Snapshot() []events.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]events.Event, 0, h.count)
	for i := 0; i < h.count; i++ {
		out = append(out, h.buf[(h.start+i)%h.max])
	}
	return out
}

func (h *history) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}
