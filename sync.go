package beacon

import (
	"time"

	"github.com/go-openapi/strfmt"

	"github.com/casualjim/beacon/events"
)

// SyncResult is a point-in-time delta over the event history.
type SyncResult struct {
	Events     []events.Event  `json:"events"`
	NextSyncID string          `json:"next_sync_id,omitempty"`
	Timestamp  strfmt.DateTime `json:"timestamp"`
	State      map[string]any  `json:"state,omitempty"`
}

// SyncChanges scans the history ring in emission order and returns every
// non-expired event recorded after lastSyncID; the event carrying lastSyncID
// itself is excluded. An empty lastSyncID, or one that has already aged out
// of the ring, restarts from the oldest retained event.
//
// NextSyncID is the resumption token for the next call: the id of the last
// returned event, or lastSyncID unchanged when nothing qualified.
func (b *Broker) SyncChanges(connectionID, lastSyncID string, includeFullState bool) SyncResult {
	b.registry.Get(connectionID) // touch activity when the connection exists

	snapshot := b.history.Snapshot()
	from := 0
	if lastSyncID != "" {
		for i, ev := range snapshot {
			if ev.ID == lastSyncID {
				from = i + 1
				break
			}
		}
	}

	var out []events.Event
	for _, ev := range snapshot[from:] {
		if !ev.IsExpired() {
			out = append(out, ev)
		}
	}

	next := lastSyncID
	if len(out) > 0 {
		next = out[len(out)-1].ID
	}

	result := SyncResult{
		Events:     out,
		NextSyncID: next,
		Timestamp:  strfmt.DateTime(time.Now()),
	}
	if includeFullState {
		if b.cfg.StateSnapshot != nil {
			result.State = b.cfg.StateSnapshot()
		} else {
			result.State = map[string]any{}
		}
	}
	return result
}
