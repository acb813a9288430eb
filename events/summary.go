package events

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Summary aggregates a batch of delivered events for pull-style callers,
// grouped by target then kind. Counts preserves first-seen target order so
// serialized summaries are deterministic.
type Summary struct {
	Counts     *orderedmap.OrderedMap[string, map[string]int] `json:"counts"`
	Affected   map[string][]string                            `json:"affected"`
	Total      int                                            `json:"total"`
	Priorities map[string]int                                 `json:"priority_breakdown"`
}

// Summarize builds a Summary over the given events. All four priority levels
// are present in the breakdown even when their count is zero.
func Summarize(evts []Event) Summary {
	counts := orderedmap.New[string, map[string]int]()
	affected := make(map[string][]string)
	seen := make(map[string]map[string]struct{})

	priorities := make(map[string]int, len(Priorities))
	for _, p := range Priorities {
		priorities[p.String()] = 0
	}

	for _, e := range evts {
		byKind, ok := counts.Get(e.Target)
		if !ok {
			byKind = make(map[string]int)
			counts.Set(e.Target, byKind)
		}
		byKind[string(e.Kind)]++

		if id, ok := e.Payload["id"].(string); ok && id != "" {
			if seen[e.Target] == nil {
				seen[e.Target] = make(map[string]struct{})
			}
			if _, dup := seen[e.Target][id]; !dup {
				seen[e.Target][id] = struct{}{}
				affected[e.Target] = append(affected[e.Target], id)
			}
		}

		priorities[e.Priority.String()]++
	}

	return Summary{
		Counts:     counts,
		Affected:   affected,
		Total:      len(evts),
		Priorities: priorities,
	}
}
