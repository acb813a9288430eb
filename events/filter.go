package events

import (
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/go-openapi/swag"
)

// Filter is a predicate over events. Every criterion left at its zero value
// passes; Matches is the conjunction of the ones that are set.
//
// The zero Filter excludes expired events, matching the default behavior of
// long-poll and catch-up callers. Set IncludeExpired to surface them anyway.
type Filter struct {
	Kinds          []Kind
	Sources        []string
	Targets        []string
	MinPriority    Priority
	Since          strfmt.DateTime
	CorrelationID  string
	IncludeExpired bool
}

// Matches reports whether the event satisfies every criterion set on the
// filter. It is a pure function of (event, filter).
func (f Filter) Matches(e Event) bool {
	if !f.IncludeExpired && e.IsExpired() {
		return false
	}
	if len(f.Kinds) > 0 && !containsKind(f.Kinds, e.Kind) {
		return false
	}
	if len(f.Sources) > 0 && !swag.ContainsStrings(f.Sources, e.Source) {
		return false
	}
	if len(f.Targets) > 0 && !swag.ContainsStrings(f.Targets, e.Target) {
		return false
	}
	if e.Priority < f.MinPriority {
		return false
	}
	if f.CorrelationID != "" && e.CorrelationID != f.CorrelationID {
		return false
	}
	if !time.Time(f.Since).IsZero() && time.Time(e.Timestamp).Before(time.Time(f.Since)) {
		return false
	}
	return true
}

func containsKind(kinds []Kind, k Kind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}
