package events

import (
	"fmt"
	"time"

	"github.com/go-openapi/strfmt"
	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/casualjim/beacon/pkg/uuidx"
)

// DefaultTTL is the expiry horizon applied to events that don't set one.
const DefaultTTL = time.Hour

// Kind identifies the operation an event describes.
type Kind string

const (
	// Data events
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
	KindRead   Kind = "read"
	KindList   Kind = "list"
	KindBatch  Kind = "batch"

	// Navigation events
	KindNavigate Kind = "navigate"
	KindRefresh  Kind = "refresh"
	KindFocus    Kind = "focus"

	// System events
	KindConnect    Kind = "connect"
	KindDisconnect Kind = "disconnect"
	KindHeartbeat  Kind = "heartbeat"
	KindError      Kind = "error"
	KindSuccess    Kind = "success"
	KindWarning    Kind = "warning"

	// Sync events
	KindSyncStart Kind = "sync_start"
	KindSyncEnd   Kind = "sync_end"
	KindConflict  Kind = "conflict"

	KindCustom Kind = "custom"
)

// Valid reports whether k is one of the recognized kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindCreate, KindUpdate, KindDelete, KindRead, KindList, KindBatch,
		KindNavigate, KindRefresh, KindFocus,
		KindConnect, KindDisconnect, KindHeartbeat, KindError, KindSuccess, KindWarning,
		KindSyncStart, KindSyncEnd, KindConflict,
		KindCustom:
		return true
	}
	return false
}

// ParseKind converts a wire string into a Kind, rejecting unknown values.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown event kind %q", s)
	}
	return k, nil
}

// Priority orders events from low to critical. Critical events cause a
// long-poll to return immediately instead of batching further.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Priorities lists all levels in ascending order.
var Priorities = []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("PRIORITY(%d)", int(p))
	}
}

// ParsePriority converts a wire integer into a Priority, rejecting values
// outside the known range.
func ParsePriority(v int) (Priority, error) {
	p := Priority(v)
	if p < PriorityLow || p > PriorityCritical {
		return 0, fmt.Errorf("unknown event priority %d", v)
	}
	return p, nil
}

// Event is an immutable record of a domain change. Producers construct one
// through New (or the broker's Emit) and never mutate it afterwards.
type Event struct {
	ID            string          `json:"id"`
	Kind          Kind            `json:"type"`
	Source        string          `json:"source"`
	Target        string          `json:"target"`
	Action        string          `json:"action"`
	Payload       map[string]any  `json:"data"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	Timestamp     strfmt.DateTime `json:"timestamp"`
	Priority      Priority        `json:"priority"`
	TTL           time.Duration   `json:"ttl"`
	RetryCount    int             `json:"retry_count"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// New constructs an event with a fresh id, the current timestamp, normal
// priority and the default TTL.
func New(kind Kind, source, target, action string, payload map[string]any) Event {
	return Event{
		ID:        uuidx.NewString(),
		Kind:      kind,
		Source:    source,
		Target:    target,
		Action:    action,
		Payload:   payload,
		Timestamp: strfmt.DateTime(time.Now()),
		Priority:  PriorityNormal,
		TTL:       DefaultTTL,
	}
}

// IsExpired reports whether the event's TTL has elapsed since it was created.
// Events without a TTL never expire.
func (e Event) IsExpired() bool {
	if e.TTL <= 0 {
		return false
	}
	return time.Since(time.Time(e.Timestamp)) > e.TTL
}

// Channels returns the four routing keys an event is matched against:
// exact, target wildcard, kind wildcard, and the catch-all.
func (e Event) Channels() []string {
	return []string{
		fmt.Sprintf("%s:%s", e.Target, e.Kind),
		e.Target + ":*",
		"*:" + string(e.Kind),
		"*",
	}
}

// MarshalJSON implements custom JSON marshaling for Event
func (e Event) MarshalJSON() ([]byte, error) {
	result := []byte(`{}`)

	var err error
	result, err = sjson.SetBytes(result, "id", e.ID)
	if err != nil {
		return nil, err
	}

	result, err = sjson.SetBytes(result, "type", string(e.Kind))
	if err != nil {
		return nil, err
	}

	result, err = sjson.SetBytes(result, "source", e.Source)
	if err != nil {
		return nil, err
	}

	result, err = sjson.SetBytes(result, "target", e.Target)
	if err != nil {
		return nil, err
	}

	result, err = sjson.SetBytes(result, "action", e.Action)
	if err != nil {
		return nil, err
	}

	payload := e.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	result, err = sjson.SetRawBytes(result, "data", payloadBytes)
	if err != nil {
		return nil, err
	}

	if e.Metadata != nil {
		metaBytes, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		result, err = sjson.SetRawBytes(result, "metadata", metaBytes)
		if err != nil {
			return nil, err
		}
	}

	result, err = sjson.SetBytes(result, "timestamp", e.Timestamp.String())
	if err != nil {
		return nil, err
	}

	result, err = sjson.SetBytes(result, "priority", int(e.Priority))
	if err != nil {
		return nil, err
	}

	result, err = sjson.SetBytes(result, "ttl", int(e.TTL/time.Second))
	if err != nil {
		return nil, err
	}

	result, err = sjson.SetBytes(result, "retry_count", e.RetryCount)
	if err != nil {
		return nil, err
	}

	if e.CorrelationID != "" {
		result, err = sjson.SetBytes(result, "correlation_id", e.CorrelationID)
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

// UnmarshalJSON implements custom JSON unmarshaling for Event. Missing ids
// and timestamps are regenerated so partially specified wire events are
// still usable.
func (e *Event) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid json: %s", data)
	}

	kind := gjson.GetBytes(data, "type")
	if !kind.Exists() {
		return fmt.Errorf("missing required field 'type'")
	}
	parsed, err := ParseKind(kind.String())
	if err != nil {
		return err
	}
	e.Kind = parsed

	source := gjson.GetBytes(data, "source")
	if !source.Exists() {
		return fmt.Errorf("missing required field 'source'")
	}
	e.Source = source.String()

	target := gjson.GetBytes(data, "target")
	if !target.Exists() {
		return fmt.Errorf("missing required field 'target'")
	}
	e.Target = target.String()

	action := gjson.GetBytes(data, "action")
	if !action.Exists() {
		return fmt.Errorf("missing required field 'action'")
	}
	e.Action = action.String()

	if id := gjson.GetBytes(data, "id"); id.Exists() && id.String() != "" {
		e.ID = id.String()
	} else {
		e.ID = uuidx.NewString()
	}

	if payload := gjson.GetBytes(data, "data"); payload.Exists() {
		if err := json.Unmarshal([]byte(payload.Raw), &e.Payload); err != nil {
			return fmt.Errorf("invalid data: %w", err)
		}
	}

	if meta := gjson.GetBytes(data, "metadata"); meta.Exists() {
		if err := json.Unmarshal([]byte(meta.Raw), &e.Metadata); err != nil {
			return fmt.Errorf("invalid metadata: %w", err)
		}
	}

	if timestamp := gjson.GetBytes(data, "timestamp"); timestamp.Exists() {
		if err := e.Timestamp.UnmarshalText([]byte(timestamp.String())); err != nil {
			return fmt.Errorf("invalid timestamp: %w", err)
		}
	} else {
		e.Timestamp = strfmt.DateTime(time.Now())
	}

	if priority := gjson.GetBytes(data, "priority"); priority.Exists() {
		p, err := ParsePriority(int(priority.Int()))
		if err != nil {
			return err
		}
		e.Priority = p
	} else {
		e.Priority = PriorityNormal
	}

	if ttl := gjson.GetBytes(data, "ttl"); ttl.Exists() {
		e.TTL = time.Duration(ttl.Int()) * time.Second
	} else {
		e.TTL = DefaultTTL
	}

	if retries := gjson.GetBytes(data, "retry_count"); retries.Exists() {
		e.RetryCount = int(retries.Int())
	}

	if correlationID := gjson.GetBytes(data, "correlation_id"); correlationID.Exists() {
		e.CorrelationID = correlationID.String()
	}

	return nil
}
