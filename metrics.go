package beacon

import (
	"sync"
	"time"

	"github.com/casualjim/beacon/events"
)

// Metrics tracks event-system counters since broker construction.
type Metrics struct {
	mu       sync.Mutex
	start    time.Time
	total    int64
	byKind   map[string]int64
	bySource map[string]int64
	failed   int64
	limited  int64
}

func newMetrics() *Metrics {
	return &Metrics{
		start:    time.Now(),
		byKind:   make(map[string]int64),
		bySource: make(map[string]int64),
	}
}

func (m *Metrics) RecordEvent(ev events.Event) {
	m.mu.Lock()
	m.total++
	m.byKind[string(ev.Kind)]++
	m.bySource[ev.Source]++
	m.mu.Unlock()
}

func (m *Metrics) RecordFailedDelivery() {
	m.mu.Lock()
	m.failed++
	m.mu.Unlock()
}

func (m *Metrics) RecordRateLimit() {
	m.mu.Lock()
	m.limited++
	m.mu.Unlock()
}

// MetricsSnapshot is a point-in-time copy of the broker's counters.
type MetricsSnapshot struct {
	UptimeSeconds    float64          `json:"uptime_seconds"`
	TotalEvents      int64            `json:"total_events"`
	EventsPerSecond  float64          `json:"events_per_second"`
	EventsByKind     map[string]int64 `json:"events_by_type"`
	EventsBySource   map[string]int64 `json:"events_by_source"`
	FailedDeliveries int64            `json:"failed_deliveries"`
	RateLimitHits    int64            `json:"rate_limit_hits"`
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	byKind := make(map[string]int64, len(m.byKind))
	for k, v := range m.byKind {
		byKind[k] = v
	}
	bySource := make(map[string]int64, len(m.bySource))
	for k, v := range m.bySource {
		bySource[k] = v
	}

	uptime := time.Since(m.start).Seconds()
	perSecond := 0.0
	if uptime > 0 {
		perSecond = float64(m.total) / uptime
	}
	return MetricsSnapshot{
		UptimeSeconds:    uptime,
		TotalEvents:      m.total,
		EventsPerSecond:  perSecond,
		EventsByKind:     byKind,
		EventsBySource:   bySource,
		FailedDeliveries: m.failed,
		RateLimitHits:    m.limited,
	}
}

// Metrics returns a snapshot of the broker's counters.
func (b *Broker) Metrics() MetricsSnapshot {
	return b.metrics.Snapshot()
}
