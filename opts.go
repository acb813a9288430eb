package beacon

import (
	"log/slog"
	"time"

	"github.com/fogfish/opts"

	"github.com/casualjim/beacon/events"
)

// Config carries the broker's tunables. New starts from defaultConfig and
// applies the With* options on top.
type Config struct {
	MaxConnections    int
	InboxSize         int
	HistorySize       int
	DefaultWait       time.Duration
	MaxWait           time.Duration
	SweepInterval     time.Duration
	MaxIdle           time.Duration
	RateLimitEvents   int
	RateLimitWindow   time.Duration
	MaxRetryAttempts  int
	RetryDelay        time.Duration
	EnqueueTimeout    time.Duration
	HeartbeatInterval time.Duration
	RetryHintMillis   int64
	MetricsInterval   time.Duration
	Logger            *slog.Logger
	StateSnapshot     func() map[string]any
}

func defaultConfig() Config {
	return Config{
		MaxConnections:    100,
		InboxSize:         100,
		HistorySize:       1000,
		DefaultWait:       30 * time.Second,
		MaxWait:           5 * time.Minute,
		SweepInterval:     time.Minute,
		MaxIdle:           10 * time.Minute,
		RateLimitEvents:   1000,
		RateLimitWindow:   time.Minute,
		MaxRetryAttempts:  3,
		RetryDelay:        time.Second,
		EnqueueTimeout:    time.Second,
		HeartbeatInterval: 30 * time.Second,
		RetryHintMillis:   5000,
		MetricsInterval:   5 * time.Minute,
	}
}

var (
	WithMaxConnections    = opts.ForName[Config, int]("MaxConnections")
	WithInboxSize         = opts.ForName[Config, int]("InboxSize")
	WithHistorySize       = opts.ForName[Config, int]("HistorySize")
	WithDefaultWait       = opts.ForName[Config, time.Duration]("DefaultWait")
	WithMaxWait           = opts.ForName[Config, time.Duration]("MaxWait")
	WithSweepInterval     = opts.ForName[Config, time.Duration]("SweepInterval")
	WithMaxIdle           = opts.ForName[Config, time.Duration]("MaxIdle")
	WithRetryDelay        = opts.ForName[Config, time.Duration]("RetryDelay")
	WithEnqueueTimeout    = opts.ForName[Config, time.Duration]("EnqueueTimeout")
	WithHeartbeatInterval = opts.ForName[Config, time.Duration]("HeartbeatInterval")
	WithMetricsInterval   = opts.ForName[Config, time.Duration]("MetricsInterval")
	WithLogger            = opts.ForName[Config, *slog.Logger]("Logger")
)

// WithRateLimit caps deliveries per connection at maxEvents within the given
// rolling window.
func WithRateLimit(maxEvents int, window time.Duration) opts.Option[Config] {
	return opts.Type[Config](func(c *Config) error {
		c.RateLimitEvents = maxEvents
		c.RateLimitWindow = window
		return nil
	})
}

// WithStateSnapshot installs the hook SyncChanges calls when a full state
// dump is requested alongside the event delta.
func WithStateSnapshot(fn func() map[string]any) opts.Option[Config] {
	return opts.Type[Config](func(c *Config) error {
		c.StateSnapshot = fn
		return nil
	})
}

// EmitOptions carries the optional attributes of an emitted event.
type EmitOptions struct {
	Metadata      map[string]any
	Priority      events.Priority
	CorrelationID string
	TTL           time.Duration
}

var (
	WithPriority      = opts.ForName[EmitOptions, events.Priority]("Priority")
	WithCorrelationID = opts.ForName[EmitOptions, string]("CorrelationID")
	WithMetadata      = opts.ForName[EmitOptions, map[string]any]("Metadata")
	WithTTL           = opts.ForName[EmitOptions, time.Duration]("TTL")
)

// WithUIHint annotates the event metadata with a hint for UI consumers,
// e.g. "navigate_to" or "refresh".
func WithUIHint(hint string) opts.Option[EmitOptions] {
	return opts.Type[EmitOptions](func(o *EmitOptions) error {
		if o.Metadata == nil {
			o.Metadata = map[string]any{}
		}
		o.Metadata["ui_hint"] = hint
		return nil
	})
}
