package config

import (
	"time"

	"github.com/liamcoop/retention/events"
)

// Default values.
const (
	DefaultListenAddress   = ":8080"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxOpenConns    = 10
	DefaultFailurePolicy   = "keep"
	DefaultSweepSchedule   = "*/15 * * * *"
	DefaultCostLimit       = 1_000_000
	DefaultWorkers         = 4
	DefaultQueueSize       = 256
	DefaultMaxRetries      = 3
	DefaultBaseBackoff     = 200 * time.Millisecond
	DefaultMetricsPath     = "/metrics"
	DefaultNamespace       = "retention"
	DefaultLogLevel        = "INFO"
	DefaultSampleRate      = 1
	DefaultServiceName     = "retention"
)

// DefaultAcceptedEvents are the events the engine reacts to when neither the
// configuration nor the database lists any.
func DefaultAcceptedEvents() []string {
	return []string{
		events.DocumentCreated,
		events.DocumentModified,
		events.DocumentMoved,
		events.DocumentLocked,
		events.DocumentUnlocked,
		events.DocumentTrashed,
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{Metrics: MetricsConfig{Enabled: true}}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero values.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = DefaultMaxOpenConns
	}

	if cfg.Retention.FailurePolicy == "" {
		cfg.Retention.FailurePolicy = DefaultFailurePolicy
	}
	if cfg.Retention.SweepSchedule == "" {
		cfg.Retention.SweepSchedule = DefaultSweepSchedule
	}
	if len(cfg.Retention.AcceptedEvents) == 0 {
		cfg.Retention.AcceptedEvents = DefaultAcceptedEvents()
	}
	if cfg.Retention.CostLimit == 0 {
		cfg.Retention.CostLimit = DefaultCostLimit
	}

	if cfg.Workers.Count == 0 {
		cfg.Workers.Count = DefaultWorkers
	}
	if cfg.Workers.QueueSize == 0 {
		cfg.Workers.QueueSize = DefaultQueueSize
	}
	if cfg.Workers.MaxRetries == 0 {
		cfg.Workers.MaxRetries = DefaultMaxRetries
	}
	if cfg.Workers.BaseBackoff == 0 {
		cfg.Workers.BaseBackoff = DefaultBaseBackoff
	}

	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultNamespace
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.SampleRate == 0 {
		cfg.Logging.SampleRate = DefaultSampleRate
	}
	if cfg.Logging.ServiceName == "" {
		cfg.Logging.ServiceName = DefaultServiceName
	}
}
