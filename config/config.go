// Package config loads the service configuration from YAML with environment
// overrides and watches the file for changes.
package config

import "time"

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Retention RetentionConfig `yaml:"retention"`
	Workers   WorkersConfig   `yaml:"workers"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the admin HTTP API.
type ServerConfig struct {
	ListenAddress   string        `yaml:"listen_address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig selects the storage backend. An empty URL keeps everything
// in memory.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// RetentionConfig configures the engine.
type RetentionConfig struct {
	// Timezone is the IANA zone used for calendar arithmetic. Empty means local.
	Timezone      string `yaml:"timezone"`
	FailurePolicy string `yaml:"failure_policy"`
	// SweepSchedule is a five-field cron expression for the expired record sweep.
	SweepSchedule  string        `yaml:"sweep_schedule"`
	AcceptedEvents []string      `yaml:"accepted_events"`
	EventsCacheTTL time.Duration `yaml:"events_cache_ttl"`
	CostLimit      uint64        `yaml:"condition_cost_limit"`
}

// WorkersConfig configures the asynchronous evaluation queue.
type WorkersConfig struct {
	Count       int           `yaml:"count"`
	QueueSize   int           `yaml:"queue_size"`
	MaxRetries  uint64        `yaml:"max_retries"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
}

// MetricsConfig configures the Prometheus collector.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Path      string `yaml:"path"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	SampleRate  int    `yaml:"error_sample_rate"`
	OTEL        bool   `yaml:"otel"`
	ServiceName string `yaml:"service_name"`
}

// Location resolves Retention.Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Retention.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Retention.Timezone)
}
