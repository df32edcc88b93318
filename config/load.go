package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path, applies defaults and environment
// overrides, and validates the result. An empty path loads defaults and the
// environment only.
func Load(path string) (*Config, error) {
	cfg := &Config{Metrics: MetricsConfig{Enabled: true}}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}

	ApplyDefaults(cfg)
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies RETENTION_SECTION_FIELD variables. DATABASE_URL
// and PORT are honoured as well.
func applyEnvOverrides(cfg *Config) error {
	if val := os.Getenv("DATABASE_URL"); val != "" {
		cfg.Database.URL = val
	}
	if val := os.Getenv("PORT"); val != "" {
		cfg.Server.ListenAddress = ":" + val
	}

	str := map[string]*string{
		"RETENTION_SERVER_LISTEN_ADDRESS": &cfg.Server.ListenAddress,
		"RETENTION_DATABASE_URL":          &cfg.Database.URL,
		"RETENTION_TIMEZONE":              &cfg.Retention.Timezone,
		"RETENTION_FAILURE_POLICY":        &cfg.Retention.FailurePolicy,
		"RETENTION_SWEEP_SCHEDULE":        &cfg.Retention.SweepSchedule,
		"RETENTION_METRICS_NAMESPACE":     &cfg.Metrics.Namespace,
		"RETENTION_LOGGING_LEVEL":         &cfg.Logging.Level,
		"RETENTION_LOGGING_SERVICE_NAME":  &cfg.Logging.ServiceName,
	}
	for key, dst := range str {
		if val := os.Getenv(key); val != "" {
			*dst = val
		}
	}

	durations := map[string]*time.Duration{
		"RETENTION_SERVER_READ_TIMEOUT":     &cfg.Server.ReadTimeout,
		"RETENTION_SERVER_WRITE_TIMEOUT":    &cfg.Server.WriteTimeout,
		"RETENTION_SERVER_SHUTDOWN_TIMEOUT": &cfg.Server.ShutdownTimeout,
		"RETENTION_EVENTS_CACHE_TTL":        &cfg.Retention.EventsCacheTTL,
		"RETENTION_WORKERS_BASE_BACKOFF":    &cfg.Workers.BaseBackoff,
	}
	for key, dst := range durations {
		if val := os.Getenv(key); val != "" {
			d, err := time.ParseDuration(val)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = d
		}
	}

	ints := map[string]*int{
		"RETENTION_DATABASE_MAX_OPEN_CONNS": &cfg.Database.MaxOpenConns,
		"RETENTION_WORKERS_COUNT":           &cfg.Workers.Count,
		"RETENTION_WORKERS_QUEUE_SIZE":      &cfg.Workers.QueueSize,
		"RETENTION_LOGGING_SAMPLE_RATE":     &cfg.Logging.SampleRate,
	}
	for key, dst := range ints {
		if val := os.Getenv(key); val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = n
		}
	}

	if val := os.Getenv("RETENTION_WORKERS_MAX_RETRIES"); val != "" {
		n, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid RETENTION_WORKERS_MAX_RETRIES: %w", err)
		}
		cfg.Workers.MaxRetries = n
	}
	if val := os.Getenv("RETENTION_METRICS_ENABLED"); val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid RETENTION_METRICS_ENABLED: %w", err)
		}
		cfg.Metrics.Enabled = b
	}
	if val := os.Getenv("RETENTION_LOGGING_OTEL"); val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid RETENTION_LOGGING_OTEL: %w", err)
		}
		cfg.Logging.OTEL = b
	}
	if val := os.Getenv("RETENTION_ACCEPTED_EVENTS"); val != "" {
		var names []string
		for _, name := range strings.Split(val, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
		cfg.Retention.AcceptedEvents = names
	}
	return nil
}
