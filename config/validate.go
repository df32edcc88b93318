package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/liamcoop/retention/engine"
	"github.com/liamcoop/retention/internal/logger"
	"github.com/liamcoop/retention/scheduler"
)

// Validate checks the configuration and reports every problem found.
func Validate(cfg *Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if cfg.Server.ListenAddress == "" {
		add("server.listen_address is required")
	}
	if cfg.Server.ReadTimeout < 0 || cfg.Server.WriteTimeout < 0 || cfg.Server.ShutdownTimeout < 0 {
		add("server timeouts must not be negative")
	}
	if cfg.Database.MaxOpenConns < 0 {
		add("database.max_open_conns must not be negative")
	}

	if cfg.Retention.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Retention.Timezone); err != nil {
			add("retention.timezone: %w", err)
		}
	}
	if _, err := engine.ParseFailurePolicy(cfg.Retention.FailurePolicy); err != nil {
		add("retention.failure_policy: %w", err)
	}
	if err := scheduler.ValidateSchedule(cfg.Retention.SweepSchedule); err != nil {
		add("retention.sweep_schedule: %w", err)
	}
	for i, name := range cfg.Retention.AcceptedEvents {
		if strings.TrimSpace(name) == "" {
			add("retention.accepted_events[%d] is empty", i)
		}
	}
	if cfg.Retention.EventsCacheTTL < 0 {
		add("retention.events_cache_ttl must not be negative")
	}

	if cfg.Workers.Count <= 0 {
		add("workers.count must be positive")
	}
	if cfg.Workers.QueueSize <= 0 {
		add("workers.queue_size must be positive")
	}
	if cfg.Workers.BaseBackoff < 0 {
		add("workers.base_backoff must not be negative")
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		add("metrics.path must start with /")
	}

	if _, err := logger.ParseLevel(cfg.Logging.Level); err != nil {
		add("logging.level: %w", err)
	}
	if cfg.Logging.SampleRate < 1 {
		add("logging.error_sample_rate must be at least 1")
	}

	return errors.Join(errs...)
}
