// Package scheduler periodically finalizes records whose retention has
// expired without any further event reaching them.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/liamcoop/retention/actions"
	"github.com/liamcoop/retention/engine"
	"github.com/liamcoop/retention/internal/logger"
	"github.com/liamcoop/retention/metrics"
	"github.com/liamcoop/retention/retention"
)

// DefaultSchedule runs the sweep every 15 minutes.
const DefaultSchedule = "*/15 * * * *"

// ExpiredFinder lists documents whose concrete marker is at or before now.
type ExpiredFinder interface {
	FindExpired(ctx context.Context, now time.Time) ([]string, error)
}

// Finalizer ends the retention of a document.
type Finalizer interface {
	FinalizeByID(ctx context.Context, docID string, session actions.Session) error
}

// Sweeper runs a finalization sweep on a cron schedule.
type Sweeper struct {
	finder    ExpiredFinder
	finalizer Finalizer
	schedule  string
	metrics   *metrics.Collector

	// Now is the clock used to decide expiry.
	Now func() time.Time

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
	log     *slog.Logger
}

// NewSweeper creates a sweeper. An empty schedule selects DefaultSchedule.
func NewSweeper(finder ExpiredFinder, finalizer Finalizer, schedule string, collector *metrics.Collector) *Sweeper {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Sweeper{
		finder:    finder,
		finalizer: finalizer,
		schedule:  schedule,
		metrics:   collector,
		Now:       time.Now,
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		log:       logger.For("scheduler"),
	}
}

// ValidateSchedule reports whether expr is a standard five-field cron expression.
func ValidateSchedule(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", expr, err)
	}
	return nil
}

// Start schedules the sweep. It stops when ctx is cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if err := ValidateSchedule(s.schedule); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.schedule, func() { s.sweep(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.log.Info("expired record sweeper started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop stops the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.log.Info("expired record sweeper stopped")
}

// IsRunning reports whether the schedule is active.
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled sweep, or nil when not scheduled.
func (s *Sweeper) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if !s.running || len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.RunOnce(ctx)
	if err != nil {
		logger.Error(s.log, "sweep failed", "finalized", n, "error", err)
		return
	}
	if n > 0 {
		s.log.Info("sweep completed", "finalized", n)
	} else {
		s.log.Debug("sweep completed, nothing expired")
	}
}

// RunOnce finalizes every expired record and returns how many were
// finalized. A failing end action only skips its own document.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	defer s.metrics.ObserveOperation("sweep", time.Now())

	ids, err := s.finder.FindExpired(ctx, s.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to find expired records: %w", err)
	}

	session := actions.Session{Principal: engine.SystemPrincipal}
	var (
		finalized int
		errs      error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = errors.Join(errs, err)
			break
		}
		err := s.finalizer.FinalizeByID(ctx, id, session)
		var actionErr *actions.ActionError
		switch {
		case err == nil:
			finalized++
		case errors.As(err, &actionErr), retention.IsConfigError(err):
			logger.Warn(s.log, "record left under retention", "document", id, "error", err)
		default:
			errs = errors.Join(errs, fmt.Errorf("document %s: %w", id, err))
		}
	}

	s.metrics.RecordSweep(finalized)
	return finalized, errs
}
