package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/liamcoop/retention/events"
	"github.com/liamcoop/retention/internal/logger"
	"github.com/liamcoop/retention/metrics"
)

// ErrQueueClosed is returned when enqueueing after Close.
var ErrQueueClosed = errors.New("work queue closed")

// Unit is one asynchronous evaluation job: the events observed per object
// within a single bundle.
type Unit struct {
	ID       string
	Batch    events.Batch
	Enqueued time.Time
}

// ProcessFunc handles one object of a unit. A returned error makes the unit
// eligible for redelivery; objects that already succeeded are skipped then.
type ProcessFunc func(ctx context.Context, objectID string, observed events.Set) error

// QueueConfig holds worker pool and redelivery settings.
type QueueConfig struct {
	Workers     int
	Size        int
	MaxRetries  uint64
	BaseBackoff time.Duration
}

// DefaultQueueConfig returns the defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Workers:     4,
		Size:        256,
		MaxRetries:  3,
		BaseBackoff: 200 * time.Millisecond,
	}
}

// WorkQueue runs units on a fixed pool of workers.
type WorkQueue struct {
	config  QueueConfig
	process ProcessFunc
	metrics *metrics.Collector
	log     *slog.Logger

	units   chan Unit
	pending sync.WaitGroup
	workers sync.WaitGroup

	mu     sync.RWMutex
	closed bool
	cancel context.CancelFunc
}

// NewWorkQueue creates a queue. Call Start before enqueueing.
func NewWorkQueue(config QueueConfig, process ProcessFunc, collector *metrics.Collector) *WorkQueue {
	def := DefaultQueueConfig()
	if config.Workers <= 0 {
		config.Workers = def.Workers
	}
	if config.Size <= 0 {
		config.Size = def.Size
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = def.BaseBackoff
	}
	return &WorkQueue{
		config:  config,
		process: process,
		metrics: collector,
		log:     logger.For("dispatcher"),
		units:   make(chan Unit, config.Size),
	}
}

// Start launches the workers. They outlive ctx: cancelling it does not
// abandon queued units. Only Stop or Close ends the workers.
func (q *WorkQueue) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	q.mu.Lock()
	q.cancel = cancel
	q.mu.Unlock()

	for i := 0; i < q.config.Workers; i++ {
		q.workers.Add(1)
		go q.worker(runCtx)
	}
	q.log.Info("work queue started", "workers", q.config.Workers, "size", q.config.Size)
}

func (q *WorkQueue) worker(ctx context.Context) {
	defer q.workers.Done()
	for unit := range q.units {
		if ctx.Err() != nil {
			q.drop(unit, ctx.Err())
			continue
		}
		q.run(ctx, unit)
	}
}

// drop releases a unit that will never run.
func (q *WorkQueue) drop(unit Unit, reason error) {
	defer q.pending.Done()
	q.metrics.BatchDone()
	q.metrics.BatchFailed()
	logger.Warn(q.log, "work unit dropped", "unit", unit.ID, "objects", len(unit.Batch), "error", reason)
}

// Enqueue submits a unit. It blocks while the queue is full and fails with
// ErrQueueClosed once Stop or Close was called.
func (q *WorkQueue) Enqueue(ctx context.Context, unit Unit) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	if unit.Enqueued.IsZero() {
		unit.Enqueued = time.Now()
	}

	q.pending.Add(1)
	select {
	case q.units <- unit:
		q.metrics.BatchEnqueued()
		return nil
	case <-ctx.Done():
		q.pending.Done()
		return ctx.Err()
	}
}

// Wait blocks until every enqueued unit has been processed or ctx is done.
func (q *WorkQueue) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops accepting units and lets the workers finish what is queued.
// When ctx ends first, in-flight units are cancelled and the rest dropped;
// ctx's error is returned then.
func (q *WorkQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.units)
	}
	cancel := q.cancel
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.workers.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		if cancel != nil {
			cancel()
		}
		<-done
	}
	if cancel != nil {
		cancel()
	}

	// Units left behind by a queue that was never started.
	for unit := range q.units {
		q.drop(unit, ErrQueueClosed)
	}
	return err
}

// Close is Stop without a deadline.
func (q *WorkQueue) Close() {
	_ = q.Stop(context.Background())
}

func (q *WorkQueue) run(ctx context.Context, unit Unit) {
	defer q.pending.Done()
	defer q.metrics.BatchDone()
	defer q.metrics.ObserveOperation("unit", time.Now())

	ids := unit.Batch.ObjectIDs()
	completed := make(map[string]bool, len(ids))
	attempt := 0

	backoff := retry.WithMaxRetries(q.config.MaxRetries, retry.NewExponential(q.config.BaseBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if attempt > 0 {
			q.metrics.BatchRetried()
			q.log.Debug("redelivering unit", "unit", unit.ID, "attempt", attempt, "remaining", len(ids)-len(completed))
		}
		attempt++

		var failed error
		for _, id := range ids {
			if completed[id] {
				continue
			}
			if err := q.process(ctx, id, unit.Batch[id]); err != nil {
				failed = errors.Join(failed, fmt.Errorf("object %s: %w", id, err))
				continue
			}
			completed[id] = true
		}
		if failed != nil {
			return retry.RetryableError(failed)
		}
		return nil
	})
	if err != nil {
		q.metrics.BatchFailed()
		logger.Error(q.log, "work unit abandoned", "unit", unit.ID, "attempts", attempt, "error", err)
		return
	}
	q.log.Debug("work unit processed", "unit", unit.ID, "objects", len(ids), "attempts", attempt)
}
