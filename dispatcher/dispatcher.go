// Package dispatcher turns committed notification bundles into retention
// work: expired records are finalized inline, everything else is evaluated
// asynchronously by a WorkQueue.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/liamcoop/retention/actions"
	"github.com/liamcoop/retention/engine"
	"github.com/liamcoop/retention/events"
	"github.com/liamcoop/retention/internal/logger"
	"github.com/liamcoop/retention/metrics"
	"github.com/liamcoop/retention/repository"
	"github.com/liamcoop/retention/retention"
)

// Engine is the part of the retention engine the dispatcher drives.
type Engine interface {
	Now() time.Time
	AcceptedEvents(ctx context.Context) (events.Set, error)
	Record(ctx context.Context, docID string) (*retention.Record, error)
	FinalizeByID(ctx context.Context, docID string, session actions.Session) error
	EvaluateObject(ctx context.Context, docID string, observed events.Set) (engine.Outcome, error)
}

// Dispatcher filters bundles and feeds a WorkQueue.
type Dispatcher struct {
	engine  Engine
	queue   *WorkQueue
	metrics *metrics.Collector
	log     *slog.Logger
}

// New creates a dispatcher and its queue. Start must be called before
// bundles are handled.
func New(eng Engine, config QueueConfig, collector *metrics.Collector) *Dispatcher {
	d := &Dispatcher{
		engine:  eng,
		metrics: collector,
		log:     logger.For("dispatcher"),
	}
	d.queue = NewWorkQueue(config, d.process, collector)
	return d
}

// Start launches the queue workers.
func (d *Dispatcher) Start(ctx context.Context) { d.queue.Start(ctx) }

// Wait blocks until every enqueued unit has been processed.
func (d *Dispatcher) Wait(ctx context.Context) error { return d.queue.Wait(ctx) }

// Stop finishes the queued units and stops the workers, giving up when ctx
// ends.
func (d *Dispatcher) Stop(ctx context.Context) error { return d.queue.Stop(ctx) }

// Close drains the queue and stops the workers.
func (d *Dispatcher) Close() { d.queue.Close() }

// HandleBundle processes the notifications committed by one transaction.
//
// Notifications for events outside the accepted set are dropped, as is the
// first ignore-flagged notification of each object. Objects that are not
// records are skipped. Expired records are finalized before HandleBundle
// returns; the remaining events are grouped per object and enqueued as a
// single unit. The returned error joins infrastructure failures only.
func (d *Dispatcher) HandleBundle(ctx context.Context, bundle events.Bundle) error {
	if len(bundle) == 0 {
		return nil
	}
	accepted, err := d.engine.AcceptedEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to load accepted events: %w", err)
	}

	var (
		now     = d.engine.Now()
		ignored = make(map[string]bool)
		skipped = make(map[string]bool)
		batch   = make(events.Batch)
		errs    error
	)
	for _, note := range bundle {
		if !accepted.Contains(note.Name) {
			continue
		}
		id := note.ObjectID
		if note.Ignored() && !ignored[id] {
			ignored[id] = true
			d.metrics.NotificationIgnored()
			continue
		}
		if skipped[id] {
			continue
		}
		if _, pending := batch[id]; pending {
			batch.Add(id, note.Name)
			continue
		}

		record, err := d.engine.Record(ctx, id)
		switch {
		case errors.Is(err, engine.ErrNotRecord), errors.Is(err, repository.ErrNotFound):
			skipped[id] = true
			continue
		case err != nil:
			errs = errors.Join(errs, fmt.Errorf("object %s: %w", id, err))
			skipped[id] = true
			continue
		}

		if record.IsRetentionExpired(now) {
			skipped[id] = true
			if err := d.finalize(ctx, id); err != nil {
				errs = errors.Join(errs, err)
			}
			continue
		}
		batch.Add(id, note.Name)
	}

	if len(batch) > 0 {
		unit := Unit{ID: uuid.NewString(), Batch: batch}
		if err := d.queue.Enqueue(ctx, unit); err != nil {
			errs = errors.Join(errs, fmt.Errorf("failed to enqueue unit: %w", err))
		} else {
			d.log.Debug("unit enqueued", "unit", unit.ID, "objects", len(batch))
		}
	}
	return errs
}

func (d *Dispatcher) finalize(ctx context.Context, id string) error {
	err := d.engine.FinalizeByID(ctx, id, actions.Session{Principal: engine.SystemPrincipal})
	if err == nil || isObjectError(err) {
		return nil
	}
	return fmt.Errorf("object %s: %w", id, err)
}

// process evaluates one object of a unit. Action and configuration errors
// are final for the object and were already logged by the engine.
func (d *Dispatcher) process(ctx context.Context, id string, observed events.Set) error {
	_, err := d.engine.EvaluateObject(ctx, id, observed)
	if err == nil || isObjectError(err) {
		return nil
	}
	return err
}

func isObjectError(err error) bool {
	var actionErr *actions.ActionError
	return errors.As(err, &actionErr) || retention.IsConfigError(err)
}
