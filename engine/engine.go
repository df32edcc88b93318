// Package engine drives documents through the retention lifecycle: attaching
// rules, reacting to observed events, and finalizing expired records.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/liamcoop/retention/actions"
	"github.com/liamcoop/retention/condition"
	"github.com/liamcoop/retention/events"
	"github.com/liamcoop/retention/internal/logger"
	"github.com/liamcoop/retention/metrics"
	"github.com/liamcoop/retention/repository"
	"github.com/liamcoop/retention/retention"
)

// SystemPrincipal is the principal used for engine-initiated work.
const SystemPrincipal = "system"

// ErrNotRecord is returned when a record view is requested for a plain document.
var ErrNotRecord = errors.New("document is not a record")

// FailurePolicy decides what happens to a document when an action sequence fails.
type FailurePolicy string

const (
	// FailureKeep leaves applied actions in place and surfaces the error.
	FailureKeep FailurePolicy = "keep"
	// FailureRevert restores the document and its marker to the state before
	// the operation started, then surfaces the error.
	FailureRevert FailurePolicy = "revert"
)

// ParseFailurePolicy parses a policy name. Empty means keep.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case "", FailureKeep:
		return FailureKeep, nil
	case FailureRevert:
		return FailureRevert, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q", s)
	}
}

// Outcome is the result of evaluating a record against observed events.
type Outcome string

const (
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeStarted   Outcome = "started"
	OutcomeFinalized Outcome = "finalized"
)

// Checker evaluates boolean conditions; errors count as false.
type Checker interface {
	Check(expression string, vars condition.Variables) bool
}

// ActionRunner runs action sequences. A nil document means an action removed it.
type ActionRunner interface {
	Execute(ctx context.Context, doc *repository.Document, ops []string, session actions.Session) (*repository.Document, error)
}

// AutoRuleSource lists the enabled auto rules in application order.
type AutoRuleSource interface {
	AutoRules(ctx context.Context) ([]*retention.Rule, error)
}

// Options configures an Engine. Zero values are usable.
type Options struct {
	Calculator    retention.Calculator
	FailurePolicy FailurePolicy
	Metrics       *metrics.Collector
	AutoRules     AutoRuleSource
	Now           func() time.Time
}

// Engine owns every retention state transition of the documents in a repository.
type Engine struct {
	repo     repository.Repository
	actions  ActionRunner
	checker  Checker
	accepted *events.AcceptedEvents

	calc      retention.Calculator
	policy    FailurePolicy
	metrics   *metrics.Collector
	autoRules AutoRuleSource
	now       func() time.Time

	locks *keyedMutex
	log   *slog.Logger
}

// New creates an engine.
func New(repo repository.Repository, runner ActionRunner, checker Checker, accepted *events.AcceptedEvents, opts Options) *Engine {
	e := &Engine{
		repo:      repo,
		actions:   runner,
		checker:   checker,
		accepted:  accepted,
		calc:      opts.Calculator,
		policy:    opts.FailurePolicy,
		metrics:   opts.Metrics,
		autoRules: opts.AutoRules,
		now:       opts.Now,
		locks:     newKeyedMutex(),
		log:       logger.For("engine"),
	}
	if e.policy == "" {
		e.policy = FailureKeep
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Now returns the engine clock.
func (e *Engine) Now() time.Time { return e.now() }

// Repository returns the repository the engine writes to.
func (e *Engine) Repository() repository.Repository { return e.repo }

// Attach makes the document a record governed by rule.
//
// Configuration problems are returned as *retention.ConfigError before any
// state changes. The marker is concrete for manual immediate rules and
// indeterminate otherwise.
func (e *Engine) Attach(ctx context.Context, docID string, rule *retention.Rule, session actions.Session) (*repository.Document, error) {
	defer e.metrics.ObserveOperation("attach", time.Now())

	unlock := e.locks.lock(docID)
	defer unlock()

	doc, err := e.attach(ctx, docID, rule, session, false)
	e.recordAttach(err)
	return doc, err
}

func (e *Engine) recordAttach(err error) {
	switch {
	case err == nil:
		e.metrics.RecordAttach("ok")
	case retention.IsConfigError(err):
		e.metrics.RecordAttach("rejected")
	default:
		e.metrics.RecordAttach("error")
	}
}

// attach expects the document lock to be held. eager starts the retention
// period of an immediate auto rule whose expression already matched.
func (e *Engine) attach(ctx context.Context, docID string, rule *retention.Rule, session actions.Session, eager bool) (*repository.Document, error) {
	if rule == nil || rule.ID == "" {
		return nil, &retention.ConfigError{DocumentID: docID, Err: retention.ErrNotARule}
	}
	if !rule.IsEnabled() {
		return nil, &retention.ConfigError{RuleID: rule.ID, DocumentID: docID, Err: retention.ErrRuleDisabled}
	}

	doc, err := e.repo.Get(ctx, docID)
	if err != nil {
		return nil, err
	}
	marker, err := e.repo.RetentionMarker(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc.HasFacet(retention.RecordFacet) || !marker.IsNone() {
		return nil, &retention.ConfigError{RuleID: rule.ID, DocumentID: docID, Err: retention.ErrAlreadyRecord}
	}
	if !rule.IsDocTypeAccepted(doc.Type) {
		return nil, &retention.ConfigError{RuleID: rule.ID, DocumentID: docID, Err: retention.ErrDocTypeNotAccepted}
	}

	snapshot := doc.Clone()
	record := &retention.Record{DocumentID: docID}
	retention.CopyRetentionInfo(rule, record)

	doc, err = e.actions.Execute(ctx, doc, record.BeginActions, session)
	if err != nil {
		return nil, e.fail(ctx, "begin", snapshot, marker, err)
	}
	if doc == nil {
		err = &actions.ActionError{Operation: "begin", DocumentID: docID, Err: repository.ErrNotFound}
		return nil, e.fail(ctx, "begin", snapshot, marker, err)
	}

	doc.AddFacet(retention.RecordFacet)
	record.ApplyTo(doc)
	if _, err := e.repo.Save(ctx, doc, repository.WriteRetention); err != nil {
		return nil, e.fail(ctx, "attach", snapshot, marker, fmt.Errorf("failed to save record: %w", err))
	}

	next := repository.IndeterminateMarker()
	if record.IsImmediate() && (rule.IsManual() || eager) {
		next = repository.MarkerUntil(record.ComputeRetainUntil(e.calc, e.now()))
	}
	if err := e.repo.SetRetentionMarker(ctx, docID, next); err != nil {
		return nil, e.fail(ctx, "attach", snapshot, marker, fmt.Errorf("failed to set retention marker: %w", err))
	}

	e.log.Info("record attached", "document", docID, "rule", rule.ID,
		"policy", rule.ApplicationPolicy, "retainUntil", next.String())
	return e.repo.Get(ctx, docID)
}

// ApplyAutoRules attaches the first enabled auto rule that accepts the
// document type and whose expression matches. It returns the applied rule,
// or nil when the document is already a record or nothing matched.
func (e *Engine) ApplyAutoRules(ctx context.Context, docID string, session actions.Session) (*retention.Rule, *repository.Document, error) {
	if e.autoRules == nil {
		return nil, nil, errors.New("no auto rule source configured")
	}
	rules, err := e.autoRules.AutoRules(ctx)
	if err != nil {
		return nil, nil, err
	}

	unlock := e.locks.lock(docID)
	defer unlock()

	doc, err := e.repo.Get(ctx, docID)
	if err != nil {
		return nil, nil, err
	}
	if doc.HasFacet(retention.RecordFacet) {
		return nil, doc, nil
	}

	vars := condition.Variables{Now: e.now(), Document: doc, Principal: session.Principal}
	for _, rule := range rules {
		if !rule.IsEnabled() || !rule.IsAuto() || !rule.IsDocTypeAccepted(doc.Type) {
			continue
		}
		if !e.checker.Check(rule.Expression, vars) {
			continue
		}
		attached, err := e.attach(ctx, docID, rule, session, true)
		e.recordAttach(err)
		if err != nil {
			return rule, nil, err
		}
		return rule, attached, nil
	}
	return nil, doc, nil
}

// Evaluate reacts to the events observed for record's document.
//
// An expired record is finalized whatever was observed. Otherwise, when the
// starting-point event was observed and the starting-point expression holds,
// the marker becomes now plus the duration. A concrete marker never moves
// earlier.
func (e *Engine) Evaluate(ctx context.Context, record *retention.Record, observed events.Set, now time.Time) (Outcome, error) {
	defer e.metrics.ObserveOperation("evaluate", time.Now())

	unlock := e.locks.lock(record.DocumentID)
	defer unlock()

	out, err := e.evaluate(ctx, record, observed, now)
	e.recordEvaluation(out, err)
	return out, err
}

// EvaluateObject loads the record of docID and evaluates it. Documents that
// are not records are left alone.
func (e *Engine) EvaluateObject(ctx context.Context, docID string, observed events.Set) (Outcome, error) {
	defer e.metrics.ObserveOperation("evaluate", time.Now())

	unlock := e.locks.lock(docID)
	defer unlock()

	record, err := e.load(ctx, docID)
	if errors.Is(err, ErrNotRecord) || errors.Is(err, repository.ErrNotFound) {
		return OutcomeUnchanged, nil
	}
	if err != nil {
		e.recordEvaluation("", err)
		return "", err
	}

	out, err := e.evaluate(ctx, record, observed, e.now())
	e.recordEvaluation(out, err)
	return out, err
}

func (e *Engine) recordEvaluation(out Outcome, err error) {
	if err != nil {
		e.metrics.RecordEvaluation("error")
		return
	}
	e.metrics.RecordEvaluation(string(out))
}

func (e *Engine) evaluate(ctx context.Context, record *retention.Record, observed events.Set, now time.Time) (Outcome, error) {
	if record.IsRetentionExpired(now) {
		done, err := e.finalize(ctx, record.DocumentID, systemSession())
		if err != nil {
			return "", err
		}
		if !done {
			return OutcomeUnchanged, nil
		}
		return OutcomeFinalized, nil
	}

	if record.StartingPointEvent == "" || !observed.Contains(record.StartingPointEvent) {
		return OutcomeUnchanged, nil
	}

	doc, err := e.repo.Get(ctx, record.DocumentID)
	if err != nil {
		return "", err
	}
	vars := condition.Variables{Now: now, Document: doc, Principal: SystemPrincipal}
	if !e.checker.Check(record.StartingPointExpression, vars) {
		e.log.Debug("starting point condition not met",
			"document", record.DocumentID, "event", record.StartingPointEvent)
		return OutcomeUnchanged, nil
	}

	until := record.ComputeRetainUntil(e.calc, now)
	current, err := e.repo.RetentionMarker(ctx, record.DocumentID)
	if err != nil {
		return "", err
	}
	if current.IsInstant() && !current.Until.Before(until) {
		return OutcomeUnchanged, nil
	}
	if err := e.repo.SetRetentionMarker(ctx, record.DocumentID, repository.MarkerUntil(until)); err != nil {
		return "", fmt.Errorf("failed to set retention marker: %w", err)
	}

	e.log.Info("retention started", "document", record.DocumentID,
		"event", record.StartingPointEvent, "retainUntil", until)
	return OutcomeStarted, nil
}

// Finalize ends the retention of record's document. It re-reads the
// document and does nothing when it is no longer a record.
func (e *Engine) Finalize(ctx context.Context, record *retention.Record) error {
	return e.FinalizeByID(ctx, record.DocumentID, systemSession())
}

// FinalizeByID is Finalize for a document id, running end actions as session.
func (e *Engine) FinalizeByID(ctx context.Context, docID string, session actions.Session) error {
	defer e.metrics.ObserveOperation("finalize", time.Now())

	unlock := e.locks.lock(docID)
	defer unlock()

	_, err := e.finalize(ctx, docID, session)
	return err
}

// finalize expects the document lock to be held and reports whether any
// work was done.
func (e *Engine) finalize(ctx context.Context, docID string, session actions.Session) (bool, error) {
	doc, err := e.repo.Get(ctx, docID)
	if errors.Is(err, repository.ErrNotFound) {
		e.metrics.RecordFinalize("noop")
		return false, nil
	}
	if err != nil {
		e.metrics.RecordFinalize("error")
		return false, err
	}
	if !doc.HasFacet(retention.RecordFacet) {
		e.metrics.RecordFinalize("noop")
		return false, nil
	}

	marker, err := e.repo.RetentionMarker(ctx, docID)
	if err != nil {
		e.metrics.RecordFinalize("error")
		return false, err
	}
	record, err := retention.RecordFromDocument(doc, marker)
	if err != nil {
		e.metrics.RecordFinalize("error")
		return false, fmt.Errorf("failed to read record %s: %w", docID, err)
	}
	snapshot := doc.Clone()

	doc, err = e.actions.Execute(ctx, doc, record.EndActions, session)
	if err != nil {
		e.metrics.RecordFinalize("error")
		return false, e.fail(ctx, "end", snapshot, marker, err)
	}
	if doc == nil {
		e.log.Info("record removed by end actions", "document", docID)
		e.metrics.RecordFinalize("ok")
		return true, nil
	}

	doc.RemoveFacet(retention.RecordFacet)
	retention.ClearRecordProperties(doc)
	if _, err := e.repo.Save(ctx, doc, repository.WriteRetention); err != nil {
		e.metrics.RecordFinalize("error")
		return false, e.fail(ctx, "finalize", snapshot, marker, fmt.Errorf("failed to save document: %w", err))
	}
	if err := e.repo.SetRetentionMarker(ctx, docID, repository.NoMarker()); err != nil {
		e.metrics.RecordFinalize("error")
		return false, e.fail(ctx, "finalize", snapshot, marker, fmt.Errorf("failed to clear retention marker: %w", err))
	}

	e.log.Info("record finalized", "document", docID)
	e.metrics.RecordFinalize("ok")
	return true, nil
}

// Record returns the record view of a document.
func (e *Engine) Record(ctx context.Context, docID string) (*retention.Record, error) {
	return e.load(ctx, docID)
}

func (e *Engine) load(ctx context.Context, docID string) (*retention.Record, error) {
	doc, err := e.repo.Get(ctx, docID)
	if err != nil {
		return nil, err
	}
	if !doc.HasFacet(retention.RecordFacet) {
		return nil, fmt.Errorf("%w: %s", ErrNotRecord, docID)
	}
	marker, err := e.repo.RetentionMarker(ctx, docID)
	if err != nil {
		return nil, err
	}
	return retention.RecordFromDocument(doc, marker)
}

// AcceptedEvents returns the event names the engine reacts to.
func (e *Engine) AcceptedEvents(ctx context.Context) (events.Set, error) {
	return e.accepted.Get(ctx)
}

// InvalidateAcceptedEvents forces the next AcceptedEvents call to reload.
func (e *Engine) InvalidateAcceptedEvents() {
	e.accepted.Invalidate()
	e.log.Info("accepted events invalidated")
}

// fail applies the failure policy to an aborted operation and returns err,
// joined with any restore error.
func (e *Engine) fail(ctx context.Context, phase string, snapshot *repository.Document, marker repository.Marker, err error) error {
	var actionErr *actions.ActionError
	if errors.As(err, &actionErr) {
		e.metrics.RecordActionFailure(phase)
		logger.ActionFailure(e.log, "action sequence failed",
			"phase", phase, "document", snapshot.ID, "operation", actionErr.Operation, "error", actionErr.Err)
	} else {
		logger.Error(e.log, "retention operation failed", "phase", phase, "document", snapshot.ID, "error", err)
	}

	if e.policy != FailureRevert {
		return err
	}
	if rerr := e.restore(ctx, snapshot, marker); rerr != nil {
		logger.Error(e.log, "failed to restore document", "document", snapshot.ID, "error", rerr)
		return errors.Join(err, fmt.Errorf("revert failed: %w", rerr))
	}
	logger.Warn(e.log, "document restored after failure", "document", snapshot.ID, "phase", phase)
	return err
}

func (e *Engine) restore(ctx context.Context, snapshot *repository.Document, marker repository.Marker) error {
	if _, err := e.repo.Save(ctx, snapshot, repository.WriteRetention); err != nil {
		return err
	}
	return e.repo.SetRetentionMarker(ctx, snapshot.ID, marker)
}

func systemSession() actions.Session {
	return actions.Session{Principal: SystemPrincipal}
}
