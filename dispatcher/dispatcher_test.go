package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/retention/actions"
	"github.com/liamcoop/retention/condition"
	"github.com/liamcoop/retention/engine"
	"github.com/liamcoop/retention/events"
	"github.com/liamcoop/retention/repository"
	"github.com/liamcoop/retention/retention"
)

var start = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

// countingEngine records which objects reached asynchronous evaluation.
type countingEngine struct {
	*engine.Engine

	mu        sync.Mutex
	evaluated map[string][]string
}

func (c *countingEngine) EvaluateObject(ctx context.Context, id string, observed events.Set) (engine.Outcome, error) {
	c.mu.Lock()
	c.evaluated[id] = append(c.evaluated[id], observed.Sorted()...)
	c.mu.Unlock()
	return c.Engine.EvaluateObject(ctx, id, observed)
}

func (c *countingEngine) seen(id string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evaluated[id]
}

type harness struct {
	repo   *repository.Memory
	engine *countingEngine
	disp   *Dispatcher
	now    time.Time

	mu    sync.Mutex
	notes events.Bundle
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{now: start}
	h.repo = repository.NewMemory()
	h.repo.Now = func() time.Time { return h.now }
	h.repo.OnNotify(func(_ context.Context, n events.Notification) {
		h.mu.Lock()
		h.notes = append(h.notes, n)
		h.mu.Unlock()
	})

	evaluator, err := condition.NewEvaluator()
	require.NoError(t, err)
	accepted := events.NewAcceptedEvents(events.NewStaticSource([]events.Definition{
		{ID: events.DocumentMoved},
		{ID: events.DocumentModified},
	}), events.DefaultCacheConfig())

	eng := engine.New(h.repo, actions.NewExecutor(h.repo, nil), evaluator, accepted, engine.Options{
		Calculator: retention.NewCalculator(time.UTC),
		Now:        func() time.Time { return h.now },
	})
	h.engine = &countingEngine{Engine: eng, evaluated: map[string][]string{}}

	h.disp = New(h.engine, QueueConfig{Workers: 2, Size: 8, MaxRetries: 1, BaseBackoff: time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	h.disp.Start(ctx)
	t.Cleanup(func() {
		h.disp.Close()
		cancel()
	})
	return h
}

// take returns and clears the notifications captured so far.
func (h *harness) take() events.Bundle {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.notes
	h.notes = nil
	return out
}

func (h *harness) create(t *testing.T, name string) *repository.Document {
	t.Helper()
	doc, err := h.repo.Create(context.Background(), &repository.Document{Type: "File", Name: name})
	require.NoError(t, err)
	return doc
}

func (h *harness) marker(t *testing.T, id string) repository.Marker {
	t.Helper()
	m, err := h.repo.RetentionMarker(context.Background(), id)
	require.NoError(t, err)
	return m
}

func (h *harness) dispatch(t *testing.T, bundle events.Bundle) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.disp.HandleBundle(ctx, bundle))
	require.NoError(t, h.disp.Wait(ctx))
}

func archiveRule() *retention.Rule {
	return &retention.Rule{
		ID:                "archive",
		ApplicationPolicy: retention.PolicyAuto,
		RetentionFields: retention.RetentionFields{
			Duration:                retention.Duration{Years: 5},
			StartingPointPolicy:     retention.StartEventBased,
			StartingPointEvent:      events.DocumentMoved,
			StartingPointExpression: `document.path.startsWith("/archive")`,
		},
		Enabled: true,
	}
}

func manualDayRule() *retention.Rule {
	return &retention.Rule{
		ID:                "day",
		ApplicationPolicy: retention.PolicyManual,
		RetentionFields: retention.RetentionFields{
			Duration:     retention.Duration{Days: 1},
			BeginActions: []string{actions.OpLock},
			EndActions:   []string{actions.OpUnlock},
		},
		Enabled: true,
	}
}

var system = actions.Session{Principal: engine.SystemPrincipal}

func TestMovedIntoArchiveStartsRetention(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	doc := h.create(t, "report.pdf")

	_, err := h.engine.Attach(ctx, doc.ID, archiveRule(), system)
	require.NoError(t, err)
	_, err = h.repo.Move(ctx, doc.ID, "/archive")
	require.NoError(t, err)

	bundle := h.take()
	h.dispatch(t, bundle)

	assert.Equal(t, []string{events.DocumentMoved}, h.engine.seen(doc.ID),
		"the retention write notification is dropped")
	want := retention.NewCalculator(time.UTC).RetainUntil(start, retention.Duration{Years: 5})
	assert.Equal(t, repository.MarkerUntil(want), h.marker(t, doc.ID))
}

func TestIgnoreFlagDropsFirstNotificationPerObjectOnly(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	first := h.create(t, "a.pdf")
	second := h.create(t, "b.pdf")
	for _, doc := range []*repository.Document{first, second} {
		_, err := h.engine.Attach(ctx, doc.ID, archiveRule(), system)
		require.NoError(t, err)
		_, err = h.repo.Move(ctx, doc.ID, "/archive")
		require.NoError(t, err)
	}
	h.take()

	flagged := map[string]any{events.IgnoreProperty: true}
	h.dispatch(t, events.Bundle{
		{Name: events.DocumentMoved, ObjectID: first.ID, Properties: flagged},
		{Name: events.DocumentMoved, ObjectID: first.ID, Properties: flagged},
		{Name: events.DocumentMoved, ObjectID: second.ID, Properties: flagged},
	})

	assert.Equal(t, []string{events.DocumentMoved}, h.engine.seen(first.ID))
	assert.True(t, h.marker(t, first.ID).IsInstant())

	assert.Empty(t, h.engine.seen(second.ID))
	assert.True(t, h.marker(t, second.ID).IsIndeterminate())
}

func TestExpiredRecordFinalizedInline(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	doc := h.create(t, "contract.pdf")
	_, err := h.engine.Attach(ctx, doc.ID, manualDayRule(), system)
	require.NoError(t, err)
	h.take()

	h.now = start.Add(48 * time.Hour)
	require.NoError(t, h.disp.HandleBundle(ctx, events.Bundle{
		{Name: events.DocumentModified, ObjectID: doc.ID},
		{Name: events.DocumentMoved, ObjectID: doc.ID},
	}))

	// Finalized before HandleBundle returned, without queueing.
	got, err := h.repo.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.False(t, got.HasFacet(retention.RecordFacet))
	assert.False(t, got.Locked)
	assert.True(t, h.marker(t, doc.ID).IsNone())

	require.NoError(t, h.disp.Wait(ctx))
	assert.Empty(t, h.engine.seen(doc.ID))
}

func TestBundleFiltering(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	plain := h.create(t, "plain.txt")
	record := h.create(t, "record.pdf")
	_, err := h.engine.Attach(ctx, record.ID, archiveRule(), system)
	require.NoError(t, err)
	h.take()

	h.dispatch(t, events.Bundle{
		{Name: events.DocumentModified, ObjectID: plain.ID},
		{Name: events.DocumentLocked, ObjectID: record.ID},
		{Name: events.DocumentTrashed, ObjectID: record.ID},
		{Name: events.DocumentModified, ObjectID: "missing"},
	})

	assert.Empty(t, h.engine.seen(plain.ID), "not a record")
	assert.Empty(t, h.engine.seen(record.ID), "events not accepted")
	assert.Empty(t, h.engine.seen("missing"))
}

func TestEventsGroupedPerObject(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	doc := h.create(t, "report.pdf")
	_, err := h.engine.Attach(ctx, doc.ID, archiveRule(), system)
	require.NoError(t, err)
	h.take()

	h.dispatch(t, events.Bundle{
		{Name: events.DocumentModified, ObjectID: doc.ID},
		{Name: events.DocumentMoved, ObjectID: doc.ID},
		{Name: events.DocumentModified, ObjectID: doc.ID},
	})

	assert.Equal(t, []string{events.DocumentModified, events.DocumentMoved}, h.engine.seen(doc.ID))
	assert.True(t, h.marker(t, doc.ID).IsIndeterminate(), "path does not match")
}

func TestHandleEmptyBundle(t *testing.T) {
	h := newHarness(t)
	h.dispatch(t, nil)
	assert.Empty(t, h.engine.evaluated)
}

func TestAcceptedEventsFailure(t *testing.T) {
	boom := errors.New("events table unavailable")
	d := New(failingEngine{err: boom}, DefaultQueueConfig(), nil)

	err := d.HandleBundle(context.Background(), events.Bundle{{Name: events.DocumentMoved, ObjectID: "x"}})
	assert.ErrorIs(t, err, boom)
}

type failingEngine struct {
	Engine
	err error
}

func (f failingEngine) AcceptedEvents(context.Context) (events.Set, error) { return nil, f.err }
func (f failingEngine) Now() time.Time                                      { return start }
