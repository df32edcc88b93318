package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/retention/events"
)

type flakyProcessor struct {
	mu       sync.Mutex
	calls    map[string]int
	failures map[string]int
}

func (p *flakyProcessor) process(_ context.Context, id string, _ events.Set) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[id]++
	if p.failures[id] > 0 {
		p.failures[id]--
		return errors.New("connection reset")
	}
	return nil
}

func (p *flakyProcessor) count(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[id]
}

func unitOf(ids ...string) Unit {
	b := make(events.Batch)
	for _, id := range ids {
		b.Add(id, events.DocumentModified)
	}
	return Unit{ID: "unit-" + ids[0], Batch: b}
}

func startQueue(t *testing.T, cfg QueueConfig, fn ProcessFunc) *WorkQueue {
	t.Helper()
	q := NewWorkQueue(cfg, fn, nil)
	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)
	t.Cleanup(func() {
		q.Close()
		cancel()
	})
	return q
}

func TestWorkQueueRedeliverySkipsCompletedObjects(t *testing.T) {
	tests := []struct {
		name       string
		maxRetries uint64
		failures   int
		wantCalls  int
	}{
		{name: "recovers", maxRetries: 3, failures: 2, wantCalls: 3},
		{name: "abandoned", maxRetries: 2, failures: 10, wantCalls: 3},
		{name: "no failures", maxRetries: 3, failures: 0, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &flakyProcessor{calls: map[string]int{}, failures: map[string]int{"b": tt.failures}}
			q := startQueue(t, QueueConfig{Workers: 1, Size: 4, MaxRetries: tt.maxRetries, BaseBackoff: time.Millisecond}, p.process)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			require.NoError(t, q.Enqueue(ctx, unitOf("a", "b", "c")))
			require.NoError(t, q.Wait(ctx))

			assert.Equal(t, 1, p.count("a"))
			assert.Equal(t, tt.wantCalls, p.count("b"))
			assert.Equal(t, 1, p.count("c"))
		})
	}
}

func TestWorkQueueProcessesEveryUnit(t *testing.T) {
	p := &flakyProcessor{calls: map[string]int{}, failures: map[string]int{}}
	q := startQueue(t, QueueConfig{Workers: 4, Size: 2}, p.process)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ids := []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8"}
	for _, id := range ids {
		require.NoError(t, q.Enqueue(ctx, unitOf(id)))
	}
	require.NoError(t, q.Wait(ctx))

	for _, id := range ids {
		assert.Equal(t, 1, p.count(id), id)
	}
}

func TestWorkQueueClosed(t *testing.T) {
	q := NewWorkQueue(QueueConfig{}, func(context.Context, string, events.Set) error { return nil }, nil)
	q.Start(context.Background())
	q.Close()
	q.Close()

	err := q.Enqueue(context.Background(), unitOf("x"))
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestWorkQueueWaitHonoursContext(t *testing.T) {
	release := make(chan struct{})
	q := startQueue(t, QueueConfig{Workers: 1}, func(context.Context, string, events.Set) error {
		<-release
		return nil
	})
	defer close(release)

	require.NoError(t, q.Enqueue(context.Background(), unitOf("slow")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Wait(ctx), context.DeadlineExceeded)
}

func TestWorkQueueFinishesQueuedUnitsAfterCancel(t *testing.T) {
	release := make(chan struct{})
	p := &flakyProcessor{calls: map[string]int{}, failures: map[string]int{}}
	q := NewWorkQueue(QueueConfig{Workers: 1, Size: 4}, func(ctx context.Context, id string, observed events.Set) error {
		<-release
		return p.process(ctx, id, observed)
	}, nil)

	startCtx, cancelStart := context.WithCancel(context.Background())
	q.Start(startCtx)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, unitOf(id)))
	}

	cancelStart()
	close(release)
	require.NoError(t, q.Stop(ctx))
	require.NoError(t, q.Wait(ctx))

	for _, id := range []string{"a", "b", "c"} {
		assert.Equal(t, 1, p.count(id), id)
	}
	assert.ErrorIs(t, q.Enqueue(ctx, unitOf("late")), ErrQueueClosed)
}

func TestWorkQueueStopDeadlineDropsUnits(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	q := NewWorkQueue(QueueConfig{Workers: 1, Size: 4}, func(ctx context.Context, _ string, _ events.Set) error {
		mu.Lock()
		calls++
		mu.Unlock()
		<-ctx.Done()
		return ctx.Err()
	}, nil)
	q.Start(context.Background())

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(context.Background(), unitOf(id)))
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Stop(stopCtx), context.DeadlineExceeded)

	waitCtx, cancelWait := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelWait()
	require.NoError(t, q.Wait(waitCtx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestWorkQueueStopWithoutStart(t *testing.T) {
	q := NewWorkQueue(QueueConfig{}, func(context.Context, string, events.Set) error {
		t.Error("unit should not run")
		return nil
	}, nil)
	require.NoError(t, q.Enqueue(context.Background(), unitOf("x")))
	require.NoError(t, q.Stop(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.Wait(ctx))
	assert.ErrorIs(t, q.Enqueue(ctx, unitOf("y")), ErrQueueClosed)
}

func TestDefaultQueueConfigApplied(t *testing.T) {
	q := NewWorkQueue(QueueConfig{}, nil, nil)
	def := DefaultQueueConfig()
	assert.Equal(t, def.Workers, q.config.Workers)
	assert.Equal(t, def.Size, cap(q.units))
	assert.Equal(t, def.BaseBackoff, q.config.BaseBackoff)
}
