package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedSource blocks every lookup until release is closed.
type gatedSource struct {
	names   []string
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func newGatedSource(names ...string) *gatedSource {
	return &gatedSource{
		names:   names,
		entered: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (s *gatedSource) ListNonObsoleteEventNames(ctx context.Context) ([]string, error) {
	s.calls.Add(1)
	s.entered <- struct{}{}
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.names, nil
}

type failingSource struct{ err error }

func (s failingSource) ListNonObsoleteEventNames(context.Context) ([]string, error) {
	return nil, s.err
}

func TestAcceptedEventsLoadsOnce(t *testing.T) {
	ctx := context.Background()
	cache := NewAcceptedEvents(NewStaticSource([]Definition{
		{ID: DocumentMoved},
		{ID: DocumentModified},
		{ID: "legacyEvent", Obsolete: true},
	}), DefaultCacheConfig())

	for i := 0; i < 3; i++ {
		set, err := cache.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{DocumentModified, DocumentMoved}, set.Sorted())
	}
	assert.EqualValues(t, 1, cache.Loads())

	ok, err := cache.Contains(ctx, "legacyEvent")
	require.NoError(t, err)
	assert.False(t, ok, "obsolete events are not accepted")
}

// TestAcceptedEventsSingleFlight verifies concurrent misses share one lookup
func TestAcceptedEventsSingleFlight(t *testing.T) {
	ctx := context.Background()
	src := newGatedSource(DocumentMoved)
	cache := NewAcceptedEvents(src, DefaultCacheConfig())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := cache.Contains(ctx, DocumentMoved)
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
	}

	<-src.entered
	// Give the remaining goroutines time to join the in-flight call.
	time.Sleep(20 * time.Millisecond)
	close(src.release)
	wg.Wait()

	assert.EqualValues(t, 1, src.calls.Load())
	assert.True(t, cache.IsValid())
}

func TestAcceptedEventsInvalidate(t *testing.T) {
	ctx := context.Background()
	src := NewStaticSource([]Definition{{ID: DocumentMoved}})
	cache := NewAcceptedEvents(src, DefaultCacheConfig())

	ok, err := cache.Contains(ctx, DocumentTrashed)
	require.NoError(t, err)
	assert.False(t, ok)

	src.Replace([]Definition{{ID: DocumentMoved}, {ID: DocumentTrashed}})
	ok, _ = cache.Contains(ctx, DocumentTrashed)
	assert.False(t, ok, "cache must not observe source changes before invalidation")

	cache.Invalidate()
	assert.False(t, cache.IsValid())

	ok, err = cache.Contains(ctx, DocumentTrashed)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 2, cache.Loads())
}

// TestAcceptedEventsInvalidateDuringLoad verifies a load started before an invalidation is not cached
func TestAcceptedEventsInvalidateDuringLoad(t *testing.T) {
	ctx := context.Background()
	src := newGatedSource(DocumentMoved)
	cache := NewAcceptedEvents(src, DefaultCacheConfig())

	done := make(chan error, 1)
	go func() {
		_, err := cache.Get(ctx)
		done <- err
	}()

	<-src.entered
	cache.Invalidate()
	close(src.release)
	require.NoError(t, <-done)

	assert.False(t, cache.IsValid(), "stale load must not repopulate the cache")

	_, err := cache.Get(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, src.calls.Load())
	assert.True(t, cache.IsValid())
}

// TestAcceptedEventsLoadSurvivesCallerCancel verifies a shared load keeps going when the caller that started it gives up
func TestAcceptedEventsLoadSurvivesCallerCancel(t *testing.T) {
	src := newGatedSource(DocumentMoved)
	cache := NewAcceptedEvents(src, DefaultCacheConfig())

	first, cancel := context.WithCancel(context.Background())
	firstDone := make(chan error, 1)
	go func() {
		_, err := cache.Get(first)
		firstDone <- err
	}()
	<-src.entered
	cancel()
	assert.ErrorIs(t, <-firstDone, context.Canceled)

	secondDone := make(chan Set, 1)
	go func() {
		set, err := cache.Get(context.Background())
		assert.NoError(t, err)
		secondDone <- set
	}()
	close(src.release)

	set := <-secondDone
	assert.True(t, set.Contains(DocumentMoved))
	assert.True(t, cache.IsValid())
	assert.EqualValues(t, 1, src.calls.Load())
}

// TestAcceptedEventsInvalidateStartsNewLoad verifies callers after an invalidation do not join the older load
func TestAcceptedEventsInvalidateStartsNewLoad(t *testing.T) {
	ctx := context.Background()
	src := newGatedSource(DocumentMoved)
	cache := NewAcceptedEvents(src, DefaultCacheConfig())

	var wg sync.WaitGroup
	get := func() {
		defer wg.Done()
		_, err := cache.Get(ctx)
		assert.NoError(t, err)
	}

	wg.Add(1)
	go get()
	<-src.entered
	cache.Invalidate()

	wg.Add(1)
	go get()
	select {
	case <-src.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("second load never started")
	}
	close(src.release)
	wg.Wait()

	assert.EqualValues(t, 2, src.calls.Load())
	assert.True(t, cache.IsValid())
}

func TestAcceptedEventsErrorNotCached(t *testing.T) {
	boom := errors.New("directory unavailable")
	cache := NewAcceptedEvents(failingSource{err: boom}, DefaultCacheConfig())

	_, err := cache.Get(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.False(t, cache.IsValid())
}

func TestAcceptedEventsTTL(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	cache := NewAcceptedEvents(NewStaticSource([]Definition{{ID: DocumentMoved}}), CacheConfig{TTL: time.Minute})
	cache.now = func() time.Time { return clock }

	_, err := cache.Get(ctx)
	require.NoError(t, err)
	assert.True(t, cache.IsValid())

	clock = clock.Add(2 * time.Minute)
	assert.False(t, cache.IsValid())

	_, err = cache.Get(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, cache.Loads())
}

func TestAcceptedEventsGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	cache := NewAcceptedEvents(NewStaticSource([]Definition{{ID: DocumentMoved}}), DefaultCacheConfig())

	set, err := cache.Get(ctx)
	require.NoError(t, err)
	set.Add("injected")

	ok, _ := cache.Contains(ctx, "injected")
	assert.False(t, ok)
}
