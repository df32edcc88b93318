package events

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// CacheConfig holds configuration for the accepted events cache.
type CacheConfig struct {
	// TTL is the time-to-live for the cached list.
	// Set to 0 for no expiration (explicit invalidation only)
	TTL time.Duration
}

// DefaultCacheConfig returns the defaults: no TTL, invalidate on configuration change.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 0}
}

// AcceptedEvents lazily loads the set of accepted event names from a Source
// and keeps it until Invalidate is called.
//
// Concurrent misses share a single load. A load that started before an
// invalidation never repopulates the cache with the stale result.
type AcceptedEvents struct {
	source Source
	config CacheConfig
	group  singleflight.Group

	mu         sync.RWMutex
	names      Set
	cachedAt   time.Time
	isValid    bool
	generation uint64

	loads atomic.Int64
	now   func() time.Time
}

// NewAcceptedEvents creates a cache over source.
func NewAcceptedEvents(source Source, config CacheConfig) *AcceptedEvents {
	return &AcceptedEvents{
		source: source,
		config: config,
		now:    time.Now,
	}
}

// Get returns a copy of the accepted event names, loading them on a miss.
func (c *AcceptedEvents) Get(ctx context.Context) (Set, error) {
	set, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	cp := make(Set, len(set))
	for n := range set {
		cp.Add(n)
	}
	return cp, nil
}

// Contains reports whether name is an accepted event.
func (c *AcceptedEvents) Contains(ctx context.Context, name string) (bool, error) {
	set, err := c.current(ctx)
	if err != nil {
		return false, err
	}
	return set.Contains(name), nil
}

// Invalidate clears the cache, forcing a reload on next access.
func (c *AcceptedEvents) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.isValid = false
	c.names = nil
	c.generation++
}

// IsValid returns true if the cache currently holds a usable list.
func (c *AcceptedEvents) IsValid() bool {
	_, ok := c.cached()
	return ok
}

// Loads returns how many times the source has been queried.
func (c *AcceptedEvents) Loads() int64 {
	return c.loads.Load()
}

func (c *AcceptedEvents) current(ctx context.Context) (Set, error) {
	if set, ok := c.cached(); ok {
		return set, nil
	}

	c.mu.RLock()
	gen := c.generation
	c.mu.RUnlock()

	// The shared load must not fail because the caller that started it went
	// away, and callers after an Invalidate must not join an older load.
	load := context.WithoutCancel(ctx)
	ch := c.group.DoChan(strconv.FormatUint(gen, 10), func() (any, error) {
		// Another caller may have filled the cache while we queued.
		if set, ok := c.cached(); ok {
			return set, nil
		}
		return c.load(load, gen)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}
	set, ok := res.Val.(Set)
	if !ok {
		return nil, fmt.Errorf("cached value is not an event set")
	}
	return set, nil
}

func (c *AcceptedEvents) load(ctx context.Context, gen uint64) (Set, error) {
	names, err := c.source.ListNonObsoleteEventNames(ctx)
	c.loads.Add(1)
	if err != nil {
		return nil, fmt.Errorf("failed to load accepted events: %w", err)
	}
	set := NewSet(names...)

	c.mu.Lock()
	if c.generation == gen {
		c.names = set
		c.cachedAt = c.now()
		c.isValid = true
	}
	c.mu.Unlock()

	return set, nil
}

func (c *AcceptedEvents) cached() (Set, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.isValid {
		return nil, false
	}
	if c.config.TTL > 0 && c.now().Sub(c.cachedAt) > c.config.TTL {
		return nil, false
	}
	return c.names, true
}
