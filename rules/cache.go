package rules

import (
	"sync"
	"time"

	"github.com/liamcoop/retention/retention"
)

// RulesCache caches the enabled auto rules so automatic application does not
// hit the store for every document.
type RulesCache interface {
	// Get returns the cached rules, or nil on a miss or expiry.
	Get() []*retention.Rule
	// Generation identifies the current contents; Invalidate advances it.
	Generation() uint64
	// Set stores rules loaded at generation. It reports false and stores
	// nothing when the cache was invalidated since.
	Set(generation uint64, rules []*retention.Rule) bool
	// Invalidate forces a reload on the next Get.
	Invalidate()
	IsValid() bool
}

// CacheConfig holds configuration for cache behavior.
type CacheConfig struct {
	// TTL is the time-to-live for cached entries. Zero means entries only
	// leave the cache through Invalidate.
	TTL time.Duration
}

// DefaultCacheConfig invalidates on mutation only.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{}
}

// InMemoryRulesCache is an in-memory RulesCache. Thread-safe.
type InMemoryRulesCache struct {
	rules    []*retention.Rule
	cachedAt time.Time
	config   CacheConfig
	mu       sync.RWMutex
	isValid  bool

	generation uint64
}

// NewInMemoryRulesCache creates an empty cache.
func NewInMemoryRulesCache(config CacheConfig) *InMemoryRulesCache {
	return &InMemoryRulesCache{config: config}
}

// Get returns copies of the cached rules.
func (c *InMemoryRulesCache) Get() []*retention.Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.fresh() {
		return nil
	}
	return cloneRules(c.rules)
}

// Generation returns the current generation.
func (c *InMemoryRulesCache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Set stores copies of rules unless they were loaded before the last
// Invalidate.
func (c *InMemoryRulesCache) Set(generation uint64, rules []*retention.Rule) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation {
		return false
	}
	c.rules = cloneRules(rules)
	c.cachedAt = time.Now()
	c.isValid = true
	return true
}

// Invalidate clears the cache.
func (c *InMemoryRulesCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.isValid = false
	c.rules = nil
}

// IsValid reports whether Get would hit.
func (c *InMemoryRulesCache) IsValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fresh()
}

func (c *InMemoryRulesCache) fresh() bool {
	if !c.isValid {
		return false
	}
	return c.config.TTL <= 0 || time.Since(c.cachedAt) <= c.config.TTL
}

func cloneRules(rules []*retention.Rule) []*retention.Rule {
	out := make([]*retention.Rule, len(rules))
	for i, r := range rules {
		out[i] = r.Clone()
	}
	return out
}
