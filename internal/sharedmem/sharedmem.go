// Package sharedmem implements the Shared Memory Optimizer: a
// process-wide keyed cache with per-entry TTL and hit/miss counters.
package sharedmem

import (
	"sync"
	"sync/atomic"
	"time"
)

type entry struct {
	value   interface{}
	expires time.Time
}

// Cache is the single-writer, many-reader shared cache.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry

	hits   int64
	misses int64
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[string]*entry)}
}

// Get returns the cached value for key if present and not expired.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(e.expires) {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}
	atomic.AddInt64(&c.hits, 1)
	return e.value, true
}

// Set stores value under key with the given TTL.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &entry{value: value, expires: time.Now().Add(ttl)}
}

// SweepExpired removes every expired entry and returns how many were swept
// in one batched pass.
func (c *Cache) SweepExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	swept := 0
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
			swept++
		}
	}
	return swept
}

// Stats reports hit/miss counters for diagnostics and the health monitor.
func (c *Cache) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
}

// PreloadCommonConfig seeds detector-shared, parse-once values (default
// thresholds, timeframe parameters, confidence floors) at startup so worker
// goroutines never re-parse config on the hot path.
func (c *Cache) PreloadCommonConfig(values map[string]interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	expires := time.Now().Add(ttl)
	for k, v := range values {
		c.entries["cfg_"+k] = &entry{value: v, expires: expires}
	}
}
