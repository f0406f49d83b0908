package cache

import (
	"context"
	"sync"
	"time"

	"llmrouter/internal/core"
)

// LocalCache implements Cache in process memory.
// This is suitable for single-instance deployments.
type LocalCache struct {
	mu      sync.Mutex
	entries map[Key]Entry
	ttl     time.Duration
	now     func() time.Time
}

// NewLocalCache creates an in-memory cache. A non-positive ttl disables hits.
func NewLocalCache(ttl time.Duration) *LocalCache {
	return &LocalCache{
		entries: make(map[Key]Entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// SetClock replaces the time source.
func (c *LocalCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Get returns a copy of the cached result. Expired entries are evicted.
func (c *LocalCache) Get(_ context.Context, key Key) (*core.GenerationResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	if c.now().Sub(e.InsertedAt) >= c.ttl {
		delete(c.entries, key)
		return nil, nil
	}
	return e.Result.Clone(), nil
}

// Set stores a copy of result.
func (c *LocalCache) Set(_ context.Context, key Key, result *core.GenerationResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = Entry{Provider: key.Provider, Result: result.Clone(), InsertedAt: c.now()}
	return nil
}

// InvalidateProvider removes the entries of provider.
func (c *LocalCache) InvalidateProvider(_ context.Context, provider string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.entries {
		if k.Provider == provider {
			delete(c.entries, k)
			n++
		}
	}
	return n, nil
}

// Clear removes every entry.
func (c *LocalCache) Clear(_ context.Context) error {
	c.mu.Lock()
	c.entries = make(map[Key]Entry)
	c.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *LocalCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close is a no-op for local cache.
func (c *LocalCache) Close() error {
	return nil
}
