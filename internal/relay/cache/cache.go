// Package cache provides a generic TTL + capacity-bounded key/value store
// with least-recently-used eviction. It shields the persistence layer from
// repeated reads by many polling clients.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2/simplelru"
)

// Config holds cache sizing knobs.
type Config struct {
	MaxSize    int           `env:"CACHE_MAX_SIZE" envDefault:"100"`
	DefaultTTL time.Duration `env:"CACHE_DEFAULT_TTL" envDefault:"5m"`
}

type entry[T any] struct {
	value      T
	createdAt  time.Time
	ttl        time.Duration
	hitCount   int
	lastAccess time.Time
}

func (e *entry[T]) expired(now time.Time) bool {
	return now.Sub(e.createdAt) > e.ttl
}

// Stats is a point-in-time snapshot of cache occupancy.
type Stats struct {
	Size             int `json:"size"`
	MaxSize          int `json:"max_size"`
	TotalAccessCount int `json:"total_access_count"`
}

// Cache is a bounded TTL cache. Expiry is lazy (checked on read) and eager
// (EvictExpired, run periodically by the owner); capacity eviction removes
// the entry with the oldest last access among non-expired entries. A single
// mutex guards all state, so readers never observe a partially-updated entry.
type Cache[T any] struct {
	cfg   Config
	clock clock.Clock

	mu      sync.Mutex
	entries *lru.LRU[string, *entry[T]]
}

// New creates a cache. The clock is injectable so tests can drive expiry.
func New[T any](cfg Config, clk clock.Clock) (*Cache[T], error) {
	if cfg.MaxSize < 1 {
		return nil, fmt.Errorf("invalid cache max size: %d", cfg.MaxSize)
	}
	if cfg.DefaultTTL <= 0 {
		return nil, fmt.Errorf("invalid cache default ttl: %s", cfg.DefaultTTL)
	}
	if clk == nil {
		return nil, fmt.Errorf("missing clock for cache")
	}

	entries, err := lru.NewLRU[string, *entry[T]](cfg.MaxSize, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru: %w", err)
	}

	return &Cache[T]{
		cfg:     cfg,
		clock:   clk,
		entries: entries,
	}, nil
}

// Get returns the cached value for key. An entry whose TTL has elapsed is
// deleted and reported as absent.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	e, ok := c.entries.Get(key)
	if !ok {
		return zero, false
	}

	now := c.clock.Now()
	if e.expired(now) {
		c.entries.Remove(key)
		return zero, false
	}

	e.hitCount++
	e.lastAccess = now

	return e.value, true
}

// Put stores value under key with the default TTL.
func (c *Cache[T]) Put(key string, value T) {
	c.PutTTL(key, value, c.cfg.DefaultTTL)
}

// PutTTL stores value under key with an explicit TTL. When inserting a new
// key into a full cache, expired entries are dropped first; if the cache is
// still full, the least-recently-accessed entry is evicted.
func (c *Cache[T]) PutTTL(key string, value T, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if !c.entries.Contains(key) && c.entries.Len() >= c.cfg.MaxSize {
		c.evictExpiredLocked(now)
	}

	c.entries.Add(key, &entry[T]{
		value:      value,
		createdAt:  now,
		ttl:        ttl,
		lastAccess: now,
	})
}

// Invalidate removes a single key.
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Remove(key)
}

// Clear removes all entries.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}

// EvictExpired removes all expired entries. Intended to run from a periodic
// maintenance task.
func (c *Cache[T]) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictExpiredLocked(c.clock.Now())
}

func (c *Cache[T]) evictExpiredLocked(now time.Time) int {
	removed := 0
	for _, key := range c.entries.Keys() {
		e, ok := c.entries.Peek(key)
		if ok && e.expired(now) {
			c.entries.Remove(key)
			removed++
		}
	}
	return removed
}

// Stats returns current occupancy and the total hit count across live
// entries.
func (c *Cache[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := 0
	for _, key := range c.entries.Keys() {
		if e, ok := c.entries.Peek(key); ok {
			total += e.hitCount
		}
	}

	return Stats{
		Size:             c.entries.Len(),
		MaxSize:          c.cfg.MaxSize,
		TotalAccessCount: total,
	}
}

// Fill is the cache-aside helper: check the cache, compute on miss, store the
// result. A result whose production returned an error is never cached; the
// error propagates to the caller.
func Fill[T any](ctx context.Context, c *Cache[T], key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err := compute(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	c.PutTTL(key, v, ttl)
	return v, nil
}
