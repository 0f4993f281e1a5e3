// Package cache implements the in-memory result cache: a bounded
// fingerprint-keyed store with TTL expiry and least-recently-accessed
// eviction. State lives for the process lifetime only.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/blueberrycongee/captionmux/pkg/types"
)

// entry is one cached generation result.
type entry struct {
	result       *types.GenerationResult
	createdAt    time.Time
	lastAccessed time.Time
}

// Config holds configuration for a ResultCache.
type Config struct {
	// MaxSize is the maximum number of entries (default: 50).
	MaxSize int
	// TTL is how long an entry stays valid, measured from creation
	// (default: 1 hour).
	TTL time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxSize: 50,
		TTL:     time.Hour,
	}
}

// ResultCache maps image fingerprints to generation results. At most one
// entry exists per fingerprint; the size never exceeds MaxSize. Entries
// expire TTL after creation regardless of access pattern, and the least
// recently accessed entry is evicted when a new insert needs room.
//
// ResultCache is safe for concurrent use.
type ResultCache struct {
	mu      sync.Mutex
	entries map[string]*entry
	maxSize int
	ttl     time.Duration

	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
}

// New creates a result cache.
func New(cfg Config) *ResultCache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 50
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	return &ResultCache{
		entries: make(map[string]*entry),
		maxSize: cfg.MaxSize,
		ttl:     cfg.TTL,
	}
}

// Set stores a result under the given fingerprint, evicting the least
// recently accessed entry first if the cache is full. Overwriting an
// existing fingerprint resets its creation time.
func (c *ResultCache) Set(key string, result *types.GenerationResult) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.entries[key] = &entry{
		result:       result,
		createdAt:    now,
		lastAccessed: now,
	}
	c.sets.Add(1)
}

// Get returns the cached result for key, or nil on a miss. A hit counts as
// use: it refreshes the entry's access time. Expired entries are evicted
// lazily on touch.
func (c *ResultCache) Get(key string) *types.GenerationResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil
	}
	if c.expiredLocked(e) {
		delete(c.entries, key)
		c.misses.Add(1)
		return nil
	}

	e.lastAccessed = time.Now()
	c.hits.Add(1)
	return e.result
}

// Has reports whether a live entry exists for key without refreshing its
// access time. Expired entries are evicted lazily, as in Get.
func (c *ResultCache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	if c.expiredLocked(e) {
		delete(c.entries, key)
		return false
	}
	return true
}

// Prune eagerly sweeps all expired entries.
func (c *ResultCache) Prune() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.entries {
		if c.expiredLocked(e) {
			delete(c.entries, key)
		}
	}
}

// Clear removes every entry.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

// Len returns the number of entries, expired or not.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ResultCache) expiredLocked(e *entry) bool {
	return time.Since(e.createdAt) >= c.ttl
}

// evictOldestLocked removes the entry with the oldest access time.
// Ties break arbitrarily.
func (c *ResultCache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	first := true
	for key, e := range c.entries {
		if first || e.lastAccessed.Before(oldest) {
			oldestKey = key
			oldest = e.lastAccessed
			first = false
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Stats holds cache counters for monitoring.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Sets    int64   `json:"sets"`
	HitRate float64 `json:"hit_rate"`
}

// Stats returns a snapshot of the cache counters.
func (c *ResultCache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses

	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return Stats{
		Hits:    hits,
		Misses:  misses,
		Sets:    c.sets.Load(),
		HitRate: hitRate,
	}
}
