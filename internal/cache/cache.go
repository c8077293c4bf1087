// Package cache provides the response cache that lets repeated questions skip
// the language model.
//
// Keys are a 64-bit xxhash of the trimmed, lowercased query. Two different
// queries that collide share an entry; the odds are negligible at the sizes
// this cache runs at and collisions are not detected.
package cache

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	// DefaultTTL is how long an entry stays visible after insertion.
	DefaultTTL = time.Hour
	// DefaultMaxSize bounds the number of entries.
	DefaultMaxSize = 1000

	// originalKeyLimit caps the debug copy of the query kept with each entry.
	originalKeyLimit = 100
)

// Config controls cache bounds.
type Config struct {
	TTL     time.Duration
	MaxSize int
}

// DefaultConfig returns the standard cache bounds.
func DefaultConfig() Config {
	return Config{TTL: DefaultTTL, MaxSize: DefaultMaxSize}
}

type entry struct {
	value       string
	insertedAt  time.Time
	seq         uint64
	originalKey string
}

// ResponseCache is a TTL and size bounded map from normalized query to reply.
// It is safe for concurrent use.
type ResponseCache struct {
	mu      sync.Mutex
	entries map[uint64]*entry
	ttl     time.Duration
	maxSize int
	seq     uint64
	hits    int64
	misses  int64
	now     func() time.Time
}

// Option configures a ResponseCache.
type Option func(*ResponseCache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *ResponseCache) { c.now = now }
}

// New creates a cache. Non-positive bounds fall back to the defaults.
func New(cfg Config, opts ...Option) *ResponseCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}

	c := &ResponseCache{
		entries: make(map[uint64]*entry),
		ttl:     cfg.TTL,
		maxSize: cfg.MaxSize,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NormalizeKey is the canonical form a query is cached under.
func NormalizeKey(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

func digest(query string) uint64 {
	return xxhash.Sum64String(NormalizeKey(query))
}

// Get returns the cached reply for query if present and not expired.
// An expired entry is removed as a side effect.
func (c *ResponseCache) Get(query string) (string, bool) {
	key := digest(query)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return "", false
	}

	if c.now().Sub(e.insertedAt) >= c.ttl {
		delete(c.entries, key)
		c.misses++
		return "", false
	}

	c.hits++
	return e.value, true
}

// Set stores value under query. When the cache is full, the oldest tenth of
// the entries (at least one) is evicted before inserting.
func (c *ResponseCache) Set(query, value string) {
	key := digest(query)
	original := strings.TrimSpace(query)
	if len(original) > originalKeyLimit {
		if r := []rune(original); len(r) > originalKeyLimit {
			original = string(r[:originalKeyLimit])
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldestLocked(max(1, len(c.entries)/10))
	}

	c.seq++
	c.entries[key] = &entry{
		value:       value,
		insertedAt:  c.now(),
		seq:         c.seq,
		originalKey: original,
	}
}

// evictOldestLocked removes the n entries with the earliest insertion.
func (c *ResponseCache) evictOldestLocked(n int) {
	type aged struct {
		key uint64
		seq uint64
	}

	order := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		order = append(order, aged{key: k, seq: e.seq})
	}
	slices.SortFunc(order, func(a, b aged) int { return cmp.Compare(a.seq, b.seq) })

	for i := 0; i < n && i < len(order); i++ {
		delete(c.entries, order[i].key)
	}
}

// Invalidate removes the entry for query, if any.
func (c *ResponseCache) Invalidate(query string) {
	key := digest(query)

	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear drops every entry and resets the hit/miss counters.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[uint64]*entry)
	c.hits = 0
	c.misses = 0
}

// PurgeExpired removes all expired entries and returns how many were dropped.
func (c *ResponseCache) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	purged := 0
	for k, e := range c.entries {
		if now.Sub(e.insertedAt) >= c.ttl {
			delete(c.entries, k)
			purged++
		}
	}
	return purged
}

// Len returns the number of stored entries, including expired ones not yet purged.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats is a point-in-time view of cache usage.
type Stats struct {
	Entries    int     `json:"entries"`
	MaxSize    int     `json:"max_size"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"-"`
	HitRateStr string  `json:"hit_rate"`
	TTLSeconds int     `json:"ttl_seconds"`
}

// Stats returns current usage counters.
func (c *ResponseCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	var rate float64
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}

	return Stats{
		Entries:    len(c.entries),
		MaxSize:    c.maxSize,
		Hits:       c.hits,
		Misses:     c.misses,
		HitRate:    rate,
		HitRateStr: fmt.Sprintf("%.1f%%", rate*100),
		TTLSeconds: int(c.ttl / time.Second),
	}
}

// Keys returns the truncated original queries currently stored, oldest first.
// Intended for debugging only.
func (c *ResponseCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		list = append(list, e)
	}
	slices.SortFunc(list, func(a, b *entry) int { return cmp.Compare(a.seq, b.seq) })

	keys := make([]string, len(list))
	for i, e := range list {
		keys[i] = e.originalKey
	}
	return keys
}
