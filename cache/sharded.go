// Package cache provides the two caches of the compositor: a sharded
// TTL cache used for decoded resources, and LayerCache, which keeps
// rendered layer surfaces under a memory budget. Both expire entries
// older than their TTL when swept; RunSweeper drives the sweep
// independently of the render loop.
package cache

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultShardCount is the number of shards. It is a power of two so
	// the shard index is a mask of the key hash.
	DefaultShardCount = 16

	// DefaultCapacity is the default number of entries per shard.
	DefaultCapacity = 256

	// DefaultTTL is how long an entry lives after it was stored.
	DefaultTTL = 5 * time.Minute

	shardMask = DefaultShardCount - 1
)

// Hasher computes the hash used to pick a shard for a key.
type Hasher[K any] func(K) uint64

// StringHasher hashes a string key with FNV-1a.
func StringHasher(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// Uint64Hasher uses the key as its own hash.
func Uint64Hasher(u uint64) uint64 {
	return u
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Len       int
	Capacity  int // total entry capacity
	Hits      uint64
	Misses    uint64
	HitRate   float64 // 0 when there were no lookups
	Evictions uint64  // entries dropped to make room
	Expired   uint64  // entries dropped because their TTL elapsed
}

func hitRate(hits, misses uint64) float64 {
	if total := hits + misses; total > 0 {
		return float64(hits) / float64(total)
	}
	return 0
}

// ShardedCache is a concurrent LRU cache split into DefaultShardCount
// independently locked shards. Every entry carries an expiry; expired
// entries are never returned and are removed by Get or Sweep.
type ShardedCache[K comparable, V any] struct {
	shards   [DefaultShardCount]*shard[K, V]
	hasher   Hasher[K]
	capacity int
	ttl      time.Duration
	now      func() time.Time

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
	expired   atomic.Uint64
}

type shard[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*shardEntry[K, V]
	lru     lruList[K]
}

type shardEntry[K comparable, V any] struct {
	value   V
	node    *lruNode[K]
	expires time.Time
}

// Option configures a cache.
type Option func(*options)

type options struct {
	ttl time.Duration
	now func() time.Time
}

// WithTTL sets the lifetime of entries. Non-positive values keep the
// default.
func WithTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.ttl = d
		}
	}
}

// WithClock sets the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewSharded creates a cache holding up to capacity entries per shard.
// A non-positive capacity uses DefaultCapacity.
func NewSharded[K comparable, V any](capacity int, hasher Hasher[K], opts ...Option) *ShardedCache[K, V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	o := buildOptions(opts)
	c := &ShardedCache[K, V]{
		hasher:   hasher,
		capacity: capacity,
		ttl:      o.ttl,
		now:      o.now,
	}
	for i := range c.shards {
		c.shards[i] = &shard[K, V]{entries: make(map[K]*shardEntry[K, V])}
	}
	return c
}

func (c *ShardedCache[K, V]) shardFor(key K) *shard[K, V] {
	return c.shards[c.hasher(key)&shardMask]
}

// TTL returns the default entry lifetime.
func (c *ShardedCache[K, V]) TTL() time.Duration { return c.ttl }

// Get returns the value stored under key if it has not expired.
func (c *ShardedCache[K, V]) Get(key K) (V, bool) {
	s := c.shardFor(key)
	now := c.now()

	s.mu.Lock()
	e, ok := s.entries[key]
	if ok && !now.Before(e.expires) {
		s.lru.Remove(e.node)
		delete(s.entries, key)
		c.expired.Add(1)
		ok = false
	}
	if !ok {
		s.mu.Unlock()
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	s.lru.MoveToFront(e.node)
	v := e.value
	s.mu.Unlock()

	c.hits.Add(1)
	return v, true
}

// Set stores value under key with the default TTL.
func (c *ShardedCache[K, V]) Set(key K, value V) {
	c.SetTTL(key, value, c.ttl)
}

// SetTTL stores value under key with a specific lifetime, replacing any
// previous entry. The least recently used entries of the shard are
// evicted when it is full.
func (c *ShardedCache[K, V]) SetTTL(key K, value V, ttl time.Duration) {
	expires := c.now().Add(ttl)
	s := c.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		e.value = value
		e.expires = expires
		s.lru.MoveToFront(e.node)
		return
	}
	for s.lru.Len() >= c.capacity {
		oldest, ok := s.lru.RemoveOldest()
		if !ok {
			break
		}
		delete(s.entries, oldest)
		c.evictions.Add(1)
	}
	s.entries[key] = &shardEntry[K, V]{
		value:   value,
		node:    s.lru.PushFront(key),
		expires: expires,
	}
}

// Delete removes key and reports whether it was present.
func (c *ShardedCache[K, V]) Delete(key K) bool {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	s.lru.Remove(e.node)
	delete(s.entries, key)
	return true
}

// Sweep removes every entry that expired at or before now and returns
// how many were removed.
func (c *ShardedCache[K, V]) Sweep(now time.Time) int {
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.entries {
			if !now.Before(e.expires) {
				s.lru.Remove(e.node)
				delete(s.entries, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	c.expired.Add(uint64(removed))
	return removed
}

// Clear removes all entries. Counters are kept.
func (c *ShardedCache[K, V]) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		clear(s.entries)
		s.lru.Clear()
		s.mu.Unlock()
	}
}

// Len returns the number of stored entries, including expired entries
// not yet swept.
func (c *ShardedCache[K, V]) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// Stats returns the current counters.
func (c *ShardedCache[K, V]) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	return Stats{
		Len:       c.Len(),
		Capacity:  c.capacity * DefaultShardCount,
		Hits:      hits,
		Misses:    misses,
		HitRate:   hitRate(hits, misses),
		Evictions: c.evictions.Load(),
		Expired:   c.expired.Load(),
	}
}
