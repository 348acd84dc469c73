package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultMaxSizeMB is the default memory budget of a LayerCache.
	DefaultMaxSizeMB = 64

	bytesPerMB = 1024 * 1024
)

// LayerCache keeps rendered layer surfaces keyed by the layer's cache key.
// Entries are evicted least recently used first when the memory budget is
// exceeded, and removed by Sweep once they are older than the TTL.
// It is safe for concurrent use.
type LayerCache struct {
	mu      sync.Mutex
	entries map[uint64]*layerEntry
	lru     lruList[uint64]
	size    int64
	maxSize int64
	ttl     time.Duration
	now     func() time.Time

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
	expired   atomic.Uint64
}

type layerEntry struct {
	surface *Surface
	size    int64
	node    *lruNode[uint64]
	updated time.Time
}

// LayerStats is a point-in-time view of a LayerCache.
type LayerStats struct {
	Stats
	Size    int64 // bytes in use
	MaxSize int64 // budget in bytes
}

// NewLayerCache creates a cache with a budget of maxSizeMB megabytes.
// A non-positive budget uses DefaultMaxSizeMB.
func NewLayerCache(maxSizeMB int, opts ...Option) *LayerCache {
	if maxSizeMB <= 0 {
		maxSizeMB = DefaultMaxSizeMB
	}
	o := buildOptions(opts)
	return &LayerCache{
		entries: make(map[uint64]*layerEntry),
		maxSize: int64(maxSizeMB) * bytesPerMB,
		ttl:     o.ttl,
		now:     o.now,
	}
}

// Get returns the surface stored under key.
func (c *LayerCache) Get(key uint64) (*Surface, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}
	c.lru.MoveToFront(e.node)
	s := e.surface
	c.mu.Unlock()

	c.hits.Add(1)
	return s, true
}

// Put stores s under key, replacing any previous entry. Surfaces larger
// than the whole budget are not cached.
func (c *LayerCache) Put(key uint64, s *Surface) {
	if s == nil {
		return
	}
	size := s.Bytes()
	if size <= 0 || size > c.maxSize {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.removeLocked(key, old)
	}
	c.evictUntil(c.maxSize - size)
	c.entries[key] = &layerEntry{
		surface: s,
		size:    size,
		node:    c.lru.PushFront(key),
		updated: c.now(),
	}
	c.size += size
}

// Contains reports whether key is cached without touching recency or
// counters.
func (c *LayerCache) Contains(key uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// Invalidate removes the entry stored under key.
func (c *LayerCache) Invalidate(key uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(key, e)
		c.evictions.Add(1)
	}
}

// InvalidateAll empties the cache.
func (c *LayerCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictions.Add(uint64(len(c.entries)))
	clear(c.entries)
	c.lru.Clear()
	c.size = 0
}

// Sweep removes entries last updated more than the TTL before now and
// returns how many were removed.
func (c *LayerCache) Sweep(now time.Time) int {
	cutoff := now.Add(-c.ttl)
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, e := range c.entries {
		if !e.updated.After(cutoff) {
			c.removeLocked(key, e)
			removed++
		}
	}
	c.expired.Add(uint64(removed))
	return removed
}

func (c *LayerCache) removeLocked(key uint64, e *layerEntry) {
	c.lru.Remove(e.node)
	c.size -= e.size
	delete(c.entries, key)
}

func (c *LayerCache) evictUntil(target int64) {
	for c.size > target {
		key, ok := c.lru.RemoveOldest()
		if !ok {
			return
		}
		e := c.entries[key]
		c.size -= e.size
		delete(c.entries, key)
		c.evictions.Add(1)
	}
}

// Len returns the number of cached surfaces.
func (c *LayerCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns the current counters and memory use.
func (c *LayerCache) Stats() LayerStats {
	c.mu.Lock()
	n, size := len(c.entries), c.size
	c.mu.Unlock()
	hits, misses := c.hits.Load(), c.misses.Load()
	return LayerStats{
		Stats: Stats{
			Len:       n,
			Hits:      hits,
			Misses:    misses,
			HitRate:   hitRate(hits, misses),
			Evictions: c.evictions.Load(),
			Expired:   c.expired.Load(),
		},
		Size:    size,
		MaxSize: c.maxSize,
	}
}
