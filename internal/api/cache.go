package api

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// minCacheTTL is the shortest expiry the cache accepts; the expirable LRU
// sweeps on a ticker of ttl/100.
const minCacheTTL = time.Millisecond

// ResponseCache is a concurrent-safe LRU cache of encoded response bodies
// keyed by run, with TTL expiration. Stored runs are immutable once
// complete, so entries only go stale when a run is re-saved.
type ResponseCache struct {
	lru        *expirable.LRU[string, []byte]
	maxEntries int
	hits       atomic.Int64
	misses     atomic.Int64
}

// CacheStats contains cache performance statistics.
type CacheStats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// NewResponseCache creates a cache holding at most maxEntries bodies. A
// maxEntries of 0 or less disables caching; a ttl of 0 never expires.
func NewResponseCache(maxEntries int, ttl time.Duration) *ResponseCache {
	c := &ResponseCache{maxEntries: maxEntries}
	if maxEntries > 0 {
		if ttl > 0 && ttl < minCacheTTL {
			ttl = minCacheTTL
		}
		c.lru = expirable.NewLRU[string, []byte](maxEntries, nil, ttl)
	}
	return c
}

func cacheKey(runID, view string) string {
	return runID + "/" + view
}

// Get returns a cached body, or nil on miss or expiry.
func (c *ResponseCache) Get(runID, view string) []byte {
	if c.lru == nil {
		c.misses.Add(1)
		return nil
	}
	key := cacheKey(runID, view)
	data, ok := c.lru.Get(key)
	if !ok {
		// Expired entries linger until the sweeper reaches them.
		c.lru.Remove(key)
		c.misses.Add(1)
		return nil
	}
	c.hits.Add(1)
	return data
}

// Put stores a body, evicting the least recently used entry at capacity.
func (c *ResponseCache) Put(runID, view string, data []byte) {
	if c.lru == nil {
		return
	}
	c.lru.Add(cacheKey(runID, view), data)
}

// Invalidate drops every cached view of a run.
func (c *ResponseCache) Invalidate(runID string) {
	if c.lru == nil {
		return
	}
	prefix := runID + "/"
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.lru.Remove(key)
		}
	}
}

// Stats returns cache performance statistics.
func (c *ResponseCache) Stats() CacheStats {
	var entries int
	if c.lru != nil {
		entries = c.lru.Len()
	}
	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return CacheStats{
		Entries:    entries,
		MaxEntries: c.maxEntries,
		Hits:       hits,
		Misses:     misses,
		HitRate:    hitRate,
	}
}
