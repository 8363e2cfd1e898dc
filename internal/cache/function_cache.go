// Package cache holds in-process caches in front of the function store.
package cache

import (
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
	"gitlab.com/timkado/api/daisi-function-engine/internal/observer"
)

const (
	defaultSize = 1024
	defaultTTL  = 5 * time.Minute
)

// FunctionCache maps webhook keys to function definitions for a bounded time.
// Entries are shared; callers must not mutate returned functions.
type FunctionCache struct {
	lru       *expirable.LRU[string, *model.Function]
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	companyID string
}

func NewFunctionCache(companyID string, size int, ttl time.Duration) *FunctionCache {
	if size <= 0 {
		size = defaultSize
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	c := &FunctionCache{companyID: companyID}
	c.lru = expirable.NewLRU[string, *model.Function](size, func(string, *model.Function) {
		c.evictions.Add(1)
	}, ttl)
	return c
}

// Get returns the cached function for key.
func (c *FunctionCache) Get(key string) (*model.Function, bool) {
	fn, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
		observer.IncCacheCheck(c.companyID, "function", "hit")
		return fn, true
	}
	c.misses.Add(1)
	observer.IncCacheCheck(c.companyID, "function", "miss")
	return nil, false
}

func (c *FunctionCache) Put(key string, fn *model.Function) {
	c.lru.Add(key, fn)
}

// Invalidate drops key, e.g. after the function was edited.
func (c *FunctionCache) Invalidate(key string) {
	c.lru.Remove(key)
}

// Purge empties the cache.
func (c *FunctionCache) Purge() {
	c.lru.Purge()
}

// GetStats returns cache statistics
func (c *FunctionCache) GetStats() FunctionCacheStats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses

	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return FunctionCacheStats{
		Hits:      hits,
		Misses:    misses,
		HitRate:   hitRate,
		Evictions: c.evictions.Load(),
		Size:      c.lru.Len(),
	}
}

type FunctionCacheStats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	HitRate   float64 `json:"hit_rate"`
	Evictions int64   `json:"evictions"`
	Size      int     `json:"size"`
}
