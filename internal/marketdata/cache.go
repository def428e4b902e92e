package marketdata

import (
	"sync"
	"time"
)

// fetchCache amortizes provider calls across intra-cycle re-reads. Keys are
// (sorted symbol set, interval, lookback); entries expire after a fixed TTL.
type fetchCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

type cacheEntry struct {
	data    map[string]Series
	expires time.Time
}

func newFetchCache(ttl time.Duration) *fetchCache {
	return &fetchCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

func (c *fetchCache) get(key string) (map[string]Series, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expires) {
		return nil, false
	}
	return e.data, true
}

func (c *fetchCache) set(key string, data map[string]Series) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Drop expired entries opportunistically; the key space is tiny
	// (one entry per distinct fetch shape per cycle).
	now := time.Now()
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = cacheEntry{data: data, expires: now.Add(c.ttl)}
}
