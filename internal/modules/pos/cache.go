package pos

import (
	"fmt"
	"sync"
	"time"
)

// matchCache absorbs duplicate match lookups during client retries. Entries
// expire after a short TTL and the cache is never authoritative: reward
// finalization must re-verify against the vendor. Keys are
// (location, amount, minute bucket) so a retried claim with the same inputs
// hits the same entry.
type matchCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
	nowFunc func() time.Time
}

type cacheEntry struct {
	result    MatchResult
	expiresAt time.Time
}

func newMatchCache(ttl time.Duration) *matchCache {
	return &matchCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		nowFunc: time.Now,
	}
}

func matchCacheKey(locationID string, amount int64, ts time.Time) string {
	return fmt.Sprintf("%s|%d|%d", locationID, amount, ts.UTC().Unix()/60)
}

func (c *matchCache) get(key string) (MatchResult, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.nowFunc().After(e.expiresAt) {
		return MatchResult{}, false
	}
	return e.result, true
}

func (c *matchCache) put(key string, r MatchResult) {
	now := c.nowFunc()
	c.mu.Lock()
	defer c.mu.Unlock()
	// Opportunistic sweep keeps the map from accumulating dead entries.
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = cacheEntry{result: r, expiresAt: now.Add(c.ttl)}
}

// Invalidate drops every entry for a location, e.g. after a refund webhook.
func (c *matchCache) invalidateLocation(locationID string) {
	prefix := locationID + "|"
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(c.entries, k)
		}
	}
}
