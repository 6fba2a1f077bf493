package match

import (
	"sync"
	"time"
)

// usageEntry tracks how often and how recently a master entity was chosen
// in prior successful matches.
type usageEntry struct {
	Count    int
	LastUsed time.Time
	expires  time.Time
}

// UsageCache holds historical usage frequency for match tie-breaking and
// the frequency component of the composite score. Entries expire after a
// TTL; the cache is owned by the staging manager, not ambient global
// state.
type UsageCache struct {
	mu   sync.RWMutex
	ttl  time.Duration
	data map[string]usageEntry
	now  func() time.Time
}

// NewUsageCache creates a usage cache with the given TTL. A zero TTL
// means entries never expire.
func NewUsageCache(ttl time.Duration) *UsageCache {
	return &UsageCache{
		ttl:  ttl,
		data: make(map[string]usageEntry),
		now:  time.Now,
	}
}

// Record notes a successful match against the given entity.
func (c *UsageCache) Record(entityID string) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.data[entityID]
	e.Count++
	e.LastUsed = now
	if c.ttl > 0 {
		e.expires = now.Add(c.ttl)
	}
	c.data[entityID] = e
}

// Seed primes the cache from persisted usage counters.
func (c *UsageCache) Seed(entityID string, count int, lastUsed time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := usageEntry{Count: count, LastUsed: lastUsed}
	if c.ttl > 0 {
		e.expires = c.now().Add(c.ttl)
	}
	c.data[entityID] = e
}

// Count returns the live usage count for an entity.
func (c *UsageCache) Count(entityID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.data[entityID]
	if !ok || c.expired(e) {
		return 0
	}
	return e.Count
}

// LastUsed returns when the entity was last matched, zero if never or
// expired.
func (c *UsageCache) LastUsed(entityID string) time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.data[entityID]
	if !ok || c.expired(e) {
		return time.Time{}
	}
	return e.LastUsed
}

// Invalidate drops one entity's usage history, e.g. after a master-data
// merge or deletion.
func (c *UsageCache) Invalidate(entityID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, entityID)
}

// Purge drops all expired entries and returns how many were removed.
func (c *UsageCache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, e := range c.data {
		if c.expired(e) {
			delete(c.data, id)
			removed++
		}
	}
	return removed
}

func (c *UsageCache) expired(e usageEntry) bool {
	return c.ttl > 0 && c.now().After(e.expires)
}
