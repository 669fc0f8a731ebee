package registry

import (
	"sync"
	"time"
)

// cacheEntry holds a cached query result with a timestamp for TTL expiration.
type cacheEntry struct {
	value    any
	storedAt time.Time
}

// Cache is a thread-safe in-memory query cache with TTL expiration and a
// hard capacity. Expired entries are cleaned up lazily on Get() — no
// background goroutine. Writers invalidate the whole cache via Purge();
// the short TTL makes that coarse policy acceptable.
type Cache struct {
	mu       sync.RWMutex
	entries  map[string]*cacheEntry
	ttl      time.Duration
	capacity int
}

// NewCache creates a new cache with the given TTL and capacity.
func NewCache(ttl time.Duration, capacity int) *Cache {
	return &Cache{
		entries:  make(map[string]*cacheEntry),
		ttl:      ttl,
		capacity: capacity,
	}
}

// Get returns the cached value if present and not expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if time.Since(entry.storedAt) > c.ttl {
		// Expired — clean up lazily.
		// Re-check under write lock: a concurrent Set() may have replaced
		// the entry with a fresh one between RUnlock and Lock.
		c.mu.Lock()
		if current, ok := c.entries[key]; ok && time.Since(current.storedAt) > c.ttl {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	return entry.value, true
}

// Set stores a value with the current timestamp. At capacity, expired
// entries are swept first; if the cache is still full it is reset rather
// than grown.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.capacity {
		for k, e := range c.entries {
			if time.Since(e.storedAt) > c.ttl {
				delete(c.entries, k)
			}
		}
		if len(c.entries) >= c.capacity {
			c.entries = make(map[string]*cacheEntry)
		}
	}

	c.entries[key] = &cacheEntry{value: value, storedAt: time.Now()}
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()
}

// Len returns the number of entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
