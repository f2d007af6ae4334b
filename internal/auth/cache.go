// ABOUTME: Thread-safe TTL cache for validated API keys
// ABOUTME: Bounded by size with LRU eviction; keys are held as digests, never raw

package auth

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// defaultCacheSize bounds the number of cached validations.
const defaultCacheSize = 1024

// cacheEntry stores a validated user ID with its timestamp and list element.
type cacheEntry struct {
	userID    string
	timestamp time.Time
	element   *list.Element
}

// keyCache is a thread-safe, TTL-based, size-limited cache mapping API key
// digests to verified user IDs. It keeps hot-path authentication off the
// database without ever holding raw secrets in memory.
// Uses a doubly-linked list to maintain insertion order for O(1) eviction.
type keyCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	order   *list.List // digests in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// newKeyCache creates a cache with the specified TTL and maximum size.
// A background goroutine periodically removes expired entries.
func newKeyCache(ttl time.Duration, maxSize int) *keyCache {
	c := &keyCache{
		entries: make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// digest returns the cache key for a raw API key.
func digest(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// get returns the cached user ID for a raw key, if present and fresh.
func (c *keyCache) get(rawKey string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[digest(rawKey)]
	if !ok || time.Since(entry.timestamp) >= c.ttl {
		return "", false
	}
	return entry.userID, true
}

// put records a validated raw key -> user ID mapping. If the cache is at
// capacity, the oldest entry is evicted to make room.
func (c *keyCache) put(rawKey, userID string) {
	d := digest(rawKey)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	// If the digest already exists, refresh it and move to back
	if entry, exists := c.entries[d]; exists {
		entry.userID = userID
		entry.timestamp = now
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(d)
	c.entries[d] = &cacheEntry{
		userID:    userID,
		timestamp: now,
		element:   elem,
	}
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *keyCache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	d, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, d)
}

// purge drops every entry.
func (c *keyCache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.order.Init()
}

// sweep runs in a background goroutine, periodically removing expired entries.
func (c *keyCache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runSweep()
		case <-c.done:
			return
		}
	}
}

// runSweep removes all expired entries from the cache.
func (c *keyCache) runSweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for d, entry := range c.entries {
		if now.Sub(entry.timestamp) > c.ttl {
			c.order.Remove(entry.element)
			delete(c.entries, d)
		}
	}
}

// close stops the background sweeper. Safe to call multiple times.
func (c *keyCache) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
