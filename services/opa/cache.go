package opa

import (
	"container/list"
	"encoding/json"
	"sync"
	"time"
)

// cacheEntry represents a single cached decision with TTL
type cacheEntry struct {
	key        string
	result     json.RawMessage
	insertedAt time.Time
	element    *list.Element // For LRU tracking
}

func (e *cacheEntry) isExpired(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.insertedAt) > ttl
}

// DecisionCache is an in-memory LRU cache with TTL for OPA decisions.
// Keys are the policy path plus the encoded input document.
type DecisionCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	lruList *list.List
	maxSize int
	ttl     time.Duration
	hits    uint64
	misses  uint64
	now     func() time.Time
}

// NewDecisionCache creates a new DecisionCache with specified max size and TTL
func NewDecisionCache(maxSize int, ttl time.Duration) *DecisionCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &DecisionCache{
		entries: make(map[string]*cacheEntry),
		lruList: list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// CacheKey builds the cache key for a query
func CacheKey(path string, input []byte) string {
	return path + "|" + string(input)
}

// Get returns the cached decision, or nil when missing or expired
func (c *DecisionCache) Get(key string) json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists || entry.isExpired(c.now(), c.ttl) {
		c.misses++
		if exists {
			c.removeEntry(key)
		}
		return nil
	}

	c.lruList.MoveToFront(entry.element)
	c.hits++
	return entry.result
}

// Set stores a decision
func (c *DecisionCache) Set(key string, result json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.entries[key]; exists {
		entry.result = result
		entry.insertedAt = c.now()
		c.lruList.MoveToFront(entry.element)
		return
	}

	if c.lruList.Len() >= c.maxSize {
		c.evictLRU()
	}

	entry := &cacheEntry{key: key, result: result, insertedAt: c.now()}
	entry.element = c.lruList.PushFront(key)
	c.entries[key] = entry
}

// InvalidatePrefix removes every decision cached for a policy path
func (c *DecisionCache) InvalidatePrefix(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	prefix := path + "|"
	for key := range c.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			c.removeEntry(key)
			removed++
		}
	}
	return removed
}

// Clear removes all entries from the cache
func (c *DecisionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.lruList.Init()
}

// CacheStats represents cache statistics
type CacheStats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"max_size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Stats returns cache statistics
func (c *DecisionCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var rate float64
	if total := c.hits + c.misses; total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return CacheStats{
		Size:    c.lruList.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: rate,
	}
}

// CleanupExpired removes all expired entries
func (c *DecisionCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var expired []string
	for key, entry := range c.entries {
		if entry.isExpired(now, c.ttl) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		c.removeEntry(key)
	}
	return len(expired)
}

// StartCleanupWorker periodically drops expired entries until stopCh closes
func (c *DecisionCache) StartCleanupWorker(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CleanupExpired()
		case <-stopCh:
			return
		}
	}
}

// removeEntry must be called with lock held
func (c *DecisionCache) removeEntry(key string) {
	if entry, exists := c.entries[key]; exists {
		c.lruList.Remove(entry.element)
		delete(c.entries, key)
	}
}

// evictLRU must be called with lock held
func (c *DecisionCache) evictLRU() {
	back := c.lruList.Back()
	if back == nil {
		return
	}
	key := back.Value.(string)
	c.lruList.Remove(back)
	delete(c.entries, key)
}
