package cache

import (
	"container/list"
	"sync"
	"time"

	"llmcouncil/internal/core"
)

// LRUCache is a bounded, thread-safe cache. Entries expire after their TTL
// and the least recently used entry is dropped when the cache is full.
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[string]*list.Element

	stopOnce sync.Once
	done     chan struct{}
}

type entry struct {
	key       string
	value     any
	expiresAt time.Time
}

// NewCache creates a cache with the default capacity.
func NewCache() *LRUCache {
	return NewCacheWithCapacity(core.CacheDefaultCapacity)
}

// NewCacheWithCapacity creates a cache holding at most capacity entries and
// starts its expiry sweeper. Call Stop to release the sweeper.
func NewCacheWithCapacity(capacity int) *LRUCache {
	if capacity <= 0 {
		capacity = core.CacheDefaultCapacity
	}
	c := &LRUCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
		done:     make(chan struct{}),
	}
	go c.sweep(core.CacheCleanupInterval)
	return c
}

func (c *LRUCache) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanupExpired()
		case <-c.done:
			return
		}
	}
}

// Stop ends the expiry sweeper. The cache stays usable.
func (c *LRUCache) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

// Set stores value under key for ttl.
func (c *LRUCache) Set(key string, value any, ttl time.Duration) {
	expiresAt := time.Now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		e := elem.Value.(*entry)
		e.value = value
		e.expiresAt = expiresAt
		c.order.MoveToFront(elem)
		return
	}

	c.entries[key] = c.order.PushFront(&entry{key: key, value: value, expiresAt: expiresAt})
	for len(c.entries) > c.capacity {
		c.evict()
	}
}

// Get returns the value for key unless it is missing or expired.
func (c *LRUCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	e := elem.Value.(*entry)
	if time.Now().After(e.expiresAt) {
		c.removeElement(elem)
		return nil, false
	}
	c.order.MoveToFront(elem)
	return e.value, true
}

// Delete drops key if present.
func (c *LRUCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.removeElement(elem)
	}
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops every entry.
func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.entries = make(map[string]*list.Element, c.capacity)
}

// evict drops the least recently used entry. c.mu must be held.
func (c *LRUCache) evict() {
	if elem := c.order.Back(); elem != nil {
		c.removeElement(elem)
	}
}

// removeElement unlinks elem from both the list and the index. c.mu must be held.
func (c *LRUCache) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.entries, elem.Value.(*entry).key)
}

func (c *LRUCache) cleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if now.After(elem.Value.(*entry).expiresAt) {
			c.removeElement(elem)
		}
		elem = prev
	}
}
