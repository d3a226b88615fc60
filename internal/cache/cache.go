// Package cache provides the in-process TTL+LRU cache that wraps the
// expensive repository read paths. Keys are namespaced by category prefix
// ("creator:<name>", "platform:<n>", "global_stats", ...) so writers can
// invalidate exactly the views a mutation touched.
package cache

import (
	"strings"
	"sync"
	"time"
)

type entry struct {
	key       string
	value     interface{}
	size      int
	prev      *entry
	next      *entry
	expiresAt time.Time
}

type Stats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Evictions     int64   `json:"evictions"`
	Invalidations int64   `json:"invalidations"`
	Entries       int     `json:"entries"`
	HitRate       float64 `json:"hit_rate"`
	ApproxBytes   int64   `json:"approx_bytes"`
}

// Cache is a thread-safe LRU with per-entry TTL. The doubly-linked list
// gives O(1) get/set/evict; head.next is most recently used.
type Cache struct {
	mu sync.Mutex

	maxSize    int
	defaultTTL time.Duration
	ttlByCat   map[string]time.Duration

	items map[string]*entry
	head  *entry
	tail  *entry

	hits          int64
	misses        int64
	evictions     int64
	invalidations int64
	approxBytes   int64
}

func New(maxSize int, defaultTTL time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	c := &Cache{
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
		ttlByCat: map[string]time.Duration{
			"global_stats":   10 * time.Minute,
			"existing_paths": 10 * time.Minute,
			"pending_videos": 5 * time.Minute,
		},
		items: make(map[string]*entry, maxSize),
		head:  &entry{},
		tail:  &entry{},
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// SetCategoryTTL overrides the TTL applied to keys under a category prefix.
func (c *Cache) SetCategoryTTL(category string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttlByCat[category] = ttl
}

func (c *Cache) ttlFor(key string) time.Duration {
	cat := key
	if i := strings.IndexByte(key, ':'); i >= 0 {
		cat = key[:i]
	}
	if ttl, ok := c.ttlByCat[cat]; ok {
		return ttl
	}
	return c.defaultTTL
}

// Get returns the cached value for key, or (nil, false) on a miss or an
// expired entry. Found entries become most recently used.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.removeEntry(e)
		c.misses++
		return nil, false
	}
	c.moveToFront(e)
	c.hits++
	return e.value, true
}

// Set stores value under key, evicting the least recently used entry when
// the cache is full. sizeHint is an approximate byte cost for metrics only.
func (c *Cache) Set(key string, value interface{}, sizeHint int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		c.approxBytes += int64(sizeHint - e.size)
		e.value = value
		e.size = sizeHint
		e.expiresAt = time.Now().Add(c.ttlFor(key))
		c.moveToFront(e)
		return
	}

	if len(c.items) >= c.maxSize {
		if lru := c.tail.prev; lru != c.head {
			c.removeEntry(lru)
			c.evictions++
		}
	}

	e := &entry{key: key, value: value, size: sizeHint, expiresAt: time.Now().Add(c.ttlFor(key))}
	c.items[key] = e
	c.approxBytes += int64(sizeHint)
	c.pushFront(e)
}

// Invalidate removes every entry whose key starts with pattern.
// Returns the number of entries removed.
func (c *Cache) Invalidate(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.items {
		if strings.HasPrefix(key, pattern) {
			c.removeEntry(e)
			removed++
		}
	}
	if removed > 0 {
		c.invalidations += int64(removed)
	}
	return removed
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*entry, c.maxSize)
	c.head.next = c.tail
	c.tail.prev = c.head
	c.approxBytes = 0
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{
		Hits:          c.hits,
		Misses:        c.misses,
		Evictions:     c.evictions,
		Invalidations: c.invalidations,
		Entries:       len(c.items),
		HitRate:       rate,
		ApproxBytes:   c.approxBytes,
	}
}

// list plumbing; callers hold c.mu.

func (c *Cache) pushFront(e *entry) {
	e.prev = c.head
	e.next = c.head.next
	c.head.next.prev = e
	c.head.next = e
}

func (c *Cache) moveToFront(e *entry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	c.pushFront(e)
}

func (c *Cache) removeEntry(e *entry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	delete(c.items, e.key)
	c.approxBytes -= int64(e.size)
}
