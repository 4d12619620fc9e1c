package cache

import (
	"fmt"
	"sync"
)

// ResponseCache stores encoded comparison responses. Conversions are pure, so
// an entry never goes stale; the only bound is size.
type ResponseCache interface {
	// Get retrieves a response body from the cache.
	Get(key string) ([]byte, bool)
	// Put stores a response body in the cache.
	Put(key string, body []byte)
	// Size returns the number of items in the cache.
	Size() int
}

// Key builds the cache key for a rendered range.
func Key(format string, start, end int64) string {
	return fmt.Sprintf("%s:%d:%d", format, start, end)
}

// MapCache is an in-memory ResponseCache that evicts the oldest entry once
// maxEntries is reached. maxEntries <= 0 means unbounded.
type MapCache struct {
	data       map[string][]byte
	order      []string
	maxEntries int
	mu         sync.RWMutex
}

func NewMapCache(maxEntries int) *MapCache {
	return &MapCache{
		data:       make(map[string][]byte),
		maxEntries: maxEntries,
	}
}

func (c *MapCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Return copy to avoid modification of cached value
	if v, ok := c.data[key]; ok {
		dst := make([]byte, len(v))
		copy(dst, v)
		return dst, true
	}
	return nil, false
}

func (c *MapCache) Put(key string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.data[key]; !ok {
		if c.maxEntries > 0 && len(c.order) >= c.maxEntries {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.data, oldest)
		}
		c.order = append(c.order, key)
	}

	// Store copy
	dst := make([]byte, len(body))
	copy(dst, body)
	c.data[key] = dst
}

func (c *MapCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
