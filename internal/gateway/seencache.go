package gateway

import (
	"container/list"
	"sync"
)

// SeenCache is a bounded, insert-ordered set of event ids used to drop
// duplicate deliveries across relays and subscriptions. Once the number of
// ids exceeds cap, the oldest ids are evicted down to the low watermark, so
// trims happen in batches instead of on every insert.
//
// Re-seeing an id does not refresh its position: eviction order is strictly
// insertion order.
type SeenCache struct {
	mu    sync.Mutex
	cap   int
	low   int
	items map[string]*list.Element
	order *list.List
}

// NewSeenCache builds a cache with the given bounds. low must be below cap;
// out-of-range values fall back to the documented defaults (2000/1500).
func NewSeenCache(capacity, low int) *SeenCache {
	if capacity <= 0 || low <= 0 || low >= capacity {
		capacity, low = 2000, 1500
	}
	return &SeenCache{
		cap:   capacity,
		low:   low,
		items: make(map[string]*list.Element, capacity),
		order: list.New(),
	}
}

// Add records id and reports whether it was new. Known ids return false and
// leave the cache untouched.
func (c *SeenCache) Add(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[id]; ok {
		return false
	}
	c.items[id] = c.order.PushBack(id)
	if c.order.Len() > c.cap {
		c.trimLocked()
	}
	return true
}

// Has reports whether id is in the cache.
func (c *SeenCache) Has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[id]
	return ok
}

// Len returns the current number of cached ids.
func (c *SeenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *SeenCache) trimLocked() {
	for c.order.Len() > c.low {
		el := c.order.Front()
		if el == nil {
			return
		}
		c.order.Remove(el)
		delete(c.items, el.Value.(string))
	}
}
