package geo

import (
	"container/list"
	"sync"
)

// cacheKey quantizes a coordinate to roughly 11 meters. Photo bursts carry
// near-identical GPS fixes, so neighboring shots share one cache entry.
type cacheKey struct {
	lat int32
	lon int32
}

const cacheQuantum = 1e4

func keyFor(c Coordinate) cacheKey {
	return cacheKey{
		lat: int32(c.Lat * cacheQuantum),
		lon: int32(c.Lon * cacheQuantum),
	}
}

type cacheEntry struct {
	key cacheKey
	tag LocationTag
	ok  bool // false caches an ErrNotFound outcome
}

// lruCache memoizes reverse geocode outcomes. Lookups walk every boundary
// polygon, so repeated fixes from the same spot are worth short-circuiting.
type lruCache struct {
	mu sync.Mutex

	capacity int
	order    *list.List
	entries  map[cacheKey]*list.Element
}

func newLRUCache(capacity int) *lruCache {
	return &lruCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[cacheKey]*list.Element, capacity),
	}
}

func (c *lruCache) get(key cacheKey) (LocationTag, bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, hit := c.entries[key]
	if !hit {
		return LocationTag{}, false, false
	}
	c.order.MoveToFront(el)

	entry := el.Value.(*cacheEntry)
	return entry.tag, entry.ok, true
}

func (c *lruCache) set(key cacheKey, tag LocationTag, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, hit := c.entries[key]; hit {
		c.order.MoveToFront(el)
		entry := el.Value.(*cacheEntry)
		entry.tag = tag
		entry.ok = ok
		return
	}

	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, tag: tag, ok: ok})

	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

func (c *lruCache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	clear(c.entries)
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.order.Len()
}
