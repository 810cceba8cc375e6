package memory

import "container/list"

// lruEntry is one node of the cache's doubly-linked list.
type lruEntry struct {
	namespace string
	key       string
	value     []byte
	size      int64
}

// lru is a bounded-by-count-and-bytes LRU cache. It is strictly an
// optimization in front of the Store (spec.md §4.2: "the cache is strictly
// an optimization; correctness must not depend on it") — a cache miss
// always falls through to the Store.
type lru struct {
	maxEntries int
	maxBytes   int64

	ll    *list.List
	items map[string]*list.Element

	bytes int64

	hits, misses, evictions int64
}

func newLRU(maxEntries int, maxBytes int64) *lru {
	return &lru{
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		ll:         list.New(),
		items:      make(map[string]*list.Element),
	}
}

func cacheKey(namespace, key string) string { return namespace + "\x00" + key }

func (c *lru) get(namespace, key string) ([]byte, bool) {
	k := cacheKey(namespace, key)
	el, ok := c.items[k]
	if !ok {
		c.misses++
		return nil, false
	}
	c.ll.MoveToFront(el)
	c.hits++
	return el.Value.(*lruEntry).value, true
}

func (c *lru) put(namespace, key string, value []byte) {
	k := cacheKey(namespace, key)
	size := int64(len(value))

	if el, ok := c.items[k]; ok {
		c.ll.MoveToFront(el)
		entry := el.Value.(*lruEntry)
		c.bytes += size - entry.size
		entry.value, entry.size = value, size
		c.evictUntilWithinBounds()
		return
	}

	entry := &lruEntry{namespace: namespace, key: key, value: value, size: size}
	el := c.ll.PushFront(entry)
	c.items[k] = el
	c.bytes += size
	c.evictUntilWithinBounds()
}

func (c *lru) remove(namespace, key string) {
	k := cacheKey(namespace, key)
	if el, ok := c.items[k]; ok {
		c.removeElement(el)
	}
}

func (c *lru) clearNamespace(namespace string) {
	for el := c.ll.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*lruEntry).namespace == namespace {
			c.removeElement(el)
		}
		el = next
	}
}

func (c *lru) evictUntilWithinBounds() {
	for (c.maxEntries > 0 && c.ll.Len() > c.maxEntries) || (c.maxBytes > 0 && c.bytes > c.maxBytes) {
		oldest := c.ll.Back()
		if oldest == nil {
			return
		}
		c.removeElement(oldest)
		c.evictions++
	}
}

func (c *lru) removeElement(el *list.Element) {
	entry := el.Value.(*lruEntry)
	c.ll.Remove(el)
	delete(c.items, cacheKey(entry.namespace, entry.key))
	c.bytes -= entry.size
}

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	Entries   int
	Bytes     int64
	Hits      int64
	Misses    int64
	Evictions int64
}

func (c *lru) stats() Stats {
	return Stats{
		Entries:   c.ll.Len(),
		Bytes:     c.bytes,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}
