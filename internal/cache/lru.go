// Package cache provides the size-bounded LRU used for decoded descriptor sets.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/hloc/resource"
)

// SizeFunc reports the memory footprint of a cached value in bytes.
type SizeFunc[V any] func(V) int64

// LRU is a byte-bounded least-recently-used cache.
// If a resource controller is supplied, every cached byte is also accounted
// against its memory budget and entries are not admitted when it is exhausted.
type LRU[K comparable, V any] struct {
	mu        sync.Mutex
	capacity  int64
	size      int64
	items     map[K]*list.Element
	evictList *list.List
	sizeOf    SizeFunc[V]
	rc        *resource.Controller

	hits   atomic.Int64
	misses atomic.Int64
}

type entry[K comparable, V any] struct {
	key   K
	value V
	size  int64
}

// NewLRU creates a new LRU cache with the given capacity in bytes.
func NewLRU[K comparable, V any](capacity int64, sizeOf SizeFunc[V], rc *resource.Controller) *LRU[K, V] {
	return &LRU[K, V]{
		capacity:  capacity,
		items:     make(map[K]*list.Element),
		evictList: list.New(),
		sizeOf:    sizeOf,
		rc:        rc,
	}
}

// Get returns a cached value.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.hits.Add(1)
		c.evictList.MoveToFront(el)
		return el.Value.(*entry[K, V]).value, true
	}
	c.misses.Add(1)
	var zero V
	return zero, false
}

// Set caches a value. It reports whether the value was admitted.
func (c *LRU[K, V]) Set(key K, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := c.sizeOf(value)
	if size > c.capacity {
		return false
	}

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}

	// Evict locally first so memory is returned to the controller before
	// acquiring it back.
	for c.size+size > c.capacity {
		el := c.evictList.Back()
		if el == nil {
			break
		}
		c.removeElement(el)
	}

	if !c.rc.TryAcquireMemory(size) {
		return false
	}

	el := c.evictList.PushFront(&entry[K, V]{key: key, value: value, size: size})
	c.items[key] = el
	c.size += size
	return true
}

// Remove deletes a key.
func (c *LRU[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// Purge drops every entry and returns its memory.
func (c *LRU[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for el := c.evictList.Back(); el != nil; el = c.evictList.Back() {
		c.removeElement(el)
	}
}

func (c *LRU[K, V]) removeElement(el *list.Element) {
	c.evictList.Remove(el)
	kv := el.Value.(*entry[K, V])
	delete(c.items, kv.key)
	c.size -= kv.size
	c.rc.ReleaseMemory(kv.size)
}

// Len returns the number of cached entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Size returns the current size of the cache in bytes.
func (c *LRU[K, V]) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Stats returns hit and miss counts.
func (c *LRU[K, V]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
