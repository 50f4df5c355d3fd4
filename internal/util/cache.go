package util

import (
	"container/list"
	"sync"
)

type (
	// LRUCache is a size-bounded, concurrency-safe cache that evicts the
	// least recently used entry when full
	LRUCache[T any] struct {
		mu      sync.Mutex
		entries map[string]*list.Element
		order   *list.List
		maxSize int
	}

	// Constructor builds a value for a missing cache key
	Constructor[T any] func() (T, error)

	cacheEntry[T any] struct {
		key   string
		value T
	}
)

// NewLRUCache creates an LRUCache holding at most maxSize entries
func NewLRUCache[T any](maxSize int) *LRUCache[T] {
	return &LRUCache[T]{
		entries: map[string]*list.Element{},
		order:   list.New(),
		maxSize: max(maxSize, 1),
	}
}

// Get returns the cached value for key, building it with create when
// missing. Construction happens outside the lock, so concurrent misses may
// both build, and the first stored value wins
func (c *LRUCache[T]) Get(key string, create Constructor[T]) (T, error) {
	if v, ok := c.Peek(key); ok {
		return v, nil
	}

	value, err := create()
	if err != nil {
		var zero T
		return zero, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		c.order.MoveToFront(elem)
		return elem.Value.(*cacheEntry[T]).value, nil
	}

	c.entries[key] = c.order.PushFront(&cacheEntry[T]{
		key:   key,
		value: value,
	})
	for c.order.Len() > c.maxSize {
		c.evictOldest()
	}
	return value, nil
}

// Peek returns the cached value for key without building missing entries
func (c *LRUCache[T]) Peek(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[key]
	if !ok {
		var zero T
		return zero, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*cacheEntry[T]).value, true
}

// Remove drops the entry for key, if present
func (c *LRUCache[T]) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		c.order.Remove(elem)
		delete(c.entries, key)
	}
}

// Len returns the number of cached entries
func (c *LRUCache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *LRUCache[T]) evictOldest() {
	back := c.order.Back()
	if back == nil {
		return
	}
	c.order.Remove(back)
	delete(c.entries, back.Value.(*cacheEntry[T]).key)
}
