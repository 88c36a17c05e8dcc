package cache

import (
	"container/list"
	"context"
	"sync"
)

// memoryItem is the internal structure stored in the linked list.
type memoryItem struct {
	key  string
	data []byte
}

// InMemoryStore is a thread-safe, process-local Store. Records are kept in
// their encoded form so callers never share memory with the store. When
// maxEntries is positive the least recently used key is evicted once the
// bound is exceeded.
type InMemoryStore[V any] struct {
	maxEntries int

	mu    sync.Mutex
	ll    *list.List
	items map[string]*list.Element
}

// NewInMemoryStore creates an in-memory store. A maxEntries of zero or less
// means unbounded.
func NewInMemoryStore[V any](maxEntries int) *InMemoryStore[V] {
	return &InMemoryStore[V]{
		maxEntries: maxEntries,
		ll:         list.New(),
		items:      make(map[string]*list.Element),
	}
}

// Read returns the entry for key and marks it as recently used.
func (s *InMemoryStore[V]) Read(_ context.Context, key string) (Entry[V], error) {
	s.mu.Lock()
	elem, ok := s.items[key]
	if !ok {
		s.mu.Unlock()
		return Entry[V]{}, ErrNotFound
	}
	s.ll.MoveToFront(elem)
	data := elem.Value.(*memoryItem).data
	s.mu.Unlock()

	return decodeEntry[V](key, data)
}

// Write replaces the entry for key.
func (s *InMemoryStore[V]) Write(_ context.Context, key string, payload V, fetchedAt int64) error {
	data, err := encodeEntry(key, payload, fetchedAt)
	if err != nil {
		return err
	}
	s.put(key, data)
	return nil
}

// put stores raw record bytes. It is also used by tests to plant corrupt records.
func (s *InMemoryStore[V]) put(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.items[key]; ok {
		elem.Value.(*memoryItem).data = data
		s.ll.MoveToFront(elem)
		return
	}
	s.items[key] = s.ll.PushFront(&memoryItem{key: key, data: data})
	if s.maxEntries > 0 && s.ll.Len() > s.maxEntries {
		s.evict()
	}
}

// Len reports how many keys are held.
func (s *InMemoryStore[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ll.Len()
}

// evict removes the least recently used item. Must be called with mu held.
func (s *InMemoryStore[V]) evict() {
	back := s.ll.Back()
	if back != nil {
		item := s.ll.Remove(back).(*memoryItem)
		delete(s.items, item.key)
	}
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore[V]) Close() error {
	return nil
}
