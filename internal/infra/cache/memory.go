package cache

import (
	"github.com/emirpasic/gods/maps/linkedhashmap"
)

// DefaultMemoryCapacity is the number of entries kept in the memory tier.
const DefaultMemoryCapacity = 100

// memoryTier is an insertion-ordered map with a fixed capacity.
//
// Eviction is first-in first-out: adding a new key at capacity drops the key
// that was inserted first. Reads never reorder entries and overwriting an
// existing key keeps its original position, so this is not an LRU.
// Callers hold the cache mutex.
type memoryTier[T any] struct {
	entries  *linkedhashmap.Map
	capacity int
}

func newMemoryTier[T any](capacity int) *memoryTier[T] {
	if capacity < 1 {
		capacity = DefaultMemoryCapacity
	}
	return &memoryTier[T]{
		entries:  linkedhashmap.New(),
		capacity: capacity,
	}
}

func (m *memoryTier[T]) get(key string) (Entry[T], bool) {
	v, ok := m.entries.Get(key)
	if !ok {
		return Entry[T]{}, false
	}
	return v.(Entry[T]), true
}

// put stores e under key and returns the key evicted to make room, if any.
func (m *memoryTier[T]) put(key string, e Entry[T]) (string, bool) {
	if _, exists := m.entries.Get(key); exists {
		m.entries.Put(key, e)
		return "", false
	}

	var evicted string
	var didEvict bool
	if m.entries.Size() >= m.capacity {
		it := m.entries.Iterator()
		if it.First() {
			evicted = it.Key().(string)
			m.entries.Remove(evicted)
			didEvict = true
		}
	}
	m.entries.Put(key, e)
	return evicted, didEvict
}

func (m *memoryTier[T]) remove(key string) {
	m.entries.Remove(key)
}

func (m *memoryTier[T]) clear() {
	m.entries.Clear()
}

func (m *memoryTier[T]) len() int {
	return m.entries.Size()
}

// keys returns the keys in insertion order.
func (m *memoryTier[T]) keys() []string {
	raw := m.entries.Keys()
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, k.(string))
	}
	return keys
}
