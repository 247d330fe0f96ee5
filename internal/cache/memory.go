package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// memoryBackend is a strict byte-bounded LRU held in process memory.
type memoryBackend struct {
	mu       sync.Mutex
	maxBytes int64
	ttl      time.Duration

	used    int64
	order   *list.List // front = most recently used
	entries map[Key]*list.Element

	evictions atomic.Uint64
}

type memoryEntry struct {
	key      Key
	data     []byte
	storedAt time.Time
}

func newMemoryBackend(maxBytes int64, ttl time.Duration) *memoryBackend {
	return &memoryBackend{
		maxBytes: maxBytes,
		ttl:      ttl,
		order:    list.New(),
		entries:  map[Key]*list.Element{},
	}
}

func (m *memoryBackend) Get(key Key) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*memoryEntry)
	if entryExpired(entry.storedAt, m.ttl) {
		m.removeElement(el)
		return nil, false
	}
	m.order.MoveToFront(el)
	return entry.data, true
}

func (m *memoryBackend) Peek(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[key]
	if !ok {
		return false
	}
	return !entryExpired(el.Value.(*memoryEntry).storedAt, m.ttl)
}

func (m *memoryBackend) Put(key Key, data []byte) {
	size := int64(len(data))
	if size > m.maxBytes {
		// An entry larger than the whole budget is served but never cached.
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.entries[key]; ok {
		m.removeElement(el)
	}

	// Evict from the cold end until the new entry fits.
	for m.used+size > m.maxBytes {
		oldest := m.order.Back()
		if oldest == nil {
			break
		}
		m.removeElement(oldest)
		m.evictions.Add(1)
	}

	el := m.order.PushFront(&memoryEntry{key: key, data: data, storedAt: time.Now()})
	m.entries[key] = el
	m.used += size
}

func (m *memoryBackend) Remove(key Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.entries[key]; ok {
		m.removeElement(el)
	}
}

func (m *memoryBackend) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order.Init()
	m.entries = map[Key]*list.Element{}
	m.used = 0
}

func (m *memoryBackend) SweepExpired() int {
	if m.ttl <= 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for el := m.order.Back(); el != nil; {
		prev := el.Prev()
		if entryExpired(el.Value.(*memoryEntry).storedAt, m.ttl) {
			m.removeElement(el)
			n++
		}
		el = prev
	}
	return n
}

func (m *memoryBackend) UsedBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}

func (m *memoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *memoryBackend) Evictions() uint64 {
	return m.evictions.Load()
}

// removeElement must run under mu.
func (m *memoryBackend) removeElement(el *list.Element) {
	entry := el.Value.(*memoryEntry)
	m.order.Remove(el)
	delete(m.entries, entry.key)
	m.used -= int64(len(entry.data))
}
