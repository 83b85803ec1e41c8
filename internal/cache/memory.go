package cache

import (
	"sync"
	"time"
)

// MemoryStore keeps every resolved entry for the life of the process.
// There is no TTL and no eviction.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (m *MemoryStore) Get(key Key) (Entry, bool) {
	if m == nil {
		return Entry{}, false
	}
	m.mu.RLock()
	entry, ok := m.entries[key.String()]
	m.mu.RUnlock()
	return entry, ok
}

// Put inserts entry for key. An existing entry is never replaced.
func (m *MemoryStore) Put(key Key, entry Entry) {
	if m == nil {
		return
	}
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now()
	}
	index := key.String()
	m.mu.Lock()
	if _, exists := m.entries[index]; !exists {
		m.entries[index] = entry
	}
	m.mu.Unlock()
}

func (m *MemoryStore) Len() int {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
