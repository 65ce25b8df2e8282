package cache

import (
	"context"
	"slices"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore используется, когда Redis недоступен, и в тестах
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	lists   map[string][][]byte
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		lists:   make(map[string][][]byte),
		now:     time.Now,
	}
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok || (!e.expiresAt.IsZero() && !m.now().Before(e.expiresAt)) {
		return nil, ErrNotFound
	}
	return slices.Clone(e.value), nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := memoryEntry{value: slices.Clone(value)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	delete(m.lists, key)
	return nil
}

func (m *MemoryStore) PushRecent(ctx context.Context, listKey string, value []byte, limit int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := append([][]byte{slices.Clone(value)}, m.lists[listKey]...)
	if limit > 0 && int64(len(list)) > limit {
		list = list[:limit]
	}
	m.lists[listKey] = list
	return nil
}

func (m *MemoryStore) Recent(ctx context.Context, listKey string, count int64) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.lists[listKey]
	if count > 0 && int64(len(list)) > count {
		list = list[:count]
	}

	out := make([][]byte, len(list))
	for i, item := range list {
		out[i] = slices.Clone(item)
	}
	return out, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
