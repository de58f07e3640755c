package ledger

import (
	"context"
	"sync"
	"time"

	"driftwatch/internal/core"
)

// MemoryBackend keeps entries for the lifetime of the process.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]core.CacheEntry
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]core.CacheEntry)}
}

func (m *MemoryBackend) Get(_ context.Context, key string) (core.CacheEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	return e, ok, nil
}

func (m *MemoryBackend) Put(_ context.Context, entry core.CacheEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[entry.Key]; exists {
		return false, nil
	}
	m.entries[entry.Key] = entry
	return true, nil
}

func (m *MemoryBackend) Purge(_ context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.entries {
		if e.CreatedAt.Before(olderThan) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryBackend) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Stats{ByKind: make(map[core.CacheKind]int)}
	for _, e := range m.entries {
		s.Entries++
		s.ByKind[e.Kind]++
		s.TotalCost += e.Cost
		if s.Oldest.IsZero() || e.CreatedAt.Before(s.Oldest) {
			s.Oldest = e.CreatedAt
		}
		if e.CreatedAt.After(s.Newest) {
			s.Newest = e.CreatedAt
		}
	}
	return s, nil
}

func (m *MemoryBackend) Close() error { return nil }
