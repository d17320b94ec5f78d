package isr

import (
	"context"
	"sync"
)

// MemoryStore keeps rendered pages in process memory. When the entry limit
// is exceeded, the oldest entry by render time is evicted.
type MemoryStore struct {
	mu      sync.Mutex
	max     int
	entries map[string]*Entry
}

// NewMemoryStore creates a memory store holding at most max entries.
func NewMemoryStore(max int) *MemoryStore {
	if max <= 0 {
		max = 1024
	}
	return &MemoryStore{max: max, entries: make(map[string]*Entry)}
}

// Get returns the entry for key, or nil when absent.
func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[key], nil
}

// Put stores entry under key, evicting the oldest entry when full.
func (s *MemoryStore) Put(_ context.Context, key string, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.max {
		var oldestKey string
		for k, e := range s.entries {
			if oldestKey == "" || e.RenderedAt.Before(s.entries[oldestKey].RenderedAt) {
				oldestKey = k
			}
		}
		delete(s.entries, oldestKey)
	}
	s.entries[key] = entry
	return nil
}

// Len returns the number of cached entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
