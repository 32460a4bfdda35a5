package numbering

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store. Fail, when set, is returned by Next.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]int64
	Fail     error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: map[string]int64{}}
}

// Next increments the counter for scope.
func (s *MemoryStore) Next(_ context.Context, scope string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return 0, s.Fail
	}
	s.counters[scope]++
	return s.counters[scope], nil
}
