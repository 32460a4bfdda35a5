package storage

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
)

// MemoryStore keeps objects in memory. Setting FailStore makes Store fail.
type MemoryStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	deleted   []string
	FailStore error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: map[string][]byte{}}
}

func (m *MemoryStore) Store(_ context.Context, key string, body io.Reader, _ string) (string, error) {
	if m.FailStore != nil {
		return "", m.FailStore
	}
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = b
	return key, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

// Keys lists stored keys.
func (m *MemoryStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Deleted lists keys passed to Delete in call order.
func (m *MemoryStore) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

// Get returns the stored bytes for key.
func (m *MemoryStore) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	return b, ok
}
