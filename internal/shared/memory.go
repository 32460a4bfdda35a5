package shared

import (
	"context"
	"sync"
)

// MemoryHistory is an in-process status history store.
type MemoryHistory struct {
	mu      sync.Mutex
	entries []StatusHistory
}

// Append stores entry with the next id.
func (h *MemoryHistory) Append(_ context.Context, entry StatusHistory) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry.ID = int64(len(h.entries) + 1)
	h.entries = append(h.entries, entry)
	return nil
}

// List returns the entries of ref in insertion order.
func (h *MemoryHistory) List(_ context.Context, ref DocumentRef) ([]StatusHistory, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []StatusHistory
	for _, e := range h.entries {
		if e.Document == ref {
			out = append(out, e)
		}
	}
	return out, nil
}

// MemoryAudit collects audit records.
type MemoryAudit struct {
	mu   sync.Mutex
	logs []AuditLog
}

// Record stores log.
func (a *MemoryAudit) Record(_ context.Context, log AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

// Logs returns a copy of the records.
func (a *MemoryAudit) Logs() []AuditLog {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]AuditLog(nil), a.logs...)
}

// MemoryIdempotency remembers processed keys in memory. Keys are not released
// when the caller's transaction rolls back.
type MemoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// CheckAndInsert returns ErrIdempotencyConflict for a repeated key.
func (m *MemoryIdempotency) CheckAndInsert(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = map[string]struct{}{}
	}
	k := module + ":" + key
	if _, ok := m.keys[k]; ok {
		return ErrIdempotencyConflict
	}
	m.keys[k] = struct{}{}
	return nil
}
