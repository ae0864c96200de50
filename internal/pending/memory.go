package pending

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// MemoryKV is an in-process KV. Records do not survive a restart.
type MemoryKV struct {
	mu      sync.Mutex
	records map[string]Record
}

var _ KV = (*MemoryKV)(nil)

// NewMemoryKV returns an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{records: make(map[string]Record)}
}

// Put implements KV.
func (m *MemoryKV) Put(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.Job = r.Job.Clone()
	m.records[r.ID] = r
	return nil
}

// Get implements KV.
func (m *MemoryKV) Get(_ context.Context, id string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.Job = r.Job.Clone()
	return r, nil
}

// Delete implements KV.
func (m *MemoryKV) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[id]
	delete(m.records, id)
	return ok, nil
}

// ListExpired implements KV.
func (m *MemoryKV) ListExpired(_ context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, r := range m.records {
		if r.Expired(now) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// List implements KV.
func (m *MemoryKV) List(_ context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Record) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}
