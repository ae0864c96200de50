package registry

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.Mutex
	groups map[string]Group
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{groups: make(map[string]Group)}
}

// Upsert implements Store.
func (s *MemoryStore) Upsert(_ context.Context, g Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g.Usage = nil
	old, ok := s.groups[g.ID]
	if !ok {
		g.UpdatedAt = nil
		g.Metadata = maps.Clone(g.Metadata)
		s.groups[g.ID] = g
		return nil
	}
	old.Description = g.Description
	old.UpdatedAt = g.UpdatedAt
	if g.Metadata != nil {
		old.Metadata = maps.Clone(g.Metadata)
	}
	s.groups[g.ID] = old
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[id]
	if !ok {
		return Group{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	g.Metadata = maps.Clone(g.Metadata)
	return g, nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context) ([]Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Group, 0, len(s.groups))
	for _, g := range s.groups {
		g.Metadata = maps.Clone(g.Metadata)
		out = append(out, g)
	}
	slices.SortFunc(out, func(a, b Group) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.groups[id]
	delete(s.groups, id)
	return ok, nil
}

// Seed inserts g as-is, bypassing id checks. Used to load reserved groups.
func (s *MemoryStore) Seed(g Group) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[g.ID] = g
}
