package content

import (
	"context"
	"slices"
	"sync"
)

// MemoryStore keeps episodes in process. Entity and relationship counts
// are always zero since nothing extracts them.
type MemoryStore struct {
	mu       sync.RWMutex
	episodes []Episode
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

// SaveEpisode implements Store. Saving an existing UUID replaces it.
func (s *MemoryStore) SaveEpisode(_ context.Context, e Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.Embedding = slices.Clone(e.Embedding)
	for i := range s.episodes {
		if s.episodes[i].UUID == e.UUID {
			s.episodes[i] = e
			return nil
		}
	}
	s.episodes = append(s.episodes, e)
	return nil
}

// Candidates implements CandidateSource.
func (s *MemoryStore) Candidates(_ context.Context) ([]Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Candidate, 0, len(s.episodes))
	for _, e := range s.episodes {
		if len(e.Embedding) == 0 || e.Group == "" {
			continue
		}
		out = append(out, Candidate{
			UUID:      e.UUID,
			Name:      e.Name,
			Content:   e.Content,
			Group:     e.Group,
			CreatedAt: e.CreatedAt,
			Embedding: e.Embedding,
		})
	}
	return out, nil
}

// Usage implements UsageCounter.
func (s *MemoryStore) Usage(_ context.Context, group string) (Usage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var u Usage
	for _, e := range s.episodes {
		if e.Group != group {
			continue
		}
		u.Episodes++
		if u.LastActivity == nil || e.CreatedAt.After(*u.LastActivity) {
			at := e.CreatedAt
			u.LastActivity = &at
		}
	}
	u.TotalNodes = u.Episodes + u.Entities
	return u, nil
}
