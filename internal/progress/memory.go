package progress

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type MemoryStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[uuid.UUID]int)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Set(_ context.Context, jobID uuid.UUID, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.entries[jobID]; !ok || progress > cur {
		s.entries[jobID] = progress
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, jobID uuid.UUID) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.entries[jobID]
	return p, ok, nil
}

func (s *MemoryStore) Drop(_ context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, jobID)
	return nil
}
