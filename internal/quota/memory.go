package quota

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/pixelforge/backend/internal/models"
)

type usageKey struct {
	userID uuid.UUID
	month  string
}

// MemoryStore is an in-memory Store for local development and tests.
type MemoryStore struct {
	mu     sync.Mutex
	limits map[uuid.UUID]*models.UserQuota
	usage  map[usageKey]*Usage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		limits: make(map[uuid.UUID]*models.UserQuota),
		usage:  make(map[usageKey]*Usage),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Limits(_ context.Context, userID uuid.UUID) (*models.UserQuota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.limits[userID]
	if !ok {
		return nil, ErrNoQuota
	}
	cp := *q
	return &cp, nil
}

func (s *MemoryStore) SetLimits(_ context.Context, q *models.UserQuota) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *q
	s.limits[q.UserID] = &cp
	return nil
}

func (s *MemoryStore) Usage(_ context.Context, userID uuid.UUID, month string) (Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.usage[usageKey{userID, month}]; ok {
		return *u, nil
	}
	return Usage{}, nil
}

func (s *MemoryStore) RecordUsage(_ context.Context, userID uuid.UUID, month string, costCents int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := usageKey{userID, month}
	u, ok := s.usage[key]
	if !ok {
		u = &Usage{}
		s.usage[key] = u
	}
	u.Jobs++
	u.CostCents += costCents
	return nil
}
