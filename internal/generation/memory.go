package generation

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pixelforge/backend/internal/models"
)

// MemoryStore is an in-memory Store with the same compare-and-set guards as
// the Postgres repository. It backs local development and the test suites.
type MemoryStore struct {
	mu         sync.Mutex
	jobs       map[uuid.UUID]*models.GenerationJob
	finalizing map[uuid.UUID]bool
	order      []uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:       make(map[uuid.UUID]*models.GenerationJob),
		finalizing: make(map[uuid.UUID]bool),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Create(_ context.Context, job *models.GenerationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	cp := *job
	s.jobs[job.ID] = &cp
	s.order = append(s.order, job.ID)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context, accountID uuid.UUID, f ListFilter) ([]*models.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var out []*models.GenerationJob
	skipped := 0
	// Newest first.
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		j := s.jobs[s.order[i]]
		if j.AccountID != accountID {
			continue
		}
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		if f.Type != "" && j.Type != f.Type {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		cp := *j
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) Transition(_ context.Context, id uuid.UUID, from []string, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if !slices.Contains(from, j.Status) {
		return false, nil
	}
	j.Status = to
	j.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) ClaimFinalize(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if s.finalizing[id] || models.IsTerminalStatus(j.Status) {
		return false, nil
	}
	s.finalizing[id] = true
	return true, nil
}

func (s *MemoryStore) ReleaseFinalize(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(s.finalizing, id)
	return nil
}

func (s *MemoryStore) MarkTerminal(_ context.Context, id uuid.UUID, u TerminalUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if models.IsTerminalStatus(j.Status) {
		return ErrTerminalState
	}
	now := time.Now().UTC()
	j.Status = u.Status
	j.ResultRef = u.ResultRef
	j.Error = u.ErrorCode
	if u.ChargedTransactionID != nil && j.ChargedTransactionID == nil {
		j.ChargedTransactionID = u.ChargedTransactionID
	}
	if u.Status == models.StatusCompleted && j.Progress < 100 {
		j.Progress = 100
	}
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

func (s *MemoryStore) SetProgress(_ context.Context, id uuid.UUID, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if models.IsTerminalStatus(j.Status) {
		return nil
	}
	if progress > j.Progress {
		j.Progress = progress
		j.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (s *MemoryStore) MonthToDateCents(_ context.Context, accountID uuid.UUID, month string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, j := range s.jobs {
		if j.AccountID != accountID {
			continue
		}
		if j.CreatedAt.UTC().Format("2006-01") != month {
			continue
		}
		switch j.Status {
		case models.StatusFailed, models.StatusTimedOut, models.StatusCancelled:
			continue
		}
		total += j.EstimatedCents
	}
	return total, nil
}
