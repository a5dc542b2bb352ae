package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pixelforge/backend/internal/models"
)

// MemoryStore is an in-memory Store with the same CAS semantics as the
// Postgres repository. It backs local development and the test suites.
type MemoryStore struct {
	mu       sync.Mutex
	balances map[uuid.UUID]*models.CreditBalance
	log      map[uuid.UUID][]*models.CreditTransaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[uuid.UUID]*models.CreditBalance),
		log:      make(map[uuid.UUID][]*models.CreditTransaction),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) CreateBalance(_ context.Context, accountID uuid.UUID, initial int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.balances[accountID]; ok {
		return nil
	}
	s.balances[accountID] = &models.CreditBalance{
		AccountID: accountID,
		Balance:   initial,
		Version:   0,
		UpdatedAt: time.Now().UTC(),
	}
	return nil
}

func (s *MemoryStore) Balance(_ context.Context, accountID uuid.UUID) (*models.CreditBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[accountID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *MemoryStore) CompareAndSwap(_ context.Context, m Mutation) (*models.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[m.AccountID]
	if !ok {
		return nil, ErrNotFound
	}
	if b.Version != m.ExpectedVersion {
		return nil, ErrVersionConflict
	}
	if b.Balance+m.Delta < 0 {
		return nil, ErrInsufficientBalance
	}
	before := b.Balance
	b.Balance += m.Delta
	b.Version++
	b.UpdatedAt = time.Now().UTC()

	entry := &models.CreditTransaction{
		ID:            uuid.New(),
		AccountID:     m.AccountID,
		Type:          m.TxType,
		Amount:        m.Delta,
		BalanceBefore: before,
		BalanceAfter:  b.Balance,
		RelatedJobID:  m.RelatedJobID,
		CreatedAt:     time.Now().UTC(),
	}
	s.log[m.AccountID] = append(s.log[m.AccountID], entry)
	cp := *entry
	return &cp, nil
}

func (s *MemoryStore) Transactions(_ context.Context, accountID uuid.UUID, limit int) ([]*models.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.log[accountID]
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}
	// Newest first, matching the repository's ordering.
	out := make([]*models.CreditTransaction, 0, limit)
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *entries[i]
		out = append(out, &cp)
	}
	return out, nil
}
