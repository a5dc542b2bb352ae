package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pixelforge/backend/internal/models"
)

// MemoryStore backs local development and the test suites.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*models.Account
	users    map[uuid.UUID]*models.User
	byEmail  map[string]uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[uuid.UUID]*models.Account),
		users:    make(map[uuid.UUID]*models.User),
		byEmail:  make(map[string]uuid.UUID),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) CreateAccountWithUser(_ context.Context, acc *models.Account, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byEmail[user.Email]; exists {
		return ErrDuplicateEmail
	}
	now := time.Now().UTC()
	a := *acc
	a.CreatedAt, a.UpdatedAt = now, now
	u := *user
	u.CreatedAt = now
	s.accounts[a.ID] = &a
	s.users[u.ID] = &u
	s.byEmail[u.Email] = u.ID
	return nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, nil
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id uuid.UUID) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s not found", id)
	}
	cp := *a
	return &cp, nil
}

// SetBudget replaces the account's monthly budget. Test helper.
func (s *MemoryStore) SetBudget(id uuid.UUID, cents int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok {
		a.MonthlyBudgetCents = cents
	}
}
