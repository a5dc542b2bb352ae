package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pixelforge/backend/internal/models"
)

// casRetries bounds the read-CAS-retry loop under contention. Conflicts are
// rare (one balance row per account) so a small bound suffices.
const casRetries = 8

type Service interface {
	// Debit charges credits for a settled job and appends the usage entry.
	// Returns ErrInsufficientBalance when the balance cannot cover it.
	Debit(ctx context.Context, accountID, jobID uuid.UUID, credits int64) (*models.CreditTransaction, error)

	// ApplyTransaction serves top-up and adjustment flows: purchase, bonus,
	// refund, expiration. Usage is rejected with ErrUsageReserved.
	ApplyTransaction(ctx context.Context, accountID uuid.UUID, txType string, amount int64) (*models.CreditTransaction, error)

	Balance(ctx context.Context, accountID uuid.UUID) (*models.CreditBalance, error)
	Transactions(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.CreditTransaction, error)
	EnsureBalance(ctx context.Context, accountID uuid.UUID, initial int64) error
}

type service struct {
	store Store
}

func NewService(store Store) Service {
	return &service{store: store}
}

var _ Service = (*service)(nil)

func (s *service) Debit(ctx context.Context, accountID, jobID uuid.UUID, credits int64) (*models.CreditTransaction, error) {
	if credits <= 0 {
		return nil, fmt.Errorf("debit amount must be positive, got %d", credits)
	}
	return s.mutate(ctx, Mutation{
		AccountID:    accountID,
		Delta:        -credits,
		TxType:       models.TxTypeUsage,
		RelatedJobID: &jobID,
	})
}

func (s *service) ApplyTransaction(ctx context.Context, accountID uuid.UUID, txType string, amount int64) (*models.CreditTransaction, error) {
	switch txType {
	case models.TxTypePurchase, models.TxTypeBonus, models.TxTypeRefund, models.TxTypeExpiration:
	case models.TxTypeUsage:
		return nil, ErrUsageReserved
	default:
		return nil, fmt.Errorf("unknown transaction type %q", txType)
	}
	if amount == 0 {
		return nil, errors.New("transaction amount must be non-zero")
	}
	return s.mutate(ctx, Mutation{
		AccountID: accountID,
		Delta:     amount,
		TxType:    txType,
	})
}

// mutate runs the optimistic loop: read the version, attempt the swap, retry
// on conflict. Insufficient balance is final, not retried.
func (s *service) mutate(ctx context.Context, m Mutation) (*models.CreditTransaction, error) {
	for i := 0; i < casRetries; i++ {
		bal, err := s.store.Balance(ctx, m.AccountID)
		if err != nil {
			return nil, err
		}
		m.ExpectedVersion = bal.Version
		entry, err := s.store.CompareAndSwap(ctx, m)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return entry, nil
	}
	return nil, fmt.Errorf("balance update for account %s: %w", m.AccountID, ErrVersionConflict)
}

func (s *service) Balance(ctx context.Context, accountID uuid.UUID) (*models.CreditBalance, error) {
	return s.store.Balance(ctx, accountID)
}

func (s *service) Transactions(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.CreditTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.Transactions(ctx, accountID, limit)
}

func (s *service) EnsureBalance(ctx context.Context, accountID uuid.UUID, initial int64) error {
	return s.store.CreateBalance(ctx, accountID, initial)
}
