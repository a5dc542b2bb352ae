package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/pixelforge/backend/internal/models"
)

var (
	// ErrInsufficientBalance is returned when a mutation would take the
	// balance below zero.
	ErrInsufficientBalance = errors.New("insufficient credit balance")

	// ErrVersionConflict is returned by CompareAndSwap when the balance row
	// changed since it was read. Callers re-read and retry.
	ErrVersionConflict = errors.New("balance version conflict")

	// ErrNotFound is returned when no balance row exists for the account.
	ErrNotFound = errors.New("credit balance not found")

	// ErrUsageReserved is returned when ApplyTransaction is called with the
	// usage type. Usage debits go through the reconciler only.
	ErrUsageReserved = errors.New("usage transactions are reconciler-only")
)

// Mutation describes one guarded balance change plus its ledger entry.
// Delta is signed (negative for usage). ExpectedVersion is the version of
// the balance row the caller read; the swap fails with ErrVersionConflict
// if the row has moved on.
type Mutation struct {
	AccountID       uuid.UUID
	ExpectedVersion int64
	Delta           int64
	TxType          string
	RelatedJobID    *uuid.UUID
}

// Store is the persistence contract for balances and the transaction log.
// Implementations must make CompareAndSwap atomic: the balance update and
// the transaction append land together or not at all.
type Store interface {
	CreateBalance(ctx context.Context, accountID uuid.UUID, initial int64) error
	Balance(ctx context.Context, accountID uuid.UUID) (*models.CreditBalance, error)
	CompareAndSwap(ctx context.Context, m Mutation) (*models.CreditTransaction, error)
	Transactions(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.CreditTransaction, error)
}
