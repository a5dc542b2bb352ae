package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pixelforge/backend/internal/models"
)

// Repository is the Postgres-backed Store.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

func (r *Repository) CreateBalance(ctx context.Context, accountID uuid.UUID, initial int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO credit_balances (account_id, balance, version)
		VALUES ($1, $2, 0)
		ON CONFLICT (account_id) DO NOTHING
	`, accountID, initial)
	return err
}

func (r *Repository) Balance(ctx context.Context, accountID uuid.UUID) (*models.CreditBalance, error) {
	var b models.CreditBalance
	err := r.pool.QueryRow(ctx, `
		SELECT account_id, balance, version, updated_at
		FROM credit_balances WHERE account_id = $1
	`, accountID).Scan(&b.AccountID, &b.Balance, &b.Version, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// CompareAndSwap applies the mutation inside one transaction: a conditional
// UPDATE keyed on (account_id, version, resulting balance >= 0) followed by
// the ledger append. A zero-row update means either the version moved or the
// balance is short; a re-read disambiguates.
func (r *Repository) CompareAndSwap(ctx context.Context, m Mutation) (*models.CreditTransaction, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var before, after int64
	err = tx.QueryRow(ctx, `
		UPDATE credit_balances
		SET balance = balance + $1, version = version + 1, updated_at = now()
		WHERE account_id = $2 AND version = $3 AND balance + $1 >= 0
		RETURNING balance - $1, balance
	`, m.Delta, m.AccountID, m.ExpectedVersion).Scan(&before, &after)
	if errors.Is(err, pgx.ErrNoRows) {
		cur, readErr := r.Balance(ctx, m.AccountID)
		if readErr != nil {
			return nil, readErr
		}
		if cur.Version != m.ExpectedVersion {
			return nil, ErrVersionConflict
		}
		return nil, ErrInsufficientBalance
	}
	if err != nil {
		return nil, err
	}

	entry := &models.CreditTransaction{
		ID:            uuid.New(),
		AccountID:     m.AccountID,
		Type:          m.TxType,
		Amount:        m.Delta,
		BalanceBefore: before,
		BalanceAfter:  after,
		RelatedJobID:  m.RelatedJobID,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO credit_transactions (id, account_id, tx_type, amount, balance_before, balance_after, related_job_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, entry.ID, entry.AccountID, entry.Type, entry.Amount, entry.BalanceBefore, entry.BalanceAfter, entry.RelatedJobID).Scan(&entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *Repository) Transactions(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.CreditTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, tx_type, amount, balance_before, balance_after, related_job_id, created_at
		FROM credit_transactions WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.CreditTransaction
	for rows.Next() {
		var t models.CreditTransaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Type, &t.Amount, &t.BalanceBefore, &t.BalanceAfter, &t.RelatedJobID, &t.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}
