package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pixelforge/backend/internal/models"
)

// Repository persists accounts and users. Registration writes both rows in
// one transaction so a crash cannot leave a user without an account.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) CreateAccountWithUser(ctx context.Context, acc *models.Account, user *models.User) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin registration tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO accounts (id, name, company, monthly_budget_cents)
		VALUES ($1, $2, $3, $4)
	`, acc.ID, acc.Name, acc.Company, acc.MonthlyBudgetCents)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO users (id, account_id, email, display_name, password_hash)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.AccountID, user.Email, user.DisplayName, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx, `
		SELECT id, account_id, email, display_name, password_hash, created_at
		FROM users WHERE email = $1
	`, email).Scan(&u.ID, &u.AccountID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &u, nil
}

func (r *Repository) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var a models.Account
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, company, monthly_budget_cents, created_at, updated_at
		FROM accounts WHERE id = $1
	`, id).Scan(&a.ID, &a.Name, &a.Company, &a.MonthlyBudgetCents, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &a, nil
}
