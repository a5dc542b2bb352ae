package quota

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pixelforge/backend/internal/models"
)

// Repository is the Postgres-backed Store. Usage increments ride a single
// upsert so concurrent settlements never lose a count.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

func (r *Repository) Limits(ctx context.Context, userID uuid.UUID) (*models.UserQuota, error) {
	var q models.UserQuota
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, monthly_limit, cost_limit_cents
		FROM user_quotas WHERE user_id = $1
	`, userID).Scan(&q.UserID, &q.MonthlyLimit, &q.CostLimitCents)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoQuota
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *Repository) SetLimits(ctx context.Context, q *models.UserQuota) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_quotas (user_id, monthly_limit, cost_limit_cents)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET monthly_limit = $2, cost_limit_cents = $3
	`, q.UserID, q.MonthlyLimit, q.CostLimitCents)
	return err
}

func (r *Repository) Usage(ctx context.Context, userID uuid.UUID, month string) (Usage, error) {
	var u Usage
	err := r.pool.QueryRow(ctx, `
		SELECT jobs, cost_cents FROM quota_usage WHERE user_id = $1 AND month = $2
	`, userID, month).Scan(&u.Jobs, &u.CostCents)
	if errors.Is(err, pgx.ErrNoRows) {
		return Usage{}, nil
	}
	if err != nil {
		return Usage{}, err
	}
	return u, nil
}

func (r *Repository) RecordUsage(ctx context.Context, userID uuid.UUID, month string, costCents int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO quota_usage (user_id, month, jobs, cost_cents)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (user_id, month)
		DO UPDATE SET jobs = quota_usage.jobs + 1, cost_cents = quota_usage.cost_cents + $3
	`, userID, month, costCents)
	return err
}
