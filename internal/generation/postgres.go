package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pixelforge/backend/internal/models"
)

const jobColumns = `id, account_id, user_id, idempotency_key, gen_type, prompt, model, provider,
	parameters, estimated_cost_cents, credits, status, progress, result_ref, error_code,
	charged_transaction_id, created_at, completed_at, updated_at`

// Repository is the Postgres-backed Store. The state-machine guards ride
// conditional UPDATEs: RowsAffected tells us whether the compare-and-set won.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

func (r *Repository) Create(ctx context.Context, job *models.GenerationJob) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO generation_jobs
			(id, account_id, user_id, idempotency_key, gen_type, prompt, model, provider,
			 parameters, estimated_cost_cents, credits, status, progress)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 0)
		RETURNING created_at, updated_at
	`, job.ID, job.AccountID, job.UserID, job.IdempotencyKey, job.Type, job.Prompt, job.Model,
		job.Provider, job.Parameters, job.EstimatedCents, job.Credits, job.Status,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE id = $1`, id)
	return scanJob(row)
}

func (r *Repository) List(ctx context.Context, accountID uuid.UUID, f ListFilter) ([]*models.GenerationJob, error) {
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE account_id = $1`
	args := []any{accountID}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		query += fmt.Sprintf(" AND gen_type = $%d", len(args))
	}
	args = append(args, limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.GenerationJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, j)
	}
	return list, rows.Err()
}

func (r *Repository) Transition(ctx context.Context, id uuid.UUID, from []string, to string) (bool, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE generation_jobs SET status = $1, updated_at = now()
		WHERE id = $2 AND status = ANY($3)
	`, to, id, from)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

func (r *Repository) ClaimFinalize(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE generation_jobs SET finalizing = TRUE, updated_at = now()
		WHERE id = $1 AND finalizing = FALSE AND status IN ('PENDING', 'PROCESSING')
	`, id)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

func (r *Repository) ReleaseFinalize(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE generation_jobs SET finalizing = FALSE, updated_at = now()
		WHERE id = $1 AND status IN ('PENDING', 'PROCESSING')
	`, id)
	return err
}

func (r *Repository) MarkTerminal(ctx context.Context, id uuid.UUID, u TerminalUpdate) error {
	progress := 0
	if u.Status == models.StatusCompleted {
		progress = 100
	}
	result, err := r.pool.Exec(ctx, `
		UPDATE generation_jobs
		SET status = $1, result_ref = $2, error_code = $3, charged_transaction_id = COALESCE(charged_transaction_id, $4),
			progress = GREATEST(progress, $5), completed_at = now(), updated_at = now()
		WHERE id = $6 AND status IN ('PENDING', 'PROCESSING')
	`, u.Status, u.ResultRef, u.ErrorCode, u.ChargedTransactionID, progress, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrTerminalState
	}
	return nil
}

func (r *Repository) SetProgress(ctx context.Context, id uuid.UUID, progress int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE generation_jobs SET progress = GREATEST(progress, $1), updated_at = now()
		WHERE id = $2 AND status IN ('PENDING', 'PROCESSING')
	`, progress, id)
	return err
}

func (r *Repository) MonthToDateCents(ctx context.Context, accountID uuid.UUID, month string) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(estimated_cost_cents), 0)
		FROM generation_jobs
		WHERE account_id = $1
		  AND to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM') = $2
		  AND status NOT IN ('FAILED', 'TIMED_OUT', 'CANCELLED')
	`, accountID, month).Scan(&total)
	return total, err
}

func scanJob(row pgx.Row) (*models.GenerationJob, error) {
	var j models.GenerationJob
	err := row.Scan(&j.ID, &j.AccountID, &j.UserID, &j.IdempotencyKey, &j.Type, &j.Prompt,
		&j.Model, &j.Provider, &j.Parameters, &j.EstimatedCents, &j.Credits, &j.Status,
		&j.Progress, &j.ResultRef, &j.Error, &j.ChargedTransactionID, &j.CreatedAt,
		&j.CompletedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}
