// Package quota tracks per-user monthly generation usage against the limits
// in models.UserQuota. Counters are windowed by UTC calendar month and every
// increment is atomic; read-modify-write of the counters is not allowed.
package quota

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pixelforge/backend/internal/models"
)

// ErrNoQuota is returned when a user has no quota row. Users without quota
// are rejected at admission, matching the original behavior.
var ErrNoQuota = errors.New("no quota configured for user")

// Usage is a user's consumption in one monthly window.
type Usage struct {
	Jobs      int
	CostCents int64
}

type Store interface {
	Limits(ctx context.Context, userID uuid.UUID) (*models.UserQuota, error)
	SetLimits(ctx context.Context, q *models.UserQuota) error

	// Usage returns consumption for the given month key (see MonthKey).
	Usage(ctx context.Context, userID uuid.UUID, month string) (Usage, error)

	// RecordUsage atomically bumps the job count by one and the cost by
	// costCents for the month.
	RecordUsage(ctx context.Context, userID uuid.UUID, month string, costCents int64) error
}

// MonthKey returns the UTC window key, e.g. "2026-09".
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
