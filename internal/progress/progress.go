// Package progress caches live job progress for the polling endpoints. The
// cache is advisory: the job row remains authoritative, and a missing entry
// just means the caller falls back to the stored value.
package progress

import (
	"context"

	"github.com/google/uuid"
)

type Store interface {
	// Set records progress for a job. Implementations keep it monotonic.
	Set(ctx context.Context, jobID uuid.UUID, progress int) error

	// Get returns the cached progress and whether an entry exists.
	Get(ctx context.Context, jobID uuid.UUID) (int, bool, error)

	// Drop removes a job's entry once it is terminal.
	Drop(ctx context.Context, jobID uuid.UUID) error
}
