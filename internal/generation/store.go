package generation

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/pixelforge/backend/internal/models"
)

var (
	// ErrNotFound is returned for unknown job ids and for jobs owned by a
	// different account (the two are indistinguishable to callers).
	ErrNotFound = errors.New("generation job not found")

	// ErrTerminalState signals an attempted transition out of a terminal
	// state. Callers log it and move on; it is never surfaced to clients.
	ErrTerminalState = errors.New("job is in a terminal state")
)

// ListFilter narrows List results.
type ListFilter struct {
	Status string
	Type   string
	Limit  int
	Offset int
}

// TerminalUpdate carries the fields written together with a terminal status.
type TerminalUpdate struct {
	Status               string
	ResultRef            *string
	ErrorCode            *string
	ChargedTransactionID *uuid.UUID
}

// Store persists generation jobs and implements the state-machine guards:
//
//   - Transition is a compare-and-set on status, so a job can never leave a
//     terminal state or skip backwards.
//   - ClaimFinalize atomically claims the right to settle a job. Exactly one
//     caller wins; everyone else observes false and discards their outcome.
//     ReleaseFinalize hands the slot back when a settlement attempt changed
//     nothing, so a retry can claim it again.
//   - MarkTerminal never overwrites an existing charged transaction id.
//   - SetProgress only ever raises progress, and only while non-terminal.
type Store interface {
	Create(ctx context.Context, job *models.GenerationJob) error
	Get(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error)
	List(ctx context.Context, accountID uuid.UUID, f ListFilter) ([]*models.GenerationJob, error)

	Transition(ctx context.Context, id uuid.UUID, from []string, to string) (bool, error)
	ClaimFinalize(ctx context.Context, id uuid.UUID) (bool, error)
	ReleaseFinalize(ctx context.Context, id uuid.UUID) error
	MarkTerminal(ctx context.Context, id uuid.UUID, u TerminalUpdate) error
	SetProgress(ctx context.Context, id uuid.UUID, progress int) error

	// MonthToDateCents sums estimated cost of the account's jobs in the
	// given month that are not failed/timed out/cancelled. Feeds the
	// admission gate's soft budget check.
	MonthToDateCents(ctx context.Context, accountID uuid.UUID, month string) (int64, error)
}
