// Package reconciler performs the single authoritative ledger mutation for
// each finished job. It is the only writer of a job's charged transaction,
// and the only caller of the ledger's usage debit.
//
// Admission is a soft check; the debit here is the hard one. Concurrent
// submissions may race past the gate, but when the balance runs short only
// as many settle as it covers; the rest fail with
// InsufficientBalanceAtSettlement and charge nothing.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pixelforge/backend/internal/generation"
	"github.com/pixelforge/backend/internal/ledger"
	"github.com/pixelforge/backend/internal/models"
	"github.com/pixelforge/backend/internal/quota"
)

// JobStore is the slice of the generation store the reconciler needs.
type JobStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error)
	ClaimFinalize(ctx context.Context, id uuid.UUID) (bool, error)
	ReleaseFinalize(ctx context.Context, id uuid.UUID) error
	MarkTerminal(ctx context.Context, id uuid.UUID, u generation.TerminalUpdate) error
}

type Reconciler struct {
	jobs   JobStore
	ledger ledger.Service
	quotas quota.Store
	logger *slog.Logger
}

func New(jobs JobStore, ledgerSvc ledger.Service, quotas quota.Store, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{jobs: jobs, ledger: ledgerSvc, quotas: quotas, logger: logger}
}

// FinalizeSuccess settles a completed generation: debit the credits, append
// the usage transaction, record the charge on the job. actualCredits of zero
// means the provider did not report a cost and the estimate is charged.
func (r *Reconciler) FinalizeSuccess(ctx context.Context, jobID uuid.UUID, resultRef string, actualCredits int64) error {
	if !r.claim(ctx, jobID, "success") {
		return nil
	}
	job, err := r.jobs.Get(ctx, jobID)
	if err != nil {
		r.release(ctx, jobID)
		return fmt.Errorf("load job %s for settlement: %w", jobID, err)
	}

	credits := actualCredits
	if credits <= 0 {
		credits = job.Credits
	}

	entry, err := r.ledger.Debit(ctx, job.AccountID, jobID, credits)
	if errors.Is(err, ledger.ErrInsufficientBalance) {
		r.logger.Warn("settlement found balance short, failing job without charge",
			"job_id", jobID, "account_id", job.AccountID, "credits", credits)
		code := models.ErrCodeInsufficientBalanceAtSettlement
		return r.markTerminal(ctx, jobID, generation.TerminalUpdate{
			Status:    models.StatusFailed,
			ErrorCode: &code,
		})
	}
	if err != nil {
		// Nothing was charged yet; give the finalize slot back so a retry
		// can settle once the ledger is reachable again.
		r.release(ctx, jobID)
		return fmt.Errorf("debit for job %s: %w", jobID, err)
	}

	if err := r.markTerminal(ctx, jobID, generation.TerminalUpdate{
		Status:               models.StatusCompleted,
		ResultRef:            &resultRef,
		ChargedTransactionID: &entry.ID,
	}); err != nil {
		return err
	}

	if err := r.quotas.RecordUsage(ctx, job.UserID, quota.MonthKey(time.Now()), job.EstimatedCents); err != nil {
		// The charge already landed; quota drift is an operational problem,
		// not a billing one.
		r.logger.Error("record quota usage failed", "job_id", jobID, "user_id", job.UserID, "error", err)
	}
	return nil
}

// FinalizeFailure drives the no-charge path for provider errors and
// exhausted retries.
func (r *Reconciler) FinalizeFailure(ctx context.Context, jobID uuid.UUID, reason string) error {
	if !r.claim(ctx, jobID, "failure") {
		return nil
	}
	return r.markTerminal(ctx, jobID, generation.TerminalUpdate{
		Status:    models.StatusFailed,
		ErrorCode: &reason,
	})
}

// FinalizeTimeout is billed like failure but kept distinguishable so slow
// provider incidents separate from hard failures.
func (r *Reconciler) FinalizeTimeout(ctx context.Context, jobID uuid.UUID) error {
	if !r.claim(ctx, jobID, "timeout") {
		return nil
	}
	code := models.ErrCodeTimedOut
	return r.markTerminal(ctx, jobID, generation.TerminalUpdate{
		Status:    models.StatusTimedOut,
		ErrorCode: &code,
	})
}

// FinalizeCancel handles the caller-initiated no-charge path.
func (r *Reconciler) FinalizeCancel(ctx context.Context, jobID uuid.UUID) error {
	if !r.claim(ctx, jobID, "cancel") {
		return nil
	}
	code := models.ErrCodeCancelled
	return r.markTerminal(ctx, jobID, generation.TerminalUpdate{
		Status:    models.StatusCancelled,
		ErrorCode: &code,
	})
}

// claim takes the finalize slot for the job. A false return means another
// outcome got there first; per the terminal-state contract that is a logged
// no-op, never an error to the caller.
func (r *Reconciler) claim(ctx context.Context, jobID uuid.UUID, outcome string) bool {
	claimed, err := r.jobs.ClaimFinalize(ctx, jobID)
	if err != nil {
		r.logger.Error("finalize claim failed", "job_id", jobID, "outcome", outcome, "error", err)
		return false
	}
	if !claimed {
		r.logger.Warn("duplicate finalize discarded", "job_id", jobID, "outcome", outcome)
	}
	return claimed
}

func (r *Reconciler) release(ctx context.Context, jobID uuid.UUID) {
	if err := r.jobs.ReleaseFinalize(ctx, jobID); err != nil {
		r.logger.Error("release finalize claim failed", "job_id", jobID, "error", err)
	}
}

func (r *Reconciler) markTerminal(ctx context.Context, jobID uuid.UUID, u generation.TerminalUpdate) error {
	err := r.jobs.MarkTerminal(ctx, jobID, u)
	if errors.Is(err, generation.ErrTerminalState) {
		r.logger.Warn("terminal transition discarded", "job_id", jobID, "status", u.Status)
		return nil
	}
	return err
}
