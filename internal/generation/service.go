package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pixelforge/backend/internal/dispatch"
	"github.com/pixelforge/backend/internal/estimator"
	"github.com/pixelforge/backend/internal/models"
	"github.com/pixelforge/backend/internal/progress"
)

// EnqueueFunc hands an admitted job to the queue. Typically a closure over
// river.Client.Insert, wired in main.
type EnqueueFunc func(ctx context.Context, args dispatch.GenerateJobArgs) error

// Finalizer is the slice of the reconciler the service needs: forcing a job
// to FAILED when it cannot be queued, and the cancel path.
type Finalizer interface {
	FinalizeFailure(ctx context.Context, jobID uuid.UUID, reason string) error
	FinalizeCancel(ctx context.Context, jobID uuid.UUID) error
}

// SubmitRequest is an admitted request plus its binding estimate.
type SubmitRequest struct {
	Type       string
	Prompt     string
	Model      string
	Parameters json.RawMessage
	Estimate   estimator.Estimate
}

type Service interface {
	Submit(ctx context.Context, accountID, userID uuid.UUID, req SubmitRequest) (*models.GenerationJob, error)
	Get(ctx context.Context, accountID, jobID uuid.UUID) (*models.GenerationJob, error)
	List(ctx context.Context, accountID uuid.UUID, f ListFilter) ([]*models.GenerationJob, error)
	Status(ctx context.Context, accountID, jobID uuid.UUID) (status string, prog int, err error)
	Cancel(ctx context.Context, accountID, jobID uuid.UUID) error

	// MarkProcessing implements the queue worker's contract.
	MarkProcessing(ctx context.Context, jobID uuid.UUID) (bool, error)
}

type service struct {
	store     Store
	enqueue   EnqueueFunc
	finalizer Finalizer
	progress  progress.Store
	logger    *slog.Logger
}

// NewService wires the job store to the queue. progress may be nil, in which
// case Status serves the stored value only.
func NewService(store Store, enqueue EnqueueFunc, finalizer Finalizer, prog progress.Store, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &service{store: store, enqueue: enqueue, finalizer: finalizer, progress: prog, logger: logger}
}

var _ Service = (*service)(nil)

func (s *service) Submit(ctx context.Context, accountID, userID uuid.UUID, req SubmitRequest) (*models.GenerationJob, error) {
	job := &models.GenerationJob{
		ID:             uuid.New(),
		AccountID:      accountID,
		UserID:         userID,
		IdempotencyKey: uuid.New(),
		Type:           req.Type,
		Prompt:         req.Prompt,
		Model:          req.Model,
		Provider:       dispatch.ProviderForModel(req.Model),
		Parameters:     req.Parameters,
		EstimatedCents: req.Estimate.CostCents,
		Credits:        req.Estimate.Credits,
		Status:         models.StatusPending,
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	err := s.enqueue(ctx, dispatch.GenerateJobArgs{
		JobID:          job.ID,
		IdempotencyKey: job.IdempotencyKey,
		Type:           job.Type,
		Prompt:         job.Prompt,
		Model:          job.Model,
		Provider:       job.Provider,
		Parameters:     job.Parameters,
	})
	if err != nil {
		// The job must not sit PENDING forever: fail it now rather than
		// drop it silently.
		s.logger.Error("enqueue failed, failing job", "job_id", job.ID, "error", err)
		if finErr := s.finalizer.FinalizeFailure(ctx, job.ID, models.ErrCodeProviderUnavailable); finErr != nil {
			s.logger.Error("force-fail after enqueue error", "job_id", job.ID, "error", finErr)
		}
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	return job, nil
}

func (s *service) Get(ctx context.Context, accountID, jobID uuid.UUID) (*models.GenerationJob, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.AccountID != accountID {
		return nil, ErrNotFound
	}
	return job, nil
}

func (s *service) List(ctx context.Context, accountID uuid.UUID, f ListFilter) ([]*models.GenerationJob, error) {
	return s.store.List(ctx, accountID, f)
}

// Status is the lightweight polling read: idempotent, side-effect-free. The
// progress cache wins over the stored row while the job is in flight.
func (s *service) Status(ctx context.Context, accountID, jobID uuid.UUID) (string, int, error) {
	job, err := s.Get(ctx, accountID, jobID)
	if err != nil {
		return "", 0, err
	}
	prog := job.Progress
	if s.progress != nil && !models.IsTerminalStatus(job.Status) {
		if cached, ok, err := s.progress.Get(ctx, jobID); err == nil && ok && cached > prog {
			prog = cached
		}
	}
	return job.Status, prog, nil
}

// Cancel is best-effort: terminal jobs are left untouched.
func (s *service) Cancel(ctx context.Context, accountID, jobID uuid.UUID) error {
	job, err := s.Get(ctx, accountID, jobID)
	if err != nil {
		return err
	}
	if models.IsTerminalStatus(job.Status) {
		return nil
	}
	if err := s.finalizer.FinalizeCancel(ctx, jobID); err != nil {
		return err
	}
	if s.progress != nil {
		if err := s.progress.Drop(ctx, jobID); err != nil {
			s.logger.Warn("drop progress after cancel failed", "job_id", jobID, "error", err)
		}
	}
	return nil
}

func (s *service) MarkProcessing(ctx context.Context, jobID uuid.UUID) (bool, error) {
	return s.store.Transition(ctx, jobID, []string{models.StatusPending}, models.StatusProcessing)
}
