package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/pixelforge/backend/internal/models"
	"github.com/pixelforge/backend/internal/progress"
)

// GenerateJobArgs is the queue payload for one generation dispatch.
type GenerateJobArgs struct {
	JobID          uuid.UUID       `json:"job_id"`
	IdempotencyKey uuid.UUID       `json:"idempotency_key"`
	Type           string          `json:"type"`
	Prompt         string          `json:"prompt"`
	Model          string          `json:"model"`
	Provider       string          `json:"provider"`
	Parameters     json.RawMessage `json:"parameters,omitempty"`
}

func (GenerateJobArgs) Kind() string { return "generate_asset" }

// JobService is the contract the worker needs to move a job into PROCESSING.
type JobService interface {
	// MarkProcessing transitions PENDING -> PROCESSING. A false return means
	// the job was already decided (timed out or cancelled) and the dispatch
	// must be discarded.
	MarkProcessing(ctx context.Context, jobID uuid.UUID) (bool, error)
}

// Finalizer is the reconciler as seen from the worker: one terminal decision
// per job, duplicates discarded downstream.
type Finalizer interface {
	FinalizeSuccess(ctx context.Context, jobID uuid.UUID, resultRef string, actualCredits int64) error
	FinalizeFailure(ctx context.Context, jobID uuid.UUID, reason string) error
	FinalizeTimeout(ctx context.Context, jobID uuid.UUID) error
}

// Policy bounds the dispatch attempt loop and the job's wall-clock lifetime.
type Policy struct {
	MaxAttempts      int           // dispatch attempts before ProviderUnavailable
	BackoffBase      time.Duration // first retry delay, doubled per attempt
	Timeout          time.Duration // wall-clock window before TIMED_OUT
	ProgressInterval time.Duration // cadence of progress estimates
}

// DefaultPolicy matches the documented defaults: 3 attempts at 2s/4s/8s
// inside a 5-minute window.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:      3,
		BackoffBase:      2 * time.Second,
		Timeout:          5 * time.Minute,
		ProgressInterval: 2 * time.Second,
	}
}

// GenerateWorker drives one job from PENDING to a terminal decision. Two
// tasks race per job: the dispatch-and-await path and the deadline
// supervisor. Whichever reaches the reconciler first wins; the loser's
// outcome is discarded by the finalize claim.
type GenerateWorker struct {
	river.WorkerDefaults[GenerateJobArgs]
	jobs      JobService
	finalizer Finalizer
	registry  *Registry
	progress  progress.Store
	policy    Policy
	logger    *slog.Logger
}

func NewGenerateWorker(jobs JobService, finalizer Finalizer, registry *Registry, prog progress.Store, policy Policy, logger *slog.Logger) *GenerateWorker {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.MaxAttempts <= 0 {
		policy = DefaultPolicy()
	}
	return &GenerateWorker{
		jobs:      jobs,
		finalizer: finalizer,
		registry:  registry,
		progress:  prog,
		policy:    policy,
		logger:    logger,
	}
}

func (w *GenerateWorker) Work(ctx context.Context, job *river.Job[GenerateJobArgs]) error {
	args := job.Args

	ok, err := w.jobs.MarkProcessing(ctx, args.JobID)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if !ok {
		w.logger.Warn("dispatch discarded, job already decided", "job_id", args.JobID)
		return nil
	}

	deadline := time.Now().Add(w.policy.Timeout)
	callCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	if w.progress != nil {
		_ = w.progress.Set(ctx, args.JobID, 5)
	}

	done := make(chan struct{})
	defer close(done)
	go w.superviseDeadline(args.JobID, deadline, done)
	go w.tickProgress(callCtx, args.JobID, deadline, done)

	w.dispatch(ctx, callCtx, args)
	return nil
}

// dispatch runs the bounded retry loop and hands the outcome to the
// reconciler. callCtx carries the job deadline; finalization uses the outer
// ctx so a decision still lands after the window closes.
func (w *GenerateWorker) dispatch(ctx, callCtx context.Context, args GenerateJobArgs) {
	provider := w.registry.Lookup(args.Provider)
	req := Request{
		IdempotencyKey: args.IdempotencyKey,
		Type:           args.Type,
		Prompt:         args.Prompt,
		Model:          args.Model,
		Parameters:     args.Parameters,
	}

	backoff := w.policy.BackoffBase
	for attempt := 1; attempt <= w.policy.MaxAttempts; attempt++ {
		result, err := provider.Generate(callCtx, req)
		if err == nil {
			w.finalize(ctx, args.JobID, func() error {
				return w.finalizer.FinalizeSuccess(ctx, args.JobID, result.ResultRef, result.ActualCredits)
			})
			return
		}
		if callCtx.Err() != nil {
			// The window closed mid-call; the supervisor usually beats us
			// here, and the claim makes the duplicate harmless.
			w.finalize(ctx, args.JobID, func() error {
				return w.finalizer.FinalizeTimeout(ctx, args.JobID)
			})
			return
		}
		if !IsTransient(err) {
			w.logger.Warn("provider rejected job", "job_id", args.JobID, "error", err)
			msg := err.Error()
			w.finalize(ctx, args.JobID, func() error {
				return w.finalizer.FinalizeFailure(ctx, args.JobID, msg)
			})
			return
		}
		w.logger.Warn("transient provider failure",
			"job_id", args.JobID, "attempt", attempt, "error", err)
		if attempt == w.policy.MaxAttempts {
			break
		}
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-callCtx.Done():
			w.finalize(ctx, args.JobID, func() error {
				return w.finalizer.FinalizeTimeout(ctx, args.JobID)
			})
			return
		}
	}

	w.finalize(ctx, args.JobID, func() error {
		return w.finalizer.FinalizeFailure(ctx, args.JobID, models.ErrCodeProviderUnavailable)
	})
}

func (w *GenerateWorker) finalize(ctx context.Context, jobID uuid.UUID, fn func() error) {
	if err := fn(); err != nil {
		w.logger.Error("finalize failed", "job_id", jobID, "error", err)
	}
	if w.progress != nil {
		_ = w.progress.Drop(ctx, jobID)
	}
}

// superviseDeadline forces TIMED_OUT when the window elapses before a
// terminal decision. A late provider response loses the finalize claim and
// is discarded, never re-opening billing.
func (w *GenerateWorker) superviseDeadline(jobID uuid.UUID, deadline time.Time, done <-chan struct{}) {
	select {
	case <-done:
		return
	case <-time.After(time.Until(deadline)):
	}
	ctx := context.Background()
	if err := w.finalizer.FinalizeTimeout(ctx, jobID); err != nil {
		w.logger.Error("deadline supervisor: finalize timeout failed", "job_id", jobID, "error", err)
	}
	if w.progress != nil {
		_ = w.progress.Drop(ctx, jobID)
	}
}

// tickProgress publishes a coarse, monotonic progress estimate while the
// provider call is in flight. Nothing depends on its exact value.
func (w *GenerateWorker) tickProgress(ctx context.Context, jobID uuid.UUID, deadline time.Time, done <-chan struct{}) {
	if w.progress == nil {
		return
	}
	start := time.Now()
	window := deadline.Sub(start)
	ticker := time.NewTicker(w.policy.ProgressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			elapsed := time.Since(start)
			p := 5 + int(float64(elapsed)/float64(window)*85)
			if p > 90 {
				p = 90
			}
			_ = w.progress.Set(ctx, jobID, p)
		}
	}
}
