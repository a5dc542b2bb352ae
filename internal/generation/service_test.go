package generation

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/pixelforge/backend/internal/dispatch"
	"github.com/pixelforge/backend/internal/estimator"
	"github.com/pixelforge/backend/internal/models"
)

func TestSubmitFailsJobWhenEnqueueFails(t *testing.T) {
	store := NewMemoryStore()
	finalizer := &recordingFinalizer{}
	enqueue := func(_ context.Context, _ dispatch.GenerateJobArgs) error {
		return errors.New("queue unavailable")
	}
	svc := NewService(store, enqueue, finalizer, nil, discardLogger())

	_, err := svc.Submit(context.Background(), uuid.New(), uuid.New(), SubmitRequest{
		Type:     models.TypeImage2D,
		Prompt:   "a red fox",
		Model:    "sdxl",
		Estimate: estimator.Estimate{CostCents: 8, Credits: 2},
	})
	if err == nil {
		t.Fatal("Submit must surface the enqueue error")
	}
	if len(finalizer.failed) != 1 {
		t.Fatal("unqueueable job must be failed, not left PENDING")
	}
}

func TestSubmitAssignsIdempotencyKeyAndProvider(t *testing.T) {
	store := NewMemoryStore()
	var enqueued dispatch.GenerateJobArgs
	enqueue := func(_ context.Context, args dispatch.GenerateJobArgs) error {
		enqueued = args
		return nil
	}
	svc := NewService(store, enqueue, &recordingFinalizer{}, nil, discardLogger())

	job, err := svc.Submit(context.Background(), uuid.New(), uuid.New(), SubmitRequest{
		Type:     models.TypeImage2D,
		Prompt:   "a red fox",
		Model:    "dall-e-3",
		Estimate: estimator.Estimate{CostCents: 12, Credits: 3},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.IdempotencyKey == uuid.Nil {
		t.Error("idempotency key must be assigned at submission")
	}
	if job.Provider != "openai" {
		t.Errorf("provider = %s, want openai for dall-e-3", job.Provider)
	}
	if enqueued.IdempotencyKey != job.IdempotencyKey {
		t.Error("queue args must carry the job's idempotency key")
	}
}
