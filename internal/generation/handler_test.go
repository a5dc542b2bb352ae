package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/pixelforge/backend/internal/admission"
	"github.com/pixelforge/backend/internal/auth"
	"github.com/pixelforge/backend/internal/dispatch"
	"github.com/pixelforge/backend/internal/estimator"
	"github.com/pixelforge/backend/internal/middleware"
	"github.com/pixelforge/backend/internal/models"
	"github.com/pixelforge/backend/internal/progress"
	"github.com/pixelforge/backend/internal/validation"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubGate struct {
	decision admission.Decision
}

func (s *stubGate) Admit(_ context.Context, _, _ uuid.UUID, _ admission.Request) (admission.Decision, error) {
	return s.decision, nil
}

type recordingFinalizer struct {
	failed    []uuid.UUID
	cancelled []uuid.UUID
}

func (f *recordingFinalizer) FinalizeFailure(_ context.Context, jobID uuid.UUID, _ string) error {
	f.failed = append(f.failed, jobID)
	return nil
}

func (f *recordingFinalizer) FinalizeCancel(_ context.Context, jobID uuid.UUID) error {
	f.cancelled = append(f.cancelled, jobID)
	return nil
}

type handlerFixture struct {
	handler   *Handler
	store     *MemoryStore
	finalizer *recordingFinalizer
	progress  *progress.MemoryStore
	enqueued  []dispatch.GenerateJobArgs
	ident     auth.Identity
}

func newHandlerFixture(t *testing.T, decision admission.Decision) *handlerFixture {
	t.Helper()
	v, err := validation.NewValidator("../../schemas")
	if err != nil {
		t.Fatalf("load schemas: %v", err)
	}
	f := &handlerFixture{
		store:     NewMemoryStore(),
		finalizer: &recordingFinalizer{},
		progress:  progress.NewMemoryStore(),
		ident:     auth.Identity{UserID: uuid.New(), AccountID: uuid.New()},
	}
	enqueue := func(_ context.Context, args dispatch.GenerateJobArgs) error {
		f.enqueued = append(f.enqueued, args)
		return nil
	}
	svc := NewService(f.store, enqueue, f.finalizer, f.progress, nil)
	f.handler = &Handler{
		Gate:      &stubGate{decision: decision},
		Service:   svc,
		Validator: v,
		Logger:    discardLogger(),
	}
	return f
}

func (f *handlerFixture) do(handlerFn http.HandlerFunc, method, target, body string, authed bool) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, bytes.NewBufferString(body))
	}
	if authed {
		req = req.WithContext(middleware.WithIdentity(req.Context(), f.ident))
	}
	rec := httptest.NewRecorder()
	handlerFn(rec, req)
	return rec
}

func admitted(cents, credits int64) admission.Decision {
	return admission.Decision{Admitted: true, Estimate: estimator.Estimate{CostCents: cents, Credits: credits}}
}

// ---------------------------------------------------------------------------
// POST /v1/generations
// ---------------------------------------------------------------------------

func TestCreateReturnsPendingJob(t *testing.T) {
	f := newHandlerFixture(t, admitted(8, 2))

	rec := f.do(f.handler.Create, http.MethodPost, "/v1/generations",
		`{"type":"IMAGE_2D","prompt":"a red fox","model":"sdxl","parameters":{"quality":"standard"}}`, true)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var resp createResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != models.StatusPending {
		t.Errorf("status = %s, want PENDING", resp.Status)
	}
	if resp.EstimatedCostCents != 8 || resp.Credits != 2 {
		t.Errorf("estimate = %d cents / %d credits, want 8/2", resp.EstimatedCostCents, resp.Credits)
	}
	if len(f.enqueued) != 1 {
		t.Fatalf("enqueued = %d jobs, want 1", len(f.enqueued))
	}
	jobID := uuid.MustParse(resp.ID)
	if f.enqueued[0].JobID != jobID {
		t.Error("enqueued args must reference the created job")
	}
	job, err := f.store.Get(context.Background(), jobID)
	if err != nil {
		t.Fatalf("job not persisted: %v", err)
	}
	if job.AccountID != f.ident.AccountID || job.UserID != f.ident.UserID {
		t.Error("job must belong to the authenticated identity")
	}
}

func TestCreateRejectedByGate(t *testing.T) {
	for _, reason := range []string{admission.ReasonBudgetExceeded, admission.ReasonQuotaExceeded} {
		f := newHandlerFixture(t, admission.Decision{Reason: reason})
		rec := f.do(f.handler.Create, http.MethodPost, "/v1/generations",
			`{"type":"IMAGE_2D","prompt":"a red fox","model":"sdxl"}`, true)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", reason, rec.Code)
		}
		var resp map[string]string
		_ = json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp["error"] != reason {
			t.Errorf("error = %q, want %q", resp["error"], reason)
		}
		if len(f.enqueued) != 0 {
			t.Errorf("%s: rejected request must not enqueue", reason)
		}
	}
}

func TestCreateRejectsInvalidParameters(t *testing.T) {
	f := newHandlerFixture(t, admitted(8, 2))
	rec := f.do(f.handler.Create, http.MethodPost, "/v1/generations",
		`{"type":"IMAGE_2D","prompt":"a red fox","model":"sdxl","parameters":{"quality":"extreme"}}`, true)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", rec.Code, rec.Body.String())
	}
	if len(f.enqueued) != 0 {
		t.Error("invalid parameters must not enqueue")
	}
}

func TestCreateRejectsBadRequests(t *testing.T) {
	f := newHandlerFixture(t, admitted(8, 2))
	cases := []struct {
		name string
		body string
	}{
		{"unknown type", `{"type":"HOLOGRAM","prompt":"x","model":"sdxl"}`},
		{"empty prompt", `{"type":"IMAGE_2D","prompt":"  ","model":"sdxl"}`},
		{"missing model", `{"type":"IMAGE_2D","prompt":"x"}`},
		{"malformed JSON", `{"type":`},
	}
	for _, tc := range cases {
		rec := f.do(f.handler.Create, http.MethodPost, "/v1/generations", tc.body, true)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tc.name, rec.Code)
		}
	}
}

func TestCreateRequiresAuth(t *testing.T) {
	f := newHandlerFixture(t, admitted(8, 2))
	rec := f.do(f.handler.Create, http.MethodPost, "/v1/generations",
		`{"type":"IMAGE_2D","prompt":"a red fox","model":"sdxl"}`, false)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

func TestGetHidesOtherAccountsJobs(t *testing.T) {
	f := newHandlerFixture(t, admitted(8, 2))
	other := &models.GenerationJob{
		ID:        uuid.New(),
		AccountID: uuid.New(), // not ours
		UserID:    uuid.New(),
		Type:      models.TypeImage2D,
		Status:    models.StatusPending,
	}
	if err := f.store.Create(context.Background(), other); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	rec := f.do(f.handler.Get, http.MethodGet, "/v1/generations/"+other.ID.String(), "", true)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for another account's job", rec.Code)
	}
}

func TestStatusServesCachedProgress(t *testing.T) {
	f := newHandlerFixture(t, admitted(8, 2))
	job := &models.GenerationJob{
		ID:        uuid.New(),
		AccountID: f.ident.AccountID,
		UserID:    f.ident.UserID,
		Type:      models.TypeImage2D,
		Status:    models.StatusProcessing,
		Progress:  10,
	}
	if err := f.store.Create(context.Background(), job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	_ = f.progress.Set(context.Background(), job.ID, 45)

	rec := f.do(f.handler.Status, http.MethodGet, "/v1/generation-status/"+job.ID.String(), "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resp statusResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Status != models.StatusProcessing || resp.Progress != 45 {
		t.Errorf("response = %+v, want PROCESSING at 45", resp)
	}
}

func TestListFiltersByStatus(t *testing.T) {
	f := newHandlerFixture(t, admitted(8, 2))
	for _, status := range []string{models.StatusPending, models.StatusCompleted} {
		job := &models.GenerationJob{
			ID:        uuid.New(),
			AccountID: f.ident.AccountID,
			UserID:    f.ident.UserID,
			Type:      models.TypeImage2D,
			Status:    status,
		}
		if err := f.store.Create(context.Background(), job); err != nil {
			t.Fatalf("seed job: %v", err)
		}
	}

	rec := f.do(f.handler.List, http.MethodGet, "/v1/generations?status=COMPLETED", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var jobs []*models.GenerationJob
	if err := json.Unmarshal(rec.Body.Bytes(), &jobs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Status != models.StatusCompleted {
		t.Errorf("got %d jobs, want exactly the COMPLETED one", len(jobs))
	}
}

// ---------------------------------------------------------------------------
// DELETE /v1/generations/{id}
// ---------------------------------------------------------------------------

func TestCancelPendingJob(t *testing.T) {
	f := newHandlerFixture(t, admitted(8, 2))
	job := &models.GenerationJob{
		ID:        uuid.New(),
		AccountID: f.ident.AccountID,
		UserID:    f.ident.UserID,
		Type:      models.TypeImage2D,
		Status:    models.StatusPending,
	}
	if err := f.store.Create(context.Background(), job); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	rec := f.do(f.handler.Cancel, http.MethodDelete, "/v1/generations/"+job.ID.String(), "", true)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if len(f.finalizer.cancelled) != 1 || f.finalizer.cancelled[0] != job.ID {
		t.Error("cancel must reach the finalizer")
	}
}

func TestCancelDropsProgressEntry(t *testing.T) {
	f := newHandlerFixture(t, admitted(8, 2))
	job := &models.GenerationJob{
		ID:        uuid.New(),
		AccountID: f.ident.AccountID,
		UserID:    f.ident.UserID,
		Type:      models.TypeImage2D,
		Status:    models.StatusProcessing,
	}
	if err := f.store.Create(context.Background(), job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	_ = f.progress.Set(context.Background(), job.ID, 40)

	rec := f.do(f.handler.Cancel, http.MethodDelete, "/v1/generations/"+job.ID.String(), "", true)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if _, ok, _ := f.progress.Get(context.Background(), job.ID); ok {
		t.Error("progress entry must be dropped when the job is cancelled")
	}
}

func TestCancelTerminalJobIsNoop(t *testing.T) {
	f := newHandlerFixture(t, admitted(8, 2))
	job := &models.GenerationJob{
		ID:        uuid.New(),
		AccountID: f.ident.AccountID,
		UserID:    f.ident.UserID,
		Type:      models.TypeImage2D,
		Status:    models.StatusCompleted,
	}
	if err := f.store.Create(context.Background(), job); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	rec := f.do(f.handler.Cancel, http.MethodDelete, "/v1/generations/"+job.ID.String(), "", true)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204 no-op", rec.Code)
	}
	if len(f.finalizer.cancelled) != 0 {
		t.Error("terminal job must not reach the finalizer")
	}
}

// ---------------------------------------------------------------------------
// POST /v1/generations/estimate
// ---------------------------------------------------------------------------

func TestEstimateOnly(t *testing.T) {
	f := newHandlerFixture(t, admitted(8, 2))
	rec := f.do(f.handler.EstimateOnly, http.MethodPost, "/v1/generations/estimate",
		`{"type":"IMAGE_2D","prompt":"a red fox","model":"sdxl"}`, true)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resp estimateResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.CostCents != 8 || resp.Credits != 2 {
		t.Errorf("estimate = %d cents / %d credits, want 8/2", resp.CostCents, resp.Credits)
	}
}
