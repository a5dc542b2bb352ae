package generation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/pixelforge/backend/internal/admission"
	"github.com/pixelforge/backend/internal/estimator"
	"github.com/pixelforge/backend/internal/middleware"
	"github.com/pixelforge/backend/internal/models"
	"github.com/pixelforge/backend/internal/validation"
)

// ParameterValidator is the schema check applied before admission.
type ParameterValidator interface {
	ValidateParameters(genType string, params json.RawMessage) error
}

// Admitter is the preflight gate consulted before a job is created.
type Admitter interface {
	Admit(ctx context.Context, accountID, userID uuid.UUID, req admission.Request) (admission.Decision, error)
}

// Handler serves the /v1/generations endpoints.
type Handler struct {
	Gate      Admitter
	Service   Service
	Validator ParameterValidator
	Logger    *slog.Logger
}

// --- POST /v1/generations ---

type createRequest struct {
	Type       string          `json:"type"`
	Prompt     string          `json:"prompt"`
	Model      string          `json:"model"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

type createResponse struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	EstimatedCostCents int64  `json:"estimated_cost_cents"`
	Credits            int64  `json:"credits"`
}

// Create handles POST /v1/generations.
// Auth -> Validate Parameters -> Admission -> Create Job -> Enqueue -> 201.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFromCtx(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if !models.ValidType(req.Type) {
		http.Error(w, `{"error":"unknown generation type"}`, http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		http.Error(w, `{"error":"prompt is required"}`, http.StatusBadRequest)
		return
	}
	if req.Model == "" {
		http.Error(w, `{"error":"model is required"}`, http.StatusBadRequest)
		return
	}

	if err := h.Validator.ValidateParameters(req.Type, req.Parameters); err != nil {
		if errors.Is(err, validation.ErrValidation) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		h.Logger.Error("validate parameters", "error", err)
		http.Error(w, `{"error":"parameter validation failed"}`, http.StatusBadRequest)
		return
	}

	decision, err := h.Gate.Admit(r.Context(), ident.AccountID, ident.UserID, admission.Request{
		Type:       req.Type,
		Prompt:     req.Prompt,
		Model:      req.Model,
		Parameters: req.Parameters,
	})
	if err != nil {
		h.Logger.Error("admission check", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !decision.Admitted {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": decision.Reason})
		return
	}

	job, err := h.Service.Submit(r.Context(), ident.AccountID, ident.UserID, SubmitRequest{
		Type:       req.Type,
		Prompt:     req.Prompt,
		Model:      req.Model,
		Parameters: req.Parameters,
		Estimate:   decision.Estimate,
	})
	if err != nil {
		h.Logger.Error("submit generation", "error", err)
		http.Error(w, `{"error":"failed to submit generation"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, createResponse{
		ID:                 job.ID.String(),
		Status:             job.Status,
		EstimatedCostCents: job.EstimatedCents,
		Credits:            job.Credits,
	})
}

// --- POST /v1/generations/estimate ---

type estimateResponse struct {
	CostCents int64 `json:"cost_cents"`
	Credits   int64 `json:"credits"`
}

// EstimateOnly handles POST /v1/generations/estimate: the same pricing the
// gate applies, without creating anything.
func (h *Handler) EstimateOnly(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if !models.ValidType(req.Type) {
		http.Error(w, `{"error":"unknown generation type"}`, http.StatusBadRequest)
		return
	}
	est := estimator.Compute(req.Type, req.Model, estimator.ParseParams(req.Parameters), req.Prompt)
	writeJSON(w, http.StatusOK, estimateResponse{CostCents: est.CostCents, Credits: est.Credits})
}

// --- GET /v1/generations ---

// List handles GET /v1/generations with optional status, type, limit and
// offset query parameters.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFromCtx(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	q := r.URL.Query()
	f := ListFilter{
		Status: q.Get("status"),
		Type:   q.Get("type"),
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))

	jobs, err := h.Service.List(r.Context(), ident.AccountID, f)
	if err != nil {
		h.Logger.Error("list generations", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []*models.GenerationJob{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// --- GET /v1/generations/{id} ---

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFromCtx(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	jobID, ok := extractJobID(r.URL.Path, "/v1/generations/")
	if !ok {
		http.Error(w, `{"error":"invalid generation id"}`, http.StatusBadRequest)
		return
	}
	job, err := h.Service.Get(r.Context(), ident.AccountID, jobID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, `{"error":"generation not found"}`, http.StatusNotFound)
			return
		}
		h.Logger.Error("get generation", "job_id", jobID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// --- DELETE /v1/generations/{id} ---

// Cancel handles DELETE /v1/generations/{id}. Cancelling a job that already
// reached a terminal state is a 204 no-op.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFromCtx(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	jobID, ok := extractJobID(r.URL.Path, "/v1/generations/")
	if !ok {
		http.Error(w, `{"error":"invalid generation id"}`, http.StatusBadRequest)
		return
	}
	if err := h.Service.Cancel(r.Context(), ident.AccountID, jobID); err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, `{"error":"generation not found"}`, http.StatusNotFound)
			return
		}
		h.Logger.Error("cancel generation", "job_id", jobID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- GET /v1/generation-status/{id} ---

type statusResponse struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}

// Status handles GET /v1/generation-status/{id}: the lightweight polling
// read.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFromCtx(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	jobID, ok := extractJobID(r.URL.Path, "/v1/generation-status/")
	if !ok {
		http.Error(w, `{"error":"invalid generation id"}`, http.StatusBadRequest)
		return
	}
	status, prog, err := h.Service.Status(r.Context(), ident.AccountID, jobID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, `{"error":"generation not found"}`, http.StatusNotFound)
			return
		}
		h.Logger.Error("generation status", "job_id", jobID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: status, Progress: prog})
}

// --- helpers ---

func extractJobID(path, prefix string) (uuid.UUID, bool) {
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
