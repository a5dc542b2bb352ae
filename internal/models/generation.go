package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Generation types.
const (
	TypeImage2D   = "IMAGE_2D"
	TypeModel3D   = "MODEL_3D"
	TypeAnimation = "ANIMATION"
	TypeTemplate  = "TEMPLATE"
)

// Job lifecycle states. PENDING is initial; COMPLETED, FAILED, TIMED_OUT and
// CANCELLED are terminal and absorbing.
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
	StatusTimedOut   = "TIMED_OUT"
	StatusCancelled  = "CANCELLED"
)

// Quality tiers recognized in generation parameters.
const (
	QualityStandard = "standard"
	QualityHigh     = "high"
	QualityUltra    = "ultra"
)

// Job error codes surfaced through the error field.
const (
	ErrCodeProviderUnavailable             = "ProviderUnavailable"
	ErrCodeInsufficientBalanceAtSettlement = "InsufficientBalanceAtSettlement"
	ErrCodeTimedOut                        = "TimedOut"
	ErrCodeCancelled                       = "Cancelled"
)

// IsTerminalStatus reports whether no further transition is permitted.
func IsTerminalStatus(s string) bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut, StatusCancelled:
		return true
	}
	return false
}

// ValidType reports whether t names a known generation type.
func ValidType(t string) bool {
	switch t {
	case TypeImage2D, TypeModel3D, TypeAnimation, TypeTemplate:
		return true
	}
	return false
}

type GenerationJob struct {
	ID             uuid.UUID       `json:"id"`
	AccountID      uuid.UUID       `json:"account_id"`
	UserID         uuid.UUID       `json:"user_id"`
	IdempotencyKey uuid.UUID       `json:"idempotency_key"`
	Type           string          `json:"type"`
	Prompt         string          `json:"prompt"`
	Model          string          `json:"model"`
	Provider       string          `json:"provider"`
	Parameters     json.RawMessage `json:"parameters,omitempty"`
	EstimatedCents int64           `json:"estimated_cost_cents"`
	Credits        int64           `json:"credits"`
	Status         string          `json:"status"`
	Progress       int             `json:"progress"`
	ResultRef      *string         `json:"result_ref,omitempty"`
	Error          *string         `json:"error,omitempty"`
	// ChargedTransactionID is set exactly once, by the reconciler, when the
	// usage debit lands. It guards against double charge.
	ChargedTransactionID *uuid.UUID `json:"charged_transaction_id,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	UpdatedAt            time.Time  `json:"updated_at"`
}
