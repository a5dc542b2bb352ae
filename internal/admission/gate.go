// Package admission decides whether a generation request may enter the
// queue. The gate is read-only: it never reserves or debits anything. The
// authoritative balance check happens at settlement, so two requests racing
// past this gate settle, or fail, in the reconciler.
package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pixelforge/backend/internal/estimator"
	"github.com/pixelforge/backend/internal/models"
	"github.com/pixelforge/backend/internal/quota"
)

// Rejection reasons returned to the caller in the initial response.
const (
	ReasonBudgetExceeded = "BudgetExceeded"
	ReasonQuotaExceeded  = "QuotaExceeded"
)

// Request is the admission view of a generation request.
type Request struct {
	Type       string
	Prompt     string
	Model      string
	Parameters json.RawMessage
}

// Decision is the gate's verdict. Reason is set only when Admitted is false.
type Decision struct {
	Admitted bool
	Reason   string
	Estimate estimator.Estimate
}

// AccountReader resolves the organizational budget.
type AccountReader interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

// SpendReader reports an account's month-to-date generation spend in cents.
type SpendReader interface {
	MonthToDateCents(ctx context.Context, accountID uuid.UUID, month string) (int64, error)
}

type Gate struct {
	accounts AccountReader
	spend    SpendReader
	quotas   quota.Store
}

func NewGate(accounts AccountReader, spend SpendReader, quotas quota.Store) *Gate {
	return &Gate{accounts: accounts, spend: spend, quotas: quotas}
}

// Admit runs the preflight checks in order: estimate, organizational budget,
// user quota. Each is a hard precondition; the first failure wins.
func (g *Gate) Admit(ctx context.Context, accountID, userID uuid.UUID, req Request) (Decision, error) {
	est := estimator.Compute(req.Type, req.Model, estimator.ParseParams(req.Parameters), req.Prompt)
	month := quota.MonthKey(time.Now())

	acc, err := g.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return Decision{}, fmt.Errorf("load account %s: %w", accountID, err)
	}
	spent, err := g.spend.MonthToDateCents(ctx, accountID, month)
	if err != nil {
		return Decision{}, fmt.Errorf("month-to-date spend for %s: %w", accountID, err)
	}
	if acc.MonthlyBudgetCents-spent < est.CostCents {
		return Decision{Reason: ReasonBudgetExceeded, Estimate: est}, nil
	}

	limits, err := g.quotas.Limits(ctx, userID)
	if err != nil {
		if errors.Is(err, quota.ErrNoQuota) {
			return Decision{Reason: ReasonQuotaExceeded, Estimate: est}, nil
		}
		return Decision{}, fmt.Errorf("load quota for %s: %w", userID, err)
	}
	used, err := g.quotas.Usage(ctx, userID, month)
	if err != nil {
		return Decision{}, fmt.Errorf("quota usage for %s: %w", userID, err)
	}
	if used.Jobs >= limits.MonthlyLimit || used.CostCents+est.CostCents > limits.CostLimitCents {
		return Decision{Reason: ReasonQuotaExceeded, Estimate: est}, nil
	}

	return Decision{Admitted: true, Estimate: est}, nil
}
