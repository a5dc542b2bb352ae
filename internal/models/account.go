package models

import (
	"time"

	"github.com/google/uuid"
)

type Account struct {
	ID                 uuid.UUID `json:"id"`
	Name               string    `json:"name"`
	Company            string    `json:"company"`
	MonthlyBudgetCents int64     `json:"monthly_budget_cents"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// User is a member of an account. Quota limits are seeded from the account's
// plan at creation and administered externally.
type User struct {
	ID           uuid.UUID `json:"id"`
	AccountID    uuid.UUID `json:"account_id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserQuota limits a user's generations per calendar month (UTC): a job
// count ceiling plus a cost cap in cents.
type UserQuota struct {
	UserID         uuid.UUID `json:"user_id"`
	MonthlyLimit   int       `json:"monthly_limit"`
	CostLimitCents int64     `json:"cost_limit_cents"`
}
