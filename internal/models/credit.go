package models

import (
	"time"

	"github.com/google/uuid"
)

// Credit transaction types. Usage entries are written only by the reconciler;
// the remaining types belong to top-up and adjustment flows.
const (
	TxTypePurchase   = "purchase"
	TxTypeUsage      = "usage"
	TxTypeRefund     = "refund"
	TxTypeBonus      = "bonus"
	TxTypeExpiration = "expiration"
)

// CreditBalance is the single shared mutable row per account. Version is a
// monotonic counter; every mutation must compare-and-swap on it.
type CreditBalance struct {
	AccountID uuid.UUID `json:"account_id"`
	Balance   int64     `json:"balance"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreditTransaction is an immutable ledger entry. Amount is signed: negative
// for usage, positive otherwise. Folding an account's entries in order must
// reproduce its current balance.
type CreditTransaction struct {
	ID            uuid.UUID  `json:"id"`
	AccountID     uuid.UUID  `json:"account_id"`
	Type          string     `json:"type"`
	Amount        int64      `json:"amount"`
	BalanceBefore int64      `json:"balance_before"`
	BalanceAfter  int64      `json:"balance_after"`
	RelatedJobID  *uuid.UUID `json:"related_job_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}
