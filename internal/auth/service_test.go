package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/pixelforge/backend/internal/ledger"
	"github.com/pixelforge/backend/internal/quota"
)

func newTestService(t *testing.T) (Service, *MemoryStore, ledger.Service) {
	t.Helper()
	store := NewMemoryStore()
	ledgerSvc := ledger.NewService(ledger.NewMemoryStore())
	return NewService(store, ledgerSvc, quota.NewMemoryStore(), "test-secret"), store, ledgerSvc
}

func TestRegisterSeedsBalanceAndQuota(t *testing.T) {
	svc, store, ledgerSvc := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "ana@example.com", "hunter22", "Ana", "Example Co")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	acc, err := store.GetAccount(ctx, user.AccountID)
	if err != nil {
		t.Fatalf("account not created: %v", err)
	}
	if acc.MonthlyBudgetCents != DefaultMonthlyBudgetCents {
		t.Errorf("budget = %d, want %d", acc.MonthlyBudgetCents, DefaultMonthlyBudgetCents)
	}
	bal, err := ledgerSvc.Balance(ctx, user.AccountID)
	if err != nil {
		t.Fatalf("balance not seeded: %v", err)
	}
	if bal.Balance != DefaultInitialCredits {
		t.Errorf("initial balance = %d, want %d", bal.Balance, DefaultInitialCredits)
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "ana@example.com", "hunter22", "Ana", ""); err != nil {
		t.Fatalf("first register: %v", err)
	}
	_, err := svc.Register(ctx, "ana@example.com", "other", "Ana Again", "")
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("err = %v, want ErrDuplicateEmail", err)
	}
}

func TestLoginAndValidateToken(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "ana@example.com", "hunter22", "Ana", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	token, err := svc.Login(ctx, "ana@example.com", "hunter22")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	ident, err := svc.ValidateToken(ctx, token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if ident.UserID != user.ID || ident.AccountID != user.AccountID {
		t.Errorf("identity = %+v, want user %s account %s", ident, user.ID, user.AccountID)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "ana@example.com", "hunter22", "Ana", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Login(ctx, "ana@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password err = %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.Login(ctx, "nobody@example.com", "hunter22"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email err = %v, want ErrInvalidCredentials", err)
	}
}

func TestValidateTokenRejectsTampering(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "ana@example.com", "hunter22", "Ana", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	token, err := svc.Login(ctx, "ana@example.com", "hunter22")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := svc.ValidateToken(ctx, token+"x"); err == nil {
		t.Error("tampered token must not validate")
	}

	other := NewService(NewMemoryStore(), ledger.NewService(ledger.NewMemoryStore()), quota.NewMemoryStore(), "other-secret")
	if _, err := other.ValidateToken(ctx, token); err == nil {
		t.Error("token signed with a different secret must not validate")
	}
}
