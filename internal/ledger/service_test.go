package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/pixelforge/backend/internal/models"
)

func newTestService(t *testing.T, accountID uuid.UUID, initial int64) Service {
	t.Helper()
	store := NewMemoryStore()
	if err := store.CreateBalance(context.Background(), accountID, initial); err != nil {
		t.Fatalf("create balance: %v", err)
	}
	return NewService(store)
}

func TestDebitAppendsUsageEntry(t *testing.T) {
	account := uuid.New()
	job := uuid.New()
	svc := newTestService(t, account, 100)
	ctx := context.Background()

	entry, err := svc.Debit(ctx, account, job, 2)
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if entry.Type != models.TxTypeUsage {
		t.Errorf("entry type = %q, want usage", entry.Type)
	}
	if entry.Amount != -2 {
		t.Errorf("entry amount = %d, want -2", entry.Amount)
	}
	if entry.BalanceBefore != 100 || entry.BalanceAfter != 98 {
		t.Errorf("entry balances = %d/%d, want 100/98", entry.BalanceBefore, entry.BalanceAfter)
	}
	if entry.RelatedJobID == nil || *entry.RelatedJobID != job {
		t.Error("entry should reference the settled job")
	}

	bal, err := svc.Balance(ctx, account)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal.Balance != 98 {
		t.Errorf("balance = %d, want 98", bal.Balance)
	}
}

func TestDebitInsufficientBalance(t *testing.T) {
	account := uuid.New()
	svc := newTestService(t, account, 3)
	ctx := context.Background()

	if _, err := svc.Debit(ctx, account, uuid.New(), 4); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got: %v", err)
	}
	bal, _ := svc.Balance(ctx, account)
	if bal.Balance != 3 {
		t.Errorf("failed debit must not move the balance: got %d", bal.Balance)
	}
}

func TestApplyTransactionRejectsUsage(t *testing.T) {
	account := uuid.New()
	svc := newTestService(t, account, 0)

	if _, err := svc.ApplyTransaction(context.Background(), account, models.TxTypeUsage, -1); !errors.Is(err, ErrUsageReserved) {
		t.Fatalf("expected ErrUsageReserved, got: %v", err)
	}
}

func TestApplyTransactionTopUp(t *testing.T) {
	account := uuid.New()
	svc := newTestService(t, account, 10)
	ctx := context.Background()

	if _, err := svc.ApplyTransaction(ctx, account, models.TxTypePurchase, 50); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if _, err := svc.ApplyTransaction(ctx, account, models.TxTypeBonus, 5); err != nil {
		t.Fatalf("bonus: %v", err)
	}
	// Expiration below zero is refused.
	if _, err := svc.ApplyTransaction(ctx, account, models.TxTypeExpiration, -100); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got: %v", err)
	}
	bal, _ := svc.Balance(ctx, account)
	if bal.Balance != 65 {
		t.Errorf("balance = %d, want 65", bal.Balance)
	}
}

// TestFoldMatchesBalance checks the audit invariant: replaying the
// transaction log reproduces the balance, and the last entry's balance_after
// equals the live balance.
func TestFoldMatchesBalance(t *testing.T) {
	account := uuid.New()
	svc := newTestService(t, account, 20)
	ctx := context.Background()

	_, _ = svc.ApplyTransaction(ctx, account, models.TxTypePurchase, 100)
	_, _ = svc.Debit(ctx, account, uuid.New(), 4)
	_, _ = svc.ApplyTransaction(ctx, account, models.TxTypeBonus, 10)
	_, _ = svc.Debit(ctx, account, uuid.New(), 2)
	_, _ = svc.ApplyTransaction(ctx, account, models.TxTypeRefund, 2)

	entries, err := svc.Transactions(ctx, account, 0)
	if err != nil {
		t.Fatalf("Transactions: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("entries = %d, want 5", len(entries))
	}

	// Entries come newest first; fold oldest to newest.
	folded := int64(20)
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.BalanceBefore != folded {
			t.Errorf("entry %s: balance_before = %d, want %d", e.ID, e.BalanceBefore, folded)
		}
		folded += e.Amount
		if e.BalanceAfter != folded {
			t.Errorf("entry %s: balance_after = %d, want %d", e.ID, e.BalanceAfter, folded)
		}
	}

	bal, _ := svc.Balance(ctx, account)
	if bal.Balance != folded {
		t.Errorf("balance = %d, fold = %d", bal.Balance, folded)
	}
	if entries[0].BalanceAfter != bal.Balance {
		t.Errorf("last entry balance_after = %d, live balance = %d", entries[0].BalanceAfter, bal.Balance)
	}
}

// TestConcurrentDebitsNeverOverdraw hammers one balance from many
// goroutines; the CAS loop must serialize them and never let the balance go
// negative or lose an entry.
func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	account := uuid.New()
	const initial = 50
	svc := newTestService(t, account, initial)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var succeeded int64
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Debit(ctx, account, uuid.New(), 2); err == nil {
				mu.Lock()
				succeeded += 2
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	bal, _ := svc.Balance(ctx, account)
	if bal.Balance < 0 {
		t.Fatalf("balance went negative: %d", bal.Balance)
	}
	if bal.Balance != initial-succeeded {
		t.Errorf("balance = %d, want %d after %d credits debited", bal.Balance, initial-succeeded, succeeded)
	}
	if bal.Version != succeeded/2 {
		t.Errorf("version = %d, want one bump per successful debit (%d)", bal.Version, succeeded/2)
	}
}
