package service

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/medibook/medibook/internal/config"
	"github.com/medibook/medibook/internal/domain"
	"github.com/medibook/medibook/internal/domain/ledger"
)

func newCreditFixture(t *testing.T) (*CreditService, *memStore) {
	t.Helper()

	store := newMemStore()
	cfg := config.CreditsConfig{
		SignupGrant: 2,
		Packages:    map[string]int{"starter": 10, "standard": 24},
	}
	svc := NewCreditService(ledgerStore{store}, store, store, testCollector, cfg, zap.NewNop())
	return svc, store
}

func TestDebit(t *testing.T) {
	svc, store := newCreditFixture(t)
	ctx := context.Background()

	u := store.addUser(&domain.User{Email: "u@example.com", Name: "U", Role: domain.RolePatient, Credits: 2, IsActive: true})

	if err := svc.Debit(ctx, u.ID, 2, ledger.TypeAppointmentDeduction); err != nil {
		t.Fatalf("Debit() error = %v", err)
	}

	balance, err := svc.Balance(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if balance != 0 {
		t.Errorf("balance = %d, want 0", balance)
	}

	entries := store.entriesFor(u.ID)
	if len(entries) != 1 {
		t.Fatalf("ledger entries = %d, want 1", len(entries))
	}
	if entries[0].Amount != -2 || entries[0].Type != ledger.TypeAppointmentDeduction {
		t.Errorf("entry = %s %d, want appointment_deduction -2", entries[0].Type, entries[0].Amount)
	}
}

func TestDebitInsufficient(t *testing.T) {
	svc, store := newCreditFixture(t)
	ctx := context.Background()

	u := store.addUser(&domain.User{Email: "u@example.com", Name: "U", Role: domain.RolePatient, Credits: 1, IsActive: true})

	err := svc.Debit(ctx, u.ID, 2, ledger.TypeAppointmentDeduction)
	if !errors.Is(err, ledger.ErrInsufficientCredits) {
		t.Fatalf("Debit() error = %v, want ErrInsufficientCredits", err)
	}

	// Nothing moved: the balance check and the append are one transaction.
	balance, _ := svc.Balance(ctx, u.ID)
	if balance != 1 {
		t.Errorf("balance = %d, want 1", balance)
	}
	if len(store.entriesFor(u.ID)) != 0 {
		t.Error("ledger written on rejected debit")
	}
}

func TestDebitRejectsNonPositiveAmount(t *testing.T) {
	svc, store := newCreditFixture(t)
	u := store.addUser(&domain.User{Email: "u@example.com", Name: "U", Role: domain.RolePatient, Credits: 5, IsActive: true})

	for _, amount := range []int{0, -3} {
		err := svc.Debit(context.Background(), u.ID, amount, ledger.TypeAppointmentDeduction)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("Debit(%d) error = %v, want ValidationError", amount, err)
		}
	}
}

func TestPurchase(t *testing.T) {
	svc, store := newCreditFixture(t)
	ctx := context.Background()

	u := store.addUser(&domain.User{Email: "u@example.com", Name: "U", Role: domain.RolePatient, Credits: 2, IsActive: true})

	entry, err := svc.Purchase(ctx, u.ID, "starter", "10.0.0.1")
	if err != nil {
		t.Fatalf("Purchase() error = %v", err)
	}
	if entry.Amount != 10 || entry.Type != ledger.TypeCreditPurchase || entry.PackageID != "starter" {
		t.Errorf("entry = %+v", entry)
	}

	balance, _ := svc.Balance(ctx, u.ID)
	if balance != 12 {
		t.Errorf("balance = %d, want 12", balance)
	}
}

func TestPurchaseUnknownPackage(t *testing.T) {
	svc, store := newCreditFixture(t)
	u := store.addUser(&domain.User{Email: "u@example.com", Name: "U", Role: domain.RolePatient, Credits: 2, IsActive: true})

	_, err := svc.Purchase(context.Background(), u.ID, "mega", "10.0.0.1")
	if !errors.Is(err, ledger.ErrUnknownPackage) {
		t.Fatalf("Purchase() error = %v, want ErrUnknownPackage", err)
	}

	balance, _ := svc.Balance(context.Background(), u.ID)
	if balance != 2 {
		t.Errorf("balance = %d, want 2", balance)
	}
}

func TestReconcile(t *testing.T) {
	svc, store := newCreditFixture(t)
	ctx := context.Background()

	u := store.addUser(&domain.User{Email: "u@example.com", Name: "U", Role: domain.RolePatient, Credits: 0, IsActive: true})

	// Movements through the service keep projection and ledger in step.
	if _, err := svc.Purchase(ctx, u.ID, "standard", ""); err != nil {
		t.Fatal(err)
	}
	if err := svc.Debit(ctx, u.ID, 2, ledger.TypeAppointmentDeduction); err != nil {
		t.Fatal(err)
	}

	cached, derived, err := svc.Reconcile(ctx, u.ID)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if cached != 22 || derived != 22 {
		t.Errorf("cached=%d derived=%d, want 22/22", cached, derived)
	}
}

func TestHistory(t *testing.T) {
	svc, store := newCreditFixture(t)
	ctx := context.Background()

	u := store.addUser(&domain.User{Email: "u@example.com", Name: "U", Role: domain.RolePatient, Credits: 0, IsActive: true})
	if _, err := svc.Purchase(ctx, u.ID, "starter", ""); err != nil {
		t.Fatal(err)
	}
	if err := svc.Debit(ctx, u.ID, 2, ledger.TypeAppointmentDeduction); err != nil {
		t.Fatal(err)
	}

	page, err := svc.History(ctx, &ledger.ListQuery{UserID: u.ID})
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(page.Transactions) != 2 {
		t.Fatalf("transactions = %d, want 2", len(page.Transactions))
	}
	sum := 0
	for _, e := range page.Transactions {
		sum += e.Amount
	}
	if sum != 8 {
		t.Errorf("ledger sum = %d, want 8", sum)
	}
}
