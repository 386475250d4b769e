package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/digkill/tryon/internal/models"
	"github.com/digkill/tryon/internal/repository/memory"
)

func TestReserveNeverOverspends(t *testing.T) {
	for _, balance := range []int{0, 1, 3, 7} {
		users := memory.NewUsers()
		users.Put(models.UserAccount{UserID: "u1", Credits: intPtr(balance)})
		ledger := NewLedger(users, testDefaultCredits, testLogger())

		var ok atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := ledger.Reserve(context.Background(), "u1", 1)
				switch {
				case err == nil:
					ok.Add(1)
				case !errors.Is(err, ErrInsufficientCredits):
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		if got := int(ok.Load()); got != balance {
			t.Fatalf("balance %d: got %d successful reservations", balance, got)
		}
		left, _ := ledger.Balance(context.Background(), "u1")
		if left != 0 {
			t.Fatalf("balance %d: got %d credits left, want 0", balance, left)
		}
	}
}

func TestReserveMaterializesDefaultForLegacyAccount(t *testing.T) {
	users := memory.NewUsers()
	users.Put(models.UserAccount{UserID: "legacy"})
	ledger := NewLedger(users, testDefaultCredits, testLogger())

	if err := ledger.Reserve(context.Background(), "legacy", 1); err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	acc, _ := users.Get(context.Background(), "legacy")
	if acc.Credits == nil || *acc.Credits != testDefaultCredits-1 {
		t.Fatalf("got credits %v, want %d", acc.Credits, testDefaultCredits-1)
	}

	if err := ledger.Reserve(context.Background(), "brand-new", 1); err != nil {
		t.Fatalf("Reserve for unknown account returned error: %v", err)
	}
	if b, _ := ledger.Balance(context.Background(), "brand-new"); b != testDefaultCredits-1 {
		t.Fatalf("got %d, want %d", b, testDefaultCredits-1)
	}
}

func TestReserveRejectsEmptyBalance(t *testing.T) {
	users := memory.NewUsers()
	users.Put(models.UserAccount{UserID: "u1", Credits: intPtr(0)})
	ledger := NewLedger(users, testDefaultCredits, testLogger())

	if err := ledger.Reserve(context.Background(), "u1", 1); !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("got %v, want ErrInsufficientCredits", err)
	}
	if b, _ := ledger.Balance(context.Background(), "u1"); b != 0 {
		t.Fatalf("got balance %d, want 0", b)
	}
}

func TestRefundIsAppliedOncePerJob(t *testing.T) {
	users := memory.NewUsers()
	users.Put(models.UserAccount{UserID: "u1", Credits: intPtr(4)})
	ledger := NewLedger(users, testDefaultCredits, testLogger())

	for i := 0; i < 3; i++ {
		if err := ledger.Refund(context.Background(), "u1", 1, "job-1"); err != nil {
			t.Fatalf("Refund returned error: %v", err)
		}
	}
	if b, _ := ledger.Balance(context.Background(), "u1"); b != 5 {
		t.Fatalf("got balance %d, want 5", b)
	}
	if !users.Processed("u1", "refund:job-1") {
		t.Fatal("refund key was not recorded")
	}
}

func TestTopupIsIdempotentPerPayment(t *testing.T) {
	users := memory.NewUsers()
	users.Put(models.UserAccount{UserID: "u1", Credits: intPtr(1)})
	ledger := NewLedger(users, testDefaultCredits, testLogger())

	if err := ledger.Topup(context.Background(), "u1", 25, "pay-1"); err != nil {
		t.Fatalf("Topup returned error: %v", err)
	}
	if err := ledger.Topup(context.Background(), "u1", 25, "pay-1"); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("got %v, want ErrAlreadyProcessed", err)
	}
	if b, _ := ledger.Balance(context.Background(), "u1"); b != 26 {
		t.Fatalf("got balance %d, want 26", b)
	}
}

func TestTopupWithoutPaymentIDIsUnguarded(t *testing.T) {
	users := memory.NewUsers()
	users.Put(models.UserAccount{UserID: "u1", Credits: intPtr(0)})
	ledger := NewLedger(users, testDefaultCredits, testLogger())

	for i := 0; i < 2; i++ {
		if err := ledger.Topup(context.Background(), "u1", 10, ""); err != nil {
			t.Fatalf("Topup returned error: %v", err)
		}
	}
	if b, _ := ledger.Balance(context.Background(), "u1"); b != 20 {
		t.Fatalf("got balance %d, want 20", b)
	}
}

func TestConcurrentTopupDeliveriesCreditOnce(t *testing.T) {
	users := memory.NewUsers()
	users.Put(models.UserAccount{UserID: "u1", Credits: intPtr(0)})
	ledger := NewLedger(users, testDefaultCredits, testLogger())

	var credited atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ledger.Topup(context.Background(), "u1", 10, "pay-7"); err == nil {
				credited.Add(1)
			}
		}()
	}
	wg.Wait()

	if credited.Load() != 1 {
		t.Fatalf("got %d credited deliveries, want 1", credited.Load())
	}
	if b, _ := ledger.Balance(context.Background(), "u1"); b != 10 {
		t.Fatalf("got balance %d, want 10", b)
	}
}

func TestGrantRequiresKey(t *testing.T) {
	ledger := NewLedger(memory.NewUsers(), testDefaultCredits, testLogger())
	if err := ledger.Grant(context.Background(), "u1", 3, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("got %v, want ErrValidation", err)
	}
	if err := ledger.Grant(context.Background(), "u1", 3, "ticket-9"); err != nil {
		t.Fatalf("Grant returned error: %v", err)
	}
	if err := ledger.Grant(context.Background(), "u1", 3, "ticket-9"); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("got %v, want ErrAlreadyProcessed", err)
	}
	if b, _ := ledger.Balance(context.Background(), "u1"); b != testDefaultCredits+3 {
		t.Fatalf("got balance %d, want %d", b, testDefaultCredits+3)
	}
}
