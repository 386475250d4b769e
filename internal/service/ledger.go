package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/digkill/tryon/internal/repository"
)

// Ledger owns every credit mutation. Each operation is one conditional write
// evaluated by the store.
type Ledger struct {
	accounts       AccountStore
	defaultBalance int
	log            *slog.Logger
}

func NewLedger(accounts AccountStore, defaultBalance int, log *slog.Logger) *Ledger {
	return &Ledger{accounts: accounts, defaultBalance: defaultBalance, log: log}
}

// Reserve debits amount credits or returns ErrInsufficientCredits.
func (l *Ledger) Reserve(ctx context.Context, userID string, amount int) error {
	if amount <= 0 {
		return fmt.Errorf("%w: reserve amount must be positive", ErrValidation)
	}
	outcome, err := l.accounts.Debit(ctx, userID, amount, l.defaultBalance)
	if err != nil {
		return fmt.Errorf("reserve credits: %w", err)
	}
	if outcome == repository.PreconditionFailed {
		return ErrInsufficientCredits
	}
	return nil
}

// Refund returns credits reserved for jobID. The job id is recorded as an
// idempotency key, so retrying the failure path refunds once.
func (l *Ledger) Refund(ctx context.Context, userID string, amount int, jobID string) error {
	if amount <= 0 {
		return nil
	}
	key := ""
	if jobID != "" {
		key = "refund:" + jobID
	}
	outcome, err := l.accounts.Credit(ctx, userID, amount, l.defaultBalance, key)
	if err != nil {
		return fmt.Errorf("refund credits: %w", err)
	}
	if outcome == repository.PreconditionFailed {
		l.log.Info("refund already applied", "user_id", userID, "job_id", jobID)
	}
	return nil
}

// Topup credits a payment. A payment id seen before yields ErrAlreadyProcessed
// and leaves the balance untouched. Without a payment id the credit is applied
// unguarded.
func (l *Ledger) Topup(ctx context.Context, userID string, amount int, paymentID string) error {
	if amount <= 0 {
		return nil
	}
	key := ""
	if paymentID != "" {
		key = "payment:" + paymentID
	} else {
		l.log.Warn("topup without payment id, applying without idempotency guard", "user_id", userID, "amount", amount)
	}
	outcome, err := l.accounts.Credit(ctx, userID, amount, l.defaultBalance, key)
	if err != nil {
		return fmt.Errorf("topup credits: %w", err)
	}
	if outcome == repository.PreconditionFailed {
		return ErrAlreadyProcessed
	}
	return nil
}

// Grant applies a manual credit adjustment keyed by an operator supplied key.
func (l *Ledger) Grant(ctx context.Context, userID string, amount int, key string) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if key == "" {
		return fmt.Errorf("%w: idempotency key is required", ErrValidation)
	}
	outcome, err := l.accounts.Credit(ctx, userID, amount, l.defaultBalance, "grant:"+key)
	if err != nil {
		return fmt.Errorf("grant credits: %w", err)
	}
	if outcome == repository.PreconditionFailed {
		return ErrAlreadyProcessed
	}
	return nil
}

func (l *Ledger) Balance(ctx context.Context, userID string) (int, error) {
	acc, err := l.accounts.Get(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("get account: %w", err)
	}
	return acc.Balance(l.defaultBalance), nil
}
