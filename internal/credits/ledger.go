// Package credits tracks and debits the per-user AI usage quota.
package credits

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/formpulse/formpulse/internal/core"
	"github.com/formpulse/formpulse/internal/storage"
)

// MinimumGate is the hard floor checked before starting any paid step. A
// user below the gate has the step skipped entirely: not retried, not
// failed, only logged.
const MinimumGate = 1.0

// Ledger mediates every mutation of credit accounts. The sufficiency check
// and the debit are deliberately separate operations, not one atomic unit:
// two simultaneous runs for the same user can both pass the check and both
// debit. That matches the platform's observed behavior; remaining balances
// are clamped to zero on read.
type Ledger struct {
	store  storage.Store
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a Ledger over the given store.
func NewLedger(store storage.Store, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{store: store, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Remaining returns the user's readable balance, floored at zero. The
// monthly period is reset lazily here when it has rolled over.
func (l *Ledger) Remaining(ctx context.Context, userID string) (float64, error) {
	account, err := l.load(ctx, userID)
	if err != nil {
		return 0, err
	}
	return account.Remaining(), nil
}

// HasSufficient reports whether the user clears the minimum gate for a paid
// step.
func (l *Ledger) HasSufficient(ctx context.Context, userID string) (bool, error) {
	remaining, err := l.Remaining(ctx, userID)
	if err != nil {
		return false, err
	}
	return remaining >= MinimumGate, nil
}

// Debit consumes amount from the user's quota. The debit succeeds even when
// it drives usage above the monthly limit; overdraw shows up as a zero
// remaining balance on the next read.
func (l *Ledger) Debit(ctx context.Context, userID string, amount float64) (float64, error) {
	if amount < 0 {
		return 0, core.Errorf(core.CategoryValidation, "debit amount cannot be negative: %f", amount)
	}

	account, err := l.load(ctx, userID)
	if err != nil {
		return 0, err
	}

	account.Used += amount
	if err := l.store.SaveCreditAccount(ctx, account); err != nil {
		return 0, fmt.Errorf("failed to persist debit for user %s: %w", userID, err)
	}

	remaining := account.Remaining()
	l.logger.Debug("debited ai credits",
		"user_id", userID,
		"amount", amount,
		"remaining", remaining,
	)
	return remaining, nil
}

// load fetches the account and applies the lazy monthly rollover.
func (l *Ledger) load(ctx context.Context, userID string) (*core.CreditAccount, error) {
	if userID == "" {
		return nil, core.Errorf(core.CategoryValidation, "user id cannot be empty")
	}

	account, err := l.store.CreditAccount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load credit account for %s: %w", userID, err)
	}

	currentPeriod := core.MonthStart(l.now().UTC())
	if account.PeriodStart.Before(currentPeriod) {
		account.Used = 0
		account.PeriodStart = currentPeriod
		if err := l.store.SaveCreditAccount(ctx, account); err != nil {
			return nil, fmt.Errorf("failed to reset credit period for %s: %w", userID, err)
		}
		l.logger.Info("credit period rolled over", "user_id", userID, "period_start", currentPeriod)
	}
	return account, nil
}
