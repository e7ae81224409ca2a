// Package ledger implements the simulated balance ledger. Every balance is a
// (user, account type, currency) row with an available/locked split; trading
// flows move value available -> locked -> spent so a failed operation never
// leaves funds double-spendable.
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vegaexchange/vegad/internal/core/engine"
	"github.com/vegaexchange/vegad/internal/storage/relationaldb"
)

// AccountSpot is the only account type in use. The column exists so margin
// or futures accounts can be added without a schema change.
const AccountSpot = "SPOT"

// DefaultBalances are credited to every new user at registration.
var DefaultBalances = map[string]string{
	"USDT":  "1000000",
	"ORDER": "1000",
	"AMM":   "1000",
	"VEGA":  "10000",
}

// Ledger wraps a balance repository with the movement rules. Construct one
// per transaction with the repository bound to that transaction.
type Ledger struct {
	balances relationaldb.BalanceRepository
}

// New creates a ledger over the given balance repository.
func New(balances relationaldb.BalanceRepository) *Ledger {
	return &Ledger{balances: balances}
}

// get returns the row, or a zero row when none exists yet.
func (l *Ledger) get(ctx context.Context, userID, currency string) (*relationaldb.Balance, error) {
	b, err := l.balances.Get(ctx, userID, AccountSpot, currency)
	if err != nil {
		if relationaldb.IsNotFound(err) {
			return &relationaldb.Balance{
				UserID:      userID,
				AccountType: AccountSpot,
				Currency:    currency,
				Available:   decimal.Zero,
				Locked:      decimal.Zero,
			}, nil
		}
		return nil, engine.NewTransient("ledger.get", "balance read failed", err)
	}
	return b, nil
}

func (l *Ledger) put(ctx context.Context, b *relationaldb.Balance) error {
	b.UpdatedAt = time.Now().UTC()
	if err := l.balances.Put(ctx, b); err != nil {
		return engine.NewTransient("ledger.put", "balance write failed", err)
	}
	return nil
}

// Get returns the current balance row for a currency. Missing rows read as
// zero.
func (l *Ledger) Get(ctx context.Context, userID, currency string) (*relationaldb.Balance, error) {
	return l.get(ctx, userID, currency)
}

// List returns all balance rows for a user.
func (l *Ledger) List(ctx context.Context, userID string) ([]relationaldb.Balance, error) {
	balances, err := l.balances.List(ctx, userID, AccountSpot)
	if err != nil {
		return nil, engine.NewTransient("ledger.list", "balance list failed", err)
	}
	return balances, nil
}

// Credit adds amount to the available balance.
func (l *Ledger) Credit(ctx context.Context, userID, currency string, amount decimal.Decimal) error {
	if err := requirePositive("ledger.credit", amount); err != nil {
		return err
	}
	b, err := l.get(ctx, userID, currency)
	if err != nil {
		return err
	}
	b.Available = b.Available.Add(amount)
	return l.put(ctx, b)
}

// Debit removes amount from the available balance, failing when it would go
// negative.
func (l *Ledger) Debit(ctx context.Context, userID, currency string, amount decimal.Decimal) error {
	if err := requirePositive("ledger.debit", amount); err != nil {
		return err
	}
	b, err := l.get(ctx, userID, currency)
	if err != nil {
		return err
	}
	if b.Available.LessThan(amount) {
		return engine.NewState("ledger.debit", "insufficient available balance", engine.ErrInsufficientFunds)
	}
	b.Available = b.Available.Sub(amount)
	return l.put(ctx, b)
}

// Lock moves amount from available to locked.
func (l *Ledger) Lock(ctx context.Context, userID, currency string, amount decimal.Decimal) error {
	if err := requirePositive("ledger.lock", amount); err != nil {
		return err
	}
	b, err := l.get(ctx, userID, currency)
	if err != nil {
		return err
	}
	if b.Available.LessThan(amount) {
		return engine.NewState("ledger.lock", "insufficient available balance", engine.ErrInsufficientFunds)
	}
	b.Available = b.Available.Sub(amount)
	b.Locked = b.Locked.Add(amount)
	return l.put(ctx, b)
}

// Unlock moves amount from locked back to available. Used on cancellation
// and when an execution consumes less than was locked.
func (l *Ledger) Unlock(ctx context.Context, userID, currency string, amount decimal.Decimal) error {
	if err := requirePositive("ledger.unlock", amount); err != nil {
		return err
	}
	b, err := l.get(ctx, userID, currency)
	if err != nil {
		return err
	}
	if b.Locked.LessThan(amount) {
		return engine.NewFatal("ledger.unlock", "unlock exceeds locked balance", engine.ErrInvariantViolation)
	}
	b.Locked = b.Locked.Sub(amount)
	b.Available = b.Available.Add(amount)
	return l.put(ctx, b)
}

// Spend consumes amount from the locked balance. An overdraw here means a
// lock was sized wrong upstream, which is an invariant violation rather
// than a user error.
func (l *Ledger) Spend(ctx context.Context, userID, currency string, amount decimal.Decimal) error {
	if err := requirePositive("ledger.spend", amount); err != nil {
		return err
	}
	b, err := l.get(ctx, userID, currency)
	if err != nil {
		return err
	}
	if b.Locked.LessThan(amount) {
		return engine.NewFatal("ledger.spend", "spend exceeds locked balance", engine.ErrInvariantViolation)
	}
	b.Locked = b.Locked.Sub(amount)
	return l.put(ctx, b)
}

// Transfer debits the available balance of one user and credits another.
func (l *Ledger) Transfer(ctx context.Context, fromUser, toUser, currency string, amount decimal.Decimal) error {
	if err := l.Debit(ctx, fromUser, currency, amount); err != nil {
		return err
	}
	return l.Credit(ctx, toUser, currency, amount)
}

// SeedDefaults credits the default starting balances to a new user.
func (l *Ledger) SeedDefaults(ctx context.Context, userID string) error {
	for currency, amount := range DefaultBalances {
		if err := l.Credit(ctx, userID, currency, decimal.RequireFromString(amount)); err != nil {
			return err
		}
	}
	return nil
}

func requirePositive(op string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return engine.NewValidation(op, "amount must be positive", engine.ErrMalformedAmount)
	}
	return nil
}
