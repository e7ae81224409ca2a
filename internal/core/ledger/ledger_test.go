package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/vegaexchange/vegad/internal/core/engine"
	"github.com/vegaexchange/vegad/internal/storage/relationaldb"
)

// memBalances is an in-memory BalanceRepository for unit tests.
type memBalances struct {
	rows map[string]relationaldb.Balance
}

func newMemBalances() *memBalances {
	return &memBalances{rows: make(map[string]relationaldb.Balance)}
}

func key(userID, accountType, currency string) string {
	return userID + "|" + accountType + "|" + currency
}

func (m *memBalances) Get(ctx context.Context, userID, accountType, currency string) (*relationaldb.Balance, error) {
	b, ok := m.rows[key(userID, accountType, currency)]
	if !ok {
		return nil, relationaldb.ErrBalanceNotFound
	}
	copied := b
	return &copied, nil
}

func (m *memBalances) List(ctx context.Context, userID, accountType string) ([]relationaldb.Balance, error) {
	var out []relationaldb.Balance
	for _, b := range m.rows {
		if b.UserID == userID && b.AccountType == accountType {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memBalances) Put(ctx context.Context, balance *relationaldb.Balance) error {
	m.rows[key(balance.UserID, balance.AccountType, balance.Currency)] = *balance
	return nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCreditDebit(t *testing.T) {
	l := New(newMemBalances())
	ctx := context.Background()

	require.NoError(t, l.Credit(ctx, "100001", "USDT", dec("100")))
	require.NoError(t, l.Debit(ctx, "100001", "USDT", dec("40")))

	b, err := l.Get(ctx, "100001", "USDT")
	require.NoError(t, err)
	assert.True(t, b.Available.Equal(dec("60")))

	err = l.Debit(ctx, "100001", "USDT", dec("61"))
	assert.True(t, errors.Is(err, engine.ErrInsufficientFunds))

	// Failed debit leaves the balance unchanged.
	b, err = l.Get(ctx, "100001", "USDT")
	require.NoError(t, err)
	assert.True(t, b.Available.Equal(dec("60")))
}

func TestLockUnlockSpend(t *testing.T) {
	l := New(newMemBalances())
	ctx := context.Background()

	require.NoError(t, l.Credit(ctx, "100001", "USDT", dec("100")))
	require.NoError(t, l.Lock(ctx, "100001", "USDT", dec("70")))

	b, _ := l.Get(ctx, "100001", "USDT")
	assert.True(t, b.Available.Equal(dec("30")))
	assert.True(t, b.Locked.Equal(dec("70")))
	assert.True(t, b.Total().Equal(dec("100")))

	// Locking more than available fails.
	err := l.Lock(ctx, "100001", "USDT", dec("31"))
	assert.True(t, errors.Is(err, engine.ErrInsufficientFunds))

	require.NoError(t, l.Spend(ctx, "100001", "USDT", dec("50")))
	require.NoError(t, l.Unlock(ctx, "100001", "USDT", dec("20")))

	b, _ = l.Get(ctx, "100001", "USDT")
	assert.True(t, b.Available.Equal(dec("50")))
	assert.True(t, b.Locked.IsZero())

	// Unlocking beyond locked is an invariant violation, not a user error.
	err = l.Unlock(ctx, "100001", "USDT", dec("1"))
	require.Error(t, err)
	assert.Equal(t, engine.KindFatal, engine.KindOf(err))
}

func TestRejectsNonPositiveAmounts(t *testing.T) {
	l := New(newMemBalances())
	ctx := context.Background()

	for _, amount := range []string{"0", "-1"} {
		assert.Error(t, l.Credit(ctx, "100001", "USDT", dec(amount)))
		assert.Error(t, l.Debit(ctx, "100001", "USDT", dec(amount)))
		assert.Error(t, l.Lock(ctx, "100001", "USDT", dec(amount)))
	}
}

func TestTransfer(t *testing.T) {
	l := New(newMemBalances())
	ctx := context.Background()

	require.NoError(t, l.Credit(ctx, "100001", "VEGA", dec("10")))
	require.NoError(t, l.Transfer(ctx, "100001", "100002", "VEGA", dec("4")))

	from, _ := l.Get(ctx, "100001", "VEGA")
	to, _ := l.Get(ctx, "100002", "VEGA")
	assert.True(t, from.Available.Equal(dec("6")))
	assert.True(t, to.Available.Equal(dec("4")))
}

func TestSeedDefaults(t *testing.T) {
	l := New(newMemBalances())
	ctx := context.Background()

	require.NoError(t, l.SeedDefaults(ctx, "100001"))

	usdt, _ := l.Get(ctx, "100001", "USDT")
	assert.True(t, usdt.Available.Equal(dec("1000000")))
	vega, _ := l.Get(ctx, "100001", "VEGA")
	assert.True(t, vega.Available.Equal(dec("10000")))
	balances, err := l.List(ctx, "100001")
	require.NoError(t, err)
	assert.Len(t, balances, len(DefaultBalances))
}

// Total value is conserved by lock/unlock/spend sequences, and available and
// locked never go negative.
func TestLockFlowConservation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		l := New(newMemBalances())
		ctx := context.Background()

		initial := decimal.New(rapid.Int64Range(1, 1_000_000).Draw(t, "initial"), 0)
		require.NoError(t, l.Credit(ctx, "u", "USDT", initial))

		spent := decimal.Zero
		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			b, err := l.Get(ctx, "u", "USDT")
			require.NoError(t, err)

			amount := decimal.New(rapid.Int64Range(1, 1_000_000).Draw(t, "amount"), 0)
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				if b.Available.GreaterThanOrEqual(amount) {
					require.NoError(t, l.Lock(ctx, "u", "USDT", amount))
				}
			case 1:
				if b.Locked.GreaterThanOrEqual(amount) {
					require.NoError(t, l.Unlock(ctx, "u", "USDT", amount))
				}
			case 2:
				if b.Locked.GreaterThanOrEqual(amount) {
					require.NoError(t, l.Spend(ctx, "u", "USDT", amount))
					spent = spent.Add(amount)
				}
			}

			b, err = l.Get(ctx, "u", "USDT")
			require.NoError(t, err)
			assert.False(t, b.Available.IsNegative())
			assert.False(t, b.Locked.IsNegative())
			assert.True(t, b.Total().Add(spent).Equal(initial),
				"conservation: total %s + spent %s != initial %s", b.Total(), spent, initial)
		}
	})
}
