package postgres

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vegaexchange/vegad/internal/core/market"
	"github.com/vegaexchange/vegad/internal/storage/relationaldb"
)

func newTestManager(t *testing.T) *RepositoryManager {
	t.Helper()

	config := relationaldb.SQLiteConfig(filepath.Join(t.TempDir(), "vega_test.db"))
	rm, err := NewRepositoryManager(config)
	require.NoError(t, err)
	require.NoError(t, rm.Open(context.Background()))
	t.Cleanup(func() { rm.Close(context.Background()) })

	return rm
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2",
		rebind("postgres", "SELECT * FROM t WHERE a = ? AND b = ?"))
	assert.Equal(t, "SELECT * FROM t WHERE a = ? AND b = ?",
		rebind("sqlite", "SELECT * FROM t WHERE a = ? AND b = ?"))
}

func TestUserAndTokenLifecycle(t *testing.T) {
	rm := newTestManager(t)
	ctx := context.Background()

	user := &relationaldb.User{
		ID:           "482913",
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "x",
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, rm.Users().CreateUser(ctx, user))

	got, err := rm.Users().GetUser(ctx, "482913")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)

	byName, err := rm.Users().GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "482913", byName.ID)

	exists, err := rm.Users().UserExists(ctx, "482913")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = rm.Users().UserExists(ctx, "000000")
	require.NoError(t, err)
	assert.False(t, exists)

	// Duplicate username is rejected.
	dup := &relationaldb.User{ID: "777777", Username: "alice", Email: "other@example.com", PasswordHash: "y", CreatedAt: time.Now().UTC()}
	assert.Error(t, rm.Users().CreateUser(ctx, dup))

	// Duplicate email is rejected too.
	dupMail := &relationaldb.User{ID: "888888", Username: "alice2", Email: "alice@example.com", PasswordHash: "z", CreatedAt: time.Now().UTC()}
	assert.Error(t, rm.Users().CreateUser(ctx, dupMail))

	token := &relationaldb.AccessToken{
		Token:     "tok-1",
		UserID:    "482913",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, rm.Users().CreateToken(ctx, token))

	gotTok, err := rm.Users().GetToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "482913", gotTok.UserID)

	expired := &relationaldb.AccessToken{
		Token:     "tok-old",
		UserID:    "482913",
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
		CreatedAt: time.Now().UTC().Add(-2 * time.Hour),
	}
	require.NoError(t, rm.Users().CreateToken(ctx, expired))

	pruned, err := rm.Users().DeleteExpiredTokens(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	_, err = rm.Users().GetToken(ctx, "tok-old")
	assert.Error(t, err)
}

func TestBalanceRoundTrip(t *testing.T) {
	rm := newTestManager(t)
	ctx := context.Background()

	bal := &relationaldb.Balance{
		UserID:      "482913",
		AccountType: "SPOT",
		Currency:    "USDT",
		Available:   decimal.RequireFromString("1000000.123456789012345678"),
		Locked:      decimal.Zero,
		UpdatedAt:   time.Now().UTC(),
	}
	require.NoError(t, rm.Balances().Put(ctx, bal))

	got, err := rm.Balances().Get(ctx, "482913", "SPOT", "USDT")
	require.NoError(t, err)
	// Full 18-decimal precision survives the round trip.
	assert.True(t, got.Available.Equal(decimal.RequireFromString("1000000.123456789012345678")),
		"got %s", got.Available)

	// Upsert overwrites.
	bal.Available = decimal.RequireFromString("42")
	bal.Locked = decimal.RequireFromString("58")
	require.NoError(t, rm.Balances().Put(ctx, bal))

	got, err = rm.Balances().Get(ctx, "482913", "SPOT", "USDT")
	require.NoError(t, err)
	assert.True(t, got.Available.Equal(decimal.RequireFromString("42")))
	assert.True(t, got.Locked.Equal(decimal.RequireFromString("58")))
	assert.True(t, got.Total().Equal(decimal.RequireFromString("100")))

	_, err = rm.Balances().Get(ctx, "482913", "SPOT", "BTC")
	assert.True(t, errors.Is(err, relationaldb.ErrBalanceNotFound))

	list, err := rm.Balances().List(ctx, "482913", "SPOT")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSymbolRepository(t *testing.T) {
	rm := newTestManager(t)
	ctx := context.Background()

	sym := &market.Symbol{
		Symbol:         "AMM/USDT-USDT:SPOT",
		BaseAsset:      "AMM",
		QuoteAsset:     "USDT",
		SettleAsset:    "USDT",
		Market:         market.MarketSpot,
		Engine:         market.EngineAMM,
		PricePrecision: 8,
		QtyPrecision:   8,
		MinTradeAmount: decimal.RequireFromString("0.00000001"),
		MaxTradeAmount: decimal.RequireFromString("1000000"),
		FeeRate:        decimal.RequireFromString("0.003"),
		EngineParams:   []byte(`{"fee_rate":"0.003"}`),
		Active:         true,
	}
	require.NoError(t, rm.Symbols().Create(ctx, sym))
	require.NotZero(t, sym.ID)

	got, err := rm.Symbols().GetBySymbol(ctx, "AMM/USDT-USDT:SPOT")
	require.NoError(t, err)
	assert.Equal(t, market.EngineAMM, got.Engine)
	assert.Equal(t, sym.ID, got.ID)

	byID, err := rm.Symbols().GetByID(ctx, sym.ID)
	require.NoError(t, err)
	assert.Equal(t, "AMM/USDT-USDT:SPOT", byID.Symbol)

	_, err = rm.Symbols().GetBySymbol(ctx, "NO/SUCH-SYM:SPOT")
	assert.True(t, errors.Is(err, relationaldb.ErrSymbolNotFound))

	require.NoError(t, rm.Symbols().SetActive(ctx, sym.ID, false))

	active, err := rm.Symbols().List(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := rm.Symbols().List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestPoolPositionsAndEvents(t *testing.T) {
	rm := newTestManager(t)
	ctx := context.Background()
	now := time.Now().UTC()

	pool := &relationaldb.Pool{
		PoolID:        "0x00112233445566778899aabbccddeeff00112233",
		SymbolID:      1,
		ReserveBase:   decimal.RequireFromString("1000"),
		ReserveQuote:  decimal.RequireFromString("50000"),
		K:             decimal.RequireFromString("50000000"),
		FeeRate:       decimal.RequireFromString("0.003"),
		TotalLPShares: decimal.RequireFromString("7071.067811"),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, rm.Pools().Create(ctx, pool))

	got, err := rm.Pools().GetBySymbolID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, pool.PoolID, got.PoolID)

	got.ReserveBase = decimal.RequireFromString("990")
	got.ReserveQuote = decimal.RequireFromString("50505.05")
	require.NoError(t, rm.Pools().Update(ctx, got))

	updated, err := rm.Pools().GetByPoolID(ctx, pool.PoolID)
	require.NoError(t, err)
	assert.True(t, updated.ReserveBase.Equal(decimal.RequireFromString("990")))

	pos := &relationaldb.LPPosition{
		PoolID:    pool.PoolID,
		UserID:    "482913",
		Shares:    decimal.RequireFromString("100"),
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, rm.Pools().PutPosition(ctx, pos))

	pos.Shares = decimal.RequireFromString("150")
	require.NoError(t, rm.Pools().PutPosition(ctx, pos))

	gotPos, err := rm.Pools().GetPosition(ctx, pool.PoolID, "482913")
	require.NoError(t, err)
	assert.True(t, gotPos.Shares.Equal(decimal.RequireFromString("150")))

	ev := &relationaldb.LPEvent{
		PoolID:      pool.PoolID,
		UserID:      "482913",
		Action:      "add",
		BaseAmount:  decimal.RequireFromString("10"),
		QuoteAmount: decimal.RequireFromString("500"),
		Shares:      decimal.RequireFromString("50"),
		CreatedAt:   now,
	}
	require.NoError(t, rm.Pools().AppendEvent(ctx, ev))

	events, err := rm.Pools().ListEvents(ctx, pool.PoolID, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "add", events[0].Action)
}

func TestOrderLifecycle(t *testing.T) {
	rm := newTestManager(t)
	ctx := context.Background()
	now := time.Now().UTC()

	order := &relationaldb.Order{
		OrderID:        "1756000000000",
		SymbolID:       2,
		UserID:         "482913",
		Side:           market.SideBuy,
		Type:           market.OrderLimit,
		Price:          decimal.RequireFromString("10.5"),
		Quantity:       decimal.RequireFromString("100"),
		FilledQuantity: decimal.Zero,
		Status:         market.OrderOpen,
		LockedAmount:   decimal.RequireFromString("1050"),
		LockedAsset:    "USDT",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, rm.Orders().Insert(ctx, order))
	assert.Error(t, rm.Orders().Insert(ctx, order), "duplicate id must be rejected")

	open, err := rm.Orders().ListOpen(ctx, 2)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.True(t, open[0].Remaining().Equal(decimal.RequireFromString("100")))

	order.FilledQuantity = decimal.RequireFromString("40")
	order.Status = market.OrderPartial
	order.LockedAmount = decimal.RequireFromString("630")
	require.NoError(t, rm.Orders().Update(ctx, order))

	got, err := rm.Orders().Get(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, market.OrderPartial, got.Status)
	assert.True(t, got.Remaining().Equal(decimal.RequireFromString("60")))

	order.Status = market.OrderCancelled
	require.NoError(t, rm.Orders().Update(ctx, order))

	open, err = rm.Orders().ListOpen(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, open)

	byUser, err := rm.Orders().ListByFilter(ctx, relationaldb.OrderFilter{
		UserID:   "482913",
		Statuses: []market.OrderStatus{market.OrderCancelled},
	})
	require.NoError(t, err)
	assert.Len(t, byUser, 1)
}

func TestTradeRepository(t *testing.T) {
	rm := newTestManager(t)
	ctx := context.Background()

	trade := &relationaldb.Trade{
		TradeID:     "1756000000001",
		SymbolID:    1,
		UserID:      "482913",
		Side:        market.SideBuy,
		Engine:      market.EngineAMM,
		Price:       decimal.RequireFromString("50.5"),
		Quantity:    decimal.RequireFromString("10"),
		QuoteAmount: decimal.RequireFromString("505"),
		FeeAmount:   decimal.RequireFromString("0.03"),
		FeeAsset:    "AMM",
		Status:      market.TradePending,
		EngineData:  []byte(`{"price_impact":"0.002"}`),
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, rm.Trades().Insert(ctx, trade))
	require.NoError(t, rm.Trades().UpdateStatus(ctx, trade.TradeID, market.TradeCompleted))

	got, err := rm.Trades().Get(ctx, trade.TradeID)
	require.NoError(t, err)
	assert.Equal(t, market.TradeCompleted, got.Status)
	assert.JSONEq(t, `{"price_impact":"0.002"}`, string(got.EngineData))

	list, err := rm.Trades().ListByFilter(ctx, relationaldb.TradeFilter{SymbolID: 1, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	none, err := rm.Trades().ListByFilter(ctx, relationaldb.TradeFilter{UserID: "999999"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestWithTransactionRollback(t *testing.T) {
	rm := newTestManager(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := rm.WithTransaction(ctx, func(tx relationaldb.TransactionContext) error {
		bal := &relationaldb.Balance{
			UserID:      "111111",
			AccountType: "SPOT",
			Currency:    "USDT",
			Available:   decimal.RequireFromString("10"),
			UpdatedAt:   time.Now().UTC(),
		}
		if err := tx.Balances().Put(ctx, bal); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// The write must not be visible after rollback.
	_, err = rm.Balances().Get(ctx, "111111", "SPOT", "USDT")
	assert.True(t, errors.Is(err, relationaldb.ErrBalanceNotFound))
}

func TestWithTransactionCommit(t *testing.T) {
	rm := newTestManager(t)
	ctx := context.Background()

	err := rm.WithTransaction(ctx, func(tx relationaldb.TransactionContext) error {
		return tx.Balances().Put(ctx, &relationaldb.Balance{
			UserID:      "222222",
			AccountType: "SPOT",
			Currency:    "VEGA",
			Available:   decimal.RequireFromString("10000"),
			UpdatedAt:   time.Now().UTC(),
		})
	})
	require.NoError(t, err)

	got, err := rm.Balances().Get(ctx, "222222", "SPOT", "VEGA")
	require.NoError(t, err)
	assert.True(t, got.Available.Equal(decimal.RequireFromString("10000")))
}
