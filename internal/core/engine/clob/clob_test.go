package clob

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vegaexchange/vegad/internal/core/engine"
	"github.com/vegaexchange/vegad/internal/core/ledger"
	"github.com/vegaexchange/vegad/internal/core/market"
	"github.com/vegaexchange/vegad/internal/storage/relationaldb"
	"github.com/vegaexchange/vegad/internal/storage/relationaldb/postgres"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	rm     *postgres.RepositoryManager
	engine *Engine
	symbol *market.Symbol
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	config := relationaldb.SQLiteConfig(filepath.Join(t.TempDir(), "clob_test.db"))
	rm, err := postgres.NewRepositoryManager(config)
	require.NoError(t, err)
	require.NoError(t, rm.Open(ctx))
	t.Cleanup(func() { rm.Close(ctx) })

	sym := &market.Symbol{
		Symbol:         "ORDER/USDT-USDT:SPOT",
		BaseAsset:      "ORDER",
		QuoteAsset:     "USDT",
		SettleAsset:    "USDT",
		Market:         market.MarketSpot,
		Engine:         market.EngineCLOB,
		PricePrecision: 8,
		QtyPrecision:   8,
		MinTradeAmount: dec("0.00000001"),
		MaxTradeAmount: dec("1000000000"),
		FeeRate:        dec("0.003"),
		EngineParams:   json.RawMessage(`{"maker_fee": "0.001", "taker_fee": "0.002"}`),
		Active:         true,
	}
	require.NoError(t, rm.Symbols().Create(ctx, sym))

	return &fixture{rm: rm, engine: New(sym), symbol: sym}
}

func (f *fixture) fund(t *testing.T, userID, currency, amount string) {
	t.Helper()
	require.NoError(t, ledger.New(f.rm.Balances()).Credit(
		context.Background(), userID, currency, dec(amount)))
}

func (f *fixture) balance(t *testing.T, userID, currency string) *relationaldb.Balance {
	t.Helper()
	b, err := ledger.New(f.rm.Balances()).Get(context.Background(), userID, currency)
	require.NoError(t, err)
	return b
}

func (f *fixture) place(t *testing.T, userID string, req PlaceRequest) *engine.TradeResult {
	t.Helper()
	var res *engine.TradeResult
	require.NoError(t, f.rm.WithTransaction(context.Background(), func(tx relationaldb.TransactionContext) error {
		var err error
		res, err = f.engine.PlaceOrder(context.Background(), tx, userID, req)
		return err
	}))
	return res
}

func (f *fixture) tryPlace(t *testing.T, userID string, req PlaceRequest) error {
	t.Helper()
	return f.rm.WithTransaction(context.Background(), func(tx relationaldb.TransactionContext) error {
		_, err := f.engine.PlaceOrder(context.Background(), tx, userID, req)
		return err
	})
}

func limit(side market.Side, price, qty string) PlaceRequest {
	return PlaceRequest{Side: side, Type: market.OrderLimit, Price: dec(price), Quantity: dec(qty)}
}

func marketOrder(side market.Side, qty string) PlaceRequest {
	return PlaceRequest{Side: side, Type: market.OrderMarket, Quantity: dec(qty)}
}

// A limit order with no cross rests on the book with its funds locked.
func TestLimitOrderRests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "100001", "USDT", "1000")

	res := f.place(t, "100001", limit(market.SideBuy, "10", "5"))
	assert.Equal(t, market.OrderOpen, res.OrderStatus)
	assert.True(t, res.Quantity.IsZero())
	assert.True(t, res.Remaining.Equal(dec("5")))
	assert.Empty(t, res.Fills)

	// Full notional locked.
	b := f.balance(t, "100001", "USDT")
	assert.True(t, b.Available.Equal(dec("950")))
	assert.True(t, b.Locked.Equal(dec("50")))

	// Persisted open and visible in depth.
	order, err := f.rm.Orders().Get(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, market.OrderOpen, order.Status)
	assert.True(t, order.LockedAmount.Equal(dec("50")))
	assert.Equal(t, "USDT", order.LockedAsset)

	depth, err := f.engine.Depth(ctx, f.rm.Orders(), 10)
	require.NoError(t, err)
	require.Len(t, depth.Bids, 1)
	assert.True(t, depth.Bids[0].Price.Equal(dec("10")))
	assert.True(t, depth.Bids[0].Quantity.Equal(dec("5")))
	assert.Empty(t, depth.Asks)
}

// A crossing buy executes at the maker's price, fees come off the received
// leg of each side, and the maker is left partially filled.
func TestLimitMatchPartialMaker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "100001", "ORDER", "10")
	f.fund(t, "200002", "USDT", "100")

	maker := f.place(t, "100001", limit(market.SideSell, "10", "10"))
	res := f.place(t, "200002", limit(market.SideBuy, "10", "4"))

	assert.Equal(t, market.OrderFilled, res.OrderStatus)
	assert.True(t, res.Quantity.Equal(dec("4")))
	assert.True(t, res.QuoteAmount.Equal(dec("40")))
	assert.True(t, res.Price.Equal(dec("10")))
	require.Len(t, res.Fills, 1)
	assert.Equal(t, maker.OrderID, res.Fills[0].MakerOrderID)

	// Taker receives base net of the taker fee: 4 - 4*0.002.
	taker := f.balance(t, "200002", "ORDER")
	assert.True(t, taker.Available.Equal(dec("3.992")))
	quote := f.balance(t, "200002", "USDT")
	assert.True(t, quote.Available.Equal(dec("60")))
	assert.True(t, quote.Locked.IsZero())

	// Maker receives quote net of the maker fee: 40 - 40*0.001.
	makerQuote := f.balance(t, "100001", "USDT")
	assert.True(t, makerQuote.Available.Equal(dec("39.96")))
	makerBase := f.balance(t, "100001", "ORDER")
	assert.True(t, makerBase.Locked.Equal(dec("6")))

	// Maker row updated to partial with the consumed lock released.
	row, err := f.rm.Orders().Get(ctx, maker.OrderID)
	require.NoError(t, err)
	assert.Equal(t, market.OrderPartial, row.Status)
	assert.True(t, row.FilledQuantity.Equal(dec("4")))
	assert.True(t, row.LockedAmount.Equal(dec("6")))

	// Per-fill trade row carries both order ids.
	trade, err := f.rm.Trades().Get(ctx, res.Fills[0].TradeID)
	require.NoError(t, err)
	assert.Equal(t, maker.OrderID, trade.MakerOrderID)
	assert.Equal(t, res.OrderID, trade.OrderID)
	assert.Equal(t, market.EngineCLOB, trade.Engine)
	assert.True(t, trade.FeeAmount.Equal(dec("0.008")))
	assert.Equal(t, "ORDER", trade.FeeAsset)
}

// Equal-priced makers fill in arrival order.
func TestFIFOPriority(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "100001", "ORDER", "3")
	f.fund(t, "200002", "ORDER", "3")
	f.fund(t, "300003", "USDT", "100")

	first := f.place(t, "100001", limit(market.SideSell, "10", "3"))
	second := f.place(t, "200002", limit(market.SideSell, "10", "3"))

	res := f.place(t, "300003", limit(market.SideBuy, "10", "4"))
	require.Len(t, res.Fills, 2)
	assert.Equal(t, first.OrderID, res.Fills[0].MakerOrderID)
	assert.True(t, res.Fills[0].Quantity.Equal(dec("3")))
	assert.Equal(t, second.OrderID, res.Fills[1].MakerOrderID)
	assert.True(t, res.Fills[1].Quantity.Equal(dec("1")))
}

// A buy priced above the best ask executes at the ask; the difference
// between the locked notional and the execution cost is released.
func TestPriceImprovementUnlock(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "100001", "ORDER", "4")
	f.fund(t, "200002", "USDT", "100")

	f.place(t, "100001", limit(market.SideSell, "10", "4"))
	res := f.place(t, "200002", limit(market.SideBuy, "12", "4"))

	assert.Equal(t, market.OrderFilled, res.OrderStatus)
	assert.True(t, res.Price.Equal(dec("10")), "executed at maker price, got %s", res.Price)

	// Locked 48, spent 40, released 8.
	b := f.balance(t, "200002", "USDT")
	assert.True(t, b.Available.Equal(dec("60")))
	assert.True(t, b.Locked.IsZero())
}

// A partially crossing limit buy fills what it can and rests the remainder
// with only the remainder's notional still locked.
func TestPartialTakerRests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "100001", "ORDER", "2")
	f.fund(t, "200002", "USDT", "100")

	f.place(t, "100001", limit(market.SideSell, "10", "2"))
	res := f.place(t, "200002", limit(market.SideBuy, "10", "5"))

	assert.Equal(t, market.OrderPartial, res.OrderStatus)
	assert.True(t, res.Quantity.Equal(dec("2")))
	assert.True(t, res.Remaining.Equal(dec("3")))

	// Locked 50, spent 20, remainder keeps 30.
	b := f.balance(t, "200002", "USDT")
	assert.True(t, b.Available.Equal(dec("50")))
	assert.True(t, b.Locked.Equal(dec("30")))

	row, err := f.rm.Orders().Get(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, market.OrderPartial, row.Status)
	assert.True(t, row.LockedAmount.Equal(dec("30")))

	depth, err := f.engine.Depth(ctx, f.rm.Orders(), 10)
	require.NoError(t, err)
	require.Len(t, depth.Bids, 1)
	assert.True(t, depth.Bids[0].Quantity.Equal(dec("3")))
}

// A market buy walks the ladder at each maker's price and locks exactly the
// walked cost.
func TestMarketBuyWalksLadder(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "100001", "ORDER", "5")
	f.fund(t, "200002", "ORDER", "5")
	f.fund(t, "300003", "USDT", "100")

	f.place(t, "100001", limit(market.SideSell, "10", "5"))
	f.place(t, "200002", limit(market.SideSell, "11", "5"))

	res := f.place(t, "300003", marketOrder(market.SideBuy, "8"))
	assert.Equal(t, market.OrderFilled, res.OrderStatus)
	assert.True(t, res.Quantity.Equal(dec("8")))
	assert.True(t, res.QuoteAmount.Equal(dec("83"))) // 5*10 + 3*11
	assert.True(t, res.Price.Equal(dec("10.375")))   // VWAP

	b := f.balance(t, "300003", "USDT")
	assert.True(t, b.Available.Equal(dec("17")))
	assert.True(t, b.Locked.IsZero())
	base := f.balance(t, "300003", "ORDER")
	assert.True(t, base.Available.Equal(dec("7.984"))) // 8 - 8*0.002
}

// A market order that outruns the book is filled for what matched; the
// remainder is never rested and everything unspent is released.
func TestMarketSellPartialFill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "100001", "USDT", "50")
	f.fund(t, "200002", "ORDER", "8")

	f.place(t, "100001", limit(market.SideBuy, "10", "5"))
	res := f.place(t, "200002", marketOrder(market.SideSell, "8"))

	assert.Equal(t, market.OrderFilled, res.OrderStatus)
	assert.True(t, res.Quantity.Equal(dec("5")))
	assert.True(t, res.Remaining.Equal(dec("3")))

	b := f.balance(t, "200002", "ORDER")
	assert.True(t, b.Available.Equal(dec("3")))
	assert.True(t, b.Locked.IsZero())
	quote := f.balance(t, "200002", "USDT")
	assert.True(t, quote.Available.Equal(dec("49.9"))) // 50 - 50*0.002

	row, err := f.rm.Orders().Get(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, market.OrderFilled, row.Status)
	assert.True(t, row.LockedAmount.IsZero())

	// The remainder is not resting on the book.
	depth, err := f.engine.Depth(ctx, f.rm.Orders(), 10)
	require.NoError(t, err)
	assert.Empty(t, depth.Asks)
}

func TestMarketOrderNoLiquidity(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "100001", "USDT", "100")

	err := f.tryPlace(t, "100001", marketOrder(market.SideBuy, "1"))
	assert.True(t, errors.Is(err, engine.ErrInsufficientLiquidity))
}

func TestPlaceValidation(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "100001", "USDT", "100")

	// Limit without price.
	err := f.tryPlace(t, "100001", PlaceRequest{
		Side: market.SideBuy, Type: market.OrderLimit, Quantity: dec("1")})
	assert.Equal(t, engine.KindValidation, engine.KindOf(err))

	// Market with price.
	err = f.tryPlace(t, "100001", PlaceRequest{
		Side: market.SideBuy, Type: market.OrderMarket, Price: dec("10"), Quantity: dec("1")})
	assert.Equal(t, engine.KindValidation, engine.KindOf(err))

	// Below the minimum trade amount.
	err = f.tryPlace(t, "100001", limit(market.SideBuy, "10", "0.000000001"))
	assert.True(t, errors.Is(err, engine.ErrQuantityOutOfBounds))

	// Not enough quote to back the lock.
	err = f.tryPlace(t, "100001", limit(market.SideBuy, "10", "11"))
	assert.True(t, errors.Is(err, engine.ErrInsufficientFunds))
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "100001", "USDT", "100")

	res := f.place(t, "100001", limit(market.SideBuy, "10", "5"))

	require.NoError(t, f.rm.WithTransaction(ctx, func(tx relationaldb.TransactionContext) error {
		_, err := f.engine.CancelOrder(ctx, tx, "100001", res.OrderID)
		return err
	}))

	b := f.balance(t, "100001", "USDT")
	assert.True(t, b.Available.Equal(dec("100")))
	assert.True(t, b.Locked.IsZero())

	row, err := f.rm.Orders().Get(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, market.OrderCancelled, row.Status)

	depth, err := f.engine.Depth(ctx, f.rm.Orders(), 10)
	require.NoError(t, err)
	assert.Empty(t, depth.Bids)

	// Cancelling a terminal order fails.
	err = f.rm.WithTransaction(ctx, func(tx relationaldb.TransactionContext) error {
		_, err := f.engine.CancelOrder(ctx, tx, "100001", res.OrderID)
		return err
	})
	assert.True(t, errors.Is(err, engine.ErrOrderNotCancellable))
}

func TestCancelRejectsOtherUsersAndUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "100001", "USDT", "100")

	res := f.place(t, "100001", limit(market.SideBuy, "10", "5"))

	err := f.rm.WithTransaction(ctx, func(tx relationaldb.TransactionContext) error {
		_, err := f.engine.CancelOrder(ctx, tx, "200002", res.OrderID)
		return err
	})
	assert.True(t, errors.Is(err, engine.ErrOrderNotCancellable))

	err = f.rm.WithTransaction(ctx, func(tx relationaldb.TransactionContext) error {
		_, err := f.engine.CancelOrder(ctx, tx, "100001", "9999999999999")
		return err
	})
	assert.True(t, errors.Is(err, engine.ErrOrderNotFound))
}

// Quote walks the ladder without side effects and reports the achievable
// fill, VWAP and estimated taker fee.
func TestQuoteVWAP(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "100001", "ORDER", "5")
	f.fund(t, "200002", "ORDER", "5")

	f.place(t, "100001", limit(market.SideSell, "10", "5"))
	f.place(t, "200002", limit(market.SideSell, "11", "5"))

	q, err := f.engine.Quote(ctx, f.rm.Orders(), market.SideBuy, dec("8"), decimal.Zero)
	require.NoError(t, err)
	assert.True(t, q.FillableQuantity.Equal(dec("8")))
	assert.True(t, q.InputAmount.Equal(dec("83")))
	assert.True(t, q.EffectivePrice.Equal(dec("10.375")))
	assert.True(t, q.FeeAmount.Equal(dec("0.016")))
	assert.True(t, q.OutputAmount.Equal(dec("7.984")))
	// Walking past the top ask moves the VWAP off the best price:
	// (10.375 - 10) / 10.
	assert.True(t, q.PriceImpact.Equal(dec("0.0375")))

	// A limit price walls off the deeper level.
	q, err = f.engine.Quote(ctx, f.rm.Orders(), market.SideBuy, dec("8"), dec("10"))
	require.NoError(t, err)
	assert.True(t, q.FillableQuantity.Equal(dec("5")))
	assert.True(t, q.PriceImpact.IsZero())

	// Quoting must not have touched the book.
	depth, err := f.engine.Depth(ctx, f.rm.Orders(), 10)
	require.NoError(t, err)
	require.Len(t, depth.Asks, 2)
	assert.True(t, depth.Asks[0].Quantity.Equal(dec("5")))
}

// A cold engine rebuilds its ladders from persisted open orders, preserving
// price and arrival order.
func TestRehydrate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "100001", "ORDER", "3")
	f.fund(t, "200002", "ORDER", "3")
	f.fund(t, "300003", "USDT", "100")

	first := f.place(t, "100001", limit(market.SideSell, "10", "3"))
	f.place(t, "200002", limit(market.SideSell, "10", "3"))
	f.place(t, "300003", limit(market.SideBuy, "9", "2"))

	cold := New(f.symbol)
	depth, err := cold.Depth(ctx, f.rm.Orders(), 10)
	require.NoError(t, err)
	require.Len(t, depth.Asks, 1)
	assert.True(t, depth.Asks[0].Quantity.Equal(dec("6")))
	assert.Equal(t, 2, depth.Asks[0].OrderCount)
	require.Len(t, depth.Bids, 1)

	// FIFO survives the rebuild: the older maker still fills first.
	f.fund(t, "400004", "USDT", "100")
	var res *engine.TradeResult
	require.NoError(t, f.rm.WithTransaction(ctx, func(tx relationaldb.TransactionContext) error {
		var err error
		res, err = cold.PlaceOrder(ctx, tx, "400004", limit(market.SideBuy, "10", "1"))
		return err
	}))
	require.Len(t, res.Fills, 1)
	assert.Equal(t, first.OrderID, res.Fills[0].MakerOrderID)
}

// Placement on a non-spot symbol is rejected before any funds move.
func TestSpotOnly(t *testing.T) {
	f := newFixture(t)
	perp := *f.symbol
	perp.Market = market.MarketPerp
	e := New(&perp)

	err := f.rm.WithTransaction(context.Background(), func(tx relationaldb.TransactionContext) error {
		_, err := e.PlaceOrder(context.Background(), tx, "100001", limit(market.SideBuy, "10", "1"))
		return err
	})
	assert.True(t, errors.Is(err, engine.ErrEngineDisabled))
}
