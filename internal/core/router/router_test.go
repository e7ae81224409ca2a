package router

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vegaexchange/vegad/internal/core/engine"
	"github.com/vegaexchange/vegad/internal/core/engine/clob"
	"github.com/vegaexchange/vegad/internal/core/ledger"
	"github.com/vegaexchange/vegad/internal/core/market"
	"github.com/vegaexchange/vegad/internal/events"
	"github.com/vegaexchange/vegad/internal/storage/relationaldb"
	"github.com/vegaexchange/vegad/internal/storage/relationaldb/postgres"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	rm     *postgres.RepositoryManager
	bus    *events.Bus
	router *Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	config := relationaldb.SQLiteConfig(filepath.Join(t.TempDir(), "router_test.db"))
	rm, err := postgres.NewRepositoryManager(config)
	require.NoError(t, err)
	require.NoError(t, rm.Open(ctx))
	t.Cleanup(func() { rm.Close(ctx) })

	bus := events.NewBus()
	t.Cleanup(bus.Close)

	r := New(rm, bus, nil)

	ammSym := &market.Symbol{
		Symbol:         "AMM/USDT-USDT:SPOT",
		BaseAsset:      "AMM",
		QuoteAsset:     "USDT",
		SettleAsset:    "USDT",
		Market:         market.MarketSpot,
		Engine:         market.EngineAMM,
		PricePrecision: 8,
		QtyPrecision:   8,
		MinTradeAmount: dec("0.00000001"),
		MaxTradeAmount: dec("1000000000"),
		FeeRate:        dec("0.003"),
		Active:         true,
	}
	require.NoError(t, r.CreateSymbol(ctx, ammSym))

	clobSym := &market.Symbol{
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
		Active:         true,
	}
	require.NoError(t, r.CreateSymbol(ctx, clobSym))

	return &fixture{rm: rm, bus: bus, router: r}
}

func (f *fixture) fund(t *testing.T, userID, currency, amount string) {
	t.Helper()
	require.NoError(t, ledger.New(f.rm.Balances()).Credit(
		context.Background(), userID, currency, dec(amount)))
}

func (f *fixture) seedPool(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	f.fund(t, "100001", "AMM", "100")
	f.fund(t, "100001", "USDT", "1000")
	_, err := f.router.AddLiquidity(ctx, "100001", "AMM/USDT-USDT:SPOT", dec("100"), dec("1000"))
	require.NoError(t, err)
}

func drain(sub *events.Subscription) []events.Event {
	var out []events.Event
	for {
		select {
		case ev := <-sub.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestResolveUnknownSymbol(t *testing.T) {
	f := newFixture(t)
	_, err := f.router.Swap(context.Background(), "100001", "NOPE/USDT-USDT:SPOT",
		market.SideBuy, dec("1"), decimal.Zero)
	assert.True(t, errors.Is(err, engine.ErrUnknownSymbol))
}

// Both URL path shapes resolve to the same binding.
func TestSymbolPathVariants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.router.Resolve(ctx, "AMM/USDT/USDT/SPOT")
	require.NoError(t, err)
	b, err := f.router.Resolve(ctx, "AMM-USDT-USDT-SPOT")
	require.NoError(t, err)
	c, err := f.router.Resolve(ctx, "AMM/USDT-USDT:SPOT")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Same(t, a, c)
}

func TestBindingMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.router.Swap(ctx, "100001", "ORDER/USDT-USDT:SPOT",
		market.SideBuy, dec("1"), decimal.Zero)
	assert.True(t, errors.Is(err, engine.ErrSymbolBindingMismatch))

	_, err = f.router.PlaceOrder(ctx, "100001", "AMM/USDT-USDT:SPOT", clob.PlaceRequest{
		Side: market.SideBuy, Type: market.OrderLimit, Price: dec("10"), Quantity: dec("1")})
	assert.True(t, errors.Is(err, engine.ErrSymbolBindingMismatch))

	_, err = f.router.AddLiquidity(ctx, "100001", "ORDER/USDT-USDT:SPOT", dec("1"), dec("1"))
	assert.True(t, errors.Is(err, engine.ErrSymbolBindingMismatch))
}

// A swap publishes the pool update, the firehose trade, and the user event
// to every subscriber, in commit order.
func TestSwapPublishesEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPool(t)
	f.fund(t, "200002", "USDT", "200")

	subA := f.bus.Subscribe(16)
	subB := f.bus.Subscribe(16)

	res, err := f.router.Swap(ctx, "200002", "AMM/USDT-USDT:SPOT",
		market.SideBuy, dec("100"), decimal.Zero)
	require.NoError(t, err)
	require.Equal(t, market.TradeCompleted, res.Status)

	for _, sub := range []*events.Subscription{subA, subB} {
		evs := drain(sub)
		require.Len(t, evs, 3)

		assert.Equal(t, events.PoolChannel("AMM/USDT-USDT:SPOT"), evs[0].Channel)
		update, ok := evs[0].Data.(PoolSwapUpdate)
		require.True(t, ok)
		assert.True(t, update.Pool.ReserveQuote.Equal(dec("1099.7")))
		assert.Equal(t, res.TradeID, update.Trade.TradeID)

		assert.Equal(t, events.ChannelTrade, evs[1].Channel)
		assert.Equal(t, events.UserChannel("200002"), evs[2].Channel)
	}

	recent := f.router.RecentTrades("AMM/USDT-USDT:SPOT")
	require.Len(t, recent, 1)
	assert.Equal(t, res.TradeID, recent[0].TradeID)
}

// Engine handles are singletons, so resting CLOB state survives across
// requests on the same router.
func TestBindingSingleton(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "100001", "USDT", "100")

	res, err := f.router.PlaceOrder(ctx, "100001", "ORDER/USDT-USDT:SPOT", clob.PlaceRequest{
		Side: market.SideBuy, Type: market.OrderLimit, Price: dec("10"), Quantity: dec("5")})
	require.NoError(t, err)
	assert.Equal(t, market.OrderOpen, res.OrderStatus)

	depth, err := f.router.Depth(ctx, "ORDER/USDT-USDT:SPOT", 10)
	require.NoError(t, err)
	require.Len(t, depth.Bids, 1)
	assert.True(t, depth.Bids[0].Quantity.Equal(dec("5")))

	order, err := f.router.CancelOrder(ctx, "100001", "ORDER/USDT-USDT:SPOT", res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, market.OrderCancelled, order.Status)

	depth, err = f.router.Depth(ctx, "ORDER/USDT-USDT:SPOT", 10)
	require.NoError(t, err)
	assert.Empty(t, depth.Bids)
}

// A match notifies the maker on their private channel and pushes the depth
// snapshot on the orderbook channel.
func TestPlaceOrderPublishesMakerEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "100001", "ORDER", "5")
	f.fund(t, "200002", "USDT", "100")

	_, err := f.router.PlaceOrder(ctx, "100001", "ORDER/USDT-USDT:SPOT", clob.PlaceRequest{
		Side: market.SideSell, Type: market.OrderLimit, Price: dec("10"), Quantity: dec("5")})
	require.NoError(t, err)

	sub := f.bus.Subscribe(16)
	_, err = f.router.PlaceOrder(ctx, "200002", "ORDER/USDT-USDT:SPOT", clob.PlaceRequest{
		Side: market.SideBuy, Type: market.OrderLimit, Price: dec("10"), Quantity: dec("2")})
	require.NoError(t, err)

	channels := make(map[string]int)
	for _, ev := range drain(sub) {
		channels[ev.Channel]++
	}
	assert.Equal(t, 1, channels[events.OrderbookChannel("ORDER/USDT-USDT:SPOT")])
	assert.Equal(t, 1, channels[events.UserChannel("200002")])
	assert.Equal(t, 1, channels[events.UserChannel("100001")])
	assert.Equal(t, 1, channels[events.ChannelTrade])
}

// The symbol lock acquisition honors the request deadline.
func TestLockHonorsDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPool(t)
	f.fund(t, "200002", "USDT", "200")

	b, err := f.router.Resolve(ctx, "AMM/USDT-USDT:SPOT")
	require.NoError(t, err)

	// Hold the symbol lock so the swap has to wait past its deadline.
	b.sem <- struct{}{}
	defer func() { <-b.sem }()

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = f.router.Swap(short, "200002", "AMM/USDT-USDT:SPOT",
		market.SideBuy, dec("100"), decimal.Zero)
	assert.True(t, errors.Is(err, engine.ErrDeadlineExceeded))
}

// After a fatal error the symbol is quarantined: operations fail and an
// operational alert goes out on the system channel.
func TestQuarantine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPool(t)
	f.fund(t, "200002", "USDT", "200")

	sub := f.bus.Subscribe(16)
	b, err := f.router.Resolve(ctx, "AMM/USDT-USDT:SPOT")
	require.NoError(t, err)

	f.router.observeFailure(b, "test", engine.NewFatal("test", "reserves negative", engine.ErrInvariantViolation))
	require.True(t, f.router.Quarantined("AMM/USDT-USDT:SPOT"))

	evs := drain(sub)
	require.Len(t, evs, 1)
	assert.Equal(t, events.ChannelSystem, evs[0].Channel)

	_, err = f.router.Swap(ctx, "200002", "AMM/USDT-USDT:SPOT",
		market.SideBuy, dec("100"), decimal.Zero)
	assert.Equal(t, engine.KindFatal, engine.KindOf(err))

	// A state error does not quarantine.
	require.False(t, f.router.Quarantined("ORDER/USDT-USDT:SPOT"))
}

// A failed operation leaves no events behind.
func TestFailedOperationPublishesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPool(t)

	sub := f.bus.Subscribe(16)
	_, err := f.router.Swap(ctx, "999999", "AMM/USDT-USDT:SPOT",
		market.SideBuy, dec("100"), decimal.Zero)
	require.Error(t, err)
	assert.Empty(t, drain(sub))
}

func TestPoolQuoteAndState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPool(t)

	state, err := f.router.PoolState(ctx, "AMM/USDT-USDT:SPOT")
	require.NoError(t, err)
	assert.True(t, state.Price.Equal(dec("10")))

	q, err := f.router.OrderbookQuote(ctx, "ORDER/USDT-USDT:SPOT",
		market.SideBuy, dec("1"), decimal.Zero)
	require.NoError(t, err)
	assert.True(t, q.FillableQuantity.IsZero())
}
