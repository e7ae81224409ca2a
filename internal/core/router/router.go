// Package router dispatches trade operations to the engine bound to each
// symbol. It owns the binding cache, the per-symbol locks, the quarantine
// of symbols that violated an invariant, and event publication after commit.
package router

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"

	"github.com/vegaexchange/vegad/internal/core/engine"
	"github.com/vegaexchange/vegad/internal/core/engine/amm"
	"github.com/vegaexchange/vegad/internal/core/engine/clob"
	"github.com/vegaexchange/vegad/internal/core/market"
	"github.com/vegaexchange/vegad/internal/events"
	"github.com/vegaexchange/vegad/internal/storage/relationaldb"
)

const (
	// bindingCacheSize bounds the number of cached symbol bindings.
	bindingCacheSize = 512
	// recentTradesPerSymbol bounds the per-symbol recent trade ring.
	recentTradesPerSymbol = 50
	// defaultDepthLevels is the depth snapshot size for orderbook events.
	defaultDepthLevels = 20
)

// binding ties a symbol to its engine singleton and serialization lock.
// Engine handles are reused for the process lifetime so in-memory CLOB
// state survives across requests.
type binding struct {
	symbol *market.Symbol
	amm    *amm.Engine
	clob   *clob.Engine

	// sem is a one-slot semaphore: the symbol mutex with context-aware
	// acquisition.
	sem         chan struct{}
	quarantined atomic.Bool
}

// Router resolves symbols to engines and runs every mutating operation
// under the symbol lock inside one storage transaction.
type Router struct {
	store  relationaldb.RepositoryManager
	bus    *events.Bus
	logger *log.Logger

	mu       sync.RWMutex
	bindings map[string]*binding

	recent *lru.Cache[string, []*engine.TradeResult]
}

// New creates a router over the given store and event bus.
func New(store relationaldb.RepositoryManager, bus *events.Bus, logger *log.Logger) *Router {
	if logger == nil {
		logger = log.Default()
	}
	recent, _ := lru.New[string, []*engine.TradeResult](bindingCacheSize)
	return &Router{
		store:    store,
		bus:      bus,
		logger:   logger,
		bindings: make(map[string]*binding),
		recent:   recent,
	}
}

// Resolve canonicalizes the symbol path and returns its binding, creating
// it on first use.
func (r *Router) Resolve(ctx context.Context, symbolPath string) (*binding, error) {
	const op = "router.resolve"

	canon, err := market.ParseSymbolPath(symbolPath)
	if err != nil {
		return nil, engine.NewValidation(op, "malformed symbol", engine.ErrUnknownSymbol)
	}

	r.mu.RLock()
	b, ok := r.bindings[canon]
	r.mu.RUnlock()
	if ok {
		return b, nil
	}

	sym, err := r.store.Symbols().GetBySymbol(ctx, canon)
	if err != nil {
		if relationaldb.IsNotFound(err) {
			return nil, engine.NewValidation(op, "unknown symbol "+canon, engine.ErrUnknownSymbol)
		}
		return nil, engine.NewTransient(op, "symbol lookup failed", err)
	}
	if !sym.Active {
		return nil, engine.NewIntegrity(op, "symbol is inactive", engine.ErrEngineDisabled)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.bindings[canon]; ok {
		return b, nil
	}
	b = &binding{symbol: sym, sem: make(chan struct{}, 1)}
	switch sym.Engine {
	case market.EngineAMM:
		b.amm = amm.New(sym)
	case market.EngineCLOB:
		b.clob = clob.New(sym)
	default:
		return nil, engine.NewIntegrity(op, "symbol has no engine binding", engine.ErrEngineDisabled)
	}
	r.bindings[canon] = b
	return b, nil
}

// Invalidate drops a cached binding. Called after admin symbol changes.
func (r *Router) Invalidate(symbolPath string) {
	canon, err := market.ParseSymbolPath(symbolPath)
	if err != nil {
		return
	}
	r.mu.Lock()
	delete(r.bindings, canon)
	r.mu.Unlock()
}

// Quarantined reports whether a symbol has been quarantined after an
// invariant violation.
func (r *Router) Quarantined(symbolPath string) bool {
	canon, err := market.ParseSymbolPath(symbolPath)
	if err != nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[canon]
	return ok && b.quarantined.Load()
}

// acquire takes the symbol lock, honoring the context deadline and the
// quarantine flag.
func (r *Router) acquire(ctx context.Context, b *binding) error {
	const op = "router.lock"

	if b.quarantined.Load() {
		return engine.NewFatal(op, "symbol quarantined after invariant violation", engine.ErrInvariantViolation)
	}
	select {
	case b.sem <- struct{}{}:
	case <-ctx.Done():
		return engine.NewTransient(op, "timed out awaiting symbol lock", engine.ErrDeadlineExceeded)
	}
	if b.quarantined.Load() {
		<-b.sem
		return engine.NewFatal(op, "symbol quarantined after invariant violation", engine.ErrInvariantViolation)
	}
	return nil
}

func (r *Router) release(b *binding) { <-b.sem }

// observeFailure quarantines the symbol on a fatal error and raises an
// operational alert on the bus.
func (r *Router) observeFailure(b *binding, op string, err error) {
	if engine.KindOf(err) != engine.KindFatal {
		return
	}
	b.quarantined.Store(true)
	r.logger.Printf("[router] QUARANTINE symbol=%s op=%s err=%v", b.symbol.Symbol, op, err)
	r.bus.Publish(events.Event{
		Channel: events.ChannelSystem,
		Symbol:  b.symbol.Symbol,
		Data: map[string]any{
			"alert":     "symbol_quarantined",
			"operation": op,
			"error":     err.Error(),
		},
	})
}

func (r *Router) recordTrade(symbol string, res *engine.TradeResult) {
	ring, _ := r.recent.Get(symbol)
	ring = append(ring, res)
	if len(ring) > recentTradesPerSymbol {
		ring = ring[len(ring)-recentTradesPerSymbol:]
	}
	r.recent.Add(symbol, ring)
}

// RecentTrades returns the newest-last ring of trade results for a symbol.
func (r *Router) RecentTrades(symbolPath string) []*engine.TradeResult {
	canon, err := market.ParseSymbolPath(symbolPath)
	if err != nil {
		return nil
	}
	ring, _ := r.recent.Get(canon)
	return ring
}

// PoolSwapUpdate is the payload of a pool channel event after a swap.
type PoolSwapUpdate struct {
	Pool  *engine.PoolState   `json:"pool"`
	Trade *engine.TradeResult `json:"trade,omitempty"`
}

// PoolLiquidityUpdate is the payload of a pool channel event after an
// add/remove liquidity operation.
type PoolLiquidityUpdate struct {
	Pool      *engine.PoolState       `json:"pool"`
	Liquidity *engine.LiquidityResult `json:"liquidity"`
	Action    string                  `json:"action"`
}

// OrderbookUpdate is the payload of an orderbook channel event.
type OrderbookUpdate struct {
	Depth *engine.Depth       `json:"depth"`
	Trade *engine.TradeResult `json:"trade,omitempty"`
}

// Swap executes an AMM swap for the user. The ledger movement, pool
// mutation, and trade row commit in one transaction under the symbol lock;
// events are published before the lock is released.
func (r *Router) Swap(ctx context.Context, userID, symbolPath string, side market.Side, amountIn, minAmountOut decimal.Decimal) (*engine.TradeResult, error) {
	const op = "router.swap"

	b, err := r.Resolve(ctx, symbolPath)
	if err != nil {
		return nil, err
	}
	if b.symbol.Engine != market.EngineAMM {
		return nil, engine.NewIntegrity(op, "swap requires an AMM symbol", engine.ErrSymbolBindingMismatch)
	}
	if err := r.acquire(ctx, b); err != nil {
		return nil, err
	}
	defer r.release(b)

	var (
		res   *engine.TradeResult
		state *engine.PoolState
	)
	err = r.store.WithTransaction(ctx, func(tx relationaldb.TransactionContext) error {
		var err error
		res, err = b.amm.Swap(ctx, tx, userID, side, amountIn, minAmountOut)
		if err != nil {
			return err
		}
		pool, err := tx.Pools().GetBySymbolID(ctx, b.symbol.ID)
		if err != nil {
			return engine.NewTransient(op, "pool read-back failed", err)
		}
		state = b.amm.State(pool)
		return nil
	})
	if err != nil {
		r.observeFailure(b, op, err)
		return nil, err
	}

	r.recordTrade(b.symbol.Symbol, res)
	r.bus.Publish(events.Event{
		Channel: events.PoolChannel(b.symbol.Symbol),
		Symbol:  b.symbol.Symbol,
		Data:    PoolSwapUpdate{Pool: state, Trade: res},
	})
	r.bus.Publish(events.Event{Channel: events.ChannelTrade, Symbol: b.symbol.Symbol, Data: res})
	r.bus.Publish(events.Event{Channel: events.UserChannel(userID), Symbol: b.symbol.Symbol, Data: res})
	return res, nil
}

// PoolQuote prices a swap against the current pool snapshot without taking
// the symbol lock.
func (r *Router) PoolQuote(ctx context.Context, symbolPath string, req amm.QuoteRequest) (*engine.Quote, error) {
	const op = "router.pool_quote"

	b, err := r.Resolve(ctx, symbolPath)
	if err != nil {
		return nil, err
	}
	if b.symbol.Engine != market.EngineAMM {
		return nil, engine.NewIntegrity(op, "quote requires an AMM symbol", engine.ErrSymbolBindingMismatch)
	}
	pool, err := r.store.Pools().GetBySymbolID(ctx, b.symbol.ID)
	if err != nil {
		if relationaldb.IsNotFound(err) {
			return nil, engine.NewState(op, "pool not initialized", engine.ErrInsufficientLiquidity)
		}
		return nil, engine.NewTransient(op, "pool read failed", err)
	}
	return b.amm.Quote(pool, req)
}

// PoolState returns the AMM pool snapshot for market-data reads.
func (r *Router) PoolState(ctx context.Context, symbolPath string) (*engine.PoolState, error) {
	const op = "router.pool_state"

	b, err := r.Resolve(ctx, symbolPath)
	if err != nil {
		return nil, err
	}
	if b.symbol.Engine != market.EngineAMM {
		return nil, engine.NewIntegrity(op, "pool state requires an AMM symbol", engine.ErrSymbolBindingMismatch)
	}
	pool, err := r.store.Pools().GetBySymbolID(ctx, b.symbol.ID)
	if err != nil {
		if relationaldb.IsNotFound(err) {
			return nil, engine.NewState(op, "pool not initialized", engine.ErrInsufficientLiquidity)
		}
		return nil, engine.NewTransient(op, "pool read failed", err)
	}
	return b.amm.State(pool), nil
}

// AddLiquidity deposits into the symbol's pool.
func (r *Router) AddLiquidity(ctx context.Context, userID, symbolPath string, baseAmount, quoteAmount decimal.Decimal) (*engine.LiquidityResult, error) {
	return r.liquidity(ctx, userID, symbolPath, "add", func(tx relationaldb.TransactionContext, b *binding) (*engine.LiquidityResult, error) {
		return b.amm.AddLiquidity(ctx, tx, userID, baseAmount, quoteAmount)
	})
}

// RemoveLiquidity burns LP shares from the symbol's pool.
func (r *Router) RemoveLiquidity(ctx context.Context, userID, symbolPath string, shares decimal.Decimal) (*engine.LiquidityResult, error) {
	return r.liquidity(ctx, userID, symbolPath, "remove", func(tx relationaldb.TransactionContext, b *binding) (*engine.LiquidityResult, error) {
		return b.amm.RemoveLiquidity(ctx, tx, userID, shares)
	})
}

func (r *Router) liquidity(ctx context.Context, userID, symbolPath, action string, fn func(relationaldb.TransactionContext, *binding) (*engine.LiquidityResult, error)) (*engine.LiquidityResult, error) {
	const op = "router.liquidity"

	b, err := r.Resolve(ctx, symbolPath)
	if err != nil {
		return nil, err
	}
	if b.symbol.Engine != market.EngineAMM {
		return nil, engine.NewIntegrity(op, "liquidity requires an AMM symbol", engine.ErrSymbolBindingMismatch)
	}
	if err := r.acquire(ctx, b); err != nil {
		return nil, err
	}
	defer r.release(b)

	var (
		res   *engine.LiquidityResult
		state *engine.PoolState
	)
	err = r.store.WithTransaction(ctx, func(tx relationaldb.TransactionContext) error {
		var err error
		res, err = fn(tx, b)
		if err != nil {
			return err
		}
		pool, err := tx.Pools().GetBySymbolID(ctx, b.symbol.ID)
		if err != nil {
			return engine.NewTransient(op, "pool read-back failed", err)
		}
		state = b.amm.State(pool)
		return nil
	})
	if err != nil {
		r.observeFailure(b, op, err)
		return nil, err
	}

	r.bus.Publish(events.Event{
		Channel: events.PoolChannel(b.symbol.Symbol),
		Symbol:  b.symbol.Symbol,
		Data:    PoolLiquidityUpdate{Pool: state, Liquidity: res, Action: action},
	})
	r.bus.Publish(events.Event{Channel: events.UserChannel(userID), Symbol: b.symbol.Symbol, Data: res})
	return res, nil
}

// PlaceOrder places a CLOB order. On any post-validation failure the
// in-memory book is invalidated and rebuilt from storage on the next
// operation, since the rolled-back transaction may have diverged from it.
func (r *Router) PlaceOrder(ctx context.Context, userID, symbolPath string, req clob.PlaceRequest) (*engine.TradeResult, error) {
	const op = "router.place_order"

	b, err := r.Resolve(ctx, symbolPath)
	if err != nil {
		return nil, err
	}
	if b.symbol.Engine != market.EngineCLOB {
		return nil, engine.NewIntegrity(op, "order placement requires a CLOB symbol", engine.ErrSymbolBindingMismatch)
	}
	if err := r.acquire(ctx, b); err != nil {
		return nil, err
	}
	defer r.release(b)

	var res *engine.TradeResult
	err = r.store.WithTransaction(ctx, func(tx relationaldb.TransactionContext) error {
		var err error
		res, err = b.clob.PlaceOrder(ctx, tx, userID, req)
		return err
	})
	if err != nil {
		if engine.KindOf(err) != engine.KindValidation {
			b.clob.Invalidate()
		}
		r.observeFailure(b, op, err)
		return nil, err
	}

	r.recordTrade(b.symbol.Symbol, res)
	r.publishOrderbook(ctx, b, res)
	r.bus.Publish(events.Event{Channel: events.UserChannel(userID), Symbol: b.symbol.Symbol, Data: res})
	for _, fill := range res.Fills {
		r.bus.Publish(events.Event{Channel: events.ChannelTrade, Symbol: b.symbol.Symbol, Data: fill})
		if fill.MakerUserID != userID {
			r.bus.Publish(events.Event{
				Channel: events.UserChannel(fill.MakerUserID),
				Symbol:  b.symbol.Symbol,
				Data:    fill,
			})
		}
	}
	return res, nil
}

// CancelOrder cancels the user's open order and publishes the refreshed
// depth.
func (r *Router) CancelOrder(ctx context.Context, userID, symbolPath, orderID string) (*relationaldb.Order, error) {
	const op = "router.cancel_order"

	b, err := r.Resolve(ctx, symbolPath)
	if err != nil {
		return nil, err
	}
	if b.symbol.Engine != market.EngineCLOB {
		return nil, engine.NewIntegrity(op, "cancel requires a CLOB symbol", engine.ErrSymbolBindingMismatch)
	}
	if err := r.acquire(ctx, b); err != nil {
		return nil, err
	}
	defer r.release(b)

	var order *relationaldb.Order
	err = r.store.WithTransaction(ctx, func(tx relationaldb.TransactionContext) error {
		var err error
		order, err = b.clob.CancelOrder(ctx, tx, userID, orderID)
		return err
	})
	if err != nil {
		if engine.KindOf(err) != engine.KindValidation && engine.KindOf(err) != engine.KindState {
			b.clob.Invalidate()
		}
		r.observeFailure(b, op, err)
		return nil, err
	}

	r.publishOrderbook(ctx, b, nil)
	r.bus.Publish(events.Event{Channel: events.UserChannel(userID), Symbol: b.symbol.Symbol, Data: order})
	return order, nil
}

func (r *Router) publishOrderbook(ctx context.Context, b *binding, res *engine.TradeResult) {
	depth, err := b.clob.Depth(ctx, r.store.Orders(), defaultDepthLevels)
	if err != nil {
		r.logger.Printf("[router] depth snapshot failed symbol=%s err=%v", b.symbol.Symbol, err)
		return
	}
	r.bus.Publish(events.Event{
		Channel: events.OrderbookChannel(b.symbol.Symbol),
		Symbol:  b.symbol.Symbol,
		Data:    OrderbookUpdate{Depth: depth, Trade: res},
	})
}

// OrderbookQuote prices a hypothetical order against the current ladders.
// Taken under the symbol lock because a cold book hydrates on first use.
func (r *Router) OrderbookQuote(ctx context.Context, symbolPath string, side market.Side, quantity, limitPrice decimal.Decimal) (*engine.Quote, error) {
	const op = "router.orderbook_quote"

	b, err := r.Resolve(ctx, symbolPath)
	if err != nil {
		return nil, err
	}
	if b.symbol.Engine != market.EngineCLOB {
		return nil, engine.NewIntegrity(op, "orderbook quote requires a CLOB symbol", engine.ErrSymbolBindingMismatch)
	}
	if err := r.acquire(ctx, b); err != nil {
		return nil, err
	}
	defer r.release(b)
	return b.clob.Quote(ctx, r.store.Orders(), side, quantity, limitPrice)
}

// Depth returns the aggregated book for a CLOB symbol.
func (r *Router) Depth(ctx context.Context, symbolPath string, levels int) (*engine.Depth, error) {
	const op = "router.depth"

	b, err := r.Resolve(ctx, symbolPath)
	if err != nil {
		return nil, err
	}
	if b.symbol.Engine != market.EngineCLOB {
		return nil, engine.NewIntegrity(op, "depth requires a CLOB symbol", engine.ErrSymbolBindingMismatch)
	}
	if err := r.acquire(ctx, b); err != nil {
		return nil, err
	}
	defer r.release(b)
	return b.clob.Depth(ctx, r.store.Orders(), levels)
}

// Symbol returns the cached symbol model for a path.
func (r *Router) Symbol(ctx context.Context, symbolPath string) (*market.Symbol, error) {
	b, err := r.Resolve(ctx, symbolPath)
	if err != nil {
		return nil, err
	}
	return b.symbol, nil
}

// CreateSymbol persists a new symbol, seeds its pool for AMM bindings, and
// invalidates any stale cache entry.
func (r *Router) CreateSymbol(ctx context.Context, sym *market.Symbol) error {
	const op = "router.create_symbol"

	if !sym.Engine.Valid() {
		return engine.NewValidation(op, "invalid engine kind", engine.ErrMissingParameter)
	}
	if err := r.store.Symbols().Create(ctx, sym); err != nil {
		return engine.NewTransient(op, "symbol create failed", err)
	}
	if sym.Engine == market.EngineAMM {
		err := r.store.WithTransaction(ctx, func(tx relationaldb.TransactionContext) error {
			_, err := amm.EnsurePool(ctx, tx, sym)
			return err
		})
		if err != nil {
			return err
		}
	}
	r.Invalidate(sym.Symbol)
	return nil
}
