// Package clob implements the central limit order book engine: price-time
// priority matching with partial fills, funds locking, and write-through
// persistence of resting orders. The ladders live in process memory and are
// rebuilt from open order rows on startup.
package clob

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vegaexchange/vegad/internal/core/engine"
	"github.com/vegaexchange/vegad/internal/core/ident"
	"github.com/vegaexchange/vegad/internal/core/ledger"
	"github.com/vegaexchange/vegad/internal/core/market"
	"github.com/vegaexchange/vegad/internal/core/num"
	"github.com/vegaexchange/vegad/internal/storage/relationaldb"
)

// Default fee rates when the symbol's engine params carry none.
var (
	defaultMakerFee = decimal.New(1, -3) // 0.001
	defaultTakerFee = decimal.New(2, -3) // 0.002
)

// Engine is the CLOB matching engine for one symbol. The in-memory book is
// engine state; the router serializes all access through the symbol mutex,
// so the engine itself holds no locks.
type Engine struct {
	symbol   *market.Symbol
	book     *book
	hydrated bool

	makerFee decimal.Decimal
	takerFee decimal.Decimal
}

// New creates a CLOB engine bound to a symbol. The book starts cold; the
// first operation rehydrates it from persisted open orders.
func New(symbol *market.Symbol) *Engine {
	return &Engine{
		symbol:   symbol,
		book:     newBook(),
		makerFee: symbol.EngineParam("maker_fee", defaultMakerFee),
		takerFee: symbol.EngineParam("taker_fee", defaultTakerFee),
	}
}

func (e *Engine) Symbol() *market.Symbol { return e.symbol }

// Invalidate marks the in-memory book stale. The next operation rebuilds it
// from storage. Called by the router when a transaction fails after the book
// may have been touched.
func (e *Engine) Invalidate() {
	e.hydrated = false
}

// Rehydrate rebuilds the book from OPEN and PARTIAL order rows. Rows arrive
// oldest first, which reproduces FIFO priority at each price level.
func (e *Engine) Rehydrate(ctx context.Context, orders relationaldb.OrderRepository) error {
	rows, err := orders.ListOpen(ctx, e.symbol.ID)
	if err != nil {
		return engine.NewTransient("clob.rehydrate", "open order scan failed", err)
	}
	e.book = newBook()
	for i := range rows {
		o := rows[i]
		e.book.add(&o)
	}
	e.hydrated = true
	return nil
}

func (e *Engine) ensureHydrated(ctx context.Context, orders relationaldb.OrderRepository) error {
	if e.hydrated {
		return nil
	}
	return e.Rehydrate(ctx, orders)
}

// PlaceRequest is a new order. Price must be positive for limit orders and
// zero for market orders.
type PlaceRequest struct {
	Side     market.Side
	Type     market.OrderType
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// plannedFill is one maker match computed during the planning walk.
type plannedFill struct {
	maker       *relationaldb.Order
	price       decimal.Decimal
	quantity    decimal.Decimal
	quoteAmount decimal.Decimal
}

func (e *Engine) validatePlace(req PlaceRequest) error {
	const op = "clob.place"

	if !e.symbol.Spot() {
		return engine.NewIntegrity(op, "order book trading is spot only", engine.ErrEngineDisabled)
	}
	if !req.Side.Valid() {
		return engine.NewValidation(op, "invalid side", engine.ErrMissingParameter)
	}
	if !req.Quantity.IsPositive() {
		return engine.NewValidation(op, "quantity must be positive", engine.ErrMalformedAmount)
	}
	if req.Quantity.LessThan(e.symbol.MinTradeAmount) ||
		(e.symbol.MaxTradeAmount.IsPositive() && req.Quantity.GreaterThan(e.symbol.MaxTradeAmount)) {
		return engine.NewValidation(op, "quantity outside trade bounds", engine.ErrQuantityOutOfBounds)
	}
	switch req.Type {
	case market.OrderLimit:
		if !req.Price.IsPositive() {
			return engine.NewValidation(op, "limit orders require a positive price", engine.ErrMalformedAmount)
		}
	case market.OrderMarket:
		if !req.Price.IsZero() {
			return engine.NewValidation(op, "market orders must not carry a price", engine.ErrMalformedAmount)
		}
	default:
		return engine.NewValidation(op, "invalid order type", engine.ErrMissingParameter)
	}
	return nil
}

// plan walks the opposite ladder and computes the fills a taker would
// receive, without mutating anything.
func (e *Engine) plan(side market.Side, limitPrice, quantity decimal.Decimal) []plannedFill {
	var fills []plannedFill
	remaining := quantity

	ladder := *e.book.ladder(side.Opposite())
	for _, lv := range ladder {
		if !remaining.IsPositive() || !crosses(side, limitPrice, lv.price) {
			break
		}
		for _, maker := range lv.orders {
			if !remaining.IsPositive() {
				break
			}
			q := decimal.Min(remaining, maker.Remaining())
			quoteAmt := num.RoundDown(lv.price.Mul(q), e.symbol.QtyPrecision)
			if !q.IsPositive() || !quoteAmt.IsPositive() {
				// A match that rounds to nothing is not produced.
				continue
			}
			fills = append(fills, plannedFill{
				maker:       maker,
				price:       lv.price,
				quantity:    q,
				quoteAmount: quoteAmt,
			})
			remaining = remaining.Sub(q)
		}
	}
	return fills
}

// Quote walks the opposite ladder and returns the achievable fill and VWAP
// for the given quantity. A zero limit price quotes the full ladder.
func (e *Engine) Quote(ctx context.Context, orders relationaldb.OrderRepository, side market.Side, quantity, limitPrice decimal.Decimal) (*engine.Quote, error) {
	const op = "clob.quote"

	if !quantity.IsPositive() {
		return nil, engine.NewValidation(op, "quantity must be positive", engine.ErrMalformedAmount)
	}
	if err := e.ensureHydrated(ctx, orders); err != nil {
		return nil, err
	}

	// Top of the opposite ladder is the reference for price impact.
	ref := decimal.Zero
	if lv := e.book.best(side.Opposite()); lv != nil {
		ref = lv.price
	}

	fills := e.plan(side, limitPrice, quantity)
	fillable, quoteTotal := decimal.Zero, decimal.Zero
	for _, f := range fills {
		fillable = fillable.Add(f.quantity)
		quoteTotal = quoteTotal.Add(f.quoteAmount)
	}

	vwap := decimal.Zero
	if fillable.IsPositive() {
		vwap = num.Clamp(quoteTotal.Div(fillable))
	}
	impact := decimal.Zero
	if vwap.IsPositive() && ref.IsPositive() {
		impact = num.Clamp(vwap.Sub(ref).Abs().Div(ref))
	}

	var inAsset, outAsset string
	var inAmount, outAmount, feeAmount decimal.Decimal
	if side == market.SideBuy {
		inAsset, outAsset = e.symbol.QuoteAsset, e.symbol.BaseAsset
		inAmount, outAmount = quoteTotal, fillable
	} else {
		inAsset, outAsset = e.symbol.BaseAsset, e.symbol.QuoteAsset
		inAmount, outAmount = fillable, quoteTotal
	}
	feeAmount = num.RoundDown(outAmount.Mul(e.takerFee), e.symbol.PricePrecision)

	return &engine.Quote{
		Symbol:           e.symbol.Symbol,
		Side:             side,
		Engine:           market.EngineCLOB,
		InputAsset:       inAsset,
		InputAmount:      inAmount,
		OutputAsset:      outAsset,
		OutputAmount:     outAmount.Sub(feeAmount),
		EffectivePrice:   vwap,
		PriceImpact:      impact,
		FeeAmount:        feeAmount,
		FeeAsset:         outAsset,
		FillableQuantity: fillable,
	}, nil
}

// PlaceOrder validates, locks funds, matches, persists and returns the
// uniform trade result. Runs inside the caller's transaction under the
// symbol mutex.
func (e *Engine) PlaceOrder(ctx context.Context, tx relationaldb.TransactionContext, userID string, req PlaceRequest) (*engine.TradeResult, error) {
	const op = "clob.place"

	if err := e.validatePlace(req); err != nil {
		return nil, err
	}
	if err := e.ensureHydrated(ctx, tx.Orders()); err != nil {
		return nil, err
	}

	fills := e.plan(req.Side, req.Price, req.Quantity)
	if req.Type == market.OrderMarket && len(fills) == 0 {
		return nil, engine.NewState(op, "no liquidity to fill market order", engine.ErrInsufficientLiquidity)
	}

	// Lock the funds backing the order before touching anything.
	led := ledger.New(tx.Balances())
	var lockAsset string
	var lockAmount decimal.Decimal
	switch {
	case req.Side == market.SideBuy && req.Type == market.OrderLimit:
		lockAsset = e.symbol.QuoteAsset
		lockAmount = num.Clamp(req.Price.Mul(req.Quantity))
	case req.Side == market.SideBuy:
		// Market buy: lock the cost of the best-path walk.
		lockAsset = e.symbol.QuoteAsset
		lockAmount = decimal.Zero
		for _, f := range fills {
			lockAmount = lockAmount.Add(f.quoteAmount)
		}
	default:
		lockAsset = e.symbol.BaseAsset
		lockAmount = req.Quantity
	}
	if err := led.Lock(ctx, userID, lockAsset, lockAmount); err != nil {
		return nil, err
	}

	orderID, err := e.newOrderID(ctx, tx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	taker := &relationaldb.Order{
		OrderID:        orderID,
		SymbolID:       e.symbol.ID,
		UserID:         userID,
		Side:           req.Side,
		Type:           req.Type,
		Price:          req.Price,
		Quantity:       req.Quantity,
		FilledQuantity: decimal.Zero,
		Status:         market.OrderOpen,
		LockedAmount:   lockAmount,
		LockedAsset:    lockAsset,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var (
		resultFills []engine.Fill
		spentLock   = decimal.Zero
		quoteTotal  = decimal.Zero
	)
	for _, f := range fills {
		fill, consumed, err := e.settleFill(ctx, tx, led, taker, f)
		if err != nil {
			return nil, err
		}
		resultFills = append(resultFills, *fill)
		spentLock = spentLock.Add(consumed)
		quoteTotal = quoteTotal.Add(f.quoteAmount)
		taker.FilledQuantity = taker.FilledQuantity.Add(f.quantity)
	}
	remaining := taker.Remaining()

	// Terminal handling: resolve status and release over-locked funds.
	switch {
	case remaining.IsZero():
		taker.Status = market.OrderFilled
		if err := e.unlockLeftover(ctx, led, taker, lockAmount.Sub(spentLock)); err != nil {
			return nil, err
		}
	case req.Type == market.OrderMarket:
		// IOC semantics: the remainder is never rested. The order counts as
		// filled when anything matched, cancelled only when nothing did.
		if taker.FilledQuantity.IsPositive() {
			taker.Status = market.OrderFilled
		} else {
			taker.Status = market.OrderCancelled
		}
		if err := e.unlockLeftover(ctx, led, taker, lockAmount.Sub(spentLock)); err != nil {
			return nil, err
		}
	default:
		// GTC: rest the remainder on the book, keeping only the funds it
		// needs locked.
		if taker.FilledQuantity.IsPositive() {
			taker.Status = market.OrderPartial
		}
		var needed decimal.Decimal
		if req.Side == market.SideBuy {
			needed = num.Clamp(req.Price.Mul(remaining))
		} else {
			needed = remaining
		}
		if err := e.unlockLeftover(ctx, led, taker, lockAmount.Sub(spentLock).Sub(needed)); err != nil {
			return nil, err
		}
		taker.LockedAmount = needed
	}

	if err := tx.Orders().Insert(ctx, taker); err != nil {
		return nil, engine.NewTransient(op, "order insert failed", err)
	}
	if taker.Status == market.OrderOpen || taker.Status == market.OrderPartial {
		e.book.add(taker)
	}

	avgPrice := decimal.Zero
	if taker.FilledQuantity.IsPositive() {
		avgPrice = num.Clamp(quoteTotal.Div(taker.FilledQuantity))
	}
	feeTotal := decimal.Zero
	feeAsset := e.symbol.QuoteAsset
	if req.Side == market.SideBuy {
		feeAsset = e.symbol.BaseAsset
	}
	for _, f := range resultFills {
		feeTotal = feeTotal.Add(f.TakerFee)
	}

	return &engine.TradeResult{
		OrderID:     orderID,
		Symbol:      e.symbol.Symbol,
		Side:        req.Side,
		Engine:      market.EngineCLOB,
		Price:       avgPrice,
		Quantity:    taker.FilledQuantity,
		QuoteAmount: quoteTotal,
		FeeAmount:   feeTotal,
		FeeAsset:    feeAsset,
		Status:      market.TradeCompleted,
		OrderStatus: taker.Status,
		Remaining:   remaining,
		Fills:       resultFills,
		EngineData: map[string]any{
			"fill_count":   len(resultFills),
			"order_type":   req.Type.String(),
			"limit_price":  req.Price,
			"locked_asset": lockAsset,
		},
		CreatedAt: now,
	}, nil
}

// settleFill moves funds for one match and persists the maker update and the
// trade row. Returns the consumed portion of the taker's lock.
func (e *Engine) settleFill(ctx context.Context, tx relationaldb.TransactionContext, led *ledger.Ledger, taker *relationaldb.Order, f plannedFill) (*engine.Fill, decimal.Decimal, error) {
	const op = "clob.match"

	q, p, quoteAmt := f.quantity, f.price, f.quoteAmount
	maker := f.maker

	// Fees come off the received leg of each side.
	var takerFee, makerFee decimal.Decimal
	if taker.Side == market.SideBuy {
		takerFee = num.RoundDown(q.Mul(e.takerFee), e.symbol.PricePrecision)
		makerFee = num.RoundDown(quoteAmt.Mul(e.makerFee), e.symbol.PricePrecision)

		// Taker pays quote from lock, receives base net of fee; maker the
		// mirror image.
		if err := led.Spend(ctx, taker.UserID, e.symbol.QuoteAsset, quoteAmt); err != nil {
			return nil, decimal.Zero, err
		}
		if err := led.Spend(ctx, maker.UserID, e.symbol.BaseAsset, q); err != nil {
			return nil, decimal.Zero, err
		}
		if err := led.Credit(ctx, taker.UserID, e.symbol.BaseAsset, q.Sub(takerFee)); err != nil {
			return nil, decimal.Zero, err
		}
		if err := led.Credit(ctx, maker.UserID, e.symbol.QuoteAsset, quoteAmt.Sub(makerFee)); err != nil {
			return nil, decimal.Zero, err
		}
	} else {
		takerFee = num.RoundDown(quoteAmt.Mul(e.takerFee), e.symbol.PricePrecision)
		makerFee = num.RoundDown(q.Mul(e.makerFee), e.symbol.PricePrecision)

		if err := led.Spend(ctx, taker.UserID, e.symbol.BaseAsset, q); err != nil {
			return nil, decimal.Zero, err
		}
		if err := led.Spend(ctx, maker.UserID, e.symbol.QuoteAsset, quoteAmt); err != nil {
			return nil, decimal.Zero, err
		}
		if err := led.Credit(ctx, taker.UserID, e.symbol.QuoteAsset, quoteAmt.Sub(takerFee)); err != nil {
			return nil, decimal.Zero, err
		}
		if err := led.Credit(ctx, maker.UserID, e.symbol.BaseAsset, q.Sub(makerFee)); err != nil {
			return nil, decimal.Zero, err
		}
	}

	// Maker bookkeeping: its lock is consumed exactly at its own price.
	var makerConsumed decimal.Decimal
	if maker.Side == market.SideBuy {
		makerConsumed = quoteAmt
	} else {
		makerConsumed = q
	}
	maker.FilledQuantity = maker.FilledQuantity.Add(q)
	maker.LockedAmount = num.Clamp(maker.LockedAmount.Sub(makerConsumed))
	if maker.Remaining().IsZero() {
		maker.Status = market.OrderFilled
		e.book.remove(maker.OrderID)
	} else {
		maker.Status = market.OrderPartial
	}
	if err := tx.Orders().Update(ctx, maker); err != nil {
		return nil, decimal.Zero, engine.NewTransient(op, "maker update failed", err)
	}

	tradeID, err := e.newTradeID(ctx, tx)
	if err != nil {
		return nil, decimal.Zero, err
	}
	engineData, _ := json.Marshal(map[string]string{
		"maker_order_id": maker.OrderID,
		"taker_order_id": taker.OrderID,
		"maker_fee":      makerFee.String(),
	})
	trade := &relationaldb.Trade{
		TradeID:      tradeID,
		SymbolID:     e.symbol.ID,
		UserID:       taker.UserID,
		OrderID:      taker.OrderID,
		MakerOrderID: maker.OrderID,
		MakerUserID:  maker.UserID,
		Side:         taker.Side,
		Engine:       market.EngineCLOB,
		Price:        p,
		Quantity:     q,
		QuoteAmount:  quoteAmt,
		FeeAmount:    takerFee,
		FeeAsset:     feeAssetFor(e.symbol, taker.Side),
		Status:       market.TradeCompleted,
		EngineData:   engineData,
		CreatedAt:    time.Now().UTC(),
	}
	if err := tx.Trades().Insert(ctx, trade); err != nil {
		return nil, decimal.Zero, engine.NewTransient(op, "trade insert failed", err)
	}

	// The taker's lock is consumed at the execution price.
	var takerConsumed decimal.Decimal
	if taker.Side == market.SideBuy {
		takerConsumed = quoteAmt
	} else {
		takerConsumed = q
	}
	taker.LockedAmount = num.Clamp(taker.LockedAmount.Sub(takerConsumed))

	return &engine.Fill{
		TradeID:      tradeID,
		MakerOrderID: maker.OrderID,
		Price:        p,
		Quantity:     q,
		QuoteAmount:  quoteAmt,
		TakerFee:     takerFee,
		MakerFee:     makerFee,
		MakerUserID:  maker.UserID,
	}, takerConsumed, nil
}

func feeAssetFor(s *market.Symbol, takerSide market.Side) string {
	if takerSide == market.SideBuy {
		return s.BaseAsset
	}
	return s.QuoteAsset
}

func (e *Engine) unlockLeftover(ctx context.Context, led *ledger.Ledger, order *relationaldb.Order, leftover decimal.Decimal) error {
	if !leftover.IsPositive() {
		return nil
	}
	if err := led.Unlock(ctx, order.UserID, order.LockedAsset, leftover); err != nil {
		return err
	}
	order.LockedAmount = num.Clamp(order.LockedAmount.Sub(leftover))
	return nil
}

// CancelOrder releases the remaining lock and removes the order from the
// book. Only the owner may cancel, and only from OPEN or PARTIAL.
func (e *Engine) CancelOrder(ctx context.Context, tx relationaldb.TransactionContext, userID, orderID string) (*relationaldb.Order, error) {
	const op = "clob.cancel"

	if err := e.ensureHydrated(ctx, tx.Orders()); err != nil {
		return nil, err
	}

	order, err := tx.Orders().Get(ctx, orderID)
	if err != nil {
		if relationaldb.IsNotFound(err) {
			return nil, engine.NewState(op, "order not found", engine.ErrOrderNotFound)
		}
		return nil, engine.NewTransient(op, "order read failed", err)
	}
	if order.SymbolID != e.symbol.ID {
		return nil, engine.NewState(op, "order not found", engine.ErrOrderNotFound)
	}
	if order.UserID != userID {
		return nil, engine.NewState(op, "order belongs to another user", engine.ErrOrderNotCancellable)
	}
	if order.Status.Terminal() {
		return nil, engine.NewState(op, "order already terminal", engine.ErrOrderNotCancellable)
	}

	if order.LockedAmount.IsPositive() {
		led := ledger.New(tx.Balances())
		if err := led.Unlock(ctx, userID, order.LockedAsset, order.LockedAmount); err != nil {
			return nil, err
		}
		order.LockedAmount = decimal.Zero
	}
	order.Status = market.OrderCancelled
	if err := tx.Orders().Update(ctx, order); err != nil {
		return nil, engine.NewTransient(op, "order update failed", err)
	}
	e.book.remove(orderID)
	return order, nil
}

// Depth returns the top-n aggregated levels per side.
func (e *Engine) Depth(ctx context.Context, orders relationaldb.OrderRepository, n int) (*engine.Depth, error) {
	if n <= 0 {
		n = 20
	}
	if err := e.ensureHydrated(ctx, orders); err != nil {
		return nil, err
	}
	return e.book.depth(e.symbol.Symbol, n), nil
}

func (e *Engine) newOrderID(ctx context.Context, tx relationaldb.TransactionContext) (string, error) {
	id, err := ident.NewTimestampID(func(candidate string) (bool, error) {
		_, err := tx.Orders().Get(ctx, candidate)
		if err != nil {
			if relationaldb.IsNotFound(err) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return "", engine.NewTransient("clob.order_id", "order id generation failed", err)
	}
	return id, nil
}

func (e *Engine) newTradeID(ctx context.Context, tx relationaldb.TransactionContext) (string, error) {
	id, err := ident.NewTimestampID(func(candidate string) (bool, error) {
		_, err := tx.Trades().Get(ctx, candidate)
		if err != nil {
			if relationaldb.IsNotFound(err) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return "", engine.NewTransient("clob.trade_id", "trade id generation failed", err)
	}
	return id, nil
}
