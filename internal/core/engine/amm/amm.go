// Package amm implements the constant-product automated market maker. Swap
// pricing uses x*y=k with the fee taken on the input side; liquidity shares
// follow the usual sqrt(base*quote) first mint with a small permanently
// locked minimum.
package amm

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

// MinLPShares is permanently locked into the pool on the first deposit so
// total shares can never return to zero while reserves are non-empty.
var MinLPShares = decimal.New(1, -9)

// Engine is the AMM matching engine for one symbol. It is stateless between
// calls; pool state lives in the repositories passed per call.
type Engine struct {
	symbol *market.Symbol
}

// New creates an AMM engine bound to a symbol.
func New(symbol *market.Symbol) *Engine {
	return &Engine{symbol: symbol}
}

func (e *Engine) Symbol() *market.Symbol { return e.symbol }

// QuoteRequest asks for a price estimate. Exactly one of AmountIn (the input
// asset: quote for buys, base for sells) or AmountOut (the desired output)
// must be positive.
type QuoteRequest struct {
	Side      market.Side
	AmountIn  decimal.Decimal
	AmountOut decimal.Decimal
}

// Quote prices a swap against a pool snapshot without mutating anything.
// Two quotes against the same snapshot are identical.
func (e *Engine) Quote(pool *relationaldb.Pool, req QuoteRequest) (*engine.Quote, error) {
	const op = "amm.quote"

	if pool.ReserveBase.IsZero() || pool.ReserveQuote.IsZero() {
		return nil, engine.NewState(op, "pool has no liquidity", engine.ErrInsufficientLiquidity)
	}
	if req.AmountIn.IsPositive() == req.AmountOut.IsPositive() {
		return nil, engine.NewValidation(op, "exactly one of amount_in and amount_out is required", engine.ErrMissingParameter)
	}

	var inReserve, outReserve decimal.Decimal
	var inAsset, outAsset string
	switch req.Side {
	case market.SideBuy:
		inReserve, outReserve = pool.ReserveQuote, pool.ReserveBase
		inAsset, outAsset = e.symbol.QuoteAsset, e.symbol.BaseAsset
	case market.SideSell:
		inReserve, outReserve = pool.ReserveBase, pool.ReserveQuote
		inAsset, outAsset = e.symbol.BaseAsset, e.symbol.QuoteAsset
	default:
		return nil, engine.NewValidation(op, "invalid side", engine.ErrMissingParameter)
	}

	fee := pool.FeeRate
	oneMinusFee := decimal.NewFromInt(1).Sub(fee)

	var amountIn, amountOut decimal.Decimal
	if req.AmountIn.IsPositive() {
		amountIn = req.AmountIn
		inEff := amountIn.Mul(oneMinusFee)
		// out = outReserve * inEff / (inReserve + inEff), floored so rounding
		// never pays out more than the product invariant allows.
		amountOut = num.DivFloor(outReserve.Mul(inEff), inReserve.Add(inEff), num.StorageScale)
	} else {
		amountOut = req.AmountOut
		if amountOut.GreaterThanOrEqual(outReserve) {
			return nil, engine.NewState(op, "requested output exceeds pool reserve", engine.ErrInsufficientLiquidity)
		}
		// inEff = inReserve * out / (outReserve - out), grossed up by the fee.
		// Both divisions round up so the quoted input always covers the output.
		inEff := num.DivCeil(inReserve.Mul(amountOut), outReserve.Sub(amountOut), num.StorageScale)
		amountIn = num.DivCeil(inEff, oneMinusFee, num.StorageScale)
	}

	if !amountOut.IsPositive() {
		return nil, engine.NewState(op, "output rounds to zero", engine.ErrInsufficientLiquidity)
	}
	if amountOut.GreaterThanOrEqual(outReserve) {
		return nil, engine.NewState(op, "requested output exceeds pool reserve", engine.ErrInsufficientLiquidity)
	}

	// The fee is floored: the effective input credited to the reserve is then
	// at least the amount the output was priced on.
	feeAmount := num.RoundDown(amountIn.Mul(fee), num.StorageScale)

	// Spot price is quote per base; execution price likewise.
	spot := pool.ReserveQuote.Div(pool.ReserveBase)
	var execPrice decimal.Decimal
	if req.Side == market.SideBuy {
		execPrice = amountIn.Div(amountOut)
	} else {
		execPrice = amountOut.Div(amountIn)
	}
	impact := num.Clamp(execPrice.Sub(spot).Abs().Div(spot))

	return &engine.Quote{
		Symbol:           e.symbol.Symbol,
		Side:             req.Side,
		Engine:           market.EngineAMM,
		InputAsset:       inAsset,
		InputAmount:      amountIn,
		OutputAsset:      outAsset,
		OutputAmount:     amountOut,
		EffectivePrice:   num.Clamp(execPrice),
		PriceImpact:      impact,
		FeeAmount:        feeAmount,
		FeeAsset:         inAsset,
		FillableQuantity: amountOut,
	}, nil
}

// Swap executes a swap inside the caller's transaction: ledger movement,
// reserve update and trade row are committed together or not at all.
func (e *Engine) Swap(ctx context.Context, tx relationaldb.TransactionContext, userID string, side market.Side, amountIn, minAmountOut decimal.Decimal) (*engine.TradeResult, error) {
	const op = "amm.swap"

	// Inputs are quantized to the storage scale before any pricing so reserve
	// arithmetic below stays exact.
	amountIn = num.RoundDown(amountIn, num.StorageScale)
	if !amountIn.IsPositive() {
		return nil, engine.NewValidation(op, "amount_in must be positive", engine.ErrMalformedAmount)
	}

	pool, err := tx.Pools().GetBySymbolID(ctx, e.symbol.ID)
	if err != nil {
		if relationaldb.IsNotFound(err) {
			return nil, engine.NewState(op, "no pool for symbol", engine.ErrInsufficientLiquidity)
		}
		return nil, engine.NewTransient(op, "pool read failed", err)
	}

	quote, err := e.Quote(pool, QuoteRequest{Side: side, AmountIn: amountIn})
	if err != nil {
		return nil, err
	}
	if minAmountOut.IsPositive() && quote.OutputAmount.LessThan(minAmountOut) {
		return nil, engine.NewState(op, "output below min_amount_out", engine.ErrSlippageExceeded)
	}

	led := ledger.New(tx.Balances())
	if err := led.Debit(ctx, userID, quote.InputAsset, quote.InputAmount); err != nil {
		return nil, err
	}
	if err := led.Credit(ctx, userID, quote.OutputAsset, quote.OutputAmount); err != nil {
		return nil, err
	}

	// The input reserve gains only the effective input; the fee accrues to
	// the cumulative counter.
	// Exact sums of storage-scale operands: no rounding may shave a reserve.
	inEff := quote.InputAmount.Sub(quote.FeeAmount)
	var baseLeg, quoteLeg decimal.Decimal
	if side == market.SideBuy {
		pool.ReserveQuote = pool.ReserveQuote.Add(inEff)
		pool.ReserveBase = pool.ReserveBase.Sub(quote.OutputAmount)
		baseLeg, quoteLeg = quote.OutputAmount, quote.InputAmount
	} else {
		pool.ReserveBase = pool.ReserveBase.Add(inEff)
		pool.ReserveQuote = pool.ReserveQuote.Sub(quote.OutputAmount)
		baseLeg, quoteLeg = quote.InputAmount, quote.OutputAmount
	}
	if pool.ReserveBase.IsNegative() || pool.ReserveQuote.IsNegative() {
		return nil, engine.NewFatal(op, "reserve went negative", engine.ErrInvariantViolation)
	}

	// Floored, so the stored k is monotone whenever the exact product is.
	pool.K = num.RoundDown(pool.ReserveBase.Mul(pool.ReserveQuote), num.StorageScale)
	pool.VolumeBase = pool.VolumeBase.Add(baseLeg)
	pool.VolumeQuote = pool.VolumeQuote.Add(quoteLeg)
	pool.FeesCollected = pool.FeesCollected.Add(quote.FeeAmount)

	if err := tx.Pools().Update(ctx, pool); err != nil {
		return nil, engine.NewTransient(op, "pool update failed", err)
	}

	tradeID, err := newTradeID(ctx, tx)
	if err != nil {
		return nil, err
	}

	price := num.Clamp(quoteLeg.Div(baseLeg))
	engineData, _ := json.Marshal(map[string]string{
		"input_asset":    quote.InputAsset,
		"input_amount":   quote.InputAmount.String(),
		"output_asset":   quote.OutputAsset,
		"output_amount":  quote.OutputAmount.String(),
		"price_impact":   quote.PriceImpact.String(),
		"reserve_base":   pool.ReserveBase.String(),
		"reserve_quote":  pool.ReserveQuote.String(),
	})

	now := time.Now().UTC()
	trade := &relationaldb.Trade{
		TradeID:     tradeID,
		SymbolID:    e.symbol.ID,
		UserID:      userID,
		Side:        side,
		Engine:      market.EngineAMM,
		Price:       price,
		Quantity:    baseLeg,
		QuoteAmount: quoteLeg,
		FeeAmount:   quote.FeeAmount,
		FeeAsset:    quote.FeeAsset,
		Status:      market.TradeCompleted,
		EngineData:  engineData,
		CreatedAt:   now,
	}
	if err := tx.Trades().Insert(ctx, trade); err != nil {
		return nil, engine.NewTransient(op, "trade insert failed", err)
	}

	return &engine.TradeResult{
		TradeID:     tradeID,
		Symbol:      e.symbol.Symbol,
		Side:        side,
		Engine:      market.EngineAMM,
		Price:       price,
		Quantity:    baseLeg,
		QuoteAmount: quoteLeg,
		FeeAmount:   quote.FeeAmount,
		FeeAsset:    quote.FeeAsset,
		Status:      market.TradeCompleted,
		Remaining:   decimal.Zero,
		EngineData: map[string]any{
			"input_asset":   quote.InputAsset,
			"input_amount":  quote.InputAmount,
			"output_asset":  quote.OutputAsset,
			"output_amount": quote.OutputAmount,
			"price_impact":  quote.PriceImpact,
			"reserve_base":  pool.ReserveBase,
			"reserve_quote": pool.ReserveQuote,
		},
		CreatedAt: now,
	}, nil
}

// CounterpartAmount returns the amount of the other side required to add
// liquidity at the current reserve ratio.
func (e *Engine) CounterpartAmount(pool *relationaldb.Pool, baseAmount, quoteAmount decimal.Decimal) (decimal.Decimal, error) {
	const op = "amm.counterpart"

	if pool.ReserveBase.IsZero() || pool.ReserveQuote.IsZero() {
		return decimal.Zero, engine.NewState(op, "pool has no liquidity", engine.ErrInsufficientLiquidity)
	}
	switch {
	case baseAmount.IsPositive():
		return num.Clamp(baseAmount.Mul(pool.ReserveQuote).Div(pool.ReserveBase)), nil
	case quoteAmount.IsPositive():
		return num.Clamp(quoteAmount.Mul(pool.ReserveBase).Div(pool.ReserveQuote)), nil
	default:
		return decimal.Zero, engine.NewValidation(op, "one of base_amount and quote_amount is required", engine.ErrMissingParameter)
	}
}

// AddLiquidity deposits base and quote into the pool. Off-ratio deposits are
// scaled down to the pool ratio; the excess side is simply not taken.
func (e *Engine) AddLiquidity(ctx context.Context, tx relationaldb.TransactionContext, userID string, baseAmount, quoteAmount decimal.Decimal) (*engine.LiquidityResult, error) {
	const op = "amm.add_liquidity"

	baseAmount = num.RoundDown(baseAmount, num.StorageScale)
	quoteAmount = num.RoundDown(quoteAmount, num.StorageScale)
	if !baseAmount.IsPositive() || !quoteAmount.IsPositive() {
		return nil, engine.NewValidation(op, "base_amount and quote_amount must be positive", engine.ErrMalformedAmount)
	}

	pool, err := tx.Pools().GetBySymbolID(ctx, e.symbol.ID)
	if err != nil {
		if relationaldb.IsNotFound(err) {
			return nil, engine.NewState(op, "no pool for symbol", engine.ErrInsufficientLiquidity)
		}
		return nil, engine.NewTransient(op, "pool read failed", err)
	}

	var acceptedBase, acceptedQuote, minted decimal.Decimal
	if pool.TotalLPShares.IsZero() {
		acceptedBase, acceptedQuote = baseAmount, quoteAmount
		total := num.Sqrt(baseAmount.Mul(quoteAmount))
		minted = total.Sub(MinLPShares)
		if !minted.IsPositive() {
			return nil, engine.NewValidation(op, "initial deposit too small", engine.ErrQuantityOutOfBounds)
		}
		pool.TotalLPShares = total
	} else {
		// Ratios are floored so the accepted legs never exceed the deposit.
		ratioBase := num.DivFloor(baseAmount, pool.ReserveBase, num.StorageScale+8)
		ratioQuote := num.DivFloor(quoteAmount, pool.ReserveQuote, num.StorageScale+8)
		ratio := decimal.Min(ratioBase, ratioQuote)
		acceptedBase = num.RoundDown(ratio.Mul(pool.ReserveBase), num.StorageScale)
		acceptedQuote = num.RoundDown(ratio.Mul(pool.ReserveQuote), num.StorageScale)
		minted = num.RoundDown(ratio.Mul(pool.TotalLPShares), num.StorageScale)
		if !minted.IsPositive() {
			return nil, engine.NewValidation(op, "deposit too small to mint shares", engine.ErrQuantityOutOfBounds)
		}
		pool.TotalLPShares = pool.TotalLPShares.Add(minted)
	}

	led := ledger.New(tx.Balances())
	if err := led.Debit(ctx, userID, e.symbol.BaseAsset, acceptedBase); err != nil {
		return nil, err
	}
	if err := led.Debit(ctx, userID, e.symbol.QuoteAsset, acceptedQuote); err != nil {
		return nil, err
	}
	// LP shares are mirrored as a ledger currency so balance listings show
	// the position.
	if err := led.Credit(ctx, userID, e.symbol.LPCurrency(), minted); err != nil {
		return nil, err
	}

	pool.ReserveBase = pool.ReserveBase.Add(acceptedBase)
	pool.ReserveQuote = pool.ReserveQuote.Add(acceptedQuote)
	pool.K = num.RoundDown(pool.ReserveBase.Mul(pool.ReserveQuote), num.StorageScale)
	if err := tx.Pools().Update(ctx, pool); err != nil {
		return nil, engine.NewTransient(op, "pool update failed", err)
	}

	if err := e.adjustPosition(ctx, tx, pool.PoolID, userID, minted); err != nil {
		return nil, err
	}
	if err := tx.Pools().AppendEvent(ctx, &relationaldb.LPEvent{
		PoolID:      pool.PoolID,
		UserID:      userID,
		Action:      "add",
		BaseAmount:  acceptedBase,
		QuoteAmount: acceptedQuote,
		Shares:      minted,
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		return nil, engine.NewTransient(op, "lp event insert failed", err)
	}

	userShares, err := e.userShares(ctx, tx, pool.PoolID, userID)
	if err != nil {
		return nil, err
	}

	return &engine.LiquidityResult{
		PoolID:        pool.PoolID,
		Symbol:        e.symbol.Symbol,
		LPShares:      minted,
		BaseAmount:    acceptedBase,
		QuoteAmount:   acceptedQuote,
		ReserveBase:   pool.ReserveBase,
		ReserveQuote:  pool.ReserveQuote,
		TotalLPShares: pool.TotalLPShares,
		UserLPShares:  userShares,
	}, nil
}

// RemoveLiquidity burns shares and pays out the proportional reserves.
func (e *Engine) RemoveLiquidity(ctx context.Context, tx relationaldb.TransactionContext, userID string, shares decimal.Decimal) (*engine.LiquidityResult, error) {
	const op = "amm.remove_liquidity"

	shares = num.RoundDown(shares, num.StorageScale)
	if !shares.IsPositive() {
		return nil, engine.NewValidation(op, "lp_shares must be positive", engine.ErrMalformedAmount)
	}

	pool, err := tx.Pools().GetBySymbolID(ctx, e.symbol.ID)
	if err != nil {
		if relationaldb.IsNotFound(err) {
			return nil, engine.NewState(op, "no pool for symbol", engine.ErrInsufficientLiquidity)
		}
		return nil, engine.NewTransient(op, "pool read failed", err)
	}

	held, err := e.userShares(ctx, tx, pool.PoolID, userID)
	if err != nil {
		return nil, err
	}
	if held.LessThan(shares) {
		return nil, engine.NewState(op, "insufficient lp shares", engine.ErrInsufficientFunds)
	}

	// The fraction is floored so the payout can never exceed the burned share
	// of the reserves.
	fraction := num.DivFloor(shares, pool.TotalLPShares, num.StorageScale+8)
	baseOut := num.RoundDown(fraction.Mul(pool.ReserveBase), num.StorageScale)
	quoteOut := num.RoundDown(fraction.Mul(pool.ReserveQuote), num.StorageScale)
	if !baseOut.IsPositive() && !quoteOut.IsPositive() {
		return nil, engine.NewValidation(op, "payout rounds to zero", engine.ErrQuantityOutOfBounds)
	}

	led := ledger.New(tx.Balances())
	if err := led.Debit(ctx, userID, e.symbol.LPCurrency(), shares); err != nil {
		return nil, err
	}
	if baseOut.IsPositive() {
		if err := led.Credit(ctx, userID, e.symbol.BaseAsset, baseOut); err != nil {
			return nil, err
		}
	}
	if quoteOut.IsPositive() {
		if err := led.Credit(ctx, userID, e.symbol.QuoteAsset, quoteOut); err != nil {
			return nil, err
		}
	}

	pool.ReserveBase = pool.ReserveBase.Sub(baseOut)
	pool.ReserveQuote = pool.ReserveQuote.Sub(quoteOut)
	pool.TotalLPShares = pool.TotalLPShares.Sub(shares)
	pool.K = num.RoundDown(pool.ReserveBase.Mul(pool.ReserveQuote), num.StorageScale)
	if pool.ReserveBase.IsNegative() || pool.ReserveQuote.IsNegative() || pool.TotalLPShares.IsNegative() {
		return nil, engine.NewFatal(op, "pool state went negative", engine.ErrInvariantViolation)
	}
	if err := tx.Pools().Update(ctx, pool); err != nil {
		return nil, engine.NewTransient(op, "pool update failed", err)
	}

	if err := e.adjustPosition(ctx, tx, pool.PoolID, userID, shares.Neg()); err != nil {
		return nil, err
	}
	if err := tx.Pools().AppendEvent(ctx, &relationaldb.LPEvent{
		PoolID:      pool.PoolID,
		UserID:      userID,
		Action:      "remove",
		BaseAmount:  baseOut,
		QuoteAmount: quoteOut,
		Shares:      shares,
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		return nil, engine.NewTransient(op, "lp event insert failed", err)
	}

	return &engine.LiquidityResult{
		PoolID:        pool.PoolID,
		Symbol:        e.symbol.Symbol,
		LPShares:      shares,
		BaseAmount:    baseOut,
		QuoteAmount:   quoteOut,
		ReserveBase:   pool.ReserveBase,
		ReserveQuote:  pool.ReserveQuote,
		TotalLPShares: pool.TotalLPShares,
		UserLPShares:  held.Sub(shares),
	}, nil
}

// State builds the pool snapshot surfaced by market-data reads.
func (e *Engine) State(pool *relationaldb.Pool) *engine.PoolState {
	price := decimal.Zero
	if pool.ReserveBase.IsPositive() {
		price = num.Clamp(pool.ReserveQuote.Div(pool.ReserveBase))
	}
	return &engine.PoolState{
		PoolID:        pool.PoolID,
		SymbolID:      pool.SymbolID,
		Symbol:        e.symbol.Symbol,
		ReserveBase:   pool.ReserveBase,
		ReserveQuote:  pool.ReserveQuote,
		K:             pool.K,
		FeeRate:       pool.FeeRate,
		TotalLPShares: pool.TotalLPShares,
		VolumeBase:    pool.VolumeBase,
		VolumeQuote:   pool.VolumeQuote,
		FeesCollected: pool.FeesCollected,
		Price:         price,
	}
}

// EnsurePool creates the pool row for an AMM symbol if absent.
func EnsurePool(ctx context.Context, tx relationaldb.TransactionContext, symbol *market.Symbol) (*relationaldb.Pool, error) {
	const op = "amm.ensure_pool"

	pool, err := tx.Pools().GetBySymbolID(ctx, symbol.ID)
	if err == nil {
		return pool, nil
	}
	if !relationaldb.IsNotFound(err) {
		return nil, engine.NewTransient(op, "pool read failed", err)
	}

	poolID, err := ident.NewPoolID()
	if err != nil {
		return nil, engine.NewTransient(op, "pool id generation failed", err)
	}

	now := time.Now().UTC()
	pool = &relationaldb.Pool{
		PoolID:        poolID,
		SymbolID:      symbol.ID,
		ReserveBase:   decimal.Zero,
		ReserveQuote:  decimal.Zero,
		K:             decimal.Zero,
		FeeRate:       symbol.FeeRate,
		TotalLPShares: decimal.Zero,
		VolumeBase:    decimal.Zero,
		VolumeQuote:   decimal.Zero,
		FeesCollected: decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := tx.Pools().Create(ctx, pool); err != nil {
		return nil, engine.NewTransient(op, "pool create failed", err)
	}
	return pool, nil
}

func (e *Engine) adjustPosition(ctx context.Context, tx relationaldb.TransactionContext, poolID, userID string, delta decimal.Decimal) error {
	const op = "amm.position"

	now := time.Now().UTC()
	pos, err := tx.Pools().GetPosition(ctx, poolID, userID)
	if err != nil {
		if !relationaldb.IsNotFound(err) {
			return engine.NewTransient(op, "position read failed", err)
		}
		pos = &relationaldb.LPPosition{PoolID: poolID, UserID: userID, Shares: decimal.Zero, CreatedAt: now}
	}
	pos.Shares = pos.Shares.Add(delta)
	if pos.Shares.IsNegative() {
		return engine.NewFatal(op, "lp position went negative", engine.ErrInvariantViolation)
	}
	pos.UpdatedAt = now
	if err := tx.Pools().PutPosition(ctx, pos); err != nil {
		return engine.NewTransient(op, "position write failed", err)
	}
	return nil
}

func (e *Engine) userShares(ctx context.Context, tx relationaldb.TransactionContext, poolID, userID string) (decimal.Decimal, error) {
	pos, err := tx.Pools().GetPosition(ctx, poolID, userID)
	if err != nil {
		if relationaldb.IsNotFound(err) {
			return decimal.Zero, nil
		}
		return decimal.Zero, engine.NewTransient("amm.position", "position read failed", err)
	}
	return pos.Shares, nil
}

func newTradeID(ctx context.Context, tx relationaldb.TransactionContext) (string, error) {
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
		return "", engine.NewTransient("amm.trade_id", "trade id generation failed", err)
	}
	return id, nil
}
