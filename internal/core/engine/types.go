// Package engine defines the shared vocabulary of the matching engines: the
// uniform quote and trade result shapes the router surfaces to transport,
// and the error taxonomy every engine failure is classified into.
package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vegaexchange/vegad/internal/core/market"
)

// Quote is the uniform, side-effect-free price estimate returned by both
// engines. Two quotes on the same snapshot are identical.
type Quote struct {
	Symbol         string          `json:"symbol"`
	Side           market.Side     `json:"side"`
	Engine         market.EngineKind `json:"engine_type"`
	InputAsset     string          `json:"input_asset"`
	InputAmount    decimal.Decimal `json:"input_amount"`
	OutputAsset    string          `json:"output_asset"`
	OutputAmount   decimal.Decimal `json:"output_amount"`
	EffectivePrice decimal.Decimal `json:"effective_price"`
	PriceImpact    decimal.Decimal `json:"price_impact"`
	FeeAmount      decimal.Decimal `json:"fee_amount"`
	FeeAsset       string          `json:"fee_asset"`
	// FillableQuantity is the portion of the requested quantity the book can
	// satisfy (CLOB only; equals the request for AMM).
	FillableQuantity decimal.Decimal `json:"fillable_quantity"`
}

// Fill is one maker match produced while executing a taker order.
type Fill struct {
	TradeID        string          `json:"trade_id"`
	MakerOrderID   string          `json:"maker_order_id"`
	Price          decimal.Decimal `json:"price"`
	Quantity       decimal.Decimal `json:"quantity"`
	QuoteAmount    decimal.Decimal `json:"quote_amount"`
	TakerFee       decimal.Decimal `json:"taker_fee"`
	MakerFee       decimal.Decimal `json:"maker_fee"`
	MakerUserID    string          `json:"maker_user_id"`
}

// TradeResult is the single result shape the router returns for every
// mutating trade operation, regardless of the engine that produced it.
type TradeResult struct {
	TradeID     string             `json:"trade_id,omitempty"`
	OrderID     string             `json:"order_id,omitempty"`
	Symbol      string             `json:"symbol"`
	Side        market.Side        `json:"side"`
	Engine      market.EngineKind  `json:"engine_type"`
	Price       decimal.Decimal    `json:"price"`
	Quantity    decimal.Decimal    `json:"quantity"`
	QuoteAmount decimal.Decimal    `json:"quote_amount"`
	FeeAmount   decimal.Decimal    `json:"fee_amount"`
	FeeAsset    string             `json:"fee_asset"`
	Status      market.TradeStatus `json:"status"`
	OrderStatus market.OrderStatus `json:"order_status,omitempty"`
	Remaining   decimal.Decimal    `json:"remaining_quantity"`
	Fills       []Fill             `json:"fills,omitempty"`
	// Engine-specific payload: AMM reports input/output/price impact and
	// post-trade reserves; CLOB reports fill counts.
	EngineData map[string]any `json:"engine_data,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// DepthLevel is one aggregated price level of the order book.
type DepthLevel struct {
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	OrderCount int             `json:"order_count"`
}

// Depth is the top-N aggregated view of both ladders.
type Depth struct {
	Symbol string       `json:"symbol"`
	Bids   []DepthLevel `json:"bids"`
	Asks   []DepthLevel `json:"asks"`
}

// LiquidityResult reports the outcome of an add/remove liquidity operation.
type LiquidityResult struct {
	PoolID        string          `json:"pool_id"`
	Symbol        string          `json:"symbol"`
	LPShares      decimal.Decimal `json:"lp_shares"`
	BaseAmount    decimal.Decimal `json:"base_amount"`
	QuoteAmount   decimal.Decimal `json:"quote_amount"`
	ReserveBase   decimal.Decimal `json:"reserve_base"`
	ReserveQuote  decimal.Decimal `json:"reserve_quote"`
	TotalLPShares decimal.Decimal `json:"total_lp_shares"`
	UserLPShares  decimal.Decimal `json:"user_lp_shares"`
}

// PoolState is the snapshot of an AMM pool surfaced by market-data reads and
// pool events.
type PoolState struct {
	PoolID        string          `json:"pool_id"`
	SymbolID      int64           `json:"symbol_id"`
	Symbol        string          `json:"symbol"`
	ReserveBase   decimal.Decimal `json:"reserve_base"`
	ReserveQuote  decimal.Decimal `json:"reserve_quote"`
	K             decimal.Decimal `json:"k_value"`
	FeeRate       decimal.Decimal `json:"fee_rate"`
	TotalLPShares decimal.Decimal `json:"total_lp_shares"`
	VolumeBase    decimal.Decimal `json:"total_volume_base"`
	VolumeQuote   decimal.Decimal `json:"total_volume_quote"`
	FeesCollected decimal.Decimal `json:"total_fees_collected"`
	Price         decimal.Decimal `json:"current_price"`
}
