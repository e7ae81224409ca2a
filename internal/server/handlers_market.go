package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/vegaexchange/vegad/internal/core/engine"
	"github.com/vegaexchange/vegad/internal/core/market"
)

// symbolView is the binding metadata exposed on the market endpoints.
type symbolView struct {
	ID             int64           `json:"id"`
	Symbol         string          `json:"symbol"`
	BaseAsset      string          `json:"base_asset"`
	QuoteAsset     string          `json:"quote_asset"`
	SettleAsset    string          `json:"settle_asset"`
	Market         string          `json:"market"`
	Engine         string          `json:"engine_type"`
	PricePrecision int32           `json:"price_precision"`
	QtyPrecision   int32           `json:"qty_precision"`
	MinTradeAmount decimal.Decimal `json:"min_trade_amount"`
	MaxTradeAmount decimal.Decimal `json:"max_trade_amount"`
	FeeRate        decimal.Decimal `json:"fee_rate"`
	Active         bool            `json:"active"`
}

func toSymbolView(sym *market.Symbol) symbolView {
	return symbolView{
		ID:             sym.ID,
		Symbol:         sym.Symbol,
		BaseAsset:      sym.BaseAsset,
		QuoteAsset:     sym.QuoteAsset,
		SettleAsset:    sym.SettleAsset,
		Market:         string(sym.Market),
		Engine:         sym.Engine.String(),
		PricePrecision: sym.PricePrecision,
		QtyPrecision:   sym.QtyPrecision,
		MinTradeAmount: sym.MinTradeAmount,
		MaxTradeAmount: sym.MaxTradeAmount,
		FeeRate:        sym.FeeRate,
		Active:         sym.Active,
	}
}

func (s *Server) handleMarketList(c *gin.Context) {
	activeOnly := c.DefaultQuery("include_inactive", "false") != "true"
	symbols, err := s.store.Symbols().List(c.Request.Context(), activeOnly)
	if err != nil {
		respondError(c, err)
		return
	}
	views := make([]symbolView, 0, len(symbols))
	for i := range symbols {
		views = append(views, toSymbolView(&symbols[i]))
	}
	respond(c, views)
}

// orderbookSummary condenses the ladders to the usual top-of-book figures.
type orderbookSummary struct {
	BestBid decimal.Decimal `json:"best_bid"`
	BestAsk decimal.Decimal `json:"best_ask"`
	Mid     decimal.Decimal `json:"mid"`
	Spread  decimal.Decimal `json:"spread"`
	Depth   *engine.Depth   `json:"depth"`
}

type marketView struct {
	Symbol       symbolView            `json:"symbol"`
	Pool         *engine.PoolState     `json:"pool,omitempty"`
	Orderbook    *orderbookSummary     `json:"orderbook,omitempty"`
	RecentTrades []*engine.TradeResult `json:"recent_trades,omitempty"`
}

// handleMarketSymbol returns the binding metadata plus the engine-specific
// snapshot: pool state for AMM, top-of-book summary for CLOB.
func (s *Server) handleMarketSymbol(c *gin.Context) {
	symbolPath := strings.Trim(c.Param("symbol"), "/")
	ctx := c.Request.Context()

	sym, err := s.router.Symbol(ctx, symbolPath)
	if err != nil {
		respondError(c, err)
		return
	}

	view := marketView{
		Symbol:       toSymbolView(sym),
		RecentTrades: s.router.RecentTrades(sym.Symbol),
	}
	switch sym.Engine {
	case market.EngineAMM:
		state, err := s.router.PoolState(ctx, symbolPath)
		if err != nil {
			respondError(c, err)
			return
		}
		view.Pool = state
	case market.EngineCLOB:
		depth, err := s.router.Depth(ctx, symbolPath, queryInt(c, "levels", 20))
		if err != nil {
			respondError(c, err)
			return
		}
		summary := &orderbookSummary{Depth: depth}
		if len(depth.Bids) > 0 {
			summary.BestBid = depth.Bids[0].Price
		}
		if len(depth.Asks) > 0 {
			summary.BestAsk = depth.Asks[0].Price
		}
		if summary.BestBid.IsPositive() && summary.BestAsk.IsPositive() {
			summary.Mid = summary.BestBid.Add(summary.BestAsk).Div(decimal.New(2, 0))
			summary.Spread = summary.BestAsk.Sub(summary.BestBid)
		}
		view.Orderbook = summary
	}
	respond(c, view)
}
