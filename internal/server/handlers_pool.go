package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/vegaexchange/vegad/internal/core/engine/amm"
	"github.com/vegaexchange/vegad/internal/core/market"
	"github.com/vegaexchange/vegad/internal/storage/relationaldb"
)

type swapRequest struct {
	Symbol       string `json:"symbol"`
	Side         int16  `json:"side"`
	AmountIn     string `json:"amount_in"`
	MinAmountOut string `json:"min_amount_out"`
}

func (s *Server) handleSwap(c *gin.Context) {
	var req swapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondMessage(c, http.StatusBadRequest, "malformed request body")
		return
	}
	side := market.Side(req.Side)
	if !side.Valid() {
		respondMessage(c, http.StatusBadRequest, "side must be 0 (buy) or 1 (sell)")
		return
	}
	amountIn, err := decimal.NewFromString(req.AmountIn)
	if err != nil {
		respondMessage(c, http.StatusBadRequest, "malformed amount_in")
		return
	}
	minOut := decimal.Zero
	if req.MinAmountOut != "" {
		if minOut, err = decimal.NewFromString(req.MinAmountOut); err != nil {
			respondMessage(c, http.StatusBadRequest, "malformed min_amount_out")
			return
		}
	}

	res, err := s.router.Swap(c.Request.Context(), currentUser(c), req.Symbol, side, amountIn, minOut)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, res)
}

type liquidityAddRequest struct {
	Symbol      string `json:"symbol"`
	BaseAmount  string `json:"base_amount"`
	QuoteAmount string `json:"quote_amount"`
}

func (s *Server) handleAddLiquidity(c *gin.Context) {
	var req liquidityAddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondMessage(c, http.StatusBadRequest, "malformed request body")
		return
	}
	base, err := decimal.NewFromString(req.BaseAmount)
	if err != nil {
		respondMessage(c, http.StatusBadRequest, "malformed base_amount")
		return
	}
	quote, err := decimal.NewFromString(req.QuoteAmount)
	if err != nil {
		respondMessage(c, http.StatusBadRequest, "malformed quote_amount")
		return
	}

	res, err := s.router.AddLiquidity(c.Request.Context(), currentUser(c), req.Symbol, base, quote)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, res)
}

type liquidityRemoveRequest struct {
	Symbol   string `json:"symbol"`
	LPShares string `json:"lp_shares"`
}

func (s *Server) handleRemoveLiquidity(c *gin.Context) {
	var req liquidityRemoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondMessage(c, http.StatusBadRequest, "malformed request body")
		return
	}
	shares, err := decimal.NewFromString(req.LPShares)
	if err != nil {
		respondMessage(c, http.StatusBadRequest, "malformed lp_shares")
		return
	}

	res, err := s.router.RemoveLiquidity(c.Request.Context(), currentUser(c), req.Symbol, shares)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, res)
}

// handlePoolGet dispatches the read-only pool routes that carry a symbol
// path inside the URL: {symbol_path}/quote, liquidity/position/{symbol_path}
// and liquidity/history/{symbol_path}.
func (s *Server) handlePoolGet(c *gin.Context) {
	rest := strings.Trim(c.Param("rest"), "/")
	switch {
	case strings.HasPrefix(rest, "liquidity/position/"):
		s.handleLPPosition(c, strings.TrimPrefix(rest, "liquidity/position/"))
	case strings.HasPrefix(rest, "liquidity/history/"):
		s.handleLPHistory(c, strings.TrimPrefix(rest, "liquidity/history/"))
	case strings.HasSuffix(rest, "/quote"):
		s.handlePoolQuote(c, strings.TrimSuffix(rest, "/quote"))
	default:
		respondMessage(c, http.StatusNotFound, "not found")
	}
}

// handlePoolQuote prices a swap. The quantity parameter is the base leg,
// quote_amount the quote leg; exactly one must be given.
func (s *Server) handlePoolQuote(c *gin.Context, symbolPath string) {
	sideVal, err := strconv.Atoi(c.DefaultQuery("side", "0"))
	if err != nil || !market.Side(sideVal).Valid() {
		respondMessage(c, http.StatusBadRequest, "side must be 0 (buy) or 1 (sell)")
		return
	}
	side := market.Side(sideVal)

	quantity := c.Query("quantity")
	quoteAmount := c.Query("quote_amount")
	if (quantity == "") == (quoteAmount == "") {
		respondMessage(c, http.StatusBadRequest, "provide exactly one of quantity and quote_amount")
		return
	}

	var req amm.QuoteRequest
	req.Side = side
	if quantity != "" {
		qty, err := decimal.NewFromString(quantity)
		if err != nil {
			respondMessage(c, http.StatusBadRequest, "malformed quantity")
			return
		}
		// The base leg: output when buying, input when selling.
		if side == market.SideBuy {
			req.AmountOut = qty
		} else {
			req.AmountIn = qty
		}
	} else {
		qa, err := decimal.NewFromString(quoteAmount)
		if err != nil {
			respondMessage(c, http.StatusBadRequest, "malformed quote_amount")
			return
		}
		if side == market.SideBuy {
			req.AmountIn = qa
		} else {
			req.AmountOut = qa
		}
	}

	quote, err := s.router.PoolQuote(c.Request.Context(), symbolPath, req)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, quote)
}

type lpPositionView struct {
	PoolID        string          `json:"pool_id"`
	Symbol        string          `json:"symbol"`
	Shares        decimal.Decimal `json:"shares"`
	ShareFraction decimal.Decimal `json:"share_fraction"`
	TotalLPShares decimal.Decimal `json:"total_lp_shares"`
	ReserveBase   decimal.Decimal `json:"reserve_base"`
	ReserveQuote  decimal.Decimal `json:"reserve_quote"`
}

func (s *Server) handleLPPosition(c *gin.Context, symbolPath string) {
	userID := s.requireUser(c)
	if userID == "" {
		return
	}
	ctx := c.Request.Context()

	sym, err := s.router.Symbol(ctx, symbolPath)
	if err != nil {
		respondError(c, err)
		return
	}
	pool, err := s.store.Pools().GetBySymbolID(ctx, sym.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	shares := decimal.Zero
	if pos, err := s.store.Pools().GetPosition(ctx, pool.PoolID, userID); err == nil {
		shares = pos.Shares
	} else if !relationaldb.IsNotFound(err) {
		respondError(c, err)
		return
	}

	fraction := decimal.Zero
	if pool.TotalLPShares.IsPositive() {
		fraction = shares.Div(pool.TotalLPShares)
	}
	respond(c, lpPositionView{
		PoolID:        pool.PoolID,
		Symbol:        sym.Symbol,
		Shares:        shares,
		ShareFraction: fraction,
		TotalLPShares: pool.TotalLPShares,
		ReserveBase:   pool.ReserveBase,
		ReserveQuote:  pool.ReserveQuote,
	})
}

func (s *Server) handleLPHistory(c *gin.Context, symbolPath string) {
	ctx := c.Request.Context()

	sym, err := s.router.Symbol(ctx, symbolPath)
	if err != nil {
		respondError(c, err)
		return
	}
	pool, err := s.store.Pools().GetBySymbolID(ctx, sym.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	limit := queryInt(c, "limit", 50)
	history, err := s.store.Pools().ListEvents(ctx, pool.PoolID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, history)
}

func queryInt(c *gin.Context, name string, fallback int) int {
	v, err := strconv.Atoi(c.DefaultQuery(name, strconv.Itoa(fallback)))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
