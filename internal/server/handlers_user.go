package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vegaexchange/vegad/internal/core/ledger"
	"github.com/vegaexchange/vegad/internal/core/market"
	"github.com/vegaexchange/vegad/internal/storage/relationaldb"
)

// handleUserTrades lists the caller's executions, newest first. Optional
// symbol and engine_type query parameters narrow the result.
func (s *Server) handleUserTrades(c *gin.Context) {
	ctx := c.Request.Context()
	filter := relationaldb.TradeFilter{
		UserID: currentUser(c),
		Limit:  queryInt(c, "limit", 50),
	}

	if symbolPath := c.Query("symbol"); symbolPath != "" {
		sym, err := s.router.Symbol(ctx, symbolPath)
		if err != nil {
			respondError(c, err)
			return
		}
		filter.SymbolID = sym.ID
	}

	trades, err := s.store.Trades().ListByFilter(ctx, filter)
	if err != nil {
		respondError(c, err)
		return
	}

	// Engine is part of each row but not of the SQL filter, so narrow here.
	if engineParam := c.Query("engine_type"); engineParam != "" {
		kind, err := market.ParseEngineKind(engineParam)
		if err != nil {
			respondMessage(c, http.StatusBadRequest, "engine_type must be amm or clob")
			return
		}
		kept := trades[:0]
		for _, t := range trades {
			if t.Engine == kind {
				kept = append(kept, t)
			}
		}
		trades = kept
	}
	if trades == nil {
		trades = []relationaldb.Trade{}
	}
	respond(c, trades)
}

func (s *Server) handleUserBalances(c *gin.Context) {
	balances, err := ledger.New(s.store.Balances()).List(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if balances == nil {
		balances = []relationaldb.Balance{}
	}
	respond(c, balances)
}

// handleUserOrders lists the caller's orders. The status query accepts
// "open" (resting orders, including partially filled ones), "closed", or a
// comma separated list of numeric status codes.
func (s *Server) handleUserOrders(c *gin.Context) {
	ctx := c.Request.Context()
	filter := relationaldb.OrderFilter{
		UserID: currentUser(c),
		Limit:  queryInt(c, "limit", 50),
	}

	if symbolPath := c.Query("symbol"); symbolPath != "" {
		sym, err := s.router.Symbol(ctx, symbolPath)
		if err != nil {
			respondError(c, err)
			return
		}
		filter.SymbolID = sym.ID
	}

	switch status := c.Query("status"); status {
	case "":
	case "open":
		filter.Statuses = []market.OrderStatus{market.OrderOpen, market.OrderPartial}
	case "closed":
		filter.Statuses = []market.OrderStatus{market.OrderFilled, market.OrderCancelled}
	default:
		for _, part := range strings.Split(status, ",") {
			parsed, err := market.ParseOrderStatus(part)
			if err != nil {
				respondMessage(c, http.StatusBadRequest, "unrecognized status filter")
				return
			}
			filter.Statuses = append(filter.Statuses, parsed)
		}
	}

	orders, err := s.store.Orders().ListByFilter(ctx, filter)
	if err != nil {
		respondError(c, err)
		return
	}
	if orders == nil {
		orders = []relationaldb.Order{}
	}
	respond(c, orders)
}
