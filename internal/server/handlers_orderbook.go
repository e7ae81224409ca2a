package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/vegaexchange/vegad/internal/core/engine/clob"
	"github.com/vegaexchange/vegad/internal/core/market"
)

type placeOrderRequest struct {
	Symbol    string `json:"symbol"`
	Side      int16  `json:"side"`
	OrderType int16  `json:"order_type"`
	Price     string `json:"price"`
	Quantity  string `json:"quantity"`
}

func (s *Server) handlePlaceOrder(c *gin.Context) {
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondMessage(c, http.StatusBadRequest, "malformed request body")
		return
	}
	side := market.Side(req.Side)
	if !side.Valid() {
		respondMessage(c, http.StatusBadRequest, "side must be 0 (buy) or 1 (sell)")
		return
	}
	orderType := market.OrderType(req.OrderType)
	if orderType != market.OrderMarket && orderType != market.OrderLimit {
		respondMessage(c, http.StatusBadRequest, "order_type must be 0 (market) or 1 (limit)")
		return
	}
	quantity, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		respondMessage(c, http.StatusBadRequest, "malformed quantity")
		return
	}
	price := decimal.Zero
	if req.Price != "" {
		if price, err = decimal.NewFromString(req.Price); err != nil {
			respondMessage(c, http.StatusBadRequest, "malformed price")
			return
		}
	}

	res, err := s.router.PlaceOrder(c.Request.Context(), currentUser(c), req.Symbol, clob.PlaceRequest{
		Side:     side,
		Type:     orderType,
		Price:    price,
		Quantity: quantity,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, res)
}

type cancelOrderRequest struct {
	Symbol  string `json:"symbol"`
	OrderID string `json:"order_id"`
}

func (s *Server) handleCancelOrder(c *gin.Context) {
	var req cancelOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.OrderID == "" {
		respondMessage(c, http.StatusBadRequest, "symbol and order_id are required")
		return
	}

	order, err := s.router.CancelOrder(c.Request.Context(), currentUser(c), req.Symbol, req.OrderID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, order)
}

// handleOrderbook serves the aggregated depth for a symbol; with a side
// and quantity query it prices a hypothetical order instead.
func (s *Server) handleOrderbook(c *gin.Context) {
	symbolPath := strings.Trim(c.Param("symbol"), "/")
	ctx := c.Request.Context()

	if sideParam := c.Query("side"); sideParam != "" {
		sideVal, err := strconv.Atoi(sideParam)
		if err != nil || !market.Side(sideVal).Valid() {
			respondMessage(c, http.StatusBadRequest, "side must be 0 (buy) or 1 (sell)")
			return
		}
		quantity, err := decimal.NewFromString(c.Query("quantity"))
		if err != nil {
			respondMessage(c, http.StatusBadRequest, "malformed quantity")
			return
		}
		limitPrice := decimal.Zero
		if p := c.Query("price"); p != "" {
			if limitPrice, err = decimal.NewFromString(p); err != nil {
				respondMessage(c, http.StatusBadRequest, "malformed price")
				return
			}
		}
		quote, err := s.router.OrderbookQuote(ctx, symbolPath, market.Side(sideVal), quantity, limitPrice)
		if err != nil {
			respondError(c, err)
			return
		}
		respond(c, quote)
		return
	}

	depth, err := s.router.Depth(ctx, symbolPath, queryInt(c, "levels", 20))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, depth)
}
