// Package server wires the HTTP API: gin routes over the engine router,
// bearer-token auth, the WebSocket upgrade endpoint, and graceful
// lifecycle management for the listener and the hub.
package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/vegaexchange/vegad/internal/config"
	"github.com/vegaexchange/vegad/internal/core/market"
	"github.com/vegaexchange/vegad/internal/core/num"
	"github.com/vegaexchange/vegad/internal/core/router"
	"github.com/vegaexchange/vegad/internal/events"
	"github.com/vegaexchange/vegad/internal/storage/relationaldb"
	"github.com/vegaexchange/vegad/internal/ws"
)

// Server is the HTTP front of the exchange.
type Server struct {
	cfg    *config.Config
	store  relationaldb.RepositoryManager
	router *router.Router
	bus    *events.Bus
	hub    *ws.Hub
	auth   *Auth
	logger *log.Logger
	engine *gin.Engine
}

// New assembles the server. The hub is expected to share the same bus.
func New(cfg *config.Config, store relationaldb.RepositoryManager, rtr *router.Router, bus *events.Bus, hub *ws.Hub, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	gin.SetMode(cfg.Server.Mode)

	s := &Server{
		cfg:    cfg,
		store:  store,
		router: rtr,
		bus:    bus,
		hub:    hub,
		auth:   NewAuth(store.Users(), cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		logger: logger,
	}
	if hub != nil {
		hub.SetAuth(s.auth.Verify)
	}
	s.engine = s.routes()
	return s
}

// Handler exposes the gin engine, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.GET("/health", s.handleHealth)
	r.GET("/ws", gin.WrapH(s.hub))

	api := r.Group("/api")
	authed := s.auth.middleware()

	api.POST("/auth/register", s.handleRegister)
	api.POST("/auth/login", s.handleLogin)
	api.POST("/auth/logout", authed, s.handleLogout)

	api.POST("/pool/swap", authed, s.handleSwap)
	api.POST("/pool/liquidity/add", authed, s.handleAddLiquidity)
	api.POST("/pool/liquidity/remove", authed, s.handleRemoveLiquidity)
	api.GET("/pool/*rest", s.handlePoolGet)

	api.POST("/orderbook/order", authed, s.handlePlaceOrder)
	api.POST("/orderbook/cancel", authed, s.handleCancelOrder)
	api.GET("/orderbook/*symbol", s.handleOrderbook)

	api.GET("/market", s.handleMarketList)
	api.GET("/market/*symbol", s.handleMarketSymbol)

	user := api.Group("/user", authed)
	user.GET("/trades", s.handleUserTrades)
	user.GET("/balances", s.handleUserBalances)
	user.GET("/orders", s.handleUserOrders)

	return r
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Printf("[http] %s %s %d %s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, APIResponse{Success: false, Message: "store unavailable"})
		return
	}
	respond(c, gin.H{"status": "ok"})
}

// Run serves HTTP and pumps the hub until the context is cancelled, then
// shuts the listener down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.engine,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.hub.Run(ctx)
	})
	g.Go(func() error {
		s.logger.Printf("[http] listening on %s", httpServer.Addr)
		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Bootstrap ensures the default trading symbols exist so a fresh install
// is usable immediately.
func (s *Server) Bootstrap(ctx context.Context) error {
	feeRate := num.MustParse(s.cfg.Trading.DefaultFeeRate)

	defaults := []*market.Symbol{
		{
			Symbol:      market.BuildSymbol("AMM", "USDT", "USDT", market.MarketSpot),
			BaseAsset:   "AMM",
			QuoteAsset:  "USDT",
			SettleAsset: "USDT",
			Market:      market.MarketSpot,
			Engine:      market.EngineAMM,
		},
		{
			Symbol:      market.BuildSymbol("VEGA", "USDT", "USDT", market.MarketSpot),
			BaseAsset:   "VEGA",
			QuoteAsset:  "USDT",
			SettleAsset: "USDT",
			Market:      market.MarketSpot,
			Engine:      market.EngineAMM,
		},
		{
			Symbol:      market.BuildSymbol("ORDER", "USDT", "USDT", market.MarketSpot),
			BaseAsset:   "ORDER",
			QuoteAsset:  "USDT",
			SettleAsset: "USDT",
			Market:      market.MarketSpot,
			Engine:      market.EngineCLOB,
		},
	}
	for _, sym := range defaults {
		_, err := s.store.Symbols().GetBySymbol(ctx, sym.Symbol)
		if err == nil {
			continue
		}
		if !relationaldb.IsNotFound(err) {
			return err
		}
		sym.PricePrecision = 8
		sym.QtyPrecision = 8
		sym.MinTradeAmount = num.MustParse("0.00000001")
		sym.MaxTradeAmount = num.MustParse("1000000000")
		sym.FeeRate = feeRate
		sym.Active = true
		if err := s.router.CreateSymbol(ctx, sym); err != nil {
			return err
		}
		s.logger.Printf("[server] seeded symbol %s (%s)", sym.Symbol, sym.Engine)
	}
	return nil
}
