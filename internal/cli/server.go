package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vegaexchange/vegad/internal/config"
	"github.com/vegaexchange/vegad/internal/core/router"
	"github.com/vegaexchange/vegad/internal/events"
	"github.com/vegaexchange/vegad/internal/server"
	"github.com/vegaexchange/vegad/internal/storage/relationaldb"
	"github.com/vegaexchange/vegad/internal/storage/relationaldb/postgres"
	"github.com/vegaexchange/vegad/internal/ws"
)

// serverCmd represents the server command (default action)
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the exchange server",
	Long: `Start the vegad server which provides:
- HTTP API for swaps, liquidity, orders, and account state
- WebSocket endpoint for real-time pool, orderbook, and trade events
- Health check endpoint

This is the default command when no subcommand is specified.`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	// Running vegad with no subcommand starts the server.
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return serverCmd.RunE(cmd, args)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := log.New(os.Stdout, "", log.LstdFlags)
	if quiet {
		logger = log.New(io.Discard, "", 0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storeCfg := cfg.Database.StoreConfig()
	store, err := postgres.NewRepositoryManager(storeCfg)
	if err != nil {
		return fmt.Errorf("configure store: %w", err)
	}

	// The manager owns the connection lifecycle: periodic health checks and
	// expired-token pruning run until shutdown.
	db := relationaldb.NewManager(store, storeCfg)
	if err := db.Open(ctx); err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close(context.Background())

	bus := events.NewBus()
	defer bus.Close()

	rtr := router.New(store, bus, logger)
	hub := ws.NewHub(bus, nil, logger)
	srv := server.New(cfg, store, rtr, bus, hub, logger)

	if err := srv.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	if !quiet {
		fmt.Printf("vegad listening on http://%s (ws://%s/ws)\n",
			cfg.Server.Addr(), cfg.Server.Addr())
	}
	return srv.Run(ctx)
}
