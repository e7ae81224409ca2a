// Package postgres implements the relationaldb repositories over
// database/sql. The primary target is PostgreSQL via lib/pq; the pure-Go
// SQLite driver is supported for tests and single-node runs.
package postgres

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "modernc.org/sqlite"          // SQLite driver (pure Go)

	"github.com/vegaexchange/vegad/internal/storage/relationaldb"
)

// RepositoryManager implements relationaldb.RepositoryManager.
type RepositoryManager struct {
	db     *sql.DB
	config *relationaldb.Config

	userRepo    *UserRepository
	balanceRepo *BalanceRepository
	symbolRepo  *SymbolRepository
	poolRepo    *PoolRepository
	orderRepo   *OrderRepository
	tradeRepo   *TradeRepository
}

// NewRepositoryManager creates a new repository manager for the configured
// driver.
func NewRepositoryManager(config *relationaldb.Config) (*RepositoryManager, error) {
	if err := config.Validate(); err != nil {
		return nil, relationaldb.NewDatabaseError(relationaldb.ErrorTypeConfiguration,
			"new_repository_manager", "invalid configuration", err)
	}

	return &RepositoryManager{
		config: config,
	}, nil
}

func (rm *RepositoryManager) Open(ctx context.Context) error {
	connStr, err := rm.config.BuildConnectionString()
	if err != nil {
		return relationaldb.NewDatabaseError(relationaldb.ErrorTypeConfiguration,
			"open", "failed to build connection string", err)
	}

	sqlDB, err := sql.Open(rm.config.Driver, connStr)
	if err != nil {
		return relationaldb.NewConnectionError("open", "failed to open database connection", err)
	}

	sqlDB.SetMaxOpenConns(rm.config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(rm.config.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(rm.config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(rm.config.ConnMaxIdleTime)

	ctxTimeout, cancel := context.WithTimeout(ctx, rm.config.DefaultTimeout)
	defer cancel()

	if err := sqlDB.PingContext(ctxTimeout); err != nil {
		sqlDB.Close()
		return relationaldb.NewConnectionError("open", "failed to ping database", err)
	}

	rm.db = sqlDB

	if err := rm.initSchema(ctx); err != nil {
		rm.db.Close()
		rm.db = nil
		return err
	}

	driver := rm.config.Driver
	rm.userRepo = NewUserRepository(rm.db, driver)
	rm.balanceRepo = NewBalanceRepository(rm.db, driver)
	rm.symbolRepo = NewSymbolRepository(rm.db, driver)
	rm.poolRepo = NewPoolRepository(rm.db, driver)
	rm.orderRepo = NewOrderRepository(rm.db, driver)
	rm.tradeRepo = NewTradeRepository(rm.db, driver)

	return nil
}

func (rm *RepositoryManager) Close(ctx context.Context) error {
	if rm.db == nil {
		return nil
	}

	err := rm.db.Close()
	rm.db = nil

	rm.userRepo = nil
	rm.balanceRepo = nil
	rm.symbolRepo = nil
	rm.poolRepo = nil
	rm.orderRepo = nil
	rm.tradeRepo = nil

	if err != nil {
		return relationaldb.NewConnectionError("close", "failed to close database connection", err)
	}

	return nil
}

func (rm *RepositoryManager) Ping(ctx context.Context) error {
	if rm.db == nil {
		return relationaldb.ErrDatabaseClosed
	}

	ctx, cancel := context.WithTimeout(ctx, rm.config.DefaultTimeout)
	defer cancel()

	if err := rm.db.PingContext(ctx); err != nil {
		return relationaldb.NewConnectionError("ping", "database ping failed", err)
	}

	return nil
}

func (rm *RepositoryManager) Users() relationaldb.UserRepository       { return rm.userRepo }
func (rm *RepositoryManager) Balances() relationaldb.BalanceRepository { return rm.balanceRepo }
func (rm *RepositoryManager) Symbols() relationaldb.SymbolRepository   { return rm.symbolRepo }
func (rm *RepositoryManager) Pools() relationaldb.PoolRepository       { return rm.poolRepo }
func (rm *RepositoryManager) Orders() relationaldb.OrderRepository     { return rm.orderRepo }
func (rm *RepositoryManager) Trades() relationaldb.TradeRepository     { return rm.tradeRepo }

// Begin starts a new transaction with repository access bound to it.
func (rm *RepositoryManager) Begin(ctx context.Context) (relationaldb.TransactionContext, error) {
	if rm.db == nil {
		return nil, relationaldb.ErrDatabaseClosed
	}

	tx, err := rm.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, relationaldb.NewTransactionError("begin", "failed to begin transaction", err)
	}

	return NewTransactionContext(tx, rm.config.Driver), nil
}

func (rm *RepositoryManager) WithTransaction(ctx context.Context, fn func(relationaldb.TransactionContext) error) error {
	tx, err := rm.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return err
		}
		return err
	}

	return tx.Commit(ctx)
}

func (rm *RepositoryManager) initSchema(ctx context.Context) error {
	for _, query := range schemaQueries(rm.config.Driver) {
		if _, err := rm.db.ExecContext(ctx, query); err != nil {
			return relationaldb.NewQueryError("init_schema", "failed to execute schema query", err)
		}
	}
	return nil
}
