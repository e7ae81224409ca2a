package postgres

import (
	"context"
	"database/sql"

	"github.com/vegaexchange/vegad/internal/storage/relationaldb"
)

// TransactionContext implements relationaldb.TransactionContext. All
// repositories returned by it execute on the same *sql.Tx.
type TransactionContext struct {
	tx *sql.Tx

	userRepo    *UserRepository
	balanceRepo *BalanceRepository
	symbolRepo  *SymbolRepository
	poolRepo    *PoolRepository
	orderRepo   *OrderRepository
	tradeRepo   *TradeRepository
}

// NewTransactionContext creates a transaction context bound to tx.
func NewTransactionContext(tx *sql.Tx, driver string) *TransactionContext {
	return &TransactionContext{
		tx:          tx,
		userRepo:    NewUserRepository(tx, driver),
		balanceRepo: NewBalanceRepository(tx, driver),
		symbolRepo:  NewSymbolRepository(tx, driver),
		poolRepo:    NewPoolRepository(tx, driver),
		orderRepo:   NewOrderRepository(tx, driver),
		tradeRepo:   NewTradeRepository(tx, driver),
	}
}

func (tc *TransactionContext) Commit(ctx context.Context) error {
	if tc.tx == nil {
		return relationaldb.ErrTransactionClosed
	}

	err := tc.tx.Commit()
	tc.tx = nil

	if err != nil {
		return relationaldb.NewTransactionError("commit", "failed to commit transaction", err)
	}

	return nil
}

func (tc *TransactionContext) Rollback(ctx context.Context) error {
	if tc.tx == nil {
		return nil // Already rolled back or committed
	}

	err := tc.tx.Rollback()
	tc.tx = nil

	if err != nil {
		return relationaldb.NewTransactionError("rollback", "failed to rollback transaction", err)
	}

	return nil
}

func (tc *TransactionContext) Users() relationaldb.UserRepository       { return tc.userRepo }
func (tc *TransactionContext) Balances() relationaldb.BalanceRepository { return tc.balanceRepo }
func (tc *TransactionContext) Symbols() relationaldb.SymbolRepository   { return tc.symbolRepo }
func (tc *TransactionContext) Pools() relationaldb.PoolRepository       { return tc.poolRepo }
func (tc *TransactionContext) Orders() relationaldb.OrderRepository     { return tc.orderRepo }
func (tc *TransactionContext) Trades() relationaldb.TradeRepository     { return tc.tradeRepo }
