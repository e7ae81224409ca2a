package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/vegaexchange/vegad/internal/storage/relationaldb"
)

// BalanceRepository implements relationaldb.BalanceRepository.
// decimal.Decimal implements sql.Scanner and driver.Valuer, so monetary
// columns round-trip without string plumbing.
type BalanceRepository struct {
	db     executor
	driver string
}

func NewBalanceRepository(db executor, driver string) *BalanceRepository {
	return &BalanceRepository{db: db, driver: driver}
}

// Get returns one ledger row, acquiring a row lock on postgres so a
// read-modify-write cycle inside a transaction is safe against concurrent
// writers.
func (r *BalanceRepository) Get(ctx context.Context, userID, accountType, currency string) (*relationaldb.Balance, error) {
	query := forUpdate(r.driver, rebind(r.driver, `
		SELECT user_id, account_type, currency, available, locked, updated_at
		FROM user_balances
		WHERE user_id = ? AND account_type = ? AND currency = ?`))

	var b relationaldb.Balance
	err := r.db.QueryRowContext(ctx, query, userID, accountType, currency).Scan(
		&b.UserID, &b.AccountType, &b.Currency, &b.Available, &b.Locked, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, relationaldb.ErrBalanceNotFound
		}
		return nil, relationaldb.NewQueryError("get_balance", "failed to scan balance", err)
	}
	return &b, nil
}

func (r *BalanceRepository) List(ctx context.Context, userID, accountType string) ([]relationaldb.Balance, error) {
	query := rebind(r.driver, `
		SELECT user_id, account_type, currency, available, locked, updated_at
		FROM user_balances
		WHERE user_id = ? AND account_type = ?
		ORDER BY currency`)

	rows, err := r.db.QueryContext(ctx, query, userID, accountType)
	if err != nil {
		return nil, relationaldb.NewQueryError("list_balances", "failed to query balances", err)
	}
	defer rows.Close()

	var balances []relationaldb.Balance
	for rows.Next() {
		var b relationaldb.Balance
		if err := rows.Scan(&b.UserID, &b.AccountType, &b.Currency,
			&b.Available, &b.Locked, &b.UpdatedAt); err != nil {
			return nil, relationaldb.NewQueryError("list_balances", "failed to scan balance", err)
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// Put upserts the full row. The caller computes the new available/locked
// amounts; the check constraints reject negative values as a backstop.
func (r *BalanceRepository) Put(ctx context.Context, balance *relationaldb.Balance) error {
	query := rebind(r.driver, `
		INSERT INTO user_balances (user_id, account_type, currency, available, locked, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, account_type, currency)
		DO UPDATE SET available = excluded.available,
		              locked = excluded.locked,
		              updated_at = excluded.updated_at`)

	_, err := r.db.ExecContext(ctx, query,
		balance.UserID, balance.AccountType, balance.Currency,
		balance.Available, balance.Locked, balance.UpdatedAt)
	if err != nil {
		wrapped := relationaldb.WrapError(err, "put_balance")
		if relationaldb.IsConstraintError(wrapped) {
			return relationaldb.NewConstraintError("put_balance", "balance would go negative", err)
		}
		return relationaldb.NewQueryError("put_balance", "failed to upsert balance", err)
	}
	return nil
}
