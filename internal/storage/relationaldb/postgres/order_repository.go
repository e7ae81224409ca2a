package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/vegaexchange/vegad/internal/core/market"
	"github.com/vegaexchange/vegad/internal/storage/relationaldb"
)

// OrderRepository implements relationaldb.OrderRepository.
type OrderRepository struct {
	db     executor
	driver string
}

func NewOrderRepository(db executor, driver string) *OrderRepository {
	return &OrderRepository{db: db, driver: driver}
}

const orderColumns = `order_id, symbol_id, user_id, side, order_type, price, quantity,
	filled_quantity, status, locked_amount, locked_asset, created_at, updated_at`

func (r *OrderRepository) Insert(ctx context.Context, order *relationaldb.Order) error {
	query := rebind(r.driver, `
		INSERT INTO orderbook_orders (order_id, symbol_id, user_id, side, order_type,
			price, quantity, filled_quantity, status, locked_amount, locked_asset,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := r.db.ExecContext(ctx, query,
		order.OrderID, order.SymbolID, order.UserID,
		int16(order.Side), int16(order.Type), order.Price,
		order.Quantity, order.FilledQuantity, int16(order.Status),
		order.LockedAmount, order.LockedAsset, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		wrapped := relationaldb.WrapError(err, "insert_order")
		if relationaldb.IsConstraintError(wrapped) {
			return relationaldb.NewConstraintError("insert_order", "order id already exists", err)
		}
		return relationaldb.NewQueryError("insert_order", "failed to insert order", err)
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, orderID string) (*relationaldb.Order, error) {
	query := forUpdate(r.driver, rebind(r.driver,
		`SELECT `+orderColumns+` FROM orderbook_orders WHERE order_id = ?`))
	return scanOrder(r.db.QueryRowContext(ctx, query, orderID))
}

func scanOrder(row *sql.Row) (*relationaldb.Order, error) {
	var (
		o               relationaldb.Order
		side, typ, stat int16
	)
	err := row.Scan(&o.OrderID, &o.SymbolID, &o.UserID, &side, &typ,
		&o.Price, &o.Quantity, &o.FilledQuantity, &stat,
		&o.LockedAmount, &o.LockedAsset, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, relationaldb.ErrOrderNotFound
		}
		return nil, relationaldb.NewQueryError("get_order", "failed to scan order", err)
	}
	o.Side = market.Side(side)
	o.Type = market.OrderType(typ)
	o.Status = market.OrderStatus(stat)
	return &o, nil
}

func (r *OrderRepository) Update(ctx context.Context, order *relationaldb.Order) error {
	order.UpdatedAt = time.Now().UTC()

	query := rebind(r.driver, `
		UPDATE orderbook_orders
		SET filled_quantity = ?, status = ?, locked_amount = ?, updated_at = ?
		WHERE order_id = ?`)

	res, err := r.db.ExecContext(ctx, query,
		order.FilledQuantity, int16(order.Status), order.LockedAmount,
		order.UpdatedAt, order.OrderID)
	if err != nil {
		return relationaldb.NewQueryError("update_order", "failed to update order", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return relationaldb.ErrOrderNotFound
	}
	return nil
}

// ListOpen returns OPEN and PARTIAL orders for a symbol in time priority.
func (r *OrderRepository) ListOpen(ctx context.Context, symbolID int64) ([]relationaldb.Order, error) {
	query := rebind(r.driver, `
		SELECT `+orderColumns+` FROM orderbook_orders
		WHERE symbol_id = ? AND status IN (0, 1)
		ORDER BY created_at, order_id`)

	rows, err := r.db.QueryContext(ctx, query, symbolID)
	if err != nil {
		return nil, relationaldb.NewQueryError("list_open_orders", "failed to query orders", err)
	}
	return collectOrders(rows)
}

func (r *OrderRepository) ListByFilter(ctx context.Context, filter relationaldb.OrderFilter) ([]relationaldb.Order, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.SymbolID != 0 {
		conds = append(conds, "symbol_id = ?")
		args = append(args, filter.SymbolID)
	}
	if filter.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if len(filter.Statuses) > 0 {
		ph := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			ph[i] = "?"
			args = append(args, int16(st))
		}
		conds = append(conds, "status IN ("+strings.Join(ph, ", ")+")")
	}

	query := `SELECT ` + orderColumns + ` FROM orderbook_orders`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC, order_id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, rebind(r.driver, query), args...)
	if err != nil {
		return nil, relationaldb.NewQueryError("list_orders", "failed to query orders", err)
	}
	return collectOrders(rows)
}

func collectOrders(rows *sql.Rows) ([]relationaldb.Order, error) {
	defer rows.Close()

	var orders []relationaldb.Order
	for rows.Next() {
		var (
			o               relationaldb.Order
			side, typ, stat int16
		)
		if err := rows.Scan(&o.OrderID, &o.SymbolID, &o.UserID, &side, &typ,
			&o.Price, &o.Quantity, &o.FilledQuantity, &stat,
			&o.LockedAmount, &o.LockedAsset, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, relationaldb.NewQueryError("list_orders", "failed to scan order", err)
		}
		o.Side = market.Side(side)
		o.Type = market.OrderType(typ)
		o.Status = market.OrderStatus(stat)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
