package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/vegaexchange/vegad/internal/core/market"
	"github.com/vegaexchange/vegad/internal/storage/relationaldb"
)

// TradeRepository implements relationaldb.TradeRepository.
type TradeRepository struct {
	db     executor
	driver string
}

func NewTradeRepository(db executor, driver string) *TradeRepository {
	return &TradeRepository{db: db, driver: driver}
}

const tradeColumns = `trade_id, symbol_id, user_id, order_id, maker_order_id, maker_user_id,
	side, engine_type, price, quantity, quote_amount, fee_amount, fee_asset,
	status, engine_data, created_at`

func (r *TradeRepository) Insert(ctx context.Context, trade *relationaldb.Trade) error {
	data := trade.EngineData
	if len(data) == 0 {
		data = []byte("{}")
	}

	query := rebind(r.driver, `
		INSERT INTO trades (trade_id, symbol_id, user_id, order_id, maker_order_id,
			maker_user_id, side, engine_type, price, quantity, quote_amount,
			fee_amount, fee_asset, status, engine_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := r.db.ExecContext(ctx, query,
		trade.TradeID, trade.SymbolID, trade.UserID, trade.OrderID,
		trade.MakerOrderID, trade.MakerUserID, int16(trade.Side),
		int16(trade.Engine), trade.Price, trade.Quantity, trade.QuoteAmount,
		trade.FeeAmount, trade.FeeAsset, int16(trade.Status),
		string(data), trade.CreatedAt)
	if err != nil {
		wrapped := relationaldb.WrapError(err, "insert_trade")
		if relationaldb.IsConstraintError(wrapped) {
			return relationaldb.NewConstraintError("insert_trade", "trade id already exists", err)
		}
		return relationaldb.NewQueryError("insert_trade", "failed to insert trade", err)
	}
	return nil
}

func (r *TradeRepository) Get(ctx context.Context, tradeID string) (*relationaldb.Trade, error) {
	query := rebind(r.driver, `SELECT `+tradeColumns+` FROM trades WHERE trade_id = ?`)

	var (
		t            relationaldb.Trade
		side, engine int16
		stat         int16
		data         string
	)
	err := r.db.QueryRowContext(ctx, query, tradeID).Scan(
		&t.TradeID, &t.SymbolID, &t.UserID, &t.OrderID, &t.MakerOrderID,
		&t.MakerUserID, &side, &engine, &t.Price, &t.Quantity, &t.QuoteAmount,
		&t.FeeAmount, &t.FeeAsset, &stat, &data, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, relationaldb.ErrTradeNotFound
		}
		return nil, relationaldb.NewQueryError("get_trade", "failed to scan trade", err)
	}
	t.Side = market.Side(side)
	t.Engine = market.EngineKind(engine)
	t.Status = market.TradeStatus(stat)
	t.EngineData = []byte(data)
	return &t, nil
}

func (r *TradeRepository) UpdateStatus(ctx context.Context, tradeID string, status market.TradeStatus) error {
	query := rebind(r.driver, `UPDATE trades SET status = ? WHERE trade_id = ?`)

	res, err := r.db.ExecContext(ctx, query, int16(status), tradeID)
	if err != nil {
		return relationaldb.NewQueryError("update_trade_status", "failed to update trade", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return relationaldb.ErrTradeNotFound
	}
	return nil
}

func (r *TradeRepository) ListByFilter(ctx context.Context, filter relationaldb.TradeFilter) ([]relationaldb.Trade, error) {
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

	query := `SELECT ` + tradeColumns + ` FROM trades`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC, trade_id DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, rebind(r.driver, query), args...)
	if err != nil {
		return nil, relationaldb.NewQueryError("list_trades", "failed to query trades", err)
	}
	defer rows.Close()

	var trades []relationaldb.Trade
	for rows.Next() {
		var (
			t            relationaldb.Trade
			side, engine int16
			stat         int16
			data         string
		)
		if err := rows.Scan(&t.TradeID, &t.SymbolID, &t.UserID, &t.OrderID,
			&t.MakerOrderID, &t.MakerUserID, &side, &engine, &t.Price,
			&t.Quantity, &t.QuoteAmount, &t.FeeAmount, &t.FeeAsset,
			&stat, &data, &t.CreatedAt); err != nil {
			return nil, relationaldb.NewQueryError("list_trades", "failed to scan trade", err)
		}
		t.Side = market.Side(side)
		t.Engine = market.EngineKind(engine)
		t.Status = market.TradeStatus(stat)
		t.EngineData = []byte(data)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
