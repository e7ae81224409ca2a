package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vegaexchange/vegad/internal/core/market"
	"github.com/vegaexchange/vegad/internal/storage/relationaldb"
)

// SymbolRepository implements relationaldb.SymbolRepository.
type SymbolRepository struct {
	db     executor
	driver string
}

func NewSymbolRepository(db executor, driver string) *SymbolRepository {
	return &SymbolRepository{db: db, driver: driver}
}

const symbolColumns = `id, symbol, base_asset, quote_asset, settle_asset, market,
	engine_type, price_precision, qty_precision, min_trade_amount, max_trade_amount,
	fee_rate, engine_params, active, created_at, updated_at`

func (r *SymbolRepository) Create(ctx context.Context, symbol *market.Symbol) error {
	now := time.Now().UTC()
	if symbol.CreatedAt.IsZero() {
		symbol.CreatedAt = now
	}
	symbol.UpdatedAt = now

	params := symbol.EngineParams
	if len(params) == 0 {
		params = []byte("{}")
	}

	if r.driver == "postgres" {
		query := rebind(r.driver, `
			INSERT INTO symbol_configs (symbol, base_asset, quote_asset, settle_asset,
				market, engine_type, price_precision, qty_precision,
				min_trade_amount, max_trade_amount, fee_rate, engine_params,
				active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id`)

		err := r.db.QueryRowContext(ctx, query,
			symbol.Symbol, symbol.BaseAsset, symbol.QuoteAsset, symbol.SettleAsset,
			string(symbol.Market), int16(symbol.Engine), symbol.PricePrecision,
			symbol.QtyPrecision, symbol.MinTradeAmount, symbol.MaxTradeAmount,
			symbol.FeeRate, string(params), symbol.Active,
			symbol.CreatedAt, symbol.UpdatedAt).Scan(&symbol.ID)
		if err != nil {
			return r.wrapCreate(err)
		}
		return nil
	}

	query := rebind(r.driver, `
		INSERT INTO symbol_configs (symbol, base_asset, quote_asset, settle_asset,
			market, engine_type, price_precision, qty_precision,
			min_trade_amount, max_trade_amount, fee_rate, engine_params,
			active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	res, err := r.db.ExecContext(ctx, query,
		symbol.Symbol, symbol.BaseAsset, symbol.QuoteAsset, symbol.SettleAsset,
		string(symbol.Market), int16(symbol.Engine), symbol.PricePrecision,
		symbol.QtyPrecision, symbol.MinTradeAmount, symbol.MaxTradeAmount,
		symbol.FeeRate, string(params), symbol.Active,
		symbol.CreatedAt, symbol.UpdatedAt)
	if err != nil {
		return r.wrapCreate(err)
	}
	symbol.ID, _ = res.LastInsertId()
	return nil
}

func (r *SymbolRepository) wrapCreate(err error) error {
	wrapped := relationaldb.WrapError(err, "create_symbol")
	if relationaldb.IsConstraintError(wrapped) {
		return relationaldb.NewConstraintError("create_symbol", "symbol already exists", err)
	}
	return relationaldb.NewQueryError("create_symbol", "failed to insert symbol", err)
}

func (r *SymbolRepository) GetByID(ctx context.Context, id int64) (*market.Symbol, error) {
	query := rebind(r.driver, `SELECT `+symbolColumns+` FROM symbol_configs WHERE id = ?`)
	return r.scanSymbol(r.db.QueryRowContext(ctx, query, id))
}

func (r *SymbolRepository) GetBySymbol(ctx context.Context, symbol string) (*market.Symbol, error) {
	query := rebind(r.driver, `SELECT `+symbolColumns+` FROM symbol_configs WHERE symbol = ?`)
	return r.scanSymbol(r.db.QueryRowContext(ctx, query, symbol))
}

func (r *SymbolRepository) scanSymbol(row *sql.Row) (*market.Symbol, error) {
	var (
		s      market.Symbol
		mc     string
		engine int16
		params string
	)
	err := row.Scan(&s.ID, &s.Symbol, &s.BaseAsset, &s.QuoteAsset, &s.SettleAsset,
		&mc, &engine, &s.PricePrecision, &s.QtyPrecision,
		&s.MinTradeAmount, &s.MaxTradeAmount, &s.FeeRate, &params,
		&s.Active, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, relationaldb.ErrSymbolNotFound
		}
		return nil, relationaldb.NewQueryError("get_symbol", "failed to scan symbol", err)
	}
	s.Market = market.MarketClass(mc)
	s.Engine = market.EngineKind(engine)
	s.EngineParams = []byte(params)
	return &s, nil
}

func (r *SymbolRepository) List(ctx context.Context, activeOnly bool) ([]market.Symbol, error) {
	query := `SELECT ` + symbolColumns + ` FROM symbol_configs`
	if activeOnly {
		query += ` WHERE active = TRUE`
	}
	query += ` ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, relationaldb.NewQueryError("list_symbols", "failed to query symbols", err)
	}
	defer rows.Close()

	var symbols []market.Symbol
	for rows.Next() {
		var (
			s      market.Symbol
			mc     string
			engine int16
			params string
		)
		if err := rows.Scan(&s.ID, &s.Symbol, &s.BaseAsset, &s.QuoteAsset, &s.SettleAsset,
			&mc, &engine, &s.PricePrecision, &s.QtyPrecision,
			&s.MinTradeAmount, &s.MaxTradeAmount, &s.FeeRate, &params,
			&s.Active, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, relationaldb.NewQueryError("list_symbols", "failed to scan symbol", err)
		}
		s.Market = market.MarketClass(mc)
		s.Engine = market.EngineKind(engine)
		s.EngineParams = []byte(params)
		symbols = append(symbols, s)
	}
	return symbols, rows.Err()
}

func (r *SymbolRepository) SetActive(ctx context.Context, id int64, active bool) error {
	query := rebind(r.driver, `
		UPDATE symbol_configs SET active = ?, updated_at = ? WHERE id = ?`)

	res, err := r.db.ExecContext(ctx, query, active, time.Now().UTC(), id)
	if err != nil {
		return relationaldb.NewQueryError("set_symbol_active", "failed to update symbol", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return relationaldb.ErrSymbolNotFound
	}
	return nil
}
