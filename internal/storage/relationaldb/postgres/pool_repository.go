package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vegaexchange/vegad/internal/storage/relationaldb"
)

// PoolRepository implements relationaldb.PoolRepository.
type PoolRepository struct {
	db     executor
	driver string
}

func NewPoolRepository(db executor, driver string) *PoolRepository {
	return &PoolRepository{db: db, driver: driver}
}

const poolColumns = `pool_id, symbol_id, reserve_base, reserve_quote, k_value, fee_rate,
	total_lp_shares, total_volume_base, total_volume_quote, total_fees_collected,
	created_at, updated_at`

func (r *PoolRepository) Create(ctx context.Context, pool *relationaldb.Pool) error {
	query := rebind(r.driver, `
		INSERT INTO amm_pools (pool_id, symbol_id, reserve_base, reserve_quote,
			k_value, fee_rate, total_lp_shares, total_volume_base,
			total_volume_quote, total_fees_collected, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := r.db.ExecContext(ctx, query,
		pool.PoolID, pool.SymbolID, pool.ReserveBase, pool.ReserveQuote,
		pool.K, pool.FeeRate, pool.TotalLPShares, pool.VolumeBase,
		pool.VolumeQuote, pool.FeesCollected, pool.CreatedAt, pool.UpdatedAt)
	if err != nil {
		wrapped := relationaldb.WrapError(err, "create_pool")
		if relationaldb.IsConstraintError(wrapped) {
			return relationaldb.NewConstraintError("create_pool", "pool already exists for symbol", err)
		}
		return relationaldb.NewQueryError("create_pool", "failed to insert pool", err)
	}
	return nil
}

func (r *PoolRepository) GetByPoolID(ctx context.Context, poolID string) (*relationaldb.Pool, error) {
	query := forUpdate(r.driver, rebind(r.driver,
		`SELECT `+poolColumns+` FROM amm_pools WHERE pool_id = ?`))
	return r.scanPool(r.db.QueryRowContext(ctx, query, poolID))
}

func (r *PoolRepository) GetBySymbolID(ctx context.Context, symbolID int64) (*relationaldb.Pool, error) {
	query := forUpdate(r.driver, rebind(r.driver,
		`SELECT `+poolColumns+` FROM amm_pools WHERE symbol_id = ?`))
	return r.scanPool(r.db.QueryRowContext(ctx, query, symbolID))
}

func (r *PoolRepository) scanPool(row *sql.Row) (*relationaldb.Pool, error) {
	var p relationaldb.Pool
	err := row.Scan(&p.PoolID, &p.SymbolID, &p.ReserveBase, &p.ReserveQuote,
		&p.K, &p.FeeRate, &p.TotalLPShares, &p.VolumeBase, &p.VolumeQuote,
		&p.FeesCollected, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, relationaldb.ErrPoolNotFound
		}
		return nil, relationaldb.NewQueryError("get_pool", "failed to scan pool", err)
	}
	return &p, nil
}

func (r *PoolRepository) Update(ctx context.Context, pool *relationaldb.Pool) error {
	pool.UpdatedAt = time.Now().UTC()

	query := rebind(r.driver, `
		UPDATE amm_pools SET reserve_base = ?, reserve_quote = ?, k_value = ?,
			fee_rate = ?, total_lp_shares = ?, total_volume_base = ?,
			total_volume_quote = ?, total_fees_collected = ?, updated_at = ?
		WHERE pool_id = ?`)

	res, err := r.db.ExecContext(ctx, query,
		pool.ReserveBase, pool.ReserveQuote, pool.K, pool.FeeRate,
		pool.TotalLPShares, pool.VolumeBase, pool.VolumeQuote,
		pool.FeesCollected, pool.UpdatedAt, pool.PoolID)
	if err != nil {
		return relationaldb.NewQueryError("update_pool", "failed to update pool", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return relationaldb.ErrPoolNotFound
	}
	return nil
}

func (r *PoolRepository) List(ctx context.Context) ([]relationaldb.Pool, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+poolColumns+` FROM amm_pools ORDER BY created_at`)
	if err != nil {
		return nil, relationaldb.NewQueryError("list_pools", "failed to query pools", err)
	}
	defer rows.Close()

	var pools []relationaldb.Pool
	for rows.Next() {
		var p relationaldb.Pool
		if err := rows.Scan(&p.PoolID, &p.SymbolID, &p.ReserveBase, &p.ReserveQuote,
			&p.K, &p.FeeRate, &p.TotalLPShares, &p.VolumeBase, &p.VolumeQuote,
			&p.FeesCollected, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, relationaldb.NewQueryError("list_pools", "failed to scan pool", err)
		}
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

func (r *PoolRepository) GetPosition(ctx context.Context, poolID, userID string) (*relationaldb.LPPosition, error) {
	query := forUpdate(r.driver, rebind(r.driver, `
		SELECT pool_id, user_id, shares, created_at, updated_at
		FROM lp_positions WHERE pool_id = ? AND user_id = ?`))

	var pos relationaldb.LPPosition
	err := r.db.QueryRowContext(ctx, query, poolID, userID).Scan(
		&pos.PoolID, &pos.UserID, &pos.Shares, &pos.CreatedAt, &pos.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, relationaldb.ErrBalanceNotFound
		}
		return nil, relationaldb.NewQueryError("get_lp_position", "failed to scan position", err)
	}
	return &pos, nil
}

func (r *PoolRepository) PutPosition(ctx context.Context, position *relationaldb.LPPosition) error {
	query := rebind(r.driver, `
		INSERT INTO lp_positions (pool_id, user_id, shares, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (pool_id, user_id)
		DO UPDATE SET shares = excluded.shares, updated_at = excluded.updated_at`)

	_, err := r.db.ExecContext(ctx, query,
		position.PoolID, position.UserID, position.Shares,
		position.CreatedAt, position.UpdatedAt)
	if err != nil {
		return relationaldb.NewQueryError("put_lp_position", "failed to upsert position", err)
	}
	return nil
}

func (r *PoolRepository) ListPositions(ctx context.Context, poolID string) ([]relationaldb.LPPosition, error) {
	query := rebind(r.driver, `
		SELECT pool_id, user_id, shares, created_at, updated_at
		FROM lp_positions WHERE pool_id = ? ORDER BY user_id`)

	rows, err := r.db.QueryContext(ctx, query, poolID)
	if err != nil {
		return nil, relationaldb.NewQueryError("list_lp_positions", "failed to query positions", err)
	}
	defer rows.Close()

	var positions []relationaldb.LPPosition
	for rows.Next() {
		var pos relationaldb.LPPosition
		if err := rows.Scan(&pos.PoolID, &pos.UserID, &pos.Shares,
			&pos.CreatedAt, &pos.UpdatedAt); err != nil {
			return nil, relationaldb.NewQueryError("list_lp_positions", "failed to scan position", err)
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

func (r *PoolRepository) AppendEvent(ctx context.Context, event *relationaldb.LPEvent) error {
	query := rebind(r.driver, `
		INSERT INTO lp_events (pool_id, user_id, action, base_amount, quote_amount, shares, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)

	_, err := r.db.ExecContext(ctx, query,
		event.PoolID, event.UserID, event.Action,
		event.BaseAmount, event.QuoteAmount, event.Shares, event.CreatedAt)
	if err != nil {
		return relationaldb.NewQueryError("append_lp_event", "failed to insert event", err)
	}
	return nil
}

func (r *PoolRepository) ListEvents(ctx context.Context, poolID string, limit int) ([]relationaldb.LPEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := rebind(r.driver, `
		SELECT id, pool_id, user_id, action, base_amount, quote_amount, shares, created_at
		FROM lp_events WHERE pool_id = ?
		ORDER BY id DESC LIMIT ?`)

	rows, err := r.db.QueryContext(ctx, query, poolID, limit)
	if err != nil {
		return nil, relationaldb.NewQueryError("list_lp_events", "failed to query events", err)
	}
	defer rows.Close()

	var events []relationaldb.LPEvent
	for rows.Next() {
		var ev relationaldb.LPEvent
		if err := rows.Scan(&ev.ID, &ev.PoolID, &ev.UserID, &ev.Action,
			&ev.BaseAmount, &ev.QuoteAmount, &ev.Shares, &ev.CreatedAt); err != nil {
			return nil, relationaldb.NewQueryError("list_lp_events", "failed to scan event", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
