package postgres

import (
	"fmt"
	"strings"
)

// schemaQueries returns the DDL for the given driver. Monetary columns are
// DECIMAL(36,18); the pool constant k is DECIMAL(72,18) since it is the
// product of two reserves. On SQLite the DECIMAL columns are rewritten to
// TEXT: numeric affinity would coerce 18-decimal strings to floats and lose
// precision, and all arithmetic happens in Go anyway.
func schemaQueries(driver string) []string {
	serial := "BIGSERIAL PRIMARY KEY"
	now := "NOW()"
	if driver != "postgres" {
		serial = "INTEGER PRIMARY KEY AUTOINCREMENT"
		now = "CURRENT_TIMESTAMP"
	}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(16) PRIMARY KEY,
			username VARCHAR(64) UNIQUE NOT NULL,
			email VARCHAR(128) UNIQUE NOT NULL,
			password_hash VARCHAR(128) NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL DEFAULT ` + now + `
		)`,

		`CREATE TABLE IF NOT EXISTS access_tokens (
			token VARCHAR(512) PRIMARY KEY,
			user_id VARCHAR(16) NOT NULL REFERENCES users(id),
			expires_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT ` + now + `
		)`,

		`CREATE TABLE IF NOT EXISTS user_balances (
			user_id VARCHAR(16) NOT NULL,
			account_type VARCHAR(16) NOT NULL,
			currency VARCHAR(80) NOT NULL,
			available DECIMAL(36,18) NOT NULL DEFAULT 0,
			locked DECIMAL(36,18) NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL DEFAULT ` + now + `,
			PRIMARY KEY (user_id, account_type, currency),
			CHECK (available >= 0),
			CHECK (locked >= 0)
		)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS symbol_configs (
			id %s,
			symbol VARCHAR(80) UNIQUE NOT NULL,
			base_asset VARCHAR(32) NOT NULL,
			quote_asset VARCHAR(32) NOT NULL,
			settle_asset VARCHAR(32) NOT NULL,
			market VARCHAR(16) NOT NULL,
			engine_type SMALLINT NOT NULL,
			price_precision INTEGER NOT NULL DEFAULT 8,
			qty_precision INTEGER NOT NULL DEFAULT 8,
			min_trade_amount DECIMAL(36,18) NOT NULL DEFAULT 0,
			max_trade_amount DECIMAL(36,18) NOT NULL DEFAULT 0,
			fee_rate DECIMAL(10,6) NOT NULL DEFAULT 0.001,
			engine_params TEXT NOT NULL DEFAULT '{}',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL DEFAULT %s,
			updated_at TIMESTAMP NOT NULL DEFAULT %s
		)`, serial, now, now),

		`CREATE TABLE IF NOT EXISTS amm_pools (
			pool_id VARCHAR(42) PRIMARY KEY,
			symbol_id BIGINT UNIQUE NOT NULL,
			reserve_base DECIMAL(36,18) NOT NULL DEFAULT 0,
			reserve_quote DECIMAL(36,18) NOT NULL DEFAULT 0,
			k_value DECIMAL(72,18) NOT NULL DEFAULT 0,
			fee_rate DECIMAL(10,6) NOT NULL DEFAULT 0.003,
			total_lp_shares DECIMAL(36,18) NOT NULL DEFAULT 0,
			total_volume_base DECIMAL(36,18) NOT NULL DEFAULT 0,
			total_volume_quote DECIMAL(36,18) NOT NULL DEFAULT 0,
			total_fees_collected DECIMAL(36,18) NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT ` + now + `,
			updated_at TIMESTAMP NOT NULL DEFAULT ` + now + `
		)`,

		`CREATE TABLE IF NOT EXISTS lp_positions (
			pool_id VARCHAR(42) NOT NULL,
			user_id VARCHAR(16) NOT NULL,
			shares DECIMAL(36,18) NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT ` + now + `,
			updated_at TIMESTAMP NOT NULL DEFAULT ` + now + `,
			PRIMARY KEY (pool_id, user_id)
		)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS lp_events (
			id %s,
			pool_id VARCHAR(42) NOT NULL,
			user_id VARCHAR(16) NOT NULL,
			action VARCHAR(8) NOT NULL,
			base_amount DECIMAL(36,18) NOT NULL,
			quote_amount DECIMAL(36,18) NOT NULL,
			shares DECIMAL(36,18) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT %s
		)`, serial, now),

		`CREATE TABLE IF NOT EXISTS orderbook_orders (
			order_id VARCHAR(32) PRIMARY KEY,
			symbol_id BIGINT NOT NULL,
			user_id VARCHAR(16) NOT NULL,
			side SMALLINT NOT NULL,
			order_type SMALLINT NOT NULL,
			price DECIMAL(36,18) NOT NULL DEFAULT 0,
			quantity DECIMAL(36,18) NOT NULL,
			filled_quantity DECIMAL(36,18) NOT NULL DEFAULT 0,
			status SMALLINT NOT NULL DEFAULT 0,
			locked_amount DECIMAL(36,18) NOT NULL DEFAULT 0,
			locked_asset VARCHAR(80) NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT ` + now + `,
			updated_at TIMESTAMP NOT NULL DEFAULT ` + now + `
		)`,

		`CREATE TABLE IF NOT EXISTS trades (
			trade_id VARCHAR(32) PRIMARY KEY,
			symbol_id BIGINT NOT NULL,
			user_id VARCHAR(16) NOT NULL,
			order_id VARCHAR(32) NOT NULL DEFAULT '',
			maker_order_id VARCHAR(32) NOT NULL DEFAULT '',
			maker_user_id VARCHAR(16) NOT NULL DEFAULT '',
			side SMALLINT NOT NULL,
			engine_type SMALLINT NOT NULL,
			price DECIMAL(36,18) NOT NULL,
			quantity DECIMAL(36,18) NOT NULL,
			quote_amount DECIMAL(36,18) NOT NULL,
			fee_amount DECIMAL(36,18) NOT NULL DEFAULT 0,
			fee_asset VARCHAR(32) NOT NULL DEFAULT '',
			status SMALLINT NOT NULL DEFAULT 0,
			engine_data TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL DEFAULT ` + now + `
		)`,

		`CREATE INDEX IF NOT EXISTS idx_tokens_user ON access_tokens(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tokens_expiry ON access_tokens(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_balances_user ON user_balances(user_id, account_type)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_symbol_status ON orderbook_orders(symbol_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_user ON orderbook_orders(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol_time ON trades(symbol_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_user_time ON trades(user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_lp_events_pool ON lp_events(pool_id)`,
	}

	if driver != "postgres" {
		replacer := strings.NewReplacer(
			"DECIMAL(36,18)", "TEXT",
			"DECIMAL(72,18)", "TEXT",
			"DECIMAL(10,6)", "TEXT",
		)
		for i, q := range queries {
			queries[i] = replacer.Replace(q)
		}
	}

	return queries
}
