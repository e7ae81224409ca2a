package config

import "github.com/spf13/viper"

// setDefaults registers the defaults for a development setup: local sqlite
// store, debug-mode gin, and a placeholder signing secret that Validate
// rejects in release mode only through explicit override.
func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Database
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "vega")
	v.SetDefault("database.username", "vega")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.path", "vegad.db")

	// Auth
	v.SetDefault("auth.jwt_secret", "dev-secret-change-me")
	v.SetDefault("auth.token_ttl", "24h")

	// WebSocket
	v.SetDefault("websocket.queue_size", 256)

	// Trading
	v.SetDefault("trading.default_fee_rate", "0.003")
	v.SetDefault("trading.depth_levels", 20)
}
