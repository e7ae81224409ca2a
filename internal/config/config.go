// Package config holds the vegad configuration: defaults, optional config
// file, and VEGAD_-prefixed environment variables, in that priority order.
package config

import (
	"fmt"
	"time"

	"github.com/vegaexchange/vegad/internal/storage/relationaldb"
)

// Config is the complete vegad configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Trading   TradingConfig   `mapstructure:"trading"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // debug | release | test
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig selects and configures the relational store.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // postgres | sqlite
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"ssl_mode"`
	Path     string `mapstructure:"path"` // sqlite file path
}

// StoreConfig translates the database section into the storage layer's
// configuration.
func (d DatabaseConfig) StoreConfig() *relationaldb.Config {
	if d.Driver == "sqlite" || d.Driver == "sqlite3" {
		return relationaldb.SQLiteConfig(d.Path)
	}
	cfg := relationaldb.NewConfig()
	cfg.Driver = d.Driver
	cfg.Host = d.Host
	cfg.Port = d.Port
	cfg.Database = d.Name
	cfg.Username = d.Username
	cfg.Password = d.Password
	cfg.SSLMode = d.SSLMode
	return cfg
}

// AuthConfig configures access-token issuance and verification.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// WebSocketConfig configures the hub.
type WebSocketConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

// TradingConfig carries engine-facing tunables.
type TradingConfig struct {
	DefaultFeeRate string `mapstructure:"default_fee_rate"`
	DepthLevels    int    `mapstructure:"depth_levels"`
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("config: invalid server mode %q", c.Server.Mode)
	}
	switch c.Database.Driver {
	case "postgres", "postgresql", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.Driver == "sqlite" || c.Database.Driver == "sqlite3" {
		if c.Database.Path == "" {
			return fmt.Errorf("config: sqlite driver requires database.path")
		}
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("config: auth.jwt_secret must be set")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("config: auth.token_ttl must be positive")
	}
	if c.WebSocket.QueueSize <= 0 {
		return fmt.Errorf("config: websocket.queue_size must be positive")
	}
	return nil
}
