package relationaldb

import (
	"fmt"
	"net/url"
	"time"
)

// Config contains database configuration settings.
type Config struct {
	// Database connection settings
	Driver           string `json:"driver" yaml:"driver"`
	ConnectionString string `json:"connection_string" yaml:"connection_string"`
	Host             string `json:"host" yaml:"host"`
	Port             int    `json:"port" yaml:"port"`
	Database         string `json:"database" yaml:"database"`
	Username         string `json:"username" yaml:"username"`
	Password         string `json:"password" yaml:"password"`
	SSLMode          string `json:"ssl_mode" yaml:"ssl_mode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time"`

	// Transaction settings
	DefaultTimeout time.Duration `json:"default_timeout" yaml:"default_timeout"`

	// Retry settings
	MaxRetries    int           `json:"max_retries" yaml:"max_retries"`
	RetryDelay    time.Duration `json:"retry_delay" yaml:"retry_delay"`
	RetryMaxDelay time.Duration `json:"retry_max_delay" yaml:"retry_max_delay"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		Database:        "vega",
		Username:        "vega",
		SSLMode:         "prefer",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 15,
		DefaultTimeout:  time.Second * 30,
		MaxRetries:      3,
		RetryDelay:      time.Millisecond * 100,
		RetryMaxDelay:   time.Second * 2,
	}
}

// SQLiteConfig creates a SQLite-specific configuration. Used for tests and
// single-node local runs; SQLite serializes writers, so the pool is capped
// at one connection.
func SQLiteConfig(dbPath string) *Config {
	config := NewConfig()
	config.Driver = "sqlite"
	config.Database = dbPath
	config.MaxOpenConns = 1
	config.MaxIdleConns = 1
	return config
}

// Validate checks the configuration for common errors.
func (c *Config) Validate() error {
	switch c.Driver {
	case "postgres", "postgresql":
		c.Driver = "postgres"
	case "sqlite", "sqlite3":
		c.Driver = "sqlite"
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Driver)
	}

	if c.Driver == "postgres" {
		if c.ConnectionString == "" {
			if c.Host == "" {
				return ErrMissingHost
			}
			if c.Port <= 0 || c.Port > 65535 {
				return ErrInvalidPort
			}
			if c.Database == "" {
				return ErrMissingDatabase
			}
			if c.Username == "" {
				return ErrMissingUsername
			}
		}
		switch c.SSLMode {
		case "", "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
		default:
			return fmt.Errorf("invalid SSL mode: %s", c.SSLMode)
		}
	} else if c.Database == "" {
		return ErrMissingDatabase
	}

	if c.MaxOpenConns < 0 {
		return ErrInvalidMaxOpenConns
	}
	if c.MaxIdleConns < 0 {
		return ErrInvalidMaxIdleConns
	}
	if c.MaxIdleConns > c.MaxOpenConns && c.MaxOpenConns > 0 {
		return ErrMaxIdleExceedsMaxOpen
	}
	if c.DefaultTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must be >= 0")
	}

	return nil
}

// BuildConnectionString builds a connection string from the config.
func (c *Config) BuildConnectionString() (string, error) {
	if c.ConnectionString != "" {
		return c.ConnectionString, nil
	}

	switch c.Driver {
	case "postgres":
		return c.buildPostgresConnectionString(), nil
	case "sqlite":
		return c.Database, nil
	default:
		return "", fmt.Errorf("unsupported driver for connection string building: %s", c.Driver)
	}
}

func (c *Config) buildPostgresConnectionString() string {
	params := url.Values{}
	if c.SSLMode != "" {
		params.Set("sslmode", c.SSLMode)
	}
	params.Set("application_name", "vegad")

	u := url.URL{
		Scheme:   "postgres",
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: params.Encode(),
	}
	if c.Username != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.Username, c.Password)
		} else {
			u.User = url.User(c.Username)
		}
	}
	return u.String()
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String returns a string representation of the config with the password
// redacted.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Driver: %s, Host: %s, Port: %d, Database: %s}",
		c.Driver, c.Host, c.Port, c.Database)
}
