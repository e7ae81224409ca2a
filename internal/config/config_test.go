package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 256, cfg.WebSocket.QueueSize)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vegad.yaml")
	content := []byte(`
server:
  port: 9000
  mode: test
database:
  driver: postgres
  host: db.internal
  username: vega
  password: hunter2
auth:
  jwt_secret: file-secret
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "file-secret", cfg.Auth.JWTSecret)

	store := cfg.Database.StoreConfig()
	assert.Equal(t, "postgres", store.Driver)
	assert.Equal(t, "db.internal", store.Host)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VEGAD_SERVER_PORT", "7777")
	t.Setenv("VEGAD_DATABASE_PATH", "/tmp/env.db")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "/tmp/env.db", cfg.Database.Path)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	assert.Error(t, err)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad mode", func(c *Config) { c.Server.Mode = "prod" }},
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"sqlite without path", func(c *Config) { c.Database.Path = "" }},
		{"empty secret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"zero ttl", func(c *Config) { c.Auth.TokenTTL = 0 }},
		{"zero queue", func(c *Config) { c.WebSocket.QueueSize = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSQLiteStoreConfig(t *testing.T) {
	cfg := Default()
	cfg.Database.Path = "/tmp/x.db"

	store := cfg.Database.StoreConfig()
	assert.Equal(t, "sqlite", store.Driver)
	assert.Equal(t, "/tmp/x.db", store.Database)
}
