package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8086, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "localhost", cfg.Database.Postgres.Host)
	assert.Equal(t, 5432, cfg.Database.Postgres.Port)
	assert.Equal(t, "syncline", cfg.Database.Postgres.Database)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.NATS.Enabled)
	assert.False(t, cfg.OpenSearch.Enabled)
	assert.Equal(t, 5, cfg.Sync.PollIntervalMinutes)
	assert.Equal(t, time.Minute, cfg.Sync.TickInterval)
	assert.Equal(t, "rules", cfg.Lake.RulesPath)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
sync:
  poll_interval_minutes: 30
  tick_interval: 10s
redis:
  enabled: true
  addr: cache:6379
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 30, cfg.Sync.PollIntervalMinutes)
	assert.Equal(t, 10*time.Second, cfg.Sync.TickInterval)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)

	// Unset keys keep their defaults.
	assert.Equal(t, "localhost", cfg.Database.Postgres.Host)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("SYNCLINE_SERVER_PORT", "7070")
	t.Setenv("SYNCLINE_DATABASE_POSTGRES_HOST", "db.internal")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "db.internal", cfg.Database.Postgres.Host)
}

func TestPostgresConfig_ConnString(t *testing.T) {
	p := PostgresConfig{
		Host:     "db",
		Port:     5433,
		Database: "syncline",
		User:     "app",
		Password: "secret",
		SSLMode:  "disable",
	}
	assert.Equal(t, "postgres://app:secret@db:5433/syncline?sslmode=disable", p.ConnString())
}
