package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	cfg := New()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 8, cfg.AgentGraph.MaxHierarchyDepth)
	assert.Equal(t, 30_000, cfg.Queue.ReservationTTLMs)
	assert.True(t, cfg.Queue.AllowCrossTier)
}

func TestDatabaseConnectionString(t *testing.T) {
	db := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "sportsbook", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=sportsbook sslmode=disable", db.ConnectionString())
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\nqueue:\n  max_attempts: 3\n"), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
}

func TestApplyDatabaseURLOverride(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	cfg := New()
	applyDatabaseURLOverride(cfg)
	assert.Equal(t, "postgres://example", cfg.Database.DSN)
}
