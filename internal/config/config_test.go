package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
env: prod
debug: true
http_server:
  address: ":9090"
  idle_timeout: 30s
storage:
  driver: postgres
  dsn: "host=db user=badma"
hub:
  idle_after: 1h
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.Env)
	assert.True(t, cfg.Debug)
	assert.Equal(t, ":9090", cfg.HTTPServer.Address)
	assert.Equal(t, 30*time.Second, cfg.HTTPServer.IdleTimeout)
	assert.Equal(t, 4*time.Second, cfg.HTTPServer.ReadTimeout)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, time.Hour, cfg.Hub.IdleAfter)
	assert.Equal(t, 5*time.Minute, cfg.Hub.CleanupEvery)
	assert.True(t, cfg.AutoRegister)
}

func TestLoadDefaultsFromEnv(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "localhost:8080", cfg.HTTPServer.Address)
}

func TestLoadRejectsBadStorage(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "mysql")
	_, err := Load("")
	assert.ErrorContains(t, err, "storage.dsn is required")

	t.Setenv("STORAGE_DRIVER", "sqlite")
	_, err = Load("")
	assert.ErrorContains(t, err, "unknown storage driver")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
