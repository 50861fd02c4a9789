package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_AppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  dsn: \"host=db\"\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "host=db", cfg.Database.DSN)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Scan.Cooldown)
	assert.Equal(t, 30*time.Second, cfg.Occupancy.RefreshInterval)
	assert.Equal(t, 3, cfg.Occupancy.RetryAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Occupancy.RetryBase)
	assert.Equal(t, "parking_slots_changed", cfg.Occupancy.ListenChannel)
	assert.Equal(t, 10*time.Second, cfg.Redis.LockTTL)
	assert.Equal(t, 12*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "parkpeek.com", cfg.Auth.EmailDomain)
	assert.Equal(t, 1, cfg.WorkerPool.Size)
}

func TestLoad_KeepsExplicitValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "scan:\n  cooldown_ms: 1500\nworker_pool:\n  size: 4\n  throttle_seconds: 90\nauth:\n  email_domain: campus.edu\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 1500*time.Millisecond, cfg.Scan.Cooldown)
	assert.Equal(t, 4, cfg.WorkerPool.Size)
	assert.Equal(t, 90*time.Second, cfg.WorkerPool.Throttle)
	assert.Equal(t, "campus.edu", cfg.Auth.EmailDomain)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
