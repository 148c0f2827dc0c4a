package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := loadConfig(newViper(), "")
	require.NoError(t, err)

	assert.Equal(t, ":4200", cfg.ListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "UTC", cfg.Timezone)
	assert.Equal(t, "permissive", cfg.Predicate.Mode)
	assert.Equal(t, "expr", cfg.Engine.FormulaEngine)
	assert.Equal(t, 4, cfg.Engine.RecordConcurrency)
	assert.Equal(t, 30*time.Second, cfg.Engine.RecordTimeout)
	assert.Equal(t, "@every 1m", cfg.Scheduler.Interval)
	assert.Equal(t, 50, cfg.Scheduler.SyncBatchSize)
	assert.Equal(t, 30*time.Minute, cfg.Scheduler.ClaimTTL)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "autoflow", cfg.Metrics.Namespace)
	assert.Equal(t, "autoflow.db", filepath.Base(cfg.DBPath))
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db_path: /tmp/af.db
timezone: Europe/Madrid
predicate:
  mode: strict
engine:
  record_concurrency: 2
  run_timeout: 90s
scheduler:
  interval: "@every 5m"
locks:
  redis_url: redis://localhost:6379/0
`), 0o600))

	t.Setenv("AUTOFLOW_ENGINE_RECORD_CONCURRENCY", "8")
	t.Setenv("AUTOFLOW_NATS_URL", "nats://localhost:4222")

	cfg, err := loadConfig(newViper(), path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/af.db", cfg.DBPath)
	assert.Equal(t, "Europe/Madrid", cfg.Timezone)
	assert.Equal(t, "Europe/Madrid", cfg.location().String())
	assert.Equal(t, "strict", cfg.Predicate.Mode)
	assert.Equal(t, 8, cfg.Engine.RecordConcurrency, "env overrides the file")
	assert.Equal(t, 90*time.Second, cfg.Engine.RunTimeout)
	assert.Equal(t, "@every 5m", cfg.Scheduler.Interval)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Locks.RedisURL)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"mode", "predicate:\n  mode: lenient\n"},
		{"timezone", "timezone: Mars/Olympus\n"},
		{"negative concurrency", "scheduler:\n  concurrency: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "autoflow.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o600))
			_, err := loadConfig(newViper(), path)
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := loadConfig(newViper(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestRetryPolicy(t *testing.T) {
	assert.Nil(t, retryPolicy(0, "1s", "5s"))
	p := retryPolicy(3, "1s", "5s")
	require.NotNil(t, p)
	assert.Equal(t, 3, p.Max)
	assert.Equal(t, "exponential", p.Backoff)
}
