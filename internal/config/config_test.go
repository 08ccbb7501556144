package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cfg := Default("Test Haulage")
	cfg.Storage.Backend = BackendPostgres
	cfg.Storage.PostgresDSN = "postgres://localhost/haulbook"
	cfg.Notify.KafkaBrokers = []string{"kafka-1:9092", "kafka-2:9092"}

	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, Save(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, cfg, got)
}

func TestDefaults(t *testing.T) {
	cfg := Default("My Company")

	assert.Equal(t, "My Company", cfg.Business.Name)
	assert.Equal(t, BackendFile, cfg.Storage.Backend)
	assert.Equal(t, LockLocal, cfg.Lock.Backend)
	assert.Equal(t, "@every 15m", cfg.Reconcile.Schedule)
	assert.False(t, cfg.Git.AutoCommit)
	require.NoError(t, cfg.Validate())

	tol, err := cfg.Tolerance()
	require.NoError(t, err)
	assert.True(t, tol.Equal(decimal.NewFromInt(100)))

	ttl, err := cfg.LockTTL()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, ttl)
}

func TestLoad_FillsMissingSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("business:\n  name: Partial\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Partial", cfg.Business.Name)
	assert.Equal(t, BackendFile, cfg.Storage.Backend)
	assert.Equal(t, "100", cfg.Allocation.Tolerance)
}

func TestLoadNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestYAMLFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, Save(path, Default("Test Haulage")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	contents := string(data)

	assert.Contains(t, contents, "name: Test Haulage")
	assert.Contains(t, contents, "backend: file")
	assert.Contains(t, contents, "tolerance:")
	assert.Contains(t, contents, "@every 15m")
	assert.NotContains(t, contents, "postgres_dsn")
}

func TestApplyEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("HAULBOOK_REDIS_ADDR=redis:6379\nHAULBOOK_LOG_LEVEL=debug\n"), 0o644))

	t.Setenv("HAULBOOK_LOG_LEVEL", "warn")
	t.Setenv("HAULBOOK_KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("HAULBOOK_LOCK_BACKEND", "redis")
	t.Cleanup(func() { os.Unsetenv("HAULBOOK_REDIS_ADDR") })

	cfg := Default("x")
	require.NoError(t, ApplyEnv(cfg, envFile))

	assert.Equal(t, "redis:6379", cfg.Lock.RedisAddr)
	assert.Equal(t, LockRedis, cfg.Lock.Backend)
	assert.Equal(t, "warn", cfg.Logging.Level, "process environment wins over .env")
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Notify.KafkaBrokers)
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnv_MissingFile(t *testing.T) {
	cfg := Default("x")
	assert.NoError(t, ApplyEnv(cfg, filepath.Join(t.TempDir(), ".env")))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown storage", func(c *Config) { c.Storage.Backend = "s3" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = BackendPostgres }},
		{"redis without addr", func(c *Config) { c.Lock.Backend = LockRedis }},
		{"bad tolerance", func(c *Config) { c.Allocation.Tolerance = "lots" }},
		{"negative tolerance", func(c *Config) { c.Allocation.Tolerance = "-1" }},
		{"bad ttl", func(c *Config) { c.Lock.TTL = "soon" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default("x")
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
