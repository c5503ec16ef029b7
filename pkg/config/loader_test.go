package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/pgqueue/pkg/config"
	"github.com/dmitrymomot/pgqueue/pkg/pg"
	"github.com/dmitrymomot/pgqueue/pkg/queue"
)

type fileConfig struct {
	Name     string   `env:"CFGTEST_NAME"`
	Workers  int      `env:"CFGTEST_WORKERS"`
	Queues   []string `env:"CFGTEST_QUEUES" envSeparator:","`
	Quoted   string   `env:"CFGTEST_QUOTED"`
	Override string   `env:"CFGTEST_ONLY_OVERRIDE"`
}

type requiredConfig struct {
	Value string `env:"CFGTEST_REQUIRED,required"`
}

type cachedConfig struct {
	Value string `env:"CFGTEST_CACHED" envDefault:"first"`
}

func TestLoad_Defaults(t *testing.T) {
	config.ResetCache()
	t.Setenv("PG_CONN_URL", "postgres://localhost:5432/jobs")

	var pgCfg pg.Config
	require.NoError(t, config.ForceReloadConfig(&pgCfg))
	assert.Equal(t, "postgres://localhost:5432/jobs", pgCfg.ConnectionString)
	assert.EqualValues(t, 10, pgCfg.MaxOpenConns)
	assert.Equal(t, 5*time.Second, pgCfg.RetryInterval)
	assert.False(t, pgCfg.ApplySchema)
	assert.Equal(t, "pgqueue_schema_migrations", pgCfg.MigrationsTable)

	var qCfg queue.Config
	require.NoError(t, config.ForceReloadConfig(&qCfg))
	assert.Equal(t, 1, qCfg.Concurrency)
	assert.Equal(t, 5*time.Second, qCfg.PollInterval)
	assert.True(t, qCfg.ListenNotify)
	assert.Equal(t, "never", qCfg.DeleteJobs)
}

func TestLoad_Overrides(t *testing.T) {
	config.ResetCache()
	t.Setenv("QUEUE_NAMES", "emails,reports")
	t.Setenv("QUEUE_CONCURRENCY", "8")
	t.Setenv("QUEUE_DELETE_JOBS", "successful")

	var qCfg queue.Config
	require.NoError(t, config.ForceReloadConfig(&qCfg))
	assert.Equal(t, []string{"emails", "reports"}, qCfg.Queues)
	assert.Equal(t, 8, qCfg.Concurrency)

	opts, err := qCfg.WorkerOptions()
	require.NoError(t, err)
	assert.NotEmpty(t, opts)
}

func TestLoad_Required(t *testing.T) {
	config.ResetCache()

	var cfg requiredConfig
	assert.ErrorIs(t, config.ForceReloadConfig(&cfg), config.ErrParsingConfig)

	t.Setenv("CFGTEST_REQUIRED", "set")
	require.NoError(t, config.ForceReloadConfig(&cfg))
	assert.Equal(t, "set", cfg.Value)
}

func TestLoad_Cached(t *testing.T) {
	config.ResetCache()

	var first cachedConfig
	require.NoError(t, config.Load(&first))
	assert.Equal(t, "first", first.Value)

	t.Setenv("CFGTEST_CACHED", "second")

	var second cachedConfig
	require.NoError(t, config.Load(&second))
	assert.Equal(t, "first", second.Value)

	require.NoError(t, config.ForceReloadConfig(&second))
	assert.Equal(t, "second", second.Value)
}

func TestLoad_InvalidInput(t *testing.T) {
	assert.ErrorIs(t, config.Load[requiredConfig](nil), config.ErrNilPointer)

	var s string
	assert.ErrorIs(t, config.Load(&s), config.ErrInvalidConfigType)

	t.Setenv("CFGTEST_REQUIRED", "")
	unsetAll(t, "CFGTEST_REQUIRED")
	config.ResetCache()
	assert.Panics(t, func() {
		var cfg requiredConfig
		config.MustLoad(&cfg)
	})
}

func TestLoadEnv(t *testing.T) {
	keys := []string{"CFGTEST_NAME", "CFGTEST_WORKERS", "CFGTEST_QUEUES", "CFGTEST_QUOTED", "CFGTEST_ONLY_OVERRIDE"}
	for _, k := range keys {
		t.Setenv(k, "")
	}
	unsetAll(t, keys...)

	require.NoError(t, config.LoadEnv("testdata/.env.base", "testdata/.env.override"))

	var cfg fileConfig
	require.NoError(t, config.ForceReloadConfig(&cfg))
	assert.Equal(t, "override", cfg.Name)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, []string{"emails", "reports"}, cfg.Queues)
	assert.Equal(t, "quoted value", cfg.Quoted)
	assert.Equal(t, "yes", cfg.Override)
}

func TestLoadEnv_KeepsProcessEnv(t *testing.T) {
	keys := []string{"CFGTEST_WORKERS", "CFGTEST_QUEUES", "CFGTEST_QUOTED"}
	for _, k := range keys {
		t.Setenv(k, "")
	}
	unsetAll(t, keys...)
	t.Setenv("CFGTEST_NAME", "process")
	require.NoError(t, config.LoadEnv("testdata/.env.base"))

	var cfg fileConfig
	require.NoError(t, config.ForceReloadConfig(&cfg))
	assert.Equal(t, "process", cfg.Name)
}

func TestLoadEnv_MissingFile(t *testing.T) {
	err := config.LoadEnv("testdata/missing.env")
	assert.ErrorIs(t, err, config.ErrLoadingEnvFile)

	assert.Panics(t, func() {
		config.MustLoadEnv("testdata/missing.env")
	})
}

// unsetAll removes keys for the rest of the test. Call t.Setenv first so the
// previous values are restored on cleanup.
func unsetAll(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		require.NoError(t, os.Unsetenv(k))
	}
}
