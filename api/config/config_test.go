package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/malbeclabs/eventdash/api/config"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestAPI_Config_Load(t *testing.T) {
	t.Parallel()

	t.Run("defaults with postgres backend", func(t *testing.T) {
		t.Parallel()

		cfg, err := config.Load(nil, env(map[string]string{
			"EVENTS_DATABASE_URL": "postgres://u:p@db/events",
		}))
		require.NoError(t, err)
		require.Equal(t, config.BackendPostgres, cfg.Backend)
		require.Equal(t, "postgres://u:p@db/events", cfg.MainDatabaseURL, "main database defaults to the events database")
		require.Equal(t, 5*time.Minute, cfg.RefdataTTL)
		require.Equal(t, []string{"*"}, cfg.CORSOrigins)
		require.Equal(t, "development", cfg.SentryEnvironment)
		require.Equal(t, 10*time.Second, cfg.QueryTimeout)
	})

	t.Run("environment overrides flags", func(t *testing.T) {
		t.Parallel()

		cfg, err := config.Load(
			[]string{"--backend", "postgres", "--clickhouse-addr", "flag:9000", "--refdata-ttl", "1m"},
			env(map[string]string{
				"EVENT_BACKEND":       "clickhouse",
				"CLICKHOUSE_ADDR_TCP": "env:9000",
				"CLICKHOUSE_SECURE":   "true",
				"DATABASE_URL":        "postgres://main",
				"PORT":                "9999",
				"CORS_ORIGINS":        "https://a.example, https://b.example",
				"REDIS_ADDR":          "redis:6379",
			}),
		)
		require.NoError(t, err)
		require.Equal(t, config.BackendClickHouse, cfg.Backend)
		require.Equal(t, "env:9000", cfg.ClickHouse.Addr)
		require.True(t, cfg.ClickHouse.Secure)
		require.Equal(t, "postgres://main", cfg.MainDatabaseURL)
		require.Equal(t, ":9999", cfg.ListenAddr)
		require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
		require.Equal(t, "redis:6379", cfg.Redis.Addr)
		require.Equal(t, time.Minute, cfg.RefdataTTL)
	})

	t.Run("validation", func(t *testing.T) {
		t.Parallel()

		_, err := config.Load(nil, env(nil))
		require.ErrorContains(t, err, "events database url is required")

		_, err = config.Load([]string{"--backend", "clickhouse"}, env(map[string]string{"DATABASE_URL": "postgres://main"}))
		require.ErrorContains(t, err, "clickhouse address is required")

		_, err = config.Load([]string{"--backend", "clickhouse", "--clickhouse-addr", "ch:9000"}, env(nil))
		require.ErrorContains(t, err, "main database url is required")

		_, err = config.Load([]string{"--backend", "sqlite"}, env(nil))
		require.ErrorContains(t, err, `unknown backend "sqlite"`)

		_, err = config.Load(nil, env(map[string]string{"EVENTS_DATABASE_URL": "postgres://x", "REFDATA_TTL": "soon"}))
		require.ErrorContains(t, err, "failed to parse REFDATA_TTL")

		_, err = config.Load([]string{"--no-such-flag"}, env(nil))
		require.Error(t, err)
	})
}

func TestAPI_Config_LoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("EVENTDASH_TEST_EVENTS_URL=postgres://from-file\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("EVENTDASH_TEST_EVENTS_URL") })

	cfg, err := config.Load(nil, func(k string) string {
		if k == "EVENTS_DATABASE_URL" {
			return os.Getenv("EVENTDASH_TEST_EVENTS_URL")
		}
		return ""
	}, path, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	require.Equal(t, "postgres://from-file", cfg.EventsDatabaseURL)
}
