// Package config loads the API server configuration. Flags give the defaults,
// environment variables override them, and a .env file can supply environment
// variables that are not already set.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/eventdash/analytics/pkg/clickhouse"
	"github.com/malbeclabs/eventdash/analytics/pkg/postgres"
	"github.com/malbeclabs/eventdash/analytics/pkg/refdata"
)

const (
	BackendPostgres   = "postgres"
	BackendClickHouse = "clickhouse"

	defaultListenAddr  = "0.0.0.0:8080"
	defaultMetricsAddr = "0.0.0.0:0"
)

type Config struct {
	Verbose     bool
	ListenAddr  string
	MetricsAddr string
	CORSOrigins []string

	// Backend selects the event store: postgres or clickhouse.
	Backend          string
	MigrationsEnable bool
	QueryTimeout     time.Duration

	// EventsDatabaseURL holds event_log when Backend is postgres.
	EventsDatabaseURL string
	// MainDatabaseURL holds the reference tables. Defaults to EventsDatabaseURL.
	MainDatabaseURL string
	PGMaxConns      int32

	ClickHouse clickhouse.ConnConfig

	Redis      refdata.RedisConfig
	RefdataTTL time.Duration

	SentryDSN         string
	SentryEnvironment string
}

func (cfg *Config) Validate() error {
	switch cfg.Backend {
	case BackendPostgres:
		if cfg.EventsDatabaseURL == "" {
			return errors.New("events database url is required for the postgres backend")
		}
	case BackendClickHouse:
		if cfg.ClickHouse.Addr == "" {
			return errors.New("clickhouse address is required for the clickhouse backend")
		}
	default:
		return fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	if cfg.MainDatabaseURL == "" {
		cfg.MainDatabaseURL = cfg.EventsDatabaseURL
	}
	if cfg.MainDatabaseURL == "" {
		return errors.New("main database url is required")
	}
	if cfg.QueryTimeout <= 0 {
		return errors.New("query timeout must be positive")
	}
	if cfg.RefdataTTL <= 0 {
		cfg.RefdataTTL = refdata.DefaultTTL
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	return nil
}

func (cfg *Config) EventsPool() postgres.PoolConfig {
	return postgres.PoolConfig{URL: cfg.EventsDatabaseURL, MaxConns: cfg.PGMaxConns, MaxConnLifetime: time.Hour}
}

func (cfg *Config) MainPool() postgres.PoolConfig {
	return postgres.PoolConfig{URL: cfg.MainDatabaseURL, MaxConns: cfg.PGMaxConns, MaxConnLifetime: time.Hour}
}

// Load parses args and applies overrides from getenv. envFiles are loaded with
// godotenv first; missing files are ignored.
func Load(args []string, getenv func(string) string, envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}
	if getenv == nil {
		getenv = os.Getenv
	}

	fs := flag.NewFlagSet("eventdash-api", flag.ContinueOnError)
	cfg := &Config{}
	var corsOrigins string
	fs.BoolVar(&cfg.Verbose, "verbose", false, "enable verbose (debug) logging")
	fs.StringVar(&cfg.ListenAddr, "listen-addr", defaultListenAddr, "HTTP server listen address (or set PORT env var)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", defaultMetricsAddr, "address to listen on for prometheus metrics")
	fs.StringVar(&corsOrigins, "cors-origins", "*", "comma separated allowed CORS origins (or set CORS_ORIGINS env var)")
	fs.StringVar(&cfg.Backend, "backend", BackendPostgres, "event store backend: postgres or clickhouse (or set EVENT_BACKEND env var)")
	fs.BoolVar(&cfg.MigrationsEnable, "migrations-enable", false, "run database migrations on startup")
	fs.DurationVar(&cfg.QueryTimeout, "query-timeout", 10*time.Second, "timeout for one API request's queries")
	fs.StringVar(&cfg.EventsDatabaseURL, "events-database-url", "", "Postgres URL of the event store (or set EVENTS_DATABASE_URL env var)")
	fs.StringVar(&cfg.MainDatabaseURL, "main-database-url", "", "Postgres URL of the reference tables (or set DATABASE_URL env var)")
	fs.Int32Var(&cfg.PGMaxConns, "pg-max-conns", 10, "maximum connections per Postgres pool")
	fs.StringVar(&cfg.ClickHouse.Addr, "clickhouse-addr", "", "ClickHouse server address (or set CLICKHOUSE_ADDR_TCP env var)")
	fs.StringVar(&cfg.ClickHouse.Database, "clickhouse-database", "default", "ClickHouse database name (or set CLICKHOUSE_DATABASE env var)")
	fs.StringVar(&cfg.ClickHouse.Username, "clickhouse-username", "default", "ClickHouse username (or set CLICKHOUSE_USERNAME env var)")
	fs.StringVar(&cfg.ClickHouse.Password, "clickhouse-password", "", "ClickHouse password (or set CLICKHOUSE_PASSWORD env var)")
	fs.BoolVar(&cfg.ClickHouse.Secure, "clickhouse-secure", false, "enable TLS for ClickHouse (or set CLICKHOUSE_SECURE=true env var)")
	fs.StringVar(&cfg.Redis.Addr, "redis-addr", "", "Redis address for the shared reference cache; empty uses an in-process cache (or set REDIS_ADDR env var)")
	fs.StringVar(&cfg.Redis.Password, "redis-password", "", "Redis password (or set REDIS_PASSWORD env var)")
	fs.IntVar(&cfg.Redis.DB, "redis-db", 0, "Redis database number")
	fs.DurationVar(&cfg.RefdataTTL, "refdata-ttl", refdata.DefaultTTL, "reference data cache TTL")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if v := getenv("PORT"); v != "" {
		cfg.ListenAddr = ":" + v
	}
	if v := getenv("CORS_ORIGINS"); v != "" {
		corsOrigins = v
	}
	if v := getenv("EVENT_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := getenv("EVENTS_DATABASE_URL"); v != "" {
		cfg.EventsDatabaseURL = v
	}
	if v := getenv("DATABASE_URL"); v != "" {
		cfg.MainDatabaseURL = v
	}
	if v := getenv("CLICKHOUSE_ADDR_TCP"); v != "" {
		cfg.ClickHouse.Addr = v
	}
	if v := getenv("CLICKHOUSE_DATABASE"); v != "" {
		cfg.ClickHouse.Database = v
	}
	if v := getenv("CLICKHOUSE_USERNAME"); v != "" {
		cfg.ClickHouse.Username = v
	}
	if v := getenv("CLICKHOUSE_PASSWORD"); v != "" {
		cfg.ClickHouse.Password = v
	}
	if getenv("CLICKHOUSE_SECURE") == "true" {
		cfg.ClickHouse.Secure = true
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := getenv("REFDATA_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("failed to parse REFDATA_TTL: %w", err)
		}
		cfg.RefdataTTL = d
	}
	if v := getenv("PG_MAX_CONNS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PG_MAX_CONNS: %w", err)
		}
		cfg.PGMaxConns = int32(n)
	}
	cfg.SentryDSN = getenv("SENTRY_DSN")
	cfg.SentryEnvironment = getenv("SENTRY_ENVIRONMENT")
	if cfg.SentryEnvironment == "" {
		cfg.SentryEnvironment = "development"
	}

	for _, o := range strings.Split(corsOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
