package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/eventdash/admin/internal/admin"
	"github.com/malbeclabs/eventdash/analytics/pkg/clickhouse"
	"github.com/malbeclabs/eventdash/analytics/pkg/eventlog"
	"github.com/malbeclabs/eventdash/analytics/pkg/postgres"
	"github.com/malbeclabs/eventdash/analytics/pkg/query"
	"github.com/malbeclabs/eventdash/analytics/pkg/refdata"
	"github.com/malbeclabs/eventdash/analytics/pkg/stream"
	"github.com/malbeclabs/eventdash/analytics/pkg/timerange"
	"github.com/malbeclabs/eventdash/utils/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	backendFlag := flag.String("backend", "postgres", "event store backend: postgres or clickhouse (or set EVENT_BACKEND env var)")

	// Postgres configuration
	eventsDatabaseURLFlag := flag.String("events-database-url", "", "Postgres URL of the event store (or set EVENTS_DATABASE_URL env var)")
	mainDatabaseURLFlag := flag.String("main-database-url", "", "Postgres URL of the reference tables (or set DATABASE_URL env var)")

	// ClickHouse configuration
	clickhouseAddrFlag := flag.String("clickhouse-addr", "", "ClickHouse address (host:port) (or set CLICKHOUSE_ADDR_TCP env var)")
	clickhouseDatabaseFlag := flag.String("clickhouse-database", "default", "ClickHouse database name (or set CLICKHOUSE_DATABASE env var)")
	clickhouseUsernameFlag := flag.String("clickhouse-username", "default", "ClickHouse username (or set CLICKHOUSE_USERNAME env var)")
	clickhousePasswordFlag := flag.String("clickhouse-password", "", "ClickHouse password (or set CLICKHOUSE_PASSWORD env var)")
	clickhouseSecureFlag := flag.Bool("clickhouse-secure", false, "Enable TLS for ClickHouse Cloud (or set CLICKHOUSE_SECURE=true env var)")

	// Commands
	migrateFlag := flag.Bool("migrate", false, "Run database migrations for the reference tables and the event store")
	migrateStatusFlag := flag.Bool("migrate-status", false, "Show database migration status")
	tailFlag := flag.Bool("tail", false, "Print matching events as they arrive")

	// Tail options
	rangeFlag := flag.String("range", timerange.DefaultToken, "range token the tail window follows (1h, 6h, 24h, 7d, 30d)")
	typesFlag := flag.String("types", "", "comma separated event types to tail")
	deviceFlag := flag.String("device", "", "only tail events of this device id")
	profileFlag := flag.String("profile", "", "only tail events of this profile id")
	locationFlag := flag.String("location", "", "only tail events of this location id")
	limitFlag := flag.Int("limit", stream.DefaultLimit, "events fetched per poll")
	intervalFlag := flag.Duration("interval", stream.DefaultPollInterval, "poll interval")

	flag.Parse()

	log := logger.New(*verboseFlag)

	if v := os.Getenv("EVENT_BACKEND"); v != "" {
		*backendFlag = v
	}
	if v := os.Getenv("EVENTS_DATABASE_URL"); v != "" {
		*eventsDatabaseURLFlag = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		*mainDatabaseURLFlag = v
	}
	if *mainDatabaseURLFlag == "" {
		*mainDatabaseURLFlag = *eventsDatabaseURLFlag
	}
	if v := os.Getenv("CLICKHOUSE_ADDR_TCP"); v != "" {
		*clickhouseAddrFlag = v
	}
	if v := os.Getenv("CLICKHOUSE_DATABASE"); v != "" {
		*clickhouseDatabaseFlag = v
	}
	if v := os.Getenv("CLICKHOUSE_USERNAME"); v != "" {
		*clickhouseUsernameFlag = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		*clickhousePasswordFlag = v
	}
	if os.Getenv("CLICKHOUSE_SECURE") == "true" {
		*clickhouseSecureFlag = true
	}

	chCfg := clickhouse.ConnConfig{
		Addr:     *clickhouseAddrFlag,
		Database: *clickhouseDatabaseFlag,
		Username: *clickhouseUsernameFlag,
		Password: *clickhousePasswordFlag,
		Secure:   *clickhouseSecureFlag,
	}
	useClickHouse := *backendFlag == "clickhouse"
	if !useClickHouse && *backendFlag != "postgres" {
		return fmt.Errorf("unknown backend %q", *backendFlag)
	}
	if *mainDatabaseURLFlag == "" {
		return fmt.Errorf("--main-database-url or --events-database-url is required")
	}
	if useClickHouse && chCfg.Addr == "" {
		return fmt.Errorf("--clickhouse-addr is required for the clickhouse backend")
	}
	if !useClickHouse && *eventsDatabaseURLFlag == "" {
		return fmt.Errorf("--events-database-url is required for the postgres backend")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mainPool, err := postgres.NewPool(ctx, postgres.PoolConfig{URL: *mainDatabaseURLFlag, MaxConns: 4, MaxConnLifetime: time.Hour})
	if err != nil {
		return fmt.Errorf("failed to connect to main database: %w", err)
	}
	defer mainPool.Close()

	eventsPool := mainPool
	if !useClickHouse && *eventsDatabaseURLFlag != *mainDatabaseURLFlag {
		eventsPool, err = postgres.NewPool(ctx, postgres.PoolConfig{URL: *eventsDatabaseURLFlag, MaxConns: 4, MaxConnLifetime: time.Hour})
		if err != nil {
			return fmt.Errorf("failed to connect to events database: %w", err)
		}
		defer eventsPool.Close()
	}

	if *migrateFlag {
		if err := postgres.RunMainMigrations(ctx, log, mainPool); err != nil {
			return err
		}
		if useClickHouse {
			return clickhouse.RunMigrations(ctx, log, chCfg)
		}
		return postgres.RunEventMigrations(ctx, log, eventsPool)
	}

	if *migrateStatusFlag {
		if err := postgres.MainMigrationStatus(ctx, log, mainPool); err != nil {
			return err
		}
		if useClickHouse {
			return clickhouse.MigrationStatus(ctx, log, chCfg)
		}
		return postgres.EventMigrationStatus(ctx, log, eventsPool)
	}

	if *tailFlag {
		var store eventlog.Store
		if useClickHouse {
			conn, err := clickhouse.NewConn(ctx, chCfg)
			if err != nil {
				return err
			}
			defer conn.Close()
			store, err = clickhouse.NewStore(clickhouse.StoreConfig{Logger: log, DB: conn})
			if err != nil {
				return err
			}
		} else {
			store, err = postgres.NewStore(postgres.StoreConfig{Logger: log, DB: eventsPool})
			if err != nil {
				return err
			}
		}

		clock := clockwork.NewRealClock()
		engine, err := query.NewEngine(query.EngineConfig{Logger: log, Store: store, Clock: clock})
		if err != nil {
			return err
		}
		dir, err := refdata.NewDirectory(refdata.DirectoryConfig{Logger: log, Source: refdata.NewPostgresSource(mainPool), Clock: clock})
		if err != nil {
			return err
		}

		scope := eventlog.Scope{DeviceID: *deviceFlag, ProfileID: *profileFlag, LocationID: *locationFlag}
		for _, t := range strings.Split(*typesFlag, ",") {
			if t = strings.TrimSpace(t); t != "" {
				scope.EventTypes = append(scope.EventTypes, t)
			}
		}
		feed, err := stream.NewFeed(stream.FeedConfig{
			Logger: log,
			Pager:  engine,
			Clock:  clock,
			Range:  *rangeFlag,
			Scope:  scope,
			Limit:  *limitFlag,
		})
		if err != nil {
			return err
		}
		return admin.Tail(ctx, admin.TailConfig{
			Logger:    log,
			Feed:      feed,
			Annotator: refdata.NewJoiner(dir),
			Out:       os.Stdout,
			Interval:  *intervalFlag,
		})
	}

	flag.Usage()
	return nil
}
