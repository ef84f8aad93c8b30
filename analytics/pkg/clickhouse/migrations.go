package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/pressly/goose/v3"

	"github.com/malbeclabs/eventdash/analytics"
)

// slogGooseLogger adapts slog.Logger to goose.Logger interface
type slogGooseLogger struct {
	log *slog.Logger
}

func (l *slogGooseLogger) Fatalf(format string, v ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *slogGooseLogger) Printf(format string, v ...any) {
	l.log.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

var gooseMu sync.Mutex

// RunMigrations creates the event_log schema in cfg.Database.
func RunMigrations(ctx context.Context, log *slog.Logger, cfg ConnConfig) error {
	log.Info("running ClickHouse migrations with goose", "database", cfg.Database)
	err := withGoose(log, cfg, func(db *sql.DB) error {
		if err := goose.UpContext(ctx, db, migrationsDir); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Info("ClickHouse migrations completed successfully", "database", cfg.Database)
	return nil
}

func MigrationStatus(ctx context.Context, log *slog.Logger, cfg ConnConfig) error {
	log.Info("checking ClickHouse migration status", "database", cfg.Database)
	return withGoose(log, cfg, func(db *sql.DB) error {
		return goose.StatusContext(ctx, db, migrationsDir)
	})
}

const migrationsDir = "db/clickhouse/migrations"

func withGoose(log *slog.Logger, cfg ConnConfig, fn func(db *sql.DB) error) error {
	// goose needs database/sql
	db := clickhouse.OpenDB(cfg.options())
	defer db.Close()

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetLogger(&slogGooseLogger{log: log})
	goose.SetBaseFS(analytics.ClickHouseMigrationsFS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("clickhouse"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return fn(db)
}
