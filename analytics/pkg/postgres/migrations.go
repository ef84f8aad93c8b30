package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
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

// RunEventMigrations creates the event_log schema.
func RunEventMigrations(ctx context.Context, log *slog.Logger, pool *pgxpool.Pool) error {
	return runMigrations(ctx, log, pool, analytics.PostgresEventsMigrationsFS, "db/postgres/events")
}

// EventMigrationStatus logs the applied state of every event_log migration.
func EventMigrationStatus(ctx context.Context, log *slog.Logger, pool *pgxpool.Pool) error {
	return withGoose(log, pool, analytics.PostgresEventsMigrationsFS, func(db *sql.DB) error {
		return goose.StatusContext(ctx, db, "db/postgres/events")
	})
}

// RunMainMigrations creates the reference tables (device, profile, location).
func RunMainMigrations(ctx context.Context, log *slog.Logger, pool *pgxpool.Pool) error {
	return runMigrations(ctx, log, pool, analytics.PostgresMainMigrationsFS, "db/postgres/main")
}

func MainMigrationStatus(ctx context.Context, log *slog.Logger, pool *pgxpool.Pool) error {
	return withGoose(log, pool, analytics.PostgresMainMigrationsFS, func(db *sql.DB) error {
		return goose.StatusContext(ctx, db, "db/postgres/main")
	})
}

// goose keeps its base FS and dialect in package state.
var gooseMu sync.Mutex

func runMigrations(ctx context.Context, log *slog.Logger, pool *pgxpool.Pool, fsys fs.FS, dir string) error {
	log.Info("running Postgres migrations with goose", "dir", dir)
	err := withGoose(log, pool, fsys, func(db *sql.DB) error {
		if err := goose.UpContext(ctx, db, dir); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Info("Postgres migrations completed successfully", "dir", dir)
	return nil
}

func withGoose(log *slog.Logger, pool *pgxpool.Pool, fsys fs.FS, fn func(db *sql.DB) error) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetLogger(&slogGooseLogger{log: log})
	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return fn(db)
}
