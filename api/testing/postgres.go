package apitesting

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// DBConfig holds the Postgres test container configuration.
type DBConfig struct {
	Database       string
	Username       string
	Password       string
	ContainerImage string
}

func (cfg *DBConfig) Validate() error {
	if cfg.Database == "" {
		cfg.Database = "test"
	}
	if cfg.Username == "" {
		cfg.Username = "test"
	}
	if cfg.Password == "" {
		cfg.Password = "password"
	}
	if cfg.ContainerImage == "" {
		cfg.ContainerImage = "postgres:16-alpine"
	}
	return nil
}

// DB represents a Postgres test container.
type DB struct {
	log       *slog.Logger
	cfg       *DBConfig
	host      string
	port      string
	container *tcpostgres.PostgresContainer
}

// URL returns a connection string for the given database on the container.
func (db *DB) URL(database string) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(db.cfg.Username, db.cfg.Password),
		Host:     fmt.Sprintf("%s:%s", db.host, db.port),
		Path:     "/" + database,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// Close terminates the Postgres container.
func (db *DB) Close() {
	terminateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.container.Terminate(terminateCtx); err != nil {
		db.log.Error("failed to terminate Postgres container", "error", err)
	}
}

// NewDB starts a Postgres testcontainer.
func NewDB(ctx context.Context, log *slog.Logger, cfg *DBConfig) (*DB, error) {
	if cfg == nil {
		cfg = &DBConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate Postgres DB config: %w", err)
	}

	var container *tcpostgres.PostgresContainer
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		var err error
		container, err = tcpostgres.Run(ctx,
			cfg.ContainerImage,
			tcpostgres.WithDatabase(cfg.Database),
			tcpostgres.WithUsername(cfg.Username),
			tcpostgres.WithPassword(cfg.Password),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			lastErr = err
			if isRetryableContainerStartErr(err) && attempt < 3 {
				time.Sleep(retryBackoff(attempt))
				continue
			}
			return nil, fmt.Errorf("failed to start Postgres container after retries: %w", lastErr)
		}
		break
	}
	if container == nil {
		return nil, fmt.Errorf("failed to start Postgres container after retries: %w", lastErr)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get Postgres container host: %w", err)
	}
	mappedPort, err := container.MappedPort(ctx, nat.Port("5432/tcp"))
	if err != nil {
		return nil, fmt.Errorf("failed to get Postgres container mapped port: %w", err)
	}

	return &DB{
		log:       log,
		cfg:       cfg,
		host:      host,
		port:      mappedPort.Port(),
		container: container,
	}, nil
}

// NewTestPool creates a uniquely named database, returns a pool connected to it and
// drops it when the test finishes.
func NewTestPool(t *testing.T, db *DB) *pgxpool.Pool {
	ctx := t.Context()
	databaseName := testDatabaseName(uuid.NewString)

	admin, err := pgxpool.New(ctx, db.URL(db.cfg.Database))
	require.NoError(t, err, "failed to create Postgres admin pool")

	_, err = admin.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s", databaseName))
	require.NoError(t, err, "failed to create test database")

	pool, err := pgxpool.New(ctx, db.URL(databaseName))
	require.NoError(t, err, "failed to create Postgres test pool")
	require.NoError(t, pool.Ping(ctx))

	t.Cleanup(func() {
		pool.Close()
		_, _ = admin.Exec(context.Background(), fmt.Sprintf("DROP DATABASE IF EXISTS %s WITH (FORCE)", databaseName))
		admin.Close()
	})

	return pool
}
