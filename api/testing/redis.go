package apitesting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type RedisConfig struct {
	ContainerImage string
}

func (cfg *RedisConfig) Validate() error {
	if cfg.ContainerImage == "" {
		cfg.ContainerImage = "redis:7-alpine"
	}
	return nil
}

// Redis represents a Redis test container.
type Redis struct {
	log       *slog.Logger
	addr      string
	container testcontainers.Container
}

func (r *Redis) Addr() string {
	return r.addr
}

func (r *Redis) Close() {
	terminateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.container.Terminate(terminateCtx); err != nil {
		r.log.Error("failed to terminate Redis container", "error", err)
	}
}

// NewRedis starts a Redis testcontainer.
func NewRedis(ctx context.Context, log *slog.Logger, cfg *RedisConfig) (*Redis, error) {
	if cfg == nil {
		cfg = &RedisConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate Redis config: %w", err)
	}

	req := testcontainers.ContainerRequest{
		Image:        cfg.ContainerImage,
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	}

	var container testcontainers.Container
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		var err error
		container, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
		if err != nil {
			lastErr = err
			if isRetryableContainerStartErr(err) && attempt < 3 {
				time.Sleep(retryBackoff(attempt))
				continue
			}
			return nil, fmt.Errorf("failed to start Redis container after retries: %w", lastErr)
		}
		break
	}
	if container == nil {
		return nil, fmt.Errorf("failed to start Redis container after retries: %w", lastErr)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis container host: %w", err)
	}
	port, err := container.MappedPort(ctx, nat.Port("6379/tcp"))
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis container mapped port: %w", err)
	}

	return &Redis{
		log:       log,
		addr:      fmt.Sprintf("%s:%s", host, port.Port()),
		container: container,
	}, nil
}
