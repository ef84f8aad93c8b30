package refdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coocood/freecache"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/malbeclabs/eventdash/analytics/pkg/metrics"
)

const keyPrefix = "eventdash:"

// ErrCacheMiss is returned by Cacher.Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

type Cacher interface {
	Get(ctx context.Context, key string, value any) error
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// clockTimer drives freecache expiry from a clockwork clock.
type clockTimer struct {
	clock clockwork.Clock
}

func (t clockTimer) Now() uint32 {
	return uint32(t.clock.Now().Unix())
}

// MemoryCache is an in-process cache with second-granularity expiry.
type MemoryCache struct {
	cache *freecache.Cache
}

// NewMemoryCache returns a cache of size bytes whose expiry follows clock.
func NewMemoryCache(size int, clock clockwork.Clock) *MemoryCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryCache{cache: freecache.NewCacheCustomTimer(size, clockTimer{clock: clock})}
}

func (m *MemoryCache) Get(_ context.Context, key string, value any) error {
	data, err := m.cache.Get([]byte(keyPrefix + key))
	if err != nil {
		if errors.Is(err, freecache.ErrNotFound) {
			return ErrCacheMiss
		}
		return err
	}
	return msgpack.Unmarshal(data, value)
}

func (m *MemoryCache) Set(_ context.Context, key string, value any, expiration time.Duration) error {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return err
	}
	return m.cache.Set([]byte(keyPrefix+key), data, expirySeconds(expiration))
}

func (m *MemoryCache) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		m.cache.Del([]byte(keyPrefix + key))
	}
	return nil
}

// freecache treats 0 as "never expires"; round sub-second TTLs up.
func expirySeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	s := int(d / time.Second)
	if d%time.Second != 0 {
		s++
	}
	return s
}

// RedisCache shares reference data between API replicas.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (r *RedisCache) Get(ctx context.Context, key string, value any) error {
	data, err := r.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		return err
	}
	return msgpack.Unmarshal(data, value)
}

func (r *RedisCache) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, keyPrefix+key, data, expiration).Err()
}

func (r *RedisCache) Delete(ctx context.Context, keys ...string) error {
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = keyPrefix + k
	}
	return r.client.Del(ctx, prefixed...).Err()
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient returns nil when Addr is empty.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		PoolSize:        10,
		MinIdleConns:    2,
		ConnMaxIdleTime: 5 * time.Minute,
		ConnMaxLifetime: time.Hour,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// Fetch returns the cached value for key, or calls fn and caches its result. Errors
// from fn are returned and never cached. A failing cache degrades to calling fn.
func Fetch[T any](ctx context.Context, cache Cacher, key string, expiration time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	kind, _, _ := strings.Cut(key, ":")
	var value T
	err := cache.Get(ctx, key, &value)
	if err == nil {
		metrics.RefdataCacheTotal.WithLabelValues(kind, "hit").Inc()
		return value, nil
	}
	metrics.RefdataCacheTotal.WithLabelValues(kind, "miss").Inc()

	value, err = fn(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	_ = cache.Set(ctx, key, value, expiration)
	return value, nil
}
