package cache

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the Redis connection configuration.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	DefaultTTL   time.Duration
	PoolSize     int
	MinIdleConns int
}

// DefaultRedisConfig returns the default Redis configuration.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		DefaultTTL:   5 * time.Minute,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// RedisConfigFromEnv creates Redis config from environment variables:
//   - TAGNOTE_CACHE_REDIS_ADDR: Redis address (default: localhost:6379)
//   - TAGNOTE_CACHE_REDIS_PASSWORD: Redis password (default: "")
func RedisConfigFromEnv() *RedisConfig {
	config := DefaultRedisConfig()

	if addr := os.Getenv("TAGNOTE_CACHE_REDIS_ADDR"); addr != "" {
		config.Addr = addr
	}
	if password := os.Getenv("TAGNOTE_CACHE_REDIS_PASSWORD"); password != "" {
		config.Password = password
	}

	return config
}

// IsRedisEnabled reports whether Redis caching should be enabled.
func IsRedisEnabled() bool {
	return os.Getenv("TAGNOTE_CACHE_REDIS_ADDR") != ""
}

// RedisService is a Redis-backed cache service, used as the shared L2 tier
// in multi-instance deployments. Every failure is logged and degrades to a
// miss or a no-op; a dead Redis never fails a store operation.
type RedisService struct {
	client     *redis.Client
	defaultTTL time.Duration
}

// NewRedisService connects to Redis and returns the cache service.
func NewRedisService(config *RedisConfig) (*RedisService, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to redis")
	}

	slog.Info("redis cache connected", "addr", config.Addr)

	return &RedisService{
		client:     client,
		defaultTTL: config.DefaultTTL,
	}, nil
}

func (r *RedisService) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("failed to get cache value", "key", key, "error", err)
		}
		return nil, false
	}
	return data, true
}

func (r *RedisService) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		slog.Warn("failed to set cache value", "key", key, "error", err)
		return errors.Wrap(err, "redis set")
	}
	return nil
}

// Invalidate removes entries matching the pattern. Exact keys are deleted
// directly; a trailing * wildcard walks the keyspace with SCAN.
func (r *RedisService) Invalidate(ctx context.Context, pattern string) error {
	if !strings.Contains(pattern, "*") {
		if err := r.client.Del(ctx, pattern).Err(); err != nil {
			slog.Warn("failed to delete cache value", "key", pattern, "error", err)
			return errors.Wrap(err, "redis del")
		}
		return nil
	}

	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 100 {
			r.client.Del(ctx, keys...)
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		slog.Warn("failed to scan cache keys", "pattern", pattern, "error", err)
		return errors.Wrap(err, "redis scan")
	}
	if len(keys) > 0 {
		if err := r.client.Del(ctx, keys...).Err(); err != nil {
			return errors.Wrap(err, "redis del")
		}
	}
	return nil
}

func (r *RedisService) Close() error {
	return r.client.Close()
}

var _ Service = (*RedisService)(nil)
