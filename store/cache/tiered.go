package cache

import (
	"context"
	"log/slog"
	"time"
)

// TieredService layers an in-process L1 in front of a shared L2:
//   - L1: memory cache (fast, per-process, always on)
//   - L2: Redis (shared across instances, optional)
//
// Reads that hit L2 are promoted into L1. Writes and invalidations go to
// both tiers. L2 failures degrade to the L1-only behavior.
type TieredService struct {
	l1 Service
	l2 Service
}

// NewTieredService composes the two tiers. l2 may be nil.
func NewTieredService(l1, l2 Service) *TieredService {
	return &TieredService{l1: l1, l2: l2}
}

// NewFromEnv builds the cache stack for this process: memory L1, plus a
// Redis L2 when TAGNOTE_CACHE_REDIS_ADDR is set. A Redis connection failure
// is logged and leaves the process on L1 only.
func NewFromEnv(memCfg MemoryConfig) Service {
	l1 := NewMemoryService(memCfg)
	if !IsRedisEnabled() {
		return l1
	}
	l2, err := NewRedisService(RedisConfigFromEnv())
	if err != nil {
		slog.Warn("redis cache unavailable, running with memory cache only", "error", err)
		return l1
	}
	return NewTieredService(l1, l2)
}

func (t *TieredService) Get(ctx context.Context, key string) ([]byte, bool) {
	if value, ok := t.l1.Get(ctx, key); ok {
		return value, true
	}
	if t.l2 != nil {
		if value, ok := t.l2.Get(ctx, key); ok {
			// Promote to L1 with the default TTL.
			_ = t.l1.Set(ctx, key, value, 0)
			return value, true
		}
	}
	return nil, false
}

func (t *TieredService) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := t.l1.Set(ctx, key, value, ttl)
	if t.l2 != nil {
		if l2err := t.l2.Set(ctx, key, value, ttl); l2err != nil && err == nil {
			err = l2err
		}
	}
	return err
}

func (t *TieredService) Invalidate(ctx context.Context, pattern string) error {
	err := t.l1.Invalidate(ctx, pattern)
	if t.l2 != nil {
		if l2err := t.l2.Invalidate(ctx, pattern); l2err != nil && err == nil {
			err = l2err
		}
	}
	return err
}

func (t *TieredService) Close() error {
	err := t.l1.Close()
	if t.l2 != nil {
		if l2err := t.l2.Close(); l2err != nil && err == nil {
			err = l2err
		}
	}
	return err
}

var _ Service = (*TieredService)(nil)
