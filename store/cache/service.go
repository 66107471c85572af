// Package cache provides the best-effort cache layer in front of the store's
// expensive read paths. Every implementation degrades to a miss on failure;
// correctness never depends on cache availability.
package cache

import (
	"context"
	"sync"
	"time"
)

// Service is the cache contract consumed by the store.
type Service interface {
	// Get retrieves a value from cache. A failing backend reports a miss.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores a value with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Invalidate removes entries matching the pattern. Patterns support a
	// single trailing * wildcard (e.g. "tagnote:suggest:123:*").
	Invalidate(ctx context.Context, pattern string) error

	Close() error
}

// MemoryConfig configures the in-process cache service.
type MemoryConfig struct {
	Capacity        int           // maximum number of entries
	DefaultTTL      time.Duration // TTL applied when Set receives ttl <= 0
	CleanupInterval time.Duration // interval for expired entry sweep
}

// DefaultMemoryConfig returns the default in-process cache configuration.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		Capacity:        1000,
		DefaultTTL:      5 * time.Minute,
		CleanupInterval: time.Minute,
	}
}

// MemoryService implements Service with an in-process LRU.
type MemoryService struct {
	lru *LRUCache

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cleanupInterval time.Duration
}

// NewMemoryService creates an in-process cache service.
func NewMemoryService(cfg MemoryConfig) *MemoryService {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1000
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &MemoryService{
		lru:             NewLRUCache(cfg.Capacity, cfg.DefaultTTL),
		ctx:             ctx,
		cancel:          cancel,
		cleanupInterval: cfg.CleanupInterval,
	}

	s.wg.Add(1)
	go s.cleanupLoop()

	return s
}

// Close stops the cleanup goroutine.
func (s *MemoryService) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

func (s *MemoryService) Get(_ context.Context, key string) ([]byte, bool) {
	return s.lru.Get(key)
}

func (s *MemoryService) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.lru.Set(key, value, ttl)
	return nil
}

func (s *MemoryService) Invalidate(_ context.Context, pattern string) error {
	s.lru.Invalidate(pattern)
	return nil
}

// Size returns the number of live entries.
func (s *MemoryService) Size() int {
	return s.lru.Size()
}

// Clear removes all entries.
func (s *MemoryService) Clear() {
	s.lru.Clear()
}

func (s *MemoryService) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.lru.CleanupExpired()
		}
	}
}

var _ Service = (*MemoryService)(nil)
