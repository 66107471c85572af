// Package observability provides structured logging helpers and cache
// hit/miss counters for operational visibility. Nothing here is part of the
// store's functional contract.
package observability

import (
	"sync"
	"sync/atomic"
)

// CacheMetrics aggregates hit/miss counters per cache category
// (e.g. "stats", "suggest").
type CacheMetrics struct {
	mu         sync.Mutex
	categories map[string]*CategoryMetrics
}

// CategoryMetrics holds the counters for one cache category.
type CategoryMetrics struct {
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCacheMetrics creates a new metrics collector.
func NewCacheMetrics() *CacheMetrics {
	return &CacheMetrics{
		categories: make(map[string]*CategoryMetrics),
	}
}

// Global metrics instance.
var globalCacheMetrics = NewCacheMetrics()

// GlobalCacheMetrics returns the process-wide metrics instance.
func GlobalCacheMetrics() *CacheMetrics {
	return globalCacheMetrics
}

// RecordHit records a cache hit for the category.
func (m *CacheMetrics) RecordHit(category string) {
	m.category(category).hits.Add(1)
}

// RecordMiss records a cache miss for the category.
func (m *CacheMetrics) RecordMiss(category string) {
	m.category(category).misses.Add(1)
}

// Hits returns the hit count for the category.
func (m *CacheMetrics) Hits(category string) int64 {
	return m.category(category).hits.Load()
}

// Misses returns the miss count for the category.
func (m *CacheMetrics) Misses(category string) int64 {
	return m.category(category).misses.Load()
}

// Reset clears all counters (useful for testing).
func (m *CacheMetrics) Reset() {
	m.mu.Lock()
	m.categories = make(map[string]*CategoryMetrics)
	m.mu.Unlock()
}

// Snapshot returns a point-in-time view keyed by "{category}:{hits|misses}".
func (m *CacheMetrics) Snapshot() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]int64, len(m.categories)*2)
	for name, c := range m.categories {
		out[name+":hits"] = c.hits.Load()
		out[name+":misses"] = c.misses.Load()
	}
	return out
}

func (m *CacheMetrics) category(name string) *CategoryMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.categories[name]
	if !ok {
		c = &CategoryMetrics{}
		m.categories[name] = c
	}
	return c
}
