package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCache_BasicOperations(t *testing.T) {
	cache := NewLRUCache(100, time.Minute)

	t.Run("SetAndGet", func(t *testing.T) {
		cache.Set("key1", []byte("value1"), 0)

		val, ok := cache.Get("key1")
		assert.True(t, ok)
		assert.Equal(t, []byte("value1"), val)
	})

	t.Run("GetNonExistent", func(t *testing.T) {
		val, ok := cache.Get("nonexistent")
		assert.False(t, ok)
		assert.Nil(t, val)
	})

	t.Run("UpdateExisting", func(t *testing.T) {
		cache.Set("key2", []byte("original"), 0)
		cache.Set("key2", []byte("updated"), 0)

		val, ok := cache.Get("key2")
		assert.True(t, ok)
		assert.Equal(t, []byte("updated"), val)
	})
}

func TestLRUCache_Expiration(t *testing.T) {
	cache := NewLRUCache(100, 50*time.Millisecond)

	cache.Set("expiring", []byte("value"), 50*time.Millisecond)

	val, ok := cache.Get("expiring")
	assert.True(t, ok)
	assert.Equal(t, []byte("value"), val)

	time.Sleep(80 * time.Millisecond)

	_, ok = cache.Get("expiring")
	assert.False(t, ok)
}

func TestLRUCache_Eviction(t *testing.T) {
	cache := NewLRUCache(3, time.Minute)

	cache.Set("a", []byte("1"), 0)
	cache.Set("b", []byte("2"), 0)
	cache.Set("c", []byte("3"), 0)

	// Touch "a" so "b" becomes the LRU victim.
	_, ok := cache.Get("a")
	require.True(t, ok)

	cache.Set("d", []byte("4"), 0)

	_, ok = cache.Get("b")
	assert.False(t, ok)
	_, ok = cache.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 3, cache.Size())
}

func TestLRUCache_Invalidate(t *testing.T) {
	cache := NewLRUCache(100, time.Minute)

	cache.Set("tagnote:suggest:u1:a:10", []byte("1"), 0)
	cache.Set("tagnote:suggest:u1:b:10", []byte("2"), 0)
	cache.Set("tagnote:suggest:u2:a:10", []byte("3"), 0)
	cache.Set("tagnote:stats:u1", []byte("4"), 0)

	t.Run("ExactMatch", func(t *testing.T) {
		n := cache.Invalidate("tagnote:stats:u1")
		assert.Equal(t, 1, n)
		_, ok := cache.Get("tagnote:stats:u1")
		assert.False(t, ok)
	})

	t.Run("WildcardScopedToUser", func(t *testing.T) {
		n := cache.Invalidate("tagnote:suggest:u1:*")
		assert.Equal(t, 2, n)
		_, ok := cache.Get("tagnote:suggest:u1:a:10")
		assert.False(t, ok)
		// Another user's entries survive.
		_, ok = cache.Get("tagnote:suggest:u2:a:10")
		assert.True(t, ok)
	})
}

func TestMemoryService(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryService(MemoryConfig{Capacity: 10, DefaultTTL: time.Minute, CleanupInterval: 10 * time.Millisecond})
	defer s.Close()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 0))
	val, ok := s.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), val)

	require.NoError(t, s.Invalidate(ctx, "k"))
	_, ok = s.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryService_CleanupLoop(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryService(MemoryConfig{Capacity: 10, DefaultTTL: time.Minute, CleanupInterval: 10 * time.Millisecond})
	defer s.Close()

	require.NoError(t, s.Set(ctx, "short", []byte("v"), 20*time.Millisecond))
	require.Eventually(t, func() bool { return s.Size() == 0 }, time.Second, 10*time.Millisecond)
}

func TestMemoryService_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryService(DefaultMemoryConfig())
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := StatsKey("user")
			for j := 0; j < 100; j++ {
				_ = s.Set(ctx, key, []byte{byte(n)}, 0)
				s.Get(ctx, key)
				_ = s.Invalidate(ctx, SuggestPattern("user"))
			}
		}(i)
	}
	wg.Wait()
}
