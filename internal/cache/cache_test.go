package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hlsvault/hlsvault/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func memCache(maxBytes int64, ttl time.Duration) *Cache {
	return NewWithBackend(newMemoryBackend(maxBytes, ttl), nil)
}

func staticFetch(data []byte) Fetcher {
	return func(context.Context, Key) ([]byte, error) {
		return data, nil
	}
}

func TestCacheHitAndMiss(t *testing.T) {
	c := memCache(1<<20, 0)
	key := Key{VideoID: "movie", Ordinal: 0}
	payload := []byte("segment-bytes")

	got, err := c.Get(context.Background(), key, staticFetch(payload))
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	var fetched atomic.Int32
	got, err = c.Get(context.Background(), key, func(context.Context, Key) ([]byte, error) {
		fetched.Add(1)
		return nil, errors.New("should not fetch")
	})
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Zero(t, fetched.Load())

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(2*len(payload)), stats.BytesServed)
	assert.Equal(t, 1, stats.Entries)
}

func TestCacheSingleFlight(t *testing.T) {
	c := memCache(1<<20, 0)
	key := Key{VideoID: "movie", Ordinal: 3}

	var fetches atomic.Int32
	release := make(chan struct{})
	fetch := func(context.Context, Key) ([]byte, error) {
		fetches.Add(1)
		<-release
		return []byte("shared"), nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([][]byte, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, err := c.Get(context.Background(), key, fetch)
			require.NoError(t, err)
			results[i] = data
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), fetches.Load())
	for _, r := range results {
		assert.Equal(t, []byte("shared"), r)
	}
}

func TestCacheSingleFlightClearsOnFailure(t *testing.T) {
	c := memCache(1<<20, 0)
	key := Key{VideoID: "movie", Ordinal: 0}

	_, err := c.Get(context.Background(), key, func(context.Context, Key) ([]byte, error) {
		return nil, errors.New("remote down")
	})
	require.Error(t, err)

	// A later call must run a fresh fetch, not a poisoned slot.
	got, err := c.Get(context.Background(), key, staticFetch([]byte("recovered")))
	require.NoError(t, err)
	assert.Equal(t, []byte("recovered"), got)
}

func TestLRUByteBound(t *testing.T) {
	backend := newMemoryBackend(100, 0)
	c := NewWithBackend(backend, nil)
	ctx := context.Background()

	chunk := bytes.Repeat([]byte("x"), 40)
	for i := 0; i < 3; i++ {
		_, err := c.Get(ctx, Key{VideoID: "v", Ordinal: i}, staticFetch(chunk))
		require.NoError(t, err)
	}

	// 3 * 40 > 100: ordinal 0 was coldest and must be gone.
	assert.False(t, c.Contains(Key{VideoID: "v", Ordinal: 0}))
	assert.True(t, c.Contains(Key{VideoID: "v", Ordinal: 1}))
	assert.True(t, c.Contains(Key{VideoID: "v", Ordinal: 2}))
	assert.LessOrEqual(t, backend.UsedBytes(), int64(100))
	assert.Equal(t, uint64(1), backend.Evictions())
}

func TestLRURecencyOnGet(t *testing.T) {
	backend := newMemoryBackend(100, 0)
	c := NewWithBackend(backend, nil)
	ctx := context.Background()

	chunk := bytes.Repeat([]byte("x"), 40)
	for i := 0; i < 2; i++ {
		_, err := c.Get(ctx, Key{VideoID: "v", Ordinal: i}, staticFetch(chunk))
		require.NoError(t, err)
	}

	// Touch ordinal 0 so ordinal 1 becomes the eviction victim.
	_, err := c.Get(ctx, Key{VideoID: "v", Ordinal: 0}, staticFetch(chunk))
	require.NoError(t, err)
	_, err = c.Get(ctx, Key{VideoID: "v", Ordinal: 2}, staticFetch(chunk))
	require.NoError(t, err)

	assert.True(t, c.Contains(Key{VideoID: "v", Ordinal: 0}))
	assert.False(t, c.Contains(Key{VideoID: "v", Ordinal: 1}))
}

func TestOversizeEntryNotCached(t *testing.T) {
	c := memCache(10, 0)
	key := Key{VideoID: "v", Ordinal: 0}

	data, err := c.Get(context.Background(), key, staticFetch(bytes.Repeat([]byte("x"), 50)))
	require.NoError(t, err)
	assert.Len(t, data, 50)
	assert.False(t, c.Contains(key))
}

func TestTTLSweep(t *testing.T) {
	backend := newMemoryBackend(1<<20, 10*time.Millisecond)
	c := NewWithBackend(backend, nil)

	_, err := c.Get(context.Background(), Key{VideoID: "v", Ordinal: 0}, staticFetch([]byte("data")))
	require.NoError(t, err)
	assert.True(t, c.Contains(Key{VideoID: "v", Ordinal: 0}))

	time.Sleep(20 * time.Millisecond)
	assert.False(t, c.Contains(Key{VideoID: "v", Ordinal: 0}))
	assert.Equal(t, 1, c.SweepExpired())
	assert.Zero(t, backend.Len())
}

func TestInvalidateVideo(t *testing.T) {
	c := memCache(1<<20, 0)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := c.Get(ctx, Key{VideoID: "gone", Ordinal: i}, staticFetch([]byte("d")))
		require.NoError(t, err)
	}
	_, err := c.Get(ctx, Key{VideoID: "stays", Ordinal: 0}, staticFetch([]byte("d")))
	require.NoError(t, err)

	c.InvalidateVideo("gone", 3)
	for i := 0; i < 3; i++ {
		assert.False(t, c.Contains(Key{VideoID: "gone", Ordinal: i}))
	}
	assert.True(t, c.Contains(Key{VideoID: "stays", Ordinal: 0}))
}

func TestDiskBackendPersistence(t *testing.T) {
	dir := t.TempDir()
	logger := testLogger()

	first, err := newDiskBackend(dir, 1<<20, 0, logger)
	require.NoError(t, err)
	first.Put(Key{VideoID: "movie", Ordinal: 0}, []byte("persisted-segment"))
	first.Put(Key{VideoID: "movie", Ordinal: 1}, []byte("second"))

	// A new backend over the same dir sees the previous entries.
	second, err := newDiskBackend(dir, 1<<20, 0, logger)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Len())

	data, ok := second.Get(Key{VideoID: "movie", Ordinal: 0})
	require.True(t, ok)
	assert.Equal(t, []byte("persisted-segment"), data)
}

func TestDiskBackendEviction(t *testing.T) {
	dir := t.TempDir()
	backend, err := newDiskBackend(dir, 100, 0, testLogger())
	require.NoError(t, err)

	chunk := bytes.Repeat([]byte("y"), 40)
	for i := 0; i < 3; i++ {
		backend.Put(Key{VideoID: "v", Ordinal: i}, chunk)
	}

	assert.False(t, backend.Peek(Key{VideoID: "v", Ordinal: 0}))
	assert.LessOrEqual(t, backend.UsedBytes(), int64(100))

	// The evicted file is gone from disk too.
	_, ok := backend.Get(Key{VideoID: "v", Ordinal: 0})
	assert.False(t, ok)
}

func TestKeyFromFilename(t *testing.T) {
	key, ok := keyFromFilename("my_movie.00042.ts")
	require.True(t, ok)
	assert.Equal(t, Key{VideoID: "my_movie", Ordinal: 42}, key)

	_, ok = keyFromFilename("stray.txt")
	assert.False(t, ok)
	_, ok = keyFromFilename("noordinal.ts")
	assert.False(t, ok)
}

func TestNewSelectsBackend(t *testing.T) {
	c, err := New(config.CacheConfig{Type: "memory", Size: config.ByteSize(1 << 20)}, "", nil)
	require.NoError(t, err)
	require.NotNil(t, c)

	c, err = New(config.CacheConfig{Type: "disk", Size: config.ByteSize(1 << 20)}, t.TempDir(), nil)
	require.NoError(t, err)
	require.NotNil(t, c)

	_, err = New(config.CacheConfig{Type: "redis", Size: config.ByteSize(1 << 20)}, "", nil)
	assert.Error(t, err)
}

func TestPrefetcherWarmsAhead(t *testing.T) {
	c := memCache(1<<20, 0)

	var fetched sync.Map
	fetch := func(_ context.Context, key Key) ([]byte, error) {
		fetched.Store(key, true)
		return []byte(fmt.Sprintf("seg-%d", key.Ordinal)), nil
	}

	p := NewPrefetcher(c, fetch, 3, 2, nil)
	p.Schedule("movie", 0, 10)
	p.Wait()
	p.Close()

	for i := 1; i <= 3; i++ {
		assert.True(t, c.Contains(Key{VideoID: "movie", Ordinal: i}), "ordinal %d", i)
	}
	assert.False(t, c.Contains(Key{VideoID: "movie", Ordinal: 4}))
	assert.Equal(t, uint64(3), c.Stats().PrefetchOK)
}

func TestPrefetcherStopsAtEnd(t *testing.T) {
	c := memCache(1<<20, 0)
	p := NewPrefetcher(c, staticFetch([]byte("d")), 5, 2, nil)

	// Only ordinal 4 exists beyond 3 in a 5-segment video.
	p.Schedule("movie", 3, 5)
	p.Wait()
	p.Close()

	assert.True(t, c.Contains(Key{VideoID: "movie", Ordinal: 4}))
	assert.False(t, c.Contains(Key{VideoID: "movie", Ordinal: 5}))
	assert.Equal(t, 1, c.Stats().Entries)
}

func TestPrefetcherSkipsPresent(t *testing.T) {
	c := memCache(1<<20, 0)
	_, err := c.Get(context.Background(), Key{VideoID: "movie", Ordinal: 1}, staticFetch([]byte("already")))
	require.NoError(t, err)

	var fetches atomic.Int32
	p := NewPrefetcher(c, func(_ context.Context, key Key) ([]byte, error) {
		fetches.Add(1)
		return []byte("new"), nil
	}, 2, 2, nil)
	p.Schedule("movie", 0, 10)
	p.Wait()
	p.Close()

	// Ordinal 1 was present; only ordinal 2 was fetched.
	assert.Equal(t, int32(1), fetches.Load())
}

func TestPrefetcherBoundedConcurrency(t *testing.T) {
	c := memCache(1<<20, 0)

	var current, peak atomic.Int32
	fetch := func(_ context.Context, key Key) ([]byte, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		current.Add(-1)
		return []byte("d"), nil
	}

	p := NewPrefetcher(c, fetch, 8, 2, nil)
	p.Schedule("movie", 0, 20)
	p.Wait()
	p.Close()

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, uint64(8), c.Stats().PrefetchOK)
}

func TestPrefetcherSwallowsErrors(t *testing.T) {
	c := memCache(1<<20, 0)
	p := NewPrefetcher(c, func(context.Context, Key) ([]byte, error) {
		return nil, errors.New("remote down")
	}, 2, 2, nil)

	p.Schedule("movie", 0, 10)
	p.Wait()
	p.Close()

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.PrefetchErr)
	assert.Zero(t, stats.PrefetchOK)
}
