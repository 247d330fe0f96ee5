// Package cache holds recently served segment bytes in a byte-bounded LRU
// with optional TTL, deduplicating concurrent fetches per segment key.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hlsvault/hlsvault/internal/config"
	"github.com/hlsvault/hlsvault/internal/models"
)

// Key identifies one cached segment.
type Key struct {
	VideoID string
	Ordinal int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.VideoID, k.Ordinal)
}

// Backend stores bounded segment bytes. Implementations evict least
// recently used entries to stay under their byte budget.
type Backend interface {
	// Get returns the entry and marks it most recently used.
	Get(key Key) ([]byte, bool)
	// Peek returns presence without touching recency.
	Peek(key Key) bool
	Put(key Key, data []byte)
	Remove(key Key)
	Clear()
	// SweepExpired drops entries older than the TTL and reports how many.
	SweepExpired() int
	UsedBytes() int64
	Len() int
	Evictions() uint64
}

// Fetcher loads a segment's bytes on a cache miss.
type Fetcher func(ctx context.Context, key Key) ([]byte, error)

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits         uint64 `json:"hits"`
	Misses       uint64 `json:"misses"`
	Evictions    uint64 `json:"evictions"`
	BytesServed  uint64 `json:"bytes_served"`
	CurrentBytes int64  `json:"current_bytes"`
	Entries      int    `json:"entries"`
	PrefetchOK   uint64 `json:"prefetch_ok"`
	PrefetchErr  uint64 `json:"prefetch_err"`
}

// Cache fronts a Backend with single-flight fetch deduplication.
type Cache struct {
	backend Backend
	group   singleflight.Group
	logger  *slog.Logger

	hits        atomic.Uint64
	misses      atomic.Uint64
	bytesServed atomic.Uint64
	prefetchOK  atomic.Uint64
	prefetchErr atomic.Uint64
}

// New builds the configured cache backend and wraps it.
func New(cfg config.CacheConfig, diskDir string, log *slog.Logger) (*Cache, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "cache"))

	var backend Backend
	switch cfg.Type {
	case "memory":
		backend = newMemoryBackend(cfg.Size.Bytes(), cfg.TTL)
	case "disk":
		b, err := newDiskBackend(diskDir, cfg.Size.Bytes(), cfg.TTL, log)
		if err != nil {
			return nil, err
		}
		backend = b
	default:
		return nil, models.E(models.KindConfigInvalid, "unknown cache type %q", cfg.Type)
	}

	return &Cache{backend: backend, logger: log}, nil
}

// NewWithBackend wraps an explicit backend.
func NewWithBackend(backend Backend, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{backend: backend, logger: log.With(slog.String("component", "cache"))}
}

// Get returns the segment bytes for key, fetching on a miss. Concurrent
// callers for the same key share one fetch; the single-flight slot clears
// on success and failure alike.
func (c *Cache) Get(ctx context.Context, key Key, fetch Fetcher) ([]byte, error) {
	if data, ok := c.backend.Get(key); ok {
		c.hits.Add(1)
		c.bytesServed.Add(uint64(len(data)))
		return data, nil
	}
	c.misses.Add(1)

	v, err, shared := c.group.Do(key.String(), func() (any, error) {
		// A sibling request may have filled the entry while this call
		// waited on the flight slot.
		if data, ok := c.backend.Get(key); ok {
			return data, nil
		}
		data, err := fetch(ctx, key)
		if err != nil {
			return nil, err
		}
		c.backend.Put(key, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}

	data := v.([]byte)
	c.bytesServed.Add(uint64(len(data)))
	if shared {
		c.logger.Debug("fetch shared across requests", slog.String("key", key.String()))
	}
	return data, nil
}

// Contains reports presence without changing recency or counters.
func (c *Cache) Contains(key Key) bool {
	return c.backend.Peek(key)
}

// Warm inserts bytes fetched outside the foreground path (prefetch).
func (c *Cache) Warm(ctx context.Context, key Key, fetch Fetcher) error {
	if c.backend.Peek(key) {
		return nil
	}
	_, err, _ := c.group.Do(key.String(), func() (any, error) {
		if data, ok := c.backend.Get(key); ok {
			return data, nil
		}
		data, err := fetch(ctx, key)
		if err != nil {
			return nil, err
		}
		c.backend.Put(key, data)
		return data, nil
	})
	if err != nil {
		c.prefetchErr.Add(1)
		return err
	}
	c.prefetchOK.Add(1)
	return nil
}

// InvalidateVideo removes all cached segments of one video.
func (c *Cache) InvalidateVideo(videoID string, totalSegments int) {
	for i := 0; i < totalSegments; i++ {
		c.backend.Remove(Key{VideoID: videoID, Ordinal: i})
	}
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.backend.Clear()
}

// SweepExpired evicts TTL-expired entries. Driven by the maintenance cron.
func (c *Cache) SweepExpired() int {
	n := c.backend.SweepExpired()
	if n > 0 {
		c.logger.Debug("swept expired cache entries", slog.Int("count", n))
	}
	return n
}

// Stats snapshots the counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		Evictions:    c.backend.Evictions(),
		BytesServed:  c.bytesServed.Load(),
		CurrentBytes: c.backend.UsedBytes(),
		Entries:      c.backend.Len(),
		PrefetchOK:   c.prefetchOK.Load(),
		PrefetchErr:  c.prefetchErr.Load(),
	}
}

// entryExpired reports TTL expiry for a backend entry timestamp.
func entryExpired(storedAt time.Time, ttl time.Duration) bool {
	return ttl > 0 && time.Since(storedAt) > ttl
}
