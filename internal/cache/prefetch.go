package cache

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Prefetcher warms the cache with the segments a player is about to
// request. It runs in the background with its own small concurrency budget
// so foreground fetches always win the connection pool.
type Prefetcher struct {
	cache *Cache
	fetch Fetcher

	ahead int
	sem   *semaphore.Weighted

	mu       sync.Mutex
	inflight map[Key]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewPrefetcher creates a Prefetcher that schedules up to ahead ordinals
// per miss, at most maxConcurrent fetches in flight globally.
func NewPrefetcher(c *Cache, fetch Fetcher, ahead, maxConcurrent int, log *slog.Logger) *Prefetcher {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Prefetcher{
		cache:    c,
		fetch:    fetch,
		ahead:    ahead,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		inflight: map[Key]struct{}{},
		ctx:      ctx,
		cancel:   cancel,
		logger:   log.With(slog.String("component", "prefetcher")),
	}
}

// Schedule queues the next ordinals after fromOrdinal of one video, capped
// at totalSegments. Keys already cached or already queued are skipped.
// Never blocks the caller.
func (p *Prefetcher) Schedule(videoID string, fromOrdinal, totalSegments int) {
	if p.ahead <= 0 {
		return
	}

	for i := 1; i <= p.ahead; i++ {
		ordinal := fromOrdinal + i
		if ordinal >= totalSegments {
			break
		}
		key := Key{VideoID: videoID, Ordinal: ordinal}
		if p.cache.Contains(key) || !p.claim(key) {
			continue
		}

		p.wg.Add(1)
		go p.warm(key)
	}
}

func (p *Prefetcher) warm(key Key) {
	defer p.wg.Done()
	defer p.release(key)

	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		return
	}
	defer p.sem.Release(1)

	if p.cache.Contains(key) {
		return
	}
	// Errors stay in the background; a player request for this segment
	// re-enters the foreground path and surfaces its own error.
	if err := p.cache.Warm(p.ctx, key, p.fetch); err != nil {
		p.logger.Debug("prefetch failed",
			slog.String("key", key.String()),
			slog.String("error", err.Error()))
		return
	}
	p.logger.Debug("prefetched segment", slog.String("key", key.String()))
}

// claim reserves a key, returning false if a prefetch is already queued.
func (p *Prefetcher) claim(key Key) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inflight[key]; ok {
		return false
	}
	p.inflight[key] = struct{}{}
	return true
}

func (p *Prefetcher) release(key Key) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, key)
}

// Wait blocks until every scheduled warm has run to completion. Unlike
// Close it does not cancel, so queued warms finish instead of being
// dropped.
func (p *Prefetcher) Wait() {
	p.wg.Wait()
}

// Close cancels pending prefetches and waits for workers to drain.
func (p *Prefetcher) Close() {
	p.cancel()
	p.wg.Wait()
}
