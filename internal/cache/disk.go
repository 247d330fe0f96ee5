package cache

import (
	"container/list"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// diskBackend is a byte-bounded LRU backed by files, surviving restarts.
// The recency index lives in memory and is rebuilt from file mtimes on
// startup.
type diskBackend struct {
	dir string
	ttl time.Duration

	mu       sync.Mutex
	maxBytes int64
	used     int64
	order    *list.List
	entries  map[Key]*list.Element

	evictions atomic.Uint64
	logger    *slog.Logger
}

type diskEntry struct {
	key      Key
	size     int64
	storedAt time.Time
}

func newDiskBackend(dir string, maxBytes int64, ttl time.Duration, log *slog.Logger) (*diskBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	d := &diskBackend{
		dir:      dir,
		ttl:      ttl,
		maxBytes: maxBytes,
		order:    list.New(),
		entries:  map[Key]*list.Element{},
		logger:   log,
	}
	if err := d.rebuild(); err != nil {
		return nil, err
	}
	return d, nil
}

// rebuild restores the index from files left by a previous run, oldest
// first so recency ordering is preserved.
func (d *diskBackend) rebuild() error {
	dirEntries, err := os.ReadDir(d.dir)
	if err != nil {
		return fmt.Errorf("scanning cache dir: %w", err)
	}

	type found struct {
		key   Key
		size  int64
		mtime time.Time
	}
	var files []found
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		key, ok := keyFromFilename(de.Name())
		if !ok {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		files = append(files, found{key: key, size: info.Size(), mtime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mtime.Before(files[j].mtime) })

	for _, f := range files {
		el := d.order.PushFront(&diskEntry{key: f.key, size: f.size, storedAt: f.mtime})
		d.entries[f.key] = el
		d.used += f.size
	}
	if len(files) > 0 {
		d.logger.Info("restored disk cache",
			slog.Int("entries", len(files)),
			slog.Int64("bytes", d.used))
	}
	return nil
}

func (d *diskBackend) path(key Key) string {
	return filepath.Join(d.dir, fmt.Sprintf("%s.%05d.ts", key.VideoID, key.Ordinal))
}

func keyFromFilename(name string) (Key, bool) {
	if !strings.HasSuffix(name, ".ts") {
		return Key{}, false
	}
	base := strings.TrimSuffix(name, ".ts")
	idx := strings.LastIndexByte(base, '.')
	if idx <= 0 {
		return Key{}, false
	}
	ordinal, err := strconv.Atoi(base[idx+1:])
	if err != nil {
		return Key{}, false
	}
	return Key{VideoID: base[:idx], Ordinal: ordinal}, true
}

func (d *diskBackend) Get(key Key) ([]byte, bool) {
	d.mu.Lock()
	el, ok := d.entries[key]
	if !ok {
		d.mu.Unlock()
		return nil, false
	}
	entry := el.Value.(*diskEntry)
	if entryExpired(entry.storedAt, d.ttl) {
		d.removeLocked(el, true)
		d.mu.Unlock()
		return nil, false
	}
	d.order.MoveToFront(el)
	path := d.path(key)
	d.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		// File vanished underneath the index.
		d.Remove(key)
		return nil, false
	}
	return data, true
}

func (d *diskBackend) Peek(key Key) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	el, ok := d.entries[key]
	if !ok {
		return false
	}
	return !entryExpired(el.Value.(*diskEntry).storedAt, d.ttl)
}

func (d *diskBackend) Put(key Key, data []byte) {
	size := int64(len(data))
	if size > d.maxBytes {
		return
	}

	if err := os.WriteFile(d.path(key), data, 0o644); err != nil {
		d.logger.Warn("disk cache write failed",
			slog.String("key", key.String()),
			slog.String("error", err.Error()))
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.entries[key]; ok {
		d.removeLocked(el, false)
	}
	for d.used+size > d.maxBytes {
		oldest := d.order.Back()
		if oldest == nil {
			break
		}
		d.removeLocked(oldest, true)
		d.evictions.Add(1)
	}

	el := d.order.PushFront(&diskEntry{key: key, size: size, storedAt: time.Now()})
	d.entries[key] = el
	d.used += size
}

func (d *diskBackend) Remove(key Key) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.entries[key]; ok {
		d.removeLocked(el, true)
	}
}

func (d *diskBackend) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for el := d.order.Back(); el != nil; el = d.order.Back() {
		d.removeLocked(el, true)
	}
}

func (d *diskBackend) SweepExpired() int {
	if d.ttl <= 0 {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for el := d.order.Back(); el != nil; {
		prev := el.Prev()
		if entryExpired(el.Value.(*diskEntry).storedAt, d.ttl) {
			d.removeLocked(el, true)
			n++
		}
		el = prev
	}
	return n
}

func (d *diskBackend) UsedBytes() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.used
}

func (d *diskBackend) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

func (d *diskBackend) Evictions() uint64 {
	return d.evictions.Load()
}

// removeLocked must run under mu.
func (d *diskBackend) removeLocked(el *list.Element, unlink bool) {
	entry := el.Value.(*diskEntry)
	d.order.Remove(el)
	delete(d.entries, entry.key)
	d.used -= entry.size
	if unlink {
		os.Remove(d.path(entry.key))
	}
}
