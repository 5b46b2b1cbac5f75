package cache

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charlievieth/fastwalk"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/MobileShell/gateway/internal/infrastructure/logging"
	"github.com/GriffinCanCode/MobileShell/gateway/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/MobileShell/gateway/internal/platform"
)

const (
	bodySuffix = ".body"
	metaSuffix = ".meta"
)

// diskMeta is the JSON sidecar stored next to each gzip body blob.
type diskMeta struct {
	URL      string    `json:"url"`
	Headers  Headers   `json:"headers"`
	StoredAt time.Time `json:"stored_at"`
	BodySize int64     `json:"body_size"`
}

// diskRecord is the in-memory index entry for one on-disk pair.
type diskRecord struct {
	size       int64 // bytes on disk: compressed body + meta
	storedAt   time.Time
	lastAccess time.Time
}

// diskTier is the authoritative cache tier: a flat directory of
// <key>.body (gzip) and <key>.meta (JSON) pairs with an LRU index kept in
// memory. Losing the memory tier never loses a disk copy; losing a disk
// entry is an eviction.
type diskTier struct {
	dir     string
	quota   int64
	clock   platform.Clock
	logger  *logging.Logger
	metrics *monitoring.Metrics

	mu    sync.Mutex
	index map[string]*diskRecord
	total int64
}

func newDiskTier(dir string, quota int64, clock platform.Clock, logger *logging.Logger, metrics *monitoring.Metrics) (*diskTier, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	t := &diskTier{
		dir:     dir,
		quota:   quota,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
		index:   make(map[string]*diskRecord),
	}
	t.rebuild()
	return t, nil
}

// rebuild scans the cache directory and reconstructs the index. Orphaned
// or unreadable pairs are deleted rather than trusted.
func (t *diskTier) rebuild() {
	var mu sync.Mutex
	metaPaths := make([]string, 0, 64)

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, t.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, metaSuffix) {
			mu.Lock()
			metaPaths = append(metaPaths, path)
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		t.logger.Warn("Cache directory scan failed", zap.Error(err))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, metaPath := range metaPaths {
		key := strings.TrimSuffix(filepath.Base(metaPath), metaSuffix)
		meta, err := readMeta(metaPath)
		if err != nil {
			t.logger.Warn("Dropping corrupt cache entry", zap.String("key", key), zap.Error(err))
			t.deleteFiles(key)
			continue
		}
		bodyInfo, err := os.Stat(t.bodyPath(key))
		if err != nil {
			t.logger.Warn("Dropping cache entry without body", zap.String("key", key))
			t.deleteFiles(key)
			continue
		}
		metaInfo, _ := os.Stat(metaPath)
		size := bodyInfo.Size()
		if metaInfo != nil {
			size += metaInfo.Size()
		}
		t.index[key] = &diskRecord{
			size:       size,
			storedAt:   meta.StoredAt,
			lastAccess: meta.StoredAt,
		}
		t.total += size
	}
	t.updateGauge()

	// The quota may have shrunk since the last run.
	t.evictLocked()
}

// get loads and decompresses one entry, updating its access time.
func (t *diskTier) get(key string) (*Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.index[key]
	if !ok {
		return nil, ErrNotFound
	}

	meta, err := readMeta(t.metaPath(key))
	if err != nil {
		t.logger.Warn("Dropping corrupt cache meta", zap.String("key", key), zap.Error(err))
		t.removeLocked(key)
		return nil, ErrNotFound
	}
	body, err := readBody(t.bodyPath(key))
	if err != nil {
		t.logger.Warn("Dropping corrupt cache body", zap.String("key", key), zap.Error(err))
		t.removeLocked(key)
		return nil, ErrNotFound
	}

	rec.lastAccess = t.clock.Now()
	return &Entry{
		Key:      key,
		URL:      meta.URL,
		Body:     body,
		Headers:  meta.Headers,
		Size:     meta.BodySize,
		StoredAt: meta.StoredAt,
	}, nil
}

// put writes an entry, honoring last-writer-wins by stored timestamp: a
// revalidation that started earlier but finished later must not clobber a
// newer write.
func (t *diskTier) put(e *Entry) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec, ok := t.index[e.Key]; ok && rec.storedAt.After(e.StoredAt) {
		t.logger.Debug("Skipping stale cache write", zap.String("key", e.Key))
		return false, nil
	}

	meta := diskMeta{URL: e.URL, Headers: e.Headers, StoredAt: e.StoredAt, BodySize: int64(len(e.Body))}
	bodySize, err := writeBodyAtomic(t.bodyPath(e.Key), e.Body)
	if err != nil {
		return false, fmt.Errorf("failed to write cache body: %w", err)
	}
	metaSize, err := writeMetaAtomic(t.metaPath(e.Key), meta)
	if err != nil {
		os.Remove(t.bodyPath(e.Key))
		return false, fmt.Errorf("failed to write cache meta: %w", err)
	}

	if old, ok := t.index[e.Key]; ok {
		t.total -= old.size
	}
	size := bodySize + metaSize
	t.index[e.Key] = &diskRecord{
		size:       size,
		storedAt:   e.StoredAt,
		lastAccess: t.clock.Now(),
	}
	t.total += size

	t.evictLocked()
	t.updateGauge()
	return true, nil
}

// touch refreshes only the stored timestamp, the 304 path.
func (t *diskTier) touch(key string, storedAt time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.index[key]
	if !ok {
		return ErrNotFound
	}
	if rec.storedAt.After(storedAt) {
		return nil
	}

	meta, err := readMeta(t.metaPath(key))
	if err != nil {
		t.removeLocked(key)
		return ErrNotFound
	}
	meta.StoredAt = storedAt
	metaSize, err := writeMetaAtomic(t.metaPath(key), *meta)
	if err != nil {
		return fmt.Errorf("failed to refresh cache meta: %w", err)
	}

	size := bodyFileSize(t.bodyPath(key)) + metaSize
	t.total += size - rec.size
	rec.size = size
	rec.storedAt = storedAt
	rec.lastAccess = t.clock.Now()
	return nil
}

// remove deletes one entry.
func (t *diskTier) remove(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(key)
}

func (t *diskTier) removeLocked(key string) {
	if rec, ok := t.index[key]; ok {
		t.total -= rec.size
		delete(t.index, key)
	}
	t.deleteFiles(key)
	t.updateGauge()
}

// evictLocked drops least-recently-accessed entries until the tier fits
// the quota. Runs synchronously after any exceeding write.
func (t *diskTier) evictLocked() {
	if t.total <= t.quota {
		return
	}

	type aged struct {
		key string
		rec *diskRecord
	}
	entries := make([]aged, 0, len(t.index))
	for k, r := range t.index {
		entries = append(entries, aged{k, r})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].rec.lastAccess.Before(entries[j].rec.lastAccess)
	})

	for _, e := range entries {
		if t.total <= t.quota {
			break
		}
		t.total -= e.rec.size
		delete(t.index, e.key)
		t.deleteFiles(e.key)
		if t.metrics != nil {
			t.metrics.CacheEvictions.Inc()
		}
		t.logger.Debug("Evicted cache entry", zap.String("key", e.key), zap.Int64("size", e.rec.size))
	}
	t.updateGauge()
}

// sizeBytes reports the current tier size. Test hook.
func (t *diskTier) sizeBytes() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

func (t *diskTier) has(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.index[key]
	return ok
}

func (t *diskTier) bodyPath(key string) string { return filepath.Join(t.dir, key+bodySuffix) }
func (t *diskTier) metaPath(key string) string { return filepath.Join(t.dir, key+metaSuffix) }

func (t *diskTier) deleteFiles(key string) {
	os.Remove(t.bodyPath(key))
	os.Remove(t.metaPath(key))
}

func (t *diskTier) updateGauge() {
	if t.metrics != nil {
		t.metrics.CacheDiskBytes.Set(float64(t.total))
	}
}

func bodyFileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func readMeta(path string) (*diskMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var meta diskMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	if meta.URL == "" || meta.StoredAt.IsZero() {
		return nil, fmt.Errorf("incomplete cache meta")
	}
	return &meta, nil
}

func readBody(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	return io.ReadAll(gz)
}

// writeBodyAtomic gzips the body into a temp file and renames it into
// place, so readers never observe a partial blob.
func writeBodyAtomic(path string, body []byte) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-body-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	gz := gzip.NewWriter(tmp)
	if _, err := gz.Write(body); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := gz.Close(); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, err
	}
	return bodyFileSize(path), nil
}

func writeMetaAtomic(path string, meta diskMeta) (int64, error) {
	data, err := json.Marshal(meta)
	if err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-meta-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}
