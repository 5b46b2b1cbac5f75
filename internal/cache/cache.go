package cache

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/GriffinCanCode/MobileShell/gateway/internal/infrastructure/logging"
	"github.com/GriffinCanCode/MobileShell/gateway/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/MobileShell/gateway/internal/platform"
)

// Config holds cache construction values, already converted to concrete
// units by the caller.
type Config struct {
	Dir             string
	MaxAge          time.Duration
	StaleWindow     time.Duration
	MaxDiskBytes    int64
	MemoryFraction  float64
	HeapBudgetBytes int64
}

// Deps carries the cache's collaborators. Logger is required; Clock,
// Client and Metrics default when nil.
type Deps struct {
	Logger  *logging.Logger
	Clock   platform.Clock
	Metrics *monitoring.Metrics
	Client  *resty.Client
}

// Cache is the two-tier stale-while-revalidate response cache.
//
// Memory-tier hits are synchronous and allocation-only; disk and network
// work never runs on a Lookup that can answer without it. Stale lookups
// answer immediately and kick one deduplicated background revalidation.
type Cache struct {
	maxAge      time.Duration
	staleWindow time.Duration

	mem  *memoryTier
	disk *diskTier

	group   singleflight.Group
	client  *resty.Client
	clock   platform.Clock
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// defaultRevalidateTimeout bounds one conditional GET.
const defaultRevalidateTimeout = 30 * time.Second

// New creates the cache, rebuilding the disk index from a previous run.
func New(cfg Config, deps Deps) (*Cache, error) {
	clock := deps.Clock
	if clock == nil {
		clock = platform.Real().Clock
	}
	client := deps.Client
	if client == nil {
		client = resty.New().SetTimeout(defaultRevalidateTimeout)
	}

	disk, err := newDiskTier(cfg.Dir, cfg.MaxDiskBytes, clock, deps.Logger, deps.Metrics)
	if err != nil {
		return nil, err
	}
	mem, err := newMemoryTier(cfg.HeapBudgetBytes, cfg.MemoryFraction)
	if err != nil {
		return nil, err
	}

	return &Cache{
		maxAge:      cfg.MaxAge,
		staleWindow: cfg.StaleWindow,
		mem:         mem,
		disk:        disk,
		client:      client,
		clock:       clock,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
	}, nil
}

// Lookup returns the cached response for a URL, or ErrNotFound for a miss
// or an expired entry. A Stale result is returned immediately; one
// background revalidation is scheduled for it.
func (c *Cache) Lookup(ctx context.Context, rawURL string) (*Result, error) {
	key := Key(rawURL)

	entry, ok := c.mem.get(key)
	if !ok {
		var err error
		entry, err = c.disk.get(key)
		if err != nil {
			c.recordLookup("miss")
			return nil, ErrNotFound
		}
		c.mem.add(entry)
	}

	switch fr := freshnessAt(entry, c.clock.Now(), c.maxAge, c.staleWindow); fr {
	case Fresh:
		c.recordLookup("fresh")
		return &Result{Entry: entry, Freshness: Fresh}, nil
	case Stale:
		c.recordLookup("stale")
		c.revalidateAsync(rawURL)
		return &Result{Entry: entry, Freshness: Stale}, nil
	default:
		c.recordLookup("expired")
		c.mem.remove(key)
		c.disk.remove(key)
		return nil, ErrNotFound
	}
}

// Store writes a fetched response into both tiers.
func (c *Cache) Store(ctx context.Context, rawURL string, body []byte, hdr Headers) error {
	return c.storeAt(rawURL, body, hdr, c.clock.Now())
}

// storeAt is the timestamp-explicit write path shared with revalidation.
// The disk tier enforces last-writer-wins by comparing stored timestamps;
// the memory tier only follows a disk write that actually happened.
func (c *Cache) storeAt(rawURL string, body []byte, hdr Headers, storedAt time.Time) error {
	entry := &Entry{
		Key:      Key(rawURL),
		URL:      rawURL,
		Body:     body,
		Headers:  hdr,
		Size:     int64(len(body)),
		StoredAt: storedAt,
	}

	stored, err := c.disk.put(entry)
	if err != nil {
		// Disk failure degrades to a continuing miss; never populate the
		// memory tier with data the authoritative tier does not hold.
		c.logger.Warn("Cache store failed", zap.String("url", rawURL), zap.Error(err))
		return err
	}
	if stored {
		c.mem.add(entry)
		if c.metrics != nil {
			c.metrics.CacheStores.Inc()
		}
	}
	return nil
}

// Remove drops a URL from both tiers.
func (c *Cache) Remove(rawURL string) {
	key := Key(rawURL)
	c.mem.remove(key)
	c.disk.remove(key)
}

// DiskSizeBytes reports the current disk tier size.
func (c *Cache) DiskSizeBytes() int64 {
	return c.disk.sizeBytes()
}

func (c *Cache) recordLookup(outcome string) {
	if c.metrics != nil {
		c.metrics.RecordLookup(outcome)
	}
}
