package cache

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// Revalidate refreshes a cached entry with a conditional GET. Concurrent
// callers for the same key join one in-flight request instead of issuing
// their own; exactly one network fetch happens per key at a time.
//
// It returns true when the cache was refreshed (304 or a new 2xx body),
// false when the entry was left untouched.
func (c *Cache) Revalidate(ctx context.Context, rawURL string) (bool, error) {
	key := Key(rawURL)

	refreshed, err, _ := c.group.Do(key, func() (interface{}, error) {
		return c.revalidateOnce(ctx, key, rawURL)
	})
	if err != nil {
		return false, err
	}
	return refreshed.(bool), nil
}

func (c *Cache) revalidateOnce(ctx context.Context, key, rawURL string) (bool, error) {
	entry, ok := c.mem.get(key)
	if !ok {
		var err error
		entry, err = c.disk.get(key)
		if err != nil {
			return false, ErrNotFound
		}
	}

	// The refresh timestamp is taken before the request starts so a write
	// racing this revalidation wins the StoredAt comparison.
	startedAt := c.clock.Now()

	req := c.client.R().SetContext(ctx)
	if entry.Headers.ETag != "" {
		req.SetHeader("If-None-Match", entry.Headers.ETag)
	}
	if entry.Headers.LastModified != "" {
		req.SetHeader("If-Modified-Since", entry.Headers.LastModified)
	}

	resp, err := req.Get(rawURL)
	if err != nil {
		c.recordRevalidation("failed")
		c.logger.Debug("Revalidation request failed", zap.String("url", rawURL), zap.Error(err))
		return false, err
	}

	switch {
	case resp.StatusCode() == http.StatusNotModified:
		c.recordRevalidation("not_modified")
		if err := c.disk.touch(key, startedAt); err == nil {
			// The memory copy still carries the old timestamp; drop it so
			// the next lookup re-reads the refreshed one.
			c.mem.remove(key)
		}
		return true, nil

	case resp.StatusCode() >= 200 && resp.StatusCode() < 300:
		c.recordRevalidation("updated")
		hdr := Headers{
			ETag:         resp.Header().Get("ETag"),
			LastModified: resp.Header().Get("Last-Modified"),
			ContentType:  resp.Header().Get("Content-Type"),
		}
		if err := c.storeAt(rawURL, resp.Body(), hdr, startedAt); err != nil {
			return false, err
		}
		return true, nil

	default:
		c.recordRevalidation("failed")
		c.logger.Debug("Revalidation got unexpected status",
			zap.String("url", rawURL), zap.Int("status", resp.StatusCode()))
		return false, fmt.Errorf("revalidation got status %d", resp.StatusCode())
	}
}

// revalidateAsync schedules one background revalidation for a stale entry.
// Deduplication lives in Revalidate itself, so a burst of stale lookups
// still produces a single network request.
func (c *Cache) revalidateAsync(rawURL string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultRevalidateTimeout)
		defer cancel()
		if _, err := c.Revalidate(ctx, rawURL); err != nil {
			c.logger.Debug("Background revalidation failed", zap.String("url", rawURL), zap.Error(err))
		}
	}()
}

func (c *Cache) recordRevalidation(result string) {
	if c.metrics != nil {
		c.metrics.RecordRevalidation(result)
	}
}
