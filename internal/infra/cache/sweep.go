package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
)

// checkSize runs an expiry sweep when the durable tier is over budget.
// Concurrent callers share one check.
func (c *FingerprintCache[T]) checkSize(ctx context.Context) {
	_, _, _ = c.sizeCheck.Do("size-check", func() (interface{}, error) {
		size, count, err := c.store.usage()
		if err != nil {
			c.metrics.RecordDurableError("list", classifyIOErr(err).String())
			c.logger.WarnContext(ctx, "failed to measure cache directory", slog.Any("error", err))
			return nil, nil
		}
		limit := int64(c.cfg.MaxSizeMB) * bytesPerMB
		if size <= limit {
			return nil, nil
		}
		c.logger.InfoContext(ctx, "cache over size budget, sweeping expired entries",
			slog.String("size", humanize.IBytes(uint64(size))),
			slog.String("limit", humanize.IBytes(uint64(limit))),
			slog.Int("files", count))
		return c.SweepExpired(ctx), nil
	})
}

// SweepExpired deletes every durable entry that is past its TTL or unreadable
// and returns how many were removed. Valid entries are never removed, so the
// directory may stay over budget. Sweeps are serialized.
func (c *FingerprintCache[T]) SweepExpired(ctx context.Context) int {
	if !c.cfg.Enabled {
		return 0
	}
	c.sweepMu.Lock()
	defer c.sweepMu.Unlock()

	files, err := c.store.list()
	if err != nil {
		c.metrics.RecordDurableError("list", classifyIOErr(err).String())
		c.logger.WarnContext(ctx, "failed to list cache files", slog.Any("error", err))
		return 0
	}

	now := c.now()
	removed := 0
	var freed int64
	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		if c.sweepFile(ctx, f.key, now) {
			removed++
			freed += f.size
		}
	}

	c.mu.Lock()
	c.evictions += int64(removed)
	memLen := c.memory.len()
	c.mu.Unlock()

	c.metrics.RecordEvictions(removed)
	c.metrics.SetMemoryEntries(memLen)
	c.logger.InfoContext(ctx, "cache sweep finished",
		slog.Int("scanned", len(files)),
		slog.Int("removed", removed),
		slog.String("freed", humanize.IBytes(uint64(freed))))
	return removed
}

// sweepFile deletes the durable entry for key if it is expired or unreadable
// at the time it is checked. The check and the delete run under the key lock
// so a concurrent Set cannot be lost. The memory entry is dropped only when it
// is no longer valid itself.
func (c *FingerprintCache[T]) sweepFile(ctx context.Context, key string, now time.Time) bool {
	unlock := c.keys.lock(key)
	defer unlock()

	data, err := c.store.read(key)
	if err != nil {
		if kind := classifyIOErr(err); kind != ioErrNotFound {
			c.metrics.RecordDurableError("read", kind.String())
			c.logger.WarnContext(ctx, "failed to read cache file during sweep",
				slog.String("cache_key", key),
				slog.Any("error", err))
		}
		return false
	}
	cachedAt, ok := cachedAtOf(data)
	if ok && c.valid(cachedAt, now) {
		return false
	}
	reason := "expired"
	if !ok {
		reason = "corrupt"
	}
	if !c.deleteDurable(ctx, key, reason) {
		return false
	}

	c.mu.Lock()
	if e, found := c.memory.get(key); found && !c.valid(e.CachedAt, now) {
		c.memory.remove(key)
	}
	c.mu.Unlock()
	return true
}
