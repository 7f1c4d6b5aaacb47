// Package cache implements the fingerprint cache that sits in front of the
// document analysis endpoint.
//
// Responses are addressed by a digest of (content, model) and kept in two
// tiers: a bounded, insertion-ordered memory map and one JSON file per key in a
// cache directory. Entries are valid for a fixed TTL. When the directory grows
// past its size budget, expired entries are swept; entries still within their
// TTL are never evicted from disk.
//
// The cache is best effort. Durable-tier failures are classified, logged and
// counted, and behave like a miss (on read) or a no-op (on write). They never
// reach the caller.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/afero"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"

	"docmeta/internal/resilience/circuitbreaker"
)

// formatVersion is written into every durable file.
const formatVersion = 1

const bytesPerMB = 1 << 20

// Config holds the cache settings.
type Config struct {
	// Enabled turns the cache on. A disabled cache misses every lookup and
	// stores nothing.
	Enabled bool `yaml:"enabled"`

	// Dir is the directory holding one file per entry.
	Dir string `yaml:"dir"`

	// MaxSizeMB is the durable size that triggers an expiry sweep.
	MaxSizeMB int `yaml:"max_size_mb"`

	// TTL is how long an entry stays valid after it was written.
	TTL time.Duration `yaml:"ttl"`
}

// DefaultConfig returns the default cache settings.
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Dir:       "data/deepseek_cache",
		MaxSizeMB: 500,
		TTL:       168 * time.Hour,
	}
}

// Entry is one cached response.
type Entry[T any] struct {
	Format   int            `json:"format"`
	CacheKey string         `json:"cache_key"`
	CachedAt time.Time      `json:"cached_at"`
	Model    string         `json:"model"`
	Response T              `json:"response"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Stats is a snapshot of the cache counters.
type Stats struct {
	Hits             int64   `json:"hits"`
	Misses           int64   `json:"misses"`
	Evictions        int64   `json:"evictions"`
	TotalRequests    int64   `json:"total_requests"`
	HitRate          float64 `json:"hit_rate"`
	CacheFilesCount  int     `json:"cache_files_count"`
	MemoryCacheCount int     `json:"memory_cache_count"`
}

// Info describes the durable entry for one (content, model) pair.
type Info struct {
	CacheKey  string     `json:"cache_key"`
	Exists    bool       `json:"exists"`
	Valid     bool       `json:"valid"`
	CachedAt  *time.Time `json:"cached_at,omitempty"`
	SizeBytes int64      `json:"size_bytes"`
}

// Option customizes a FingerprintCache.
type Option func(*options)

type options struct {
	fs       afero.Fs
	now      func() time.Time
	metrics  MetricsRecorder
	logger   *slog.Logger
	capacity int
	guard    *circuitbreaker.Guard
}

// WithFs sets the filesystem of the durable tier. Defaults to the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(o *options) { o.fs = fs }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMemoryCapacity sets the number of entries kept in memory.
func WithMemoryCapacity(n int) Option {
	return func(o *options) { o.capacity = n }
}

// WithGuard sets the circuit breaker wrapped around durable-tier I/O.
func WithGuard(g *circuitbreaker.Guard) Option {
	return func(o *options) { o.guard = g }
}

// FingerprintCache is a two-tier response cache keyed by Key(content, model).
// It is safe for concurrent use.
type FingerprintCache[T any] struct {
	cfg     Config
	store   *durableStore
	guard   *circuitbreaker.Guard
	now     func() time.Time
	metrics MetricsRecorder
	logger  *slog.Logger

	// mu guards memory and the counters.
	mu        sync.Mutex
	memory    *memoryTier[T]
	hits      int64
	misses    int64
	evictions int64
	total     int64

	// keys is taken before mu, never after.
	keys      keyLocks
	sizeCheck singleflight.Group
	sweepMu   sync.Mutex
}

// New creates a cache. An enabled cache creates its directory.
func New[T any](cfg Config, opts ...Option) (*FingerprintCache[T], error) {
	o := options{
		fs:       afero.NewOsFs(),
		now:      time.Now,
		metrics:  noopMetrics{},
		logger:   slog.Default(),
		capacity: DefaultMemoryCapacity,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.guard == nil {
		gc := circuitbreaker.DurableTierConfig()
		gc.IsSuccessful = func(err error) bool {
			kind := classifyIOErr(err)
			return kind == ioErrNone || kind == ioErrNotFound || kind == ioErrCorrupt
		}
		o.guard = circuitbreaker.NewGuard(gc)
	}

	c := &FingerprintCache[T]{
		cfg:     cfg,
		store:   &durableStore{fs: o.fs, dir: cfg.Dir},
		guard:   o.guard,
		now:     o.now,
		metrics: o.metrics,
		logger:  o.logger,
		memory:  newMemoryTier[T](o.capacity),
	}

	if cfg.Enabled {
		if cfg.Dir == "" {
			return nil, fmt.Errorf("cache directory must not be empty")
		}
		if err := c.store.init(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Key returns the fingerprint of (content, model). It is deterministic and
// stable across processes and platforms.
func Key(content, model string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return "fp_" + hex.EncodeToString(h.Sum(nil))
}

// Enabled reports whether the cache stores anything.
func (c *FingerprintCache[T]) Enabled() bool {
	return c.cfg.Enabled
}

func (c *FingerprintCache[T]) valid(cachedAt, now time.Time) bool {
	return now.Sub(cachedAt) < c.cfg.TTL
}

// Get returns the cached response for (content, model).
//
// The memory tier is checked first. On a memory miss a valid durable entry is
// promoted into memory. Expired and unreadable durable entries are deleted.
// A disabled cache returns a miss without touching any counter.
func (c *FingerprintCache[T]) Get(ctx context.Context, content, model string) (T, bool) {
	var zero T
	if !c.cfg.Enabled {
		return zero, false
	}
	key := Key(content, model)
	now := c.now()

	c.mu.Lock()
	if e, ok := c.memory.get(key); ok {
		if c.valid(e.CachedAt, now) {
			c.total++
			c.hits++
			c.mu.Unlock()
			c.metrics.RecordRequest(true)
			return e.Response, true
		}
		c.memory.remove(key)
	}
	c.mu.Unlock()

	unlock := c.keys.lock(key)
	entry, found := c.loadDurable(ctx, key, now)

	c.mu.Lock()
	c.total++
	if found {
		c.hits++
		entry = c.promoteIfNewer(key, entry)
	} else {
		c.misses++
	}
	memLen := c.memory.len()
	c.mu.Unlock()
	unlock()

	c.metrics.RecordRequest(found)
	c.metrics.SetMemoryEntries(memLen)
	if !found {
		return zero, false
	}
	return entry.Response, true
}

// promote must be called with mu held.
func (c *FingerprintCache[T]) promote(key string, e Entry[T]) {
	if evicted, ok := c.memory.put(key, e); ok {
		c.logger.Debug("memory tier full, evicted oldest entry",
			slog.String("cache_key", evicted))
	}
}

// promoteIfNewer stores e unless memory already holds a newer entry for key,
// and returns the entry that ends up in memory. mu must be held.
func (c *FingerprintCache[T]) promoteIfNewer(key string, e Entry[T]) Entry[T] {
	if cur, ok := c.memory.get(key); ok && cur.CachedAt.After(e.CachedAt) {
		return cur
	}
	c.promote(key, e)
	return e
}

// loadDurable reads and validates the durable entry for key. Every failure
// path ends in a miss. The key lock must be held.
func (c *FingerprintCache[T]) loadDurable(ctx context.Context, key string, now time.Time) (Entry[T], bool) {
	var entry Entry[T]
	err := c.guard.Execute(func() error {
		data, err := c.store.read(key)
		if err != nil {
			return err
		}
		return decodeEntry(data, key, &entry)
	})

	switch kind := classifyIOErr(err); {
	case circuitbreaker.IsRejection(err):
		c.logger.DebugContext(ctx, "durable tier skipped, guard open",
			slog.String("cache_key", key))
		return entry, false
	case kind == ioErrNone:
		if !c.valid(entry.CachedAt, now) {
			c.deleteDurable(ctx, key, "expired")
			return entry, false
		}
		return entry, true
	case kind == ioErrNotFound:
		return entry, false
	case kind == ioErrCorrupt:
		c.metrics.RecordDurableError("read", kind.String())
		c.logger.WarnContext(ctx, "corrupt cache file, deleting",
			slog.String("cache_key", key),
			slog.Any("error", err))
		c.deleteDurable(ctx, key, "corrupt")
		return entry, false
	default:
		c.metrics.RecordDurableError("read", kind.String())
		c.logger.WarnContext(ctx, "failed to read cache file",
			slog.String("cache_key", key),
			slog.String("kind", kind.String()),
			slog.Any("error", err))
		return entry, false
	}
}

func decodeEntry[T any](data []byte, key string, entry *Entry[T]) error {
	if err := json.Unmarshal(data, entry); err != nil {
		return fmt.Errorf("%w: %v", errCorrupt, err)
	}
	if entry.Format != formatVersion {
		return fmt.Errorf("%w: unsupported format %d", errCorrupt, entry.Format)
	}
	if entry.CacheKey != key {
		return fmt.Errorf("%w: key mismatch %q", errCorrupt, entry.CacheKey)
	}
	return nil
}

func (c *FingerprintCache[T]) deleteDurable(ctx context.Context, key, reason string) bool {
	err := c.guard.Execute(func() error { return c.store.remove(key) })
	if err != nil {
		if !circuitbreaker.IsRejection(err) {
			kind := classifyIOErr(err)
			c.metrics.RecordDurableError("delete", kind.String())
			c.logger.WarnContext(ctx, "failed to delete cache file",
				slog.String("cache_key", key),
				slog.String("reason", reason),
				slog.String("kind", kind.String()),
				slog.Any("error", err))
		}
		return false
	}
	return true
}

// Set stores response for (content, model) in both tiers and reports whether
// the durable write succeeded. The memory tier is updated even when the disk
// write fails. A response that cannot be JSON-encoded is not stored at all.
//
// After a successful write the durable size is checked and an expiry sweep
// runs when it exceeds MaxSizeMB.
func (c *FingerprintCache[T]) Set(ctx context.Context, content, model string, response T, metadata map[string]any) bool {
	if !c.cfg.Enabled {
		return false
	}
	key := Key(content, model)
	entry := Entry[T]{
		Format:   formatVersion,
		CacheKey: key,
		CachedAt: c.now(),
		Model:    model,
		Response: response,
		Metadata: metadata,
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		c.logger.WarnContext(ctx, "response not cacheable",
			slog.String("cache_key", key),
			slog.Any("error", err))
		return false
	}

	unlock := c.keys.lock(key)
	written := c.writeDurable(ctx, key, data)
	c.mu.Lock()
	c.promote(key, entry)
	memLen := c.memory.len()
	c.mu.Unlock()
	unlock()
	c.metrics.SetMemoryEntries(memLen)

	if written {
		c.checkSize(ctx)
	}
	return written
}

func (c *FingerprintCache[T]) writeDurable(ctx context.Context, key string, data []byte) bool {
	err := c.guard.Execute(func() error { return c.store.write(key, data) })
	if err == nil {
		return true
	}
	if circuitbreaker.IsRejection(err) {
		c.logger.DebugContext(ctx, "durable tier skipped, guard open",
			slog.String("cache_key", key))
		return false
	}
	kind := classifyIOErr(err)
	c.metrics.RecordDurableError("write", kind.String())
	c.logger.WarnContext(ctx, "failed to write cache file",
		slog.String("cache_key", key),
		slog.String("kind", kind.String()),
		slog.Any("error", err))
	return false
}

// ClearAll empties the memory tier and deletes every durable entry.
// Counters are kept.
func (c *FingerprintCache[T]) ClearAll(ctx context.Context) {
	if !c.cfg.Enabled {
		return
	}
	c.mu.Lock()
	c.memory.clear()
	c.mu.Unlock()
	c.metrics.SetMemoryEntries(0)

	files, err := c.store.list()
	if err != nil {
		c.metrics.RecordDurableError("list", classifyIOErr(err).String())
		c.logger.WarnContext(ctx, "failed to list cache files", slog.Any("error", err))
		return
	}
	removed := 0
	for _, f := range files {
		if err := c.store.remove(f.key); err != nil {
			kind := classifyIOErr(err)
			c.metrics.RecordDurableError("delete", kind.String())
			c.logger.WarnContext(ctx, "failed to delete cache file",
				slog.String("cache_key", f.key),
				slog.String("kind", kind.String()),
				slog.Any("error", err))
			continue
		}
		removed++
	}
	c.logger.InfoContext(ctx, "cache cleared", slog.Int("files_removed", removed))
}

// Stats returns a snapshot of the counters and tier sizes.
func (c *FingerprintCache[T]) Stats() Stats {
	c.mu.Lock()
	s := Stats{
		Hits:             c.hits,
		Misses:           c.misses,
		Evictions:        c.evictions,
		TotalRequests:    c.total,
		MemoryCacheCount: c.memory.len(),
	}
	c.mu.Unlock()

	if s.TotalRequests > 0 {
		s.HitRate = float64(s.Hits) / float64(s.TotalRequests)
	}
	if c.cfg.Enabled {
		if _, count, err := c.store.usage(); err == nil {
			s.CacheFilesCount = count
		}
	}
	return s
}

// Info inspects the durable entry for (content, model) without decoding the
// response and without touching counters or tiers.
func (c *FingerprintCache[T]) Info(content, model string) Info {
	key := Key(content, model)
	info := Info{CacheKey: key}
	if !c.cfg.Enabled {
		return info
	}

	fi, err := c.store.stat(key)
	if err != nil {
		return info
	}
	info.Exists = true
	info.SizeBytes = fi.Size()

	data, err := c.store.read(key)
	if err != nil {
		return info
	}
	if cachedAt, ok := cachedAtOf(data); ok {
		info.CachedAt = &cachedAt
		info.Valid = c.valid(cachedAt, c.now())
	}
	return info
}

// cachedAtOf extracts cached_at from a durable document.
func cachedAtOf(data []byte) (time.Time, bool) {
	if !gjson.ValidBytes(data) {
		return time.Time{}, false
	}
	raw := gjson.GetBytes(data, "cached_at")
	if !raw.Exists() || raw.Type != gjson.String {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, raw.String())
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
