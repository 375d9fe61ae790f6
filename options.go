package objcache

import (
	"log/slog"
	"time"

	"github.com/wolfeidau/objcache/evict"
	"github.com/wolfeidau/objcache/ingest"
	"github.com/wolfeidau/objcache/metadata"
	"github.com/wolfeidau/objcache/view"
)

// DefaultCompressThreshold is the smallest content size, in bytes, that
// compression is applied to when a caller asks for it. Small objects
// rarely win back the container overhead.
const DefaultCompressThreshold = 1024 * 1024

// StoreOptions control a single store operation. The zero value stores
// with the default TTL, signature validation on and no compression.
type StoreOptions struct {
	// TTL overrides the cache default for this entry. Zero keeps the
	// default; a negative value stores an entry that never expires.
	TTL time.Duration

	// DisableValidation skips the leading-signature check on the first
	// chunk of the content.
	DisableValidation bool

	// Compress asks for the content to be stored zstd-framed. It only
	// takes effect when the total size is known up front and meets the
	// compression threshold; unknown-length streams are stored raw.
	Compress bool

	// Progress, when set, observes the cumulative byte count after each
	// chunk of the content is consumed.
	Progress func(written int64)
}

// Option configures a Cache at Open time.
type Option func(*Cache)

// WithLogger sets the logger used by the cache and its subsystems.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithNow sets the clock used for entry timestamps and expiry checks.
func WithNow(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithBudgets sets the capacity limits the cache evicts against.
func WithBudgets(b evict.Budgets) Option {
	return func(c *Cache) {
		c.budgets = b
	}
}

// WithDefaultTTL sets the time-to-live applied to entries stored without
// an explicit TTL. Non-positive values mean entries never expire by
// default.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		c.defaultTTL = ttl
	}
}

// WithChunkSize sets the streaming chunk size for store operations.
// Non-positive values keep ingest.DefaultChunkSize.
func WithChunkSize(n int) Option {
	return func(c *Cache) {
		c.chunkSize = n
	}
}

// WithSignatures sets the accepted content signatures. An empty set
// accepts everything.
func WithSignatures(sigs ingest.Signatures) Option {
	return func(c *Cache) {
		c.signatures = sigs
	}
}

// WithPersistDebounce sets the delay between a metadata change and its
// persist to disk. Zero keeps the default; a negative value persists
// synchronously on every change.
func WithPersistDebounce(d time.Duration) Option {
	return func(c *Cache) {
		c.debounce = d
	}
}

// WithCompressThreshold sets the minimum content size compression is
// applied to when requested.
func WithCompressThreshold(n int64) Option {
	return func(c *Cache) {
		c.compressThreshold = n
	}
}

// WithMaxMappings bounds the number of concurrently open mapped views.
func WithMaxMappings(n int) Option {
	return func(c *Cache) {
		c.maxMappings = n
	}
}

// WithBoltMetadata persists the metadata document in a bbolt database
// inside the cache root instead of the default JSON file.
func WithBoltMetadata() Option {
	return func(c *Cache) {
		c.useBolt = true
	}
}

func defaultCacheConfig() *Cache {
	return &Cache{
		logger:            slog.Default(),
		now:               time.Now,
		budgets:           evict.DefaultBudgets(),
		defaultTTL:        metadata.DefaultTTL,
		chunkSize:         ingest.DefaultChunkSize,
		signatures:        ingest.DefaultSignatures,
		debounce:          metadata.DefaultDebounce,
		compressThreshold: DefaultCompressThreshold,
		maxMappings:       view.DefaultMaxMappings,
	}
}
