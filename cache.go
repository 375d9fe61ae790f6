// Package objcache implements a persistent, capacity-bounded cache for
// binary objects. Content lives in flat files named by entry id under a
// single root directory; metadata for all entries is held in memory and
// persisted as one debounced document. Stores stream through fixed-size
// chunks with signature validation, reads hand back file paths or
// memory-mapped views, and a janitor sweep reconciles records, files and
// staged temps.
//
// A Cache is safe for concurrent use. One mutex serialises operations
// that combine a capacity decision with disk writes (stores, sweeps,
// Clear, Close); lookups ride on the metadata index's own lock and reads
// of mapped views touch no lock at all.
package objcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/wolfeidau/objcache/evict"
	"github.com/wolfeidau/objcache/ingest"
	"github.com/wolfeidau/objcache/metadata"
	"github.com/wolfeidau/objcache/metadata/boltdoc"
	"github.com/wolfeidau/objcache/store"
	"github.com/wolfeidau/objcache/telemetry"
	"github.com/wolfeidau/objcache/view"
)

// Cache is a persistent object cache rooted at a single directory.
type Cache struct {
	dir               string
	logger            *slog.Logger
	now               func() time.Time
	budgets           evict.Budgets
	defaultTTL        time.Duration
	chunkSize         int
	signatures        ingest.Signatures
	debounce          time.Duration
	compressThreshold int64
	maxMappings       int
	useBolt           bool

	files store.TempSweeper
	idx   *metadata.Index
	views *view.Pool

	// mu serialises store/sweep/clear/close so a capacity check and the
	// write it admits cannot race another mutation.
	mu     sync.Mutex
	closed bool
}

// Open initialises a cache rooted at dir, creating the directory if
// needed, loading any persisted metadata and pruning entries that
// expired while the process was away.
func Open(ctx context.Context, dir string, opts ...Option) (*Cache, error) {
	c := defaultCacheConfig()
	for _, opt := range opts {
		opt(c)
	}

	fs, err := store.NewFilesystem(dir)
	if err != nil {
		return nil, fmt.Errorf("opening content store: %w", err)
	}
	c.dir = fs.Root()
	c.files = store.NewInstrumented(fs)

	var docs metadata.DocStore
	if c.useBolt {
		docs, err = boltdoc.NewStore(filepath.Join(c.dir, boltdoc.DefaultFileName), boltdoc.WithLogger(c.logger))
		if err != nil {
			return nil, fmt.Errorf("opening metadata database: %w", err)
		}
	} else {
		docs = metadata.NewFileStore(filepath.Join(c.dir, metadata.DocFileName))
	}

	c.idx, err = metadata.NewIndex(ctx, docs,
		metadata.WithLogger(c.logger),
		metadata.WithNow(c.now),
		metadata.WithDebounce(c.debounce),
		metadata.WithTTLDays(int(c.defaultTTL/(24*time.Hour))),
	)
	if err != nil {
		_ = docs.Close()
		return nil, fmt.Errorf("loading metadata index: %w", err)
	}

	c.views = view.NewPool(
		view.WithLogger(c.logger),
		view.WithMaxMappings(c.maxMappings),
		view.WithNow(c.now),
	)

	c.pruneExpiredAtOpen(ctx)

	st := c.idx.Stats()
	telemetry.UpdateUsage(ctx, int(st.EntryCount), st.TotalBytes)
	c.logger.Info("cache opened", "dir", c.dir, "entries", st.EntryCount, "bytes", st.TotalBytes)

	return c, nil
}

// pruneExpiredAtOpen drops records that expired between runs along with
// their backing files. A file that fails to delete becomes an orphan and
// is retried by the next sweep.
func (c *Cache) pruneExpiredAtOpen(ctx context.Context) {
	pruned := c.idx.PruneExpired()
	if len(pruned) == 0 {
		return
	}

	var bytes int64
	for _, e := range pruned {
		if err := c.files.Remove(ctx, entryFileName(e)); err != nil {
			c.logger.Warn("removing expired entry file", "id", e.ID, "error", err)
		}
		bytes += e.Size
	}
	telemetry.RecordEvicted(ctx, "expired", len(pruned), bytes)
	c.logger.Info("pruned expired entries", "entries", len(pruned), "bytes", bytes)
}

// Dir returns the absolute path of the cache root directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Stats returns a snapshot of the aggregate cache statistics.
func (c *Cache) Stats() metadata.Stats {
	return c.idx.Stats()
}

// ViewStats returns a snapshot of the mapped-view pool counters.
func (c *Cache) ViewStats() view.Stats {
	return c.views.Stats()
}

// Entries returns a snapshot of every live metadata record.
func (c *Cache) Entries() []metadata.Entry {
	return c.idx.Entries()
}

// Preload decodes the records for the given ids ahead of use and returns
// how many were materialised.
func (c *Cache) Preload(ids ...ID) int {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = string(id)
	}
	return c.idx.Preload(keys...)
}

// Close flushes pending metadata, releases mapped views and closes the
// cache. Further operations return ErrClosed. Close is idempotent.
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if err := c.views.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing view pool: %w", err))
	}
	if err := c.idx.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("closing metadata index: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", ErrIO, errors.Join(errs...))
	}

	c.logger.Info("cache closed", "dir", c.dir)
	return nil
}

// ready reports whether the cache is open for operations.
func (c *Cache) ready() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

// removeEntry drops an entry's record, backing file and any mapped view.
// The file delete is best effort: a failure leaves an orphan that the
// next sweep retries. reason feeds the eviction metric and must be one
// of its known values.
func (c *Cache) removeEntry(ctx context.Context, id, reason string) (metadata.Entry, bool) {
	e, ok := c.idx.Remove(id)
	if !ok {
		return metadata.Entry{}, false
	}

	if err := c.files.Remove(ctx, entryFileName(e)); err != nil {
		c.logger.Warn("removing entry file", "id", id, "error", err)
	}
	c.views.Invalidate(ctx, id)

	telemetry.RecordEvicted(ctx, reason, 1, e.Size)
	c.logger.Debug("removed entry", "id", id, "reason", reason)
	return e, true
}

// entryFileName returns the store name for an entry's backing file.
// Every entry this cache writes is stored under its own id; the explicit
// field exists for the persisted format.
func entryFileName(e metadata.Entry) string {
	if e.FileName != "" {
		return e.FileName
	}
	return e.ID
}

// publishUsage pushes the current totals to the usage gauges.
func (c *Cache) publishUsage(ctx context.Context) {
	st := c.idx.Stats()
	telemetry.UpdateUsage(ctx, int(st.EntryCount), st.TotalBytes)
}
