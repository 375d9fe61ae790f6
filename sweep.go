package objcache

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfeidau/objcache/janitor"
	"github.com/wolfeidau/objcache/telemetry"
)

// staleTempAge is how old a staged temp file must be before a sweep
// treats it as abandoned. Live stores commit or abort well inside this.
const staleTempAge = time.Hour

var _ janitor.Sweeper = (*Cache)(nil)

// Sweep reconciles records, files and staged temps in three phases:
// expired entries, orphaned content files with no record, and abandoned
// temp files. Metadata is persisted once at the end. Individual failures
// are logged and counted, never fatal; whatever a failed delete leaves
// behind is picked up by the next sweep.
func (c *Cache) Sweep(ctx context.Context) (janitor.SweepResult, error) {
	start := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	var res janitor.SweepResult
	if c.closed {
		return res, ErrClosed
	}

	expired := c.idx.PruneExpired()
	for _, e := range expired {
		if err := c.files.Remove(ctx, entryFileName(e)); err != nil {
			c.logger.Warn("removing expired entry file", "id", e.ID, "error", err)
			res.Failures++
		}
		c.views.Invalidate(ctx, e.ID)
		res.Expired++
		res.BytesFreed += e.Size
	}
	res.Scanned = c.idx.Len() + len(expired)

	// Orphans are content files no live record points at: leftovers from
	// failed deletes or a discarded metadata document.
	live := make(map[string]struct{}, c.idx.Len())
	for _, e := range c.idx.Entries() {
		live[entryFileName(e)] = struct{}{}
	}
	names, err := c.files.List(ctx)
	if err != nil {
		return res, fmt.Errorf("%w: listing content files: %v", ErrIO, err)
	}
	for _, name := range names {
		if !IsID(name) {
			continue
		}
		if _, ok := live[name]; ok {
			continue
		}
		size, _ := c.files.Size(ctx, name)
		if err := c.files.Remove(ctx, name); err != nil {
			c.logger.Warn("removing orphan file", "name", name, "error", err)
			res.Failures++
			continue
		}
		c.views.Invalidate(ctx, name)
		res.Orphans++
		res.BytesFreed += size
	}

	stale, err := c.files.RemoveStaleTemps(ctx, staleTempAge)
	res.StaleTemps = stale
	if err != nil {
		c.logger.Warn("removing stale temp files", "error", err)
		res.Failures++
	}

	if err := c.idx.Flush(ctx); err != nil {
		res.Duration = time.Since(start)
		return res, fmt.Errorf("%w: persisting metadata: %v", ErrIO, err)
	}

	res.Duration = time.Since(start)
	telemetry.RecordSweep(ctx, res.Expired, res.Orphans, res.StaleTemps, res.BytesFreed, res.Duration)
	c.publishUsage(ctx)
	c.logger.Debug("sweep finished",
		"scanned", res.Scanned,
		"expired", res.Expired,
		"orphans", res.Orphans,
		"stale_temps", res.StaleTemps,
		"failures", res.Failures,
		"bytes_freed", res.BytesFreed,
	)
	return res, nil
}

// Clear removes every cached object, resets the statistics and deletes
// the persisted metadata document. Clearing an empty cache is a no-op.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	st := c.idx.Stats()

	names, err := c.files.List(ctx)
	if err != nil {
		return fmt.Errorf("%w: listing content files: %v", ErrIO, err)
	}

	var firstErr error
	failed := 0
	for _, name := range names {
		if !IsID(name) {
			continue
		}
		if err := c.files.Remove(ctx, name); err != nil {
			c.logger.Warn("removing entry file", "name", name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			failed++
			continue
		}
		c.views.Invalidate(ctx, name)
	}

	// Records go regardless; anything left on disk is swept as an orphan.
	if err := c.idx.Clear(ctx); err != nil {
		return fmt.Errorf("%w: clearing metadata: %v", ErrIO, err)
	}

	telemetry.RecordEvicted(ctx, "clear", int(st.EntryCount), st.TotalBytes)
	c.publishUsage(ctx)
	c.logger.Info("cache cleared", "entries", st.EntryCount, "bytes", st.TotalBytes)

	if firstErr != nil {
		return fmt.Errorf("%w: clearing cache: %d files not removed: %v", ErrIO, failed, firstErr)
	}
	return nil
}
