package objcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/wolfeidau/objcache/metadata"
	"github.com/wolfeidau/objcache/store"
	"github.com/wolfeidau/objcache/telemetry"
	"github.com/wolfeidau/objcache/view"
)

// Load returns the path of the cached content for id. A compressed
// entry is inflated in place on its first load, so the returned path
// always holds the original bytes. Expired and dangling entries are
// removed on the way out: the lookup fails with ErrExpired or ErrCorrupt
// once, then reports a clean ErrNotFound.
func (c *Cache) Load(ctx context.Context, id ID) (string, error) {
	start := time.Now()
	if err := c.ready(); err != nil {
		return "", err
	}

	e, err := c.loadEntry(ctx, id, "load", start)
	if err != nil {
		return "", err
	}

	c.idx.Touch(string(id))
	c.idx.RecordHit(time.Since(start))
	telemetry.RecordLookup(ctx, "load", "hit", time.Since(start))
	return c.files.PathFor(entryFileName(e)), nil
}

// LoadMapped returns a memory-mapped read-only view of the cached
// content for id. The mapping stays valid after the entry is evicted or
// the cache is closed; the caller releases it with Close.
func (c *Cache) LoadMapped(ctx context.Context, id ID) (*view.Mapping, error) {
	start := time.Now()
	if err := c.ready(); err != nil {
		return nil, err
	}

	e, err := c.loadEntry(ctx, id, "mapped", start)
	if err != nil {
		return nil, err
	}

	m, err := c.views.Acquire(ctx, string(id), c.files.PathFor(entryFileName(e)), e.Size)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, view.ErrSizeMismatch) {
			c.removeEntry(ctx, string(id), "corrupt")
			err = fmt.Errorf("%w: mapping %s: %v", ErrCorrupt, id, err)
			c.recordMiss(ctx, "mapped", err, start)
			return nil, err
		}
		return nil, fmt.Errorf("%w: mapping %s: %v", ErrIO, id, err)
	}

	c.idx.Touch(string(id))
	c.idx.RecordHit(time.Since(start))
	telemetry.RecordLookup(ctx, "mapped", "hit", time.Since(start))
	return m, nil
}

// IsValid reports whether id resolves to a live entry with its backing
// file present. Expired and dangling entries found along the way are
// removed, so a failed check leaves the cache clean.
func (c *Cache) IsValid(ctx context.Context, id ID) bool {
	if c.ready() != nil {
		return false
	}
	start := time.Now()

	_, err := c.resolve(ctx, id)
	result := "hit"
	if err != nil {
		result = lookupResult(err)
	}
	telemetry.RecordLookup(ctx, "check", result, time.Since(start))
	return err == nil
}

// loadEntry resolves a live entry and inflates it when compressed,
// recording miss bookkeeping for every failure it surfaces.
func (c *Cache) loadEntry(ctx context.Context, id ID, op string, start time.Time) (metadata.Entry, error) {
	e, err := c.resolve(ctx, id)
	if err != nil {
		c.recordMiss(ctx, op, err, start)
		return e, err
	}

	if e.Compressed {
		e, err = c.inflate(ctx, e)
		if err != nil {
			if errors.Is(err, ErrCorrupt) {
				c.removeEntry(ctx, string(id), "corrupt")
				c.recordMiss(ctx, op, err, start)
			}
			return e, err
		}
	}
	return e, nil
}

// resolve looks up a live entry: lazily materialised, unexpired and with
// its backing file still on disk. Expired and dangling entries are
// removed so the next lookup misses cleanly.
func (c *Cache) resolve(ctx context.Context, id ID) (metadata.Entry, error) {
	e, ok := c.idx.Get(string(id))
	if !ok {
		return metadata.Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if e.Expired(c.now()) {
		c.removeEntry(ctx, e.ID, "expired")
		return e, fmt.Errorf("%w: %s", ErrExpired, id)
	}

	if _, err := c.files.Size(ctx, entryFileName(e)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.removeEntry(ctx, e.ID, "corrupt")
			return e, fmt.Errorf("%w: %s has no backing file", ErrCorrupt, id)
		}
		return e, fmt.Errorf("%w: stating %s: %v", ErrIO, id, err)
	}

	return e, nil
}

// inflate replaces a compressed entry's container with the original
// bytes, verifying length and checksum against the container header, and
// reconciles the record. Concurrent inflations of the same entry are
// benign: both stage identical bytes and the second rename wins.
func (c *Cache) inflate(ctx context.Context, e metadata.Entry) (metadata.Entry, error) {
	name := entryFileName(e)

	isContainer, err := store.SniffPath(c.files.PathFor(name))
	if err != nil {
		return e, fmt.Errorf("%w: sniffing %s: %v", ErrIO, e.ID, err)
	}
	if !isContainer {
		// A concurrent load already inflated this entry; pick up the
		// on-disk truth.
		size, err := c.files.Size(ctx, name)
		if err != nil {
			return e, fmt.Errorf("%w: stating %s: %v", ErrIO, e.ID, err)
		}
		e.Compressed = false
		e.Size = size
		c.idx.Put(e)
		return e, nil
	}

	rc, err := c.files.Open(ctx, name)
	if err != nil {
		return e, fmt.Errorf("%w: opening %s: %v", ErrIO, e.ID, err)
	}
	defer rc.Close()

	header, body, err := store.ReadContainer(rc)
	if err != nil {
		return e, fmt.Errorf("%w: container %s: %v", ErrCorrupt, e.ID, err)
	}
	defer body.Close()

	w, err := c.files.Create(ctx)
	if err != nil {
		return e, fmt.Errorf("%w: staging inflate of %s: %v", ErrIO, e.ID, err)
	}

	hw := NewHashingWriter(w)
	tw := &tallyWriter{w: hw}
	if _, err := io.Copy(tw, body); err != nil {
		_ = w.Abort()
		if tw.err != nil {
			// The write side failed; the container itself may be fine.
			return e, fmt.Errorf("%w: inflating %s: %v", ErrIO, e.ID, err)
		}
		return e, fmt.Errorf("%w: decompressing %s: %v", ErrCorrupt, e.ID, err)
	}

	if hw.BytesWritten() != header.OriginalSize {
		_ = w.Abort()
		return e, fmt.Errorf("%w: %s inflated to %d bytes, header says %d",
			ErrCorrupt, e.ID, hw.BytesWritten(), header.OriginalSize)
	}
	if header.Checksum != "" && hw.Sum().String() != header.Checksum {
		_ = w.Abort()
		return e, fmt.Errorf("%w: %s checksum mismatch after inflate", ErrCorrupt, e.ID)
	}

	if err := w.CommitAs(name); err != nil {
		return e, fmt.Errorf("%w: replacing %s: %v", ErrIO, e.ID, err)
	}
	c.views.Invalidate(ctx, e.ID)

	e.Compressed = false
	e.Size = header.OriginalSize
	c.idx.Put(e)
	c.logger.Debug("inflated entry", "id", e.ID, "size", e.Size)
	return e, nil
}

// recordMiss folds a failed lookup into the stats counters and the
// lookup metric. Transient errors are reported but not counted as
// misses.
func (c *Cache) recordMiss(ctx context.Context, op string, err error, start time.Time) {
	result := lookupResult(err)
	if result != "error" {
		c.idx.RecordMiss()
	}
	telemetry.RecordLookup(ctx, op, result, time.Since(start))
}

func lookupResult(err error) string {
	switch {
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrCorrupt):
		return "corrupt"
	case errors.Is(err, ErrNotFound):
		return "miss"
	default:
		return "error"
	}
}
