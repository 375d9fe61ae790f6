package objcache

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/wolfeidau/objcache/evict"
	"github.com/wolfeidau/objcache/ingest"
	"github.com/wolfeidau/objcache/metadata"
	"github.com/wolfeidau/objcache/store"
	"github.com/wolfeidau/objcache/telemetry"
)

// Store reads content from r and caches it, returning the new entry's
// id. The stream is consumed in fixed-size chunks and validated against
// the accepted signatures before anything is kept. Compression is only
// applied when the reader's total length is known up front.
func (c *Cache) Store(ctx context.Context, r io.Reader, opts StoreOptions) (ID, error) {
	return c.ingest(ctx, r, opts, "stream", "raw", sizeOf(r))
}

// StoreBytes caches the given content.
func (c *Cache) StoreBytes(ctx context.Context, content []byte, opts StoreOptions) (ID, error) {
	return c.ingest(ctx, bytes.NewReader(content), opts, "bytes", "raw", int64(len(content)))
}

// StoreBase64 decodes base64 text from r and caches the decoded bytes.
// A data: URI header and embedded whitespace are tolerated. When the
// encoded length is known the decoded size is estimated up front for
// capacity and compression decisions; the exact size is settled when the
// entry is published.
func (c *Cache) StoreBase64(ctx context.Context, r io.Reader, opts StoreOptions) (ID, error) {
	size := int64(-1)
	if encoded := sizeOf(r); encoded >= 0 {
		size = ingest.EstimatedDecodedSize(encoded)
	}
	return c.ingest(ctx, ingest.NewBase64Reader(r), opts, "base64", "base64", size)
}

// StoreFile caches the content of the file at path.
func (c *Cache) StoreFile(ctx context.Context, path string, opts StoreOptions) (ID, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: source file %s does not exist", ErrInvalidInput, path)
		}
		return "", fmt.Errorf("%w: opening %s: %v", ErrIO, path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("%w: stating %s: %v", ErrIO, path, err)
	}
	return c.ingest(ctx, f, opts, "file", "raw", fi.Size())
}

// sizeOf returns r's remaining length when the reader exposes one, else -1.
func sizeOf(r io.Reader) int64 {
	if l, ok := r.(interface{ Len() int }); ok {
		return int64(l.Len())
	}
	return -1
}

// ingestResult carries what a staged write produced.
type ingestResult struct {
	sum        Checksum
	written    int64 // original bytes consumed from the source
	fileSize   int64 // bytes staged on disk
	chunks     int
	compressed bool
}

// ingest is the single store pipeline behind the Store variants. It runs
// under the cache mutex end to end so the capacity check, the staged
// write and the publish are one atomic admission. size is the expected
// content length, -1 when unknown.
func (c *Cache) ingest(ctx context.Context, src io.Reader, opts StoreOptions, source, encoding string, size int64) (ID, error) {
	start := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", ErrClosed
	}

	// Known sizes reserve their room before anything is written; unknown
	// sizes reserve a file slot and settle the byte budget at publish.
	if err := c.makeRoomLocked(ctx, max(size, 0)); err != nil {
		telemetry.RecordStore(ctx, source, "capacity", 0, time.Since(start))
		return "", err
	}

	w, err := c.files.Create(ctx)
	if err != nil {
		telemetry.RecordStore(ctx, source, "error", 0, time.Since(start))
		return "", fmt.Errorf("%w: staging content: %v", ErrIO, err)
	}

	compress := opts.Compress && size >= 0 && size >= c.compressThreshold
	res, err := c.writeContent(w, src, opts, compress)
	if err != nil {
		_ = w.Abort()
		err = mapIngestError(err)
		telemetry.RecordStore(ctx, source, storeOutcome(err), 0, time.Since(start))
		return "", err
	}

	// Re-check against the bytes actually staged. Estimated and
	// compressed sizes can land on either side of the up-front figure.
	if err := c.makeRoomLocked(ctx, res.fileSize); err != nil {
		_ = w.Abort()
		telemetry.RecordStore(ctx, source, "capacity", 0, time.Since(start))
		return "", err
	}

	now := c.now()
	id := NewID(res.sum, now)
	if err := w.CommitAs(string(id)); err != nil {
		telemetry.RecordStore(ctx, source, "error", 0, time.Since(start))
		return "", fmt.Errorf("%w: publishing %s: %v", ErrIO, id, err)
	}

	ttl := opts.TTL
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	var ttlMillis int64
	if ttl > 0 {
		ttlMillis = ttl.Milliseconds()
	}

	c.idx.Put(metadata.Entry{
		ID:           string(id),
		FileName:     string(id),
		Size:         res.fileSize,
		OriginalSize: res.written,
		Checksum:     res.sum.String(),
		Compressed:   res.compressed,
		CreatedAt:    now,
		LastAccessed: now,
		TTLMillis:    ttlMillis,
	})

	c.publishUsage(ctx)
	telemetry.RecordStore(ctx, source, "stored", res.fileSize, time.Since(start))
	telemetry.RecordIngest(ctx, encoding, res.chunks, res.written)
	c.logger.Debug("stored entry",
		"id", id,
		"size", res.fileSize,
		"original_size", res.written,
		"compressed", res.compressed,
		"source", source,
	)

	return id, nil
}

// writeContent streams the source into the staged writer, hashing as it
// goes. The compressed path spools to a temp file first so the content
// hash and exact size are known before the container header is written.
func (c *Cache) writeContent(w store.Writer, src io.Reader, opts StoreOptions, compress bool) (ingestResult, error) {
	copier := &ingest.Copier{
		ChunkSize: c.chunkSize,
		Progress:  opts.Progress,
	}
	if !opts.DisableValidation {
		copier.Signatures = c.signatures
	}

	if !compress {
		hw := NewHashingWriter(w)
		written, chunks, err := copier.Copy(hw, src)
		if err != nil {
			return ingestResult{}, err
		}
		return ingestResult{
			sum:      hw.Sum(),
			written:  written,
			fileSize: written,
			chunks:   chunks,
		}, nil
	}

	spool, err := os.CreateTemp(c.dir, ".tmp-spool-*")
	if err != nil {
		return ingestResult{}, fmt.Errorf("creating spool file: %w", err)
	}
	defer os.Remove(spool.Name())
	defer spool.Close()

	hw := NewHashingWriter(spool)
	written, chunks, err := copier.Copy(hw, src)
	if err != nil {
		return ingestResult{}, err
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return ingestResult{}, fmt.Errorf("rewinding spool file: %w", err)
	}

	res := ingestResult{
		sum:     hw.Sum(),
		written: written,
		chunks:  chunks,
	}

	// An estimate got us here; the exact size decides.
	if written < c.compressThreshold {
		if _, err := io.Copy(w, spool); err != nil {
			return ingestResult{}, fmt.Errorf("copying spool file: %w", err)
		}
		res.fileSize = written
		return res, nil
	}

	tw := &tallyWriter{w: w}
	header := &store.ContainerHeader{
		Codec:        store.CodecZstd,
		OriginalSize: written,
		Checksum:     res.sum.String(),
	}
	if err := store.WriteContainer(tw, header, spool); err != nil {
		return ingestResult{}, fmt.Errorf("writing container: %w", err)
	}
	res.fileSize = tw.n
	res.compressed = true
	return res, nil
}

// makeRoomLocked frees capacity for one incoming entry of the given size
// (0 when unknown): one adaptive pass sized by budget pressure, then a
// force pass that empties the cache, then ErrCapacityExceeded.
func (c *Cache) makeRoomLocked(ctx context.Context, incoming int64) error {
	st := c.idx.Stats()
	if !c.budgets.WouldExceed(st.TotalBytes, int(st.EntryCount), incoming) {
		return nil
	}

	passStart := time.Now()
	entries := c.idx.Entries()
	plan := c.budgets.PlanPass(st.TotalBytes, int(st.EntryCount), len(entries))

	removed, freed := 0, int64(0)
	for _, victim := range evict.SelectOldest(entries, plan.K) {
		if e, ok := c.removeEntry(ctx, victim.ID, "lru"); ok {
			removed++
			freed += e.Size
		}
	}
	telemetry.RecordEvictionRun(ctx, "planned", plan.Pressure, time.Since(passStart))
	c.logger.Info("eviction pass",
		"mode", "planned",
		"pressure", plan.Pressure,
		"removed", removed,
		"bytes_freed", freed,
	)

	st = c.idx.Stats()
	if !c.budgets.WouldExceed(st.TotalBytes, int(st.EntryCount), incoming) {
		return nil
	}

	// Last resort: an empty cache either fits the incoming entry or
	// nothing will.
	passStart = time.Now()
	removed, freed = 0, 0
	for _, victim := range c.idx.Entries() {
		if e, ok := c.removeEntry(ctx, victim.ID, "lru"); ok {
			removed++
			freed += e.Size
		}
	}
	telemetry.RecordEvictionRun(ctx, "force", plan.Pressure, time.Since(passStart))
	c.logger.Warn("force eviction pass",
		"removed", removed,
		"bytes_freed", freed,
	)

	st = c.idx.Stats()
	if c.budgets.WouldExceed(st.TotalBytes, int(st.EntryCount), incoming) {
		return fmt.Errorf("%w: %d bytes incoming against %d byte / %d file budget",
			ErrCapacityExceeded, incoming, c.budgets.MaxBytes, c.budgets.MaxFiles)
	}
	return nil
}

// mapIngestError folds a raw pipeline error into the public taxonomy.
func mapIngestError(err error) error {
	var badByte base64.CorruptInputError
	switch {
	case errors.Is(err, ingest.ErrInvalidSignature),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.As(err, &badByte):
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	default:
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
}

func storeOutcome(err error) string {
	if errors.Is(err, ErrInvalidInput) {
		return "invalid"
	}
	return "error"
}

// tallyWriter counts bytes through to the underlying writer and keeps
// the first write error so read-side and write-side failures of a copy
// can be told apart.
type tallyWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (t *tallyWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	t.n += int64(n)
	if err != nil && t.err == nil {
		t.err = err
	}
	return n, err
}
