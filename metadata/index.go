// Package metadata maintains the cache's entry records: an in-memory index
// materialised lazily from a single persisted document, with debounced
// write-back. Records stay as raw JSON until the first time a caller asks
// for them, so opening a large cache does not pay the decode cost for
// entries that are never touched.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/wolfeidau/objcache/telemetry"
)

// DefaultDebounce is the window over which metadata mutations are
// coalesced before the document is rewritten.
const DefaultDebounce = 5 * time.Second

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger used for index lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(idx *Index) {
		idx.logger = logger
	}
}

// WithNow overrides the index's clock. Used by tests.
func WithNow(now func() time.Time) Option {
	return func(idx *Index) {
		idx.now = now
	}
}

// WithDebounce sets the persistence coalescing window. A non-positive
// value disables the timer entirely; the document is then written only on
// Flush, Clear or Close.
func WithDebounce(d time.Duration) Option {
	return func(idx *Index) {
		idx.debounce = d
	}
}

// WithTTLDays sets the ttl_days marker written into the document for
// operator visibility. It does not affect per-entry expiry.
func WithTTLDays(days int) Option {
	return func(idx *Index) {
		idx.ttlDays = days
	}
}

// Index is the in-memory view over the persisted metadata document. All
// methods are safe for concurrent use; every mutation of records and
// aggregate stats happens under one mutex so the bookkeeping invariants
// hold at any observation point.
type Index struct {
	docs   DocStore
	logger *slog.Logger
	now    func() time.Time

	debounce time.Duration
	ttlDays  int

	mu      sync.Mutex
	entries map[string]*Entry          // materialised records
	pending map[string]json.RawMessage // loaded but not yet decoded
	stats   Stats
	dirty   bool
	timer   *time.Timer
	closed  bool
}

// probe is the subset of Entry fields needed to expire and account for a
// record without decoding it fully.
type probe struct {
	FileName  string    `json:"file_name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	TTLMillis int64     `json:"ttl_ms"`
}

// NewIndex loads the persisted document through docs and returns a ready
// index. Entry records stay in raw form until first requested. A corrupt
// or version-incompatible document is logged and replaced with an empty
// one rather than failing the open; the stranded entry files become
// orphans for the next sweep.
func NewIndex(ctx context.Context, docs DocStore, opts ...Option) (*Index, error) {
	idx := &Index{
		docs:     docs,
		logger:   slog.Default(),
		now:      time.Now,
		debounce: DefaultDebounce,
		ttlDays:  int(DefaultTTL.Hours() / 24),
		entries:  make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(idx)
	}

	doc, err := docs.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrCorruptDocument) {
			return nil, err
		}
		idx.logger.Warn("discarding unreadable metadata document", "error", err)
		doc = NewDocument()
	}
	if doc.Version != "" && doc.Version != DocVersion {
		idx.logger.Warn("discarding metadata document with unsupported version",
			"version", doc.Version, "supported", DocVersion)
		doc = NewDocument()
	}

	idx.pending = doc.Metadata
	if idx.pending == nil {
		idx.pending = make(map[string]json.RawMessage)
	}
	idx.stats = doc.Stats
	return idx, nil
}

// Get returns the entry for id, decoding it from the persisted document on
// first request. A record that cannot be decoded is dropped so the next
// lookup is a clean miss.
func (idx *Index) Get(id string) (Entry, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	e, ok := idx.lookupLocked(id)
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

func (idx *Index) lookupLocked(id string) (*Entry, bool) {
	if e, ok := idx.entries[id]; ok {
		return e, true
	}
	raw, ok := idx.pending[id]
	if !ok {
		return nil, false
	}
	return idx.materializeLocked(id, raw)
}

// materializeLocked decodes a raw record into the working set. The raw
// form is consumed either way; a record only gets one decode attempt per
// process lifetime.
func (idx *Index) materializeLocked(id string, raw json.RawMessage) (*Entry, bool) {
	delete(idx.pending, id)

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		var p probe
		size := int64(0)
		if json.Unmarshal(raw, &p) == nil {
			size = p.Size
		}
		idx.discountLocked(size)
		idx.markDirtyLocked()
		idx.logger.Warn("dropping undecodable metadata record", "id", id, "error", err)
		return nil, false
	}

	// The map key is canonical; a stale id inside the record loses.
	e.ID = id
	idx.entries[id] = &e
	return &e, true
}

// discountLocked removes one record's worth from the aggregate counters,
// clamping at zero so a record with broken accounting cannot drive the
// totals negative.
func (idx *Index) discountLocked(size int64) {
	if idx.stats.EntryCount > 0 {
		idx.stats.EntryCount--
	}
	idx.stats.TotalBytes -= size
	if idx.stats.TotalBytes < 0 {
		idx.stats.TotalBytes = 0
	}
}

// Put publishes a record, replacing any previous one under the same id,
// and updates the aggregate counters within the same critical section.
func (idx *Index) Put(e Entry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if prev, ok := idx.lookupLocked(e.ID); ok {
		idx.discountLocked(prev.Size)
		delete(idx.entries, e.ID)
	}

	cp := e
	idx.entries[e.ID] = &cp
	idx.stats.EntryCount++
	idx.stats.TotalBytes += e.Size
	idx.markDirtyLocked()
}

// Touch marks an access: refreshes last_accessed and bumps the access
// counter. The returned entry reflects the update.
func (idx *Index) Touch(id string) (Entry, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	e, ok := idx.lookupLocked(id)
	if !ok {
		return Entry{}, false
	}
	e.LastAccessed = idx.now()
	e.AccessCount++
	idx.markDirtyLocked()
	return *e, true
}

// Remove drops the record for id, returning what was known about it so
// the caller can delete the backing file. Accounting is adjusted even for
// records that were never materialised.
func (idx *Index) Remove(id string) (Entry, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if e, ok := idx.entries[id]; ok {
		delete(idx.entries, id)
		idx.discountLocked(e.Size)
		idx.markDirtyLocked()
		return *e, true
	}

	raw, ok := idx.pending[id]
	if !ok {
		return Entry{}, false
	}
	delete(idx.pending, id)

	e := Entry{ID: id}
	var p probe
	if err := json.Unmarshal(raw, &p); err == nil {
		e.FileName = p.FileName
		e.Size = p.Size
		e.CreatedAt = p.CreatedAt
		e.TTLMillis = p.TTLMillis
	} else {
		idx.logger.Warn("removing undecodable metadata record", "id", id, "error", err)
	}
	idx.discountLocked(e.Size)
	idx.markDirtyLocked()
	return e, true
}

// Contains reports record membership without materialising anything.
func (idx *Index) Contains(id string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.entries[id]; ok {
		return true
	}
	_, ok := idx.pending[id]
	return ok
}

// Len returns the number of live records, materialised or not.
func (idx *Index) Len() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.entries) + len(idx.pending)
}

// IDs returns every record id in sorted order.
func (idx *Index) IDs() []string {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	ids := make([]string, 0, len(idx.entries)+len(idx.pending))
	for id := range idx.entries {
		ids = append(ids, id)
	}
	for id := range idx.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Entries materialises every remaining record and returns a snapshot of
// the full working set sorted by id. Records that fail to decode are
// dropped along the way.
func (idx *Index) Entries() []Entry {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.materializeAllLocked()
	out := make([]Entry, 0, len(idx.entries))
	for _, e := range idx.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (idx *Index) materializeAllLocked() {
	for id, raw := range idx.pending {
		idx.materializeLocked(id, raw)
	}
}

// Preload materialises the given ids in one pass, for callers that know
// their working set up front. It returns how many records were newly
// decoded.
func (idx *Index) Preload(ids ...string) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	loaded := 0
	for _, id := range ids {
		raw, ok := idx.pending[id]
		if !ok {
			continue
		}
		if _, ok := idx.materializeLocked(id, raw); ok {
			loaded++
		}
	}
	return loaded
}

// PruneExpired drops every record whose TTL has elapsed, probing only the
// fields needed so unexpired records stay undecoded. It also reconciles
// the aggregate counters against what actually survives, healing any
// drift left by a crash between mutation and persist. The removed entries
// are returned so the caller can delete their backing files.
func (idx *Index) PruneExpired() []Entry {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	now := idx.now()
	var removed []Entry
	var count, bytes int64

	for id, e := range idx.entries {
		if e.Expired(now) {
			removed = append(removed, *e)
			delete(idx.entries, id)
			continue
		}
		count++
		bytes += e.Size
	}
	for id, raw := range idx.pending {
		var p probe
		if err := json.Unmarshal(raw, &p); err != nil {
			// Leave it for the next direct lookup to drop, but count it
			// so membership and EntryCount agree.
			count++
			continue
		}
		e := Entry{ID: id, FileName: p.FileName, Size: p.Size, CreatedAt: p.CreatedAt, TTLMillis: p.TTLMillis}
		if e.Expired(now) {
			removed = append(removed, e)
			delete(idx.pending, id)
			continue
		}
		count++
		bytes += p.Size
	}

	if len(removed) > 0 || idx.stats.EntryCount != count || idx.stats.TotalBytes != bytes {
		idx.stats.EntryCount = count
		idx.stats.TotalBytes = bytes
		idx.markDirtyLocked()
	}

	sort.Slice(removed, func(i, j int) bool { return removed[i].ID < removed[j].ID })
	return removed
}

// Stats returns a copy of the aggregate counters.
func (idx *Index) Stats() Stats {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.stats
}

// RecordHit notes a successful lookup and folds its duration into the
// load-time average.
func (idx *Index) RecordHit(loadTime time.Duration) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.stats.observeLookup(true)
	idx.stats.observeLoadTime(loadTime)
	idx.markDirtyLocked()
}

// RecordMiss notes a lookup that found nothing servable.
func (idx *Index) RecordMiss() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.stats.observeLookup(false)
	idx.markDirtyLocked()
}

// Flush writes the document now if there are unsaved changes.
func (idx *Index) Flush(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.flushLocked(ctx)
}

func (idx *Index) flushLocked(ctx context.Context) error {
	if idx.timer != nil {
		idx.timer.Stop()
		idx.timer = nil
	}
	if !idx.dirty {
		return nil
	}
	return idx.persistLocked(ctx)
}

// Clear drops every record, zeroes the stats and removes the persisted
// document. Idempotent.
func (idx *Index) Clear(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.entries = make(map[string]*Entry)
	idx.pending = make(map[string]json.RawMessage)
	idx.stats = Stats{}
	idx.dirty = false
	if idx.timer != nil {
		idx.timer.Stop()
		idx.timer = nil
	}
	if err := idx.docs.Clear(ctx); err != nil {
		return fmt.Errorf("clearing metadata document: %w", err)
	}
	return nil
}

// Close flushes any unsaved changes and releases the document store.
func (idx *Index) Close(ctx context.Context) error {
	idx.mu.Lock()
	if idx.closed {
		idx.mu.Unlock()
		return nil
	}
	idx.closed = true
	err := idx.flushLocked(ctx)
	idx.mu.Unlock()

	if cerr := idx.docs.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (idx *Index) markDirtyLocked() {
	idx.dirty = true
	if idx.closed || idx.timer != nil || idx.debounce <= 0 {
		return
	}
	idx.timer = time.AfterFunc(idx.debounce, idx.flushTimer)
}

// flushTimer runs on the debounce timer's goroutine.
func (idx *Index) flushTimer() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.timer = nil
	if idx.closed || !idx.dirty {
		return
	}
	if err := idx.persistLocked(context.Background()); err != nil {
		idx.logger.Warn("debounced metadata persist failed", "error", err)
	}
}

func (idx *Index) persistLocked(ctx context.Context) error {
	doc, err := idx.documentLocked()
	if err != nil {
		return err
	}

	start := time.Now()
	n, err := idx.docs.Persist(ctx, doc)
	if err != nil {
		telemetry.RecordPersist(ctx, "error", 0, time.Since(start))
		return fmt.Errorf("persisting metadata document: %w", err)
	}
	telemetry.RecordPersist(ctx, "persisted", n, time.Since(start))
	idx.dirty = false
	idx.logger.Debug("persisted metadata document",
		"entries", idx.stats.EntryCount, "bytes", n)
	return nil
}

func (idx *Index) documentLocked() (*Document, error) {
	doc := &Document{
		Metadata:    make(map[string]json.RawMessage, len(idx.entries)+len(idx.pending)),
		Stats:       idx.stats,
		LastUpdated: idx.now(),
		Version:     DocVersion,
		TTLDays:     idx.ttlDays,
	}
	for id, raw := range idx.pending {
		doc.Metadata[id] = raw
	}
	for id, e := range idx.entries {
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshaling metadata record %s: %w", id, err)
		}
		doc.Metadata[id] = data
	}
	return doc, nil
}
