// Package view serves zero-copy reads of cached entries through
// memory-mapped files. A bounded Pool keeps the most recently used
// mappings open, since each one holds an OS resource. Mappings are a
// separate, much smaller budget than the content cache itself, with
// their own LRU: an entry can be evicted from the cache while still
// mapped here, or stay cached while its mapping lapses from disuse.
package view

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/wolfeidau/objcache/telemetry"
)

// DefaultMaxMappings bounds the number of concurrently open mappings.
const DefaultMaxMappings = 20

var (
	// ErrPoolClosed is returned by Acquire after the pool has been closed.
	ErrPoolClosed = errors.New("view: pool closed")

	// ErrSizeMismatch indicates the backing file's length no longer
	// matches the entry record it was mapped for.
	ErrSizeMismatch = errors.New("view: size mismatch")
)

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger used for mapping lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// WithMaxMappings bounds the number of concurrently open mappings.
// Non-positive values keep DefaultMaxMappings.
func WithMaxMappings(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.maxMappings = n
		}
	}
}

// WithNow overrides the pool's clock. Used by tests.
func WithNow(now func() time.Time) Option {
	return func(p *Pool) {
		p.now = now
	}
}

// Stats is a snapshot of the pool's counters. Mapped counts mappings the
// pool can hand out; doomed mappings waiting on open handles are outside
// it, which is why Pinned can briefly exceed Mapped.
type Stats struct {
	Mapped           int   `json:"mapped"`
	Pinned           int   `json:"pinned"`
	TotalMaps        int64 `json:"total_maps"`
	TotalUnmaps      int64 `json:"total_unmaps"`
	TotalBytesMapped int64 `json:"total_bytes_mapped"`
	Evictions        int64 `json:"evictions"`
}

// Pool hands out Mappings and bounds how many stay open at once.
// Acquiring past the bound closes the least recently used idle mapping;
// when every mapping is pinned the oldest pinned one is doomed instead
// and unmapped once its last handle closes. All methods are safe for
// concurrent use; reads through issued Mappings never take the pool lock.
type Pool struct {
	maxMappings int
	logger      *slog.Logger
	now         func() time.Time

	mu               sync.Mutex
	segments         map[string]*segment
	pinned           int
	totalMaps        int64
	totalUnmaps      int64
	totalBytesMapped int64
	evictions        int64
	closed           bool
}

// NewPool creates an empty mapping pool.
func NewPool(opts ...Option) *Pool {
	p := &Pool{
		maxMappings: DefaultMaxMappings,
		logger:      slog.Default(),
		now:         time.Now,
		segments:    make(map[string]*segment),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Acquire returns a read-only mapping of the entry file at path, reusing
// an open mapping for id when one exists. size is the content length
// according to the entry record: a pooled mapping that no longer matches
// it is discarded and the file mapped afresh, and a fresh mapping whose
// file disagrees fails with ErrSizeMismatch. Pass a negative size to skip
// the check. The caller must Close the returned Mapping.
func (p *Pool) Acquire(ctx context.Context, id, path string, size int64) (*Mapping, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	if seg, ok := p.segments[id]; ok {
		if size < 0 || seg.size == size {
			p.pinLocked(seg)
			telemetry.RecordViewOpen(ctx, "hit")
			p.updateGauges(ctx)
			return &Mapping{pool: p, seg: seg}, nil
		}
		// The backing file changed behind the pool. Drop the stale
		// mapping and fall through to a fresh one.
		p.dropLocked(ctx, seg, "stale")
	}

	if len(p.segments) >= p.maxMappings {
		p.evictLocked(ctx)
	}

	seg, err := p.mapSegment(id, path, size)
	if err != nil {
		telemetry.RecordViewOpen(ctx, "error")
		return nil, err
	}
	p.segments[id] = seg
	p.totalMaps++
	p.totalBytesMapped += seg.size
	p.pinLocked(seg)

	telemetry.RecordViewOpen(ctx, "mapped")
	p.updateGauges(ctx)
	p.logger.Debug("mapped entry", "id", id, "size", seg.size, "open", len(p.segments))

	return &Mapping{pool: p, seg: seg}, nil
}

// Invalidate drops the mapping for id, if any. The cache calls it when an
// entry is removed or its backing file rewritten, so no later view can
// serve bytes that no longer match the record. Open handles keep working
// until closed; the unmap then happens on the final release.
func (p *Pool) Invalidate(ctx context.Context, id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	seg, ok := p.segments[id]
	if !ok {
		return
	}
	p.dropLocked(ctx, seg, "invalidated")
	p.updateGauges(ctx)
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Mapped:           len(p.segments),
		Pinned:           p.pinned,
		TotalMaps:        p.totalMaps,
		TotalUnmaps:      p.totalUnmaps,
		TotalBytesMapped: p.totalBytesMapped,
		Evictions:        p.evictions,
	}
}

// Close unmaps every idle mapping, dooms the pinned ones and rejects
// further Acquires. Safe to call more than once.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	for id, seg := range p.segments {
		delete(p.segments, id)
		if seg.refs > 0 {
			seg.doomed = true
			continue
		}
		p.unmapLocked(seg)
	}
	p.logger.Debug("view pool closed", "maps", p.totalMaps, "unmaps", p.totalUnmaps)
	return nil
}

// release drops one pin. The final release of a doomed segment unmaps it.
func (p *Pool) release(seg *segment) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	seg.refs--
	seg.lastUsed = p.now()
	if seg.refs > 0 {
		return nil
	}
	p.pinned--
	if seg.doomed {
		p.unmapLocked(seg)
	}
	p.updateGauges(context.Background())
	return nil
}

func (p *Pool) pinLocked(seg *segment) {
	if seg.refs == 0 {
		p.pinned++
	}
	seg.refs++
	seg.lastUsed = p.now()
}

// evictLocked makes room for one more mapping. It prefers the least
// recently used idle mapping; when everything is pinned it dooms the
// least recently used pinned one.
func (p *Pool) evictLocked(ctx context.Context) {
	var oldest, oldestIdle *segment
	for _, seg := range p.segments {
		if oldest == nil || seg.lastUsed.Before(oldest.lastUsed) {
			oldest = seg
		}
		if seg.refs == 0 && (oldestIdle == nil || seg.lastUsed.Before(oldestIdle.lastUsed)) {
			oldestIdle = seg
		}
	}
	victim := oldestIdle
	if victim == nil {
		victim = oldest
	}
	if victim == nil {
		return
	}
	p.evictions++
	p.dropLocked(ctx, victim, "lru")
}

// dropLocked removes seg from the pool index. Idle segments are unmapped
// immediately; pinned ones are doomed and unmapped by the final release.
func (p *Pool) dropLocked(ctx context.Context, seg *segment, reason string) {
	delete(p.segments, seg.id)
	if seg.refs > 0 {
		seg.doomed = true
		telemetry.RecordViewEviction(ctx, "deferred")
		p.logger.Debug("deferring unmap until release", "id", seg.id, "reason", reason, "refs", seg.refs)
		return
	}
	p.unmapLocked(seg)
	telemetry.RecordViewEviction(ctx, "idle")
	p.logger.Debug("unmapped entry", "id", seg.id, "reason", reason)
}

// unmapLocked releases seg's pages. Failures are logged and swallowed:
// no caller can act on a munmap error.
func (p *Pool) unmapLocked(seg *segment) {
	if seg.data != nil {
		if err := munmapFile(seg.data); err != nil {
			p.logger.Warn("unmapping entry", "id", seg.id, "error", err)
		}
		seg.data = nil
	}
	p.totalUnmaps++
}

// mapSegment opens and memory-maps the file at path. The descriptor is
// closed right after mapping; the pages stay valid without it.
func (p *Pool) mapSegment(id, path string, size int64) (*segment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stating %s: %w", path, err)
	}
	if size >= 0 && fi.Size() != size {
		return nil, fmt.Errorf("%w: %s is %d bytes, record says %d", ErrSizeMismatch, path, fi.Size(), size)
	}

	var data []byte
	if fi.Size() > 0 {
		// mmap rejects zero-length ranges; an empty entry maps to an
		// empty segment instead.
		data, err = mmapFile(f, fi.Size())
		if err != nil {
			return nil, fmt.Errorf("memory-mapping %s: %w", path, err)
		}
	}

	return &segment{id: id, data: data, size: fi.Size()}, nil
}

func (p *Pool) updateGauges(ctx context.Context) {
	telemetry.UpdateViewState(ctx, len(p.segments), p.pinned)
}
