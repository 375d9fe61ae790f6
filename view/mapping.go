package view

import (
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync/atomic"
	"time"
)

var (
	// ErrClosed is returned by reads through a handle that has already
	// been closed.
	ErrClosed = errors.New("view: mapping closed")

	// ErrOutOfRange is returned when a requested range extends past the
	// end of the mapped content. No partial data is returned.
	ErrOutOfRange = errors.New("view: read out of range")
)

// segment is one memory-mapped entry file, shared by every Mapping handle
// the pool has issued for it. The pool's mutex guards refs, doomed and
// lastUsed; data and size never change after creation.
type segment struct {
	id   string
	data []byte
	size int64

	refs     int
	doomed   bool
	lastUsed time.Time
}

// Mapping is a pinned, read-only view of one entry's bytes. Every Acquire
// returns a fresh handle; handles for the same id share the underlying
// mapping, and reads through them need no coordination. Close releases
// the pin — the mapping stays pooled for reuse unless it was evicted or
// invalidated while pinned, in which case the last Close unmaps it.
type Mapping struct {
	pool   *Pool
	seg    *segment
	closed atomic.Bool
}

// Mapping satisfies io.ReaderAt for the in-bounds case but deviates from
// its partial-read convention: ranges past the end fail whole rather than
// returning a short read with io.EOF.
var _ io.ReaderAt = (*Mapping)(nil)

// ID returns the cache id this mapping serves.
func (m *Mapping) ID() string { return m.seg.id }

// Size returns the mapped content length in bytes.
func (m *Mapping) Size() int64 { return m.seg.size }

// Bytes returns the mapped content without copying. The slice is only
// valid until Close; retaining it past that point risks a fault once the
// mapping is released.
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.seg.data
}

// ReadAt copies the range [off, off+len(p)) into p. A range extending
// past the end of the content returns ErrOutOfRange and no data. A fault
// raised while touching the pages (backing file truncated out-of-band,
// failing storage) is converted into an error instead of crashing the
// process.
func (m *Mapping) ReadAt(p []byte, off int64) (n int, err error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	if off < 0 || off+int64(len(p)) > m.seg.size {
		return 0, fmt.Errorf("%w: offset %d length %d beyond %d-byte mapping",
			ErrOutOfRange, off, len(p), m.seg.size)
	}
	if len(p) == 0 {
		return 0, nil
	}

	old := debug.SetPanicOnFault(true)
	defer func() {
		debug.SetPanicOnFault(old)
		if r := recover(); r != nil {
			n = 0
			err = fmt.Errorf("view: fault reading %s at offset %d: %v", m.seg.id, off, r)
		}
	}()

	n = copy(p, m.seg.data[off:])
	return n, nil
}

// Close releases this handle's pin. Closing an already-closed handle is a
// no-op.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	return m.pool.release(m.seg)
}
