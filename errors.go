package objcache

import "errors"

// Error taxonomy for the public API. Every error returned by Cache methods
// matches exactly one of these via errors.Is.
var (
	// ErrInvalidInput indicates malformed input at ingest time: a bad
	// base64 payload or content that fails the magic-byte check.
	ErrInvalidInput = errors.New("objcache: invalid input")

	// ErrNotFound indicates no entry exists for the given id.
	ErrNotFound = errors.New("objcache: not found")

	// ErrExpired indicates the entry's TTL has elapsed. The entry is
	// removed as a side effect; a subsequent lookup returns ErrNotFound.
	ErrExpired = errors.New("objcache: entry expired")

	// ErrCorrupt indicates a metadata record without a matching backing
	// file, or content whose checksum no longer verifies. The record is
	// removed as a side effect.
	ErrCorrupt = errors.New("objcache: entry corrupt")

	// ErrCapacityExceeded indicates eviction could not free enough room,
	// even after the force pass.
	ErrCapacityExceeded = errors.New("objcache: capacity exceeded")

	// ErrIO wraps disk-level failures during store or load.
	ErrIO = errors.New("objcache: io failure")

	// ErrClosed is returned by operations on a closed cache.
	ErrClosed = errors.New("objcache: cache closed")
)
