// Package store provides content file storage for the object cache.
// Each cached object is held in a single flat file named by its entry id.
package store

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when a name does not exist in the store.
var ErrNotFound = errors.New("not found")

// Writer stages content for a new entry.
// Data is written to a temp file and only published under its final
// name when CommitAs returns nil.
type Writer interface {
	io.Writer

	// CommitAs publishes the staged content under the given name.
	// The rename is atomic; a crash before CommitAs leaves only a
	// temp file behind.
	CommitAs(name string) error

	// Abort discards the staged content and removes the temp file.
	Abort() error
}

// Store defines the interface for content file storage.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create stages a new content file for writing.
	// The final name is chosen at commit time, after the content has
	// been hashed.
	Create(ctx context.Context) (Writer, error)

	// Open retrieves the content stored under the given name.
	// Returns ErrNotFound if the name does not exist.
	// The caller must close the returned ReadCloser.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// PathFor returns the filesystem path the name is stored at.
	// The file may or may not exist.
	PathFor(name string) string

	// Size returns the size in bytes of the content at the given name.
	// Returns ErrNotFound if the name does not exist.
	Size(ctx context.Context, name string) (int64, error)

	// Remove deletes the content at the given name.
	// Returns nil if the name does not exist (idempotent).
	Remove(ctx context.Context, name string) error

	// List returns the names of all stored files.
	// Staged temp files are not listed. Callers filter out names that
	// are not entry ids.
	List(ctx context.Context) ([]string, error)
}

// TempSweeper extends Store with stale temp file cleanup.
// Temp files are left behind when a process dies between staging and
// commit; a sweeper removes them once they are old enough to be safely
// considered abandoned.
type TempSweeper interface {
	Store

	// RemoveStaleTemps removes staged temp files older than the given age.
	// Returns the number of files removed.
	RemoveStaleTemps(ctx context.Context, olderThan time.Duration) (int, error)
}
