package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// tempPrefix marks staged files that have not been committed yet.
const tempPrefix = ".tmp-"

// Filesystem implements Store using a single flat directory.
// Writes are atomic using a temp file and rename pattern.
type Filesystem struct {
	root string
}

// NewFilesystem creates a new filesystem store rooted at the given path.
// The directory will be created if it does not exist.
func NewFilesystem(root string) (*Filesystem, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root path: %w", err)
	}
	if err := os.MkdirAll(absRoot, 0755); err != nil {
		return nil, fmt.Errorf("creating root directory: %w", err)
	}
	return &Filesystem{root: absRoot}, nil
}

// Root returns the root directory path.
func (fs *Filesystem) Root() string {
	return fs.root
}

// Create stages a new content file for writing.
func (fs *Filesystem) Create(ctx context.Context) (Writer, error) {
	tmp, err := os.CreateTemp(fs.root, tempPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	return &fileWriter{
		f:       tmp,
		tmpPath: tmp.Name(),
		root:    fs.root,
	}, nil
}

// Open retrieves the content stored under the given name.
func (fs *Filesystem) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(fs.PathFor(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("opening file: %w", err)
	}
	return f, nil
}

// PathFor returns the filesystem path the name is stored at.
func (fs *Filesystem) PathFor(name string) string {
	return filepath.Join(fs.root, name)
}

// Size returns the size of the content at the given name.
func (fs *Filesystem) Size(ctx context.Context, name string) (int64, error) {
	info, err := os.Stat(fs.PathFor(name))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("stat file: %w", err)
	}
	return info.Size(), nil
}

// Remove deletes the content at the given name.
func (fs *Filesystem) Remove(ctx context.Context, name string) error {
	err := os.Remove(fs.PathFor(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing file: %w", err)
	}
	return nil
}

// List returns the names of all stored files.
func (fs *Filesystem) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(fs.root)
	if err != nil {
		return nil, fmt.Errorf("reading root directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		// Skip staged temp files
		if strings.HasPrefix(entry.Name(), tempPrefix) {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

// RemoveStaleTemps removes staged temp files older than the given age.
func (fs *Filesystem) RemoveStaleTemps(ctx context.Context, olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(fs.root)
	if err != nil {
		return 0, fmt.Errorf("reading root directory: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), tempPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		// Fresh temps may belong to an in-flight write
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(fs.root, entry.Name())); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("removing temp file: %w", err)
		}
		removed++
	}
	return removed, nil
}

// fileWriter stages content in a temp file and renames it into place.
type fileWriter struct {
	f       *os.File
	tmpPath string
	root    string
	done    bool
}

// Write implements io.Writer.
func (w *fileWriter) Write(p []byte) (int, error) {
	return w.f.Write(p)
}

// CommitAs publishes the staged content under the given name.
func (w *fileWriter) CommitAs(name string) error {
	if w.done {
		return nil
	}
	w.done = true

	// Sync to disk
	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		_ = os.Remove(w.tmpPath)
		return fmt.Errorf("syncing file: %w", err)
	}

	// Close before rename
	if err := w.f.Close(); err != nil {
		_ = os.Remove(w.tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	// Atomic rename
	if err := os.Rename(w.tmpPath, filepath.Join(w.root, name)); err != nil {
		_ = os.Remove(w.tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}

	return nil
}

// Abort cancels the write and removes the temp file.
func (w *fileWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	_ = w.f.Close()
	return os.Remove(w.tmpPath)
}

// Compile-time interface checks
var (
	_ Store       = (*Filesystem)(nil)
	_ TempSweeper = (*Filesystem)(nil)
	_ Writer      = (*fileWriter)(nil)
)
