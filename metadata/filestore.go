package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore persists the metadata document as a single JSON file, the
// default layout: one human-inspectable document at a fixed name inside
// the cache root. Writes go through a temp file and rename so readers
// never observe a partially written document.
type FileStore struct {
	path string
}

// NewFileStore returns a store persisting to the given file path. The
// file is not touched until the first Load or Persist.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the document's location on disk.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the document. A missing file yields an empty document; an
// undecodable one yields ErrCorruptDocument so the caller can decide to
// start fresh.
func (s *FileStore) Load(_ context.Context) (*Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewDocument(), nil
		}
		return nil, fmt.Errorf("reading metadata document: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCorruptDocument, err)
	}
	if doc.Metadata == nil {
		doc.Metadata = make(map[string]json.RawMessage)
	}
	return &doc, nil
}

// Persist atomically replaces the document on disk.
func (s *FileStore) Persist(_ context.Context, doc *Document) (int64, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("marshaling metadata document: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".tmp-meta-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp document: %w", err)
	}
	tmpPath := tmp.Name()

	var ok bool
	defer func() {
		if !ok {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return 0, fmt.Errorf("writing metadata document: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return 0, fmt.Errorf("syncing metadata document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("closing metadata document: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return 0, fmt.Errorf("publishing metadata document: %w", err)
	}
	ok = true
	return int64(len(data)), nil
}

// Clear removes the document file. Clearing a store that was never
// persisted is not an error.
func (s *FileStore) Clear(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing metadata document: %w", err)
	}
	return nil
}

// Close is a no-op; the file is opened per operation.
func (s *FileStore) Close() error {
	return nil
}

var _ DocStore = (*FileStore)(nil)
