package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

const (
	// DocVersion is the format version written into every persisted
	// document. Documents carrying a different version are discarded and
	// rebuilt rather than migrated.
	DocVersion = "1.0"

	// DocFileName is the fixed name of the JSON metadata document inside
	// the cache root.
	DocFileName = "cache_metadata.json"
)

// ErrCorruptDocument indicates the persisted metadata document could not
// be decoded. Callers are expected to start from an empty document; the
// entry files on disk are reconciled by the next sweep.
var ErrCorruptDocument = errors.New("corrupt metadata document")

// Document is the persisted form of the metadata index: the full entry
// map plus aggregate stats and a couple of operator-visible markers.
// Entry values are kept as raw JSON so the index can defer decoding them
// until a specific id is requested.
type Document struct {
	Metadata    map[string]json.RawMessage `json:"metadata"`
	Stats       Stats                      `json:"stats"`
	LastUpdated time.Time                  `json:"last_updated"`
	Version     string                     `json:"version"`
	TTLDays     int                        `json:"ttl_days"`
}

// NewDocument returns an empty document at the current format version.
func NewDocument() *Document {
	return &Document{
		Metadata: make(map[string]json.RawMessage),
		Version:  DocVersion,
	}
}

// DocStore persists the metadata document. Implementations must treat a
// missing document as empty rather than an error, so a fresh cache root
// needs no initialisation step.
type DocStore interface {
	// Load reads the persisted document. A store that has never been
	// written returns an empty document.
	Load(ctx context.Context) (*Document, error)

	// Persist writes the full document, replacing any previous state.
	// It returns the number of bytes written.
	Persist(ctx context.Context, doc *Document) (int64, error)

	// Clear removes all persisted state. Clearing an empty store is not
	// an error.
	Clear(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
