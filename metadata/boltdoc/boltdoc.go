// Package boltdoc persists the metadata document in a bbolt database, an
// opt-in alternative to the default JSON file for cache roots holding
// many entries. Entry values are stored one per key so loading can skip
// over individually damaged values, and each value passes through a light
// envelope that compresses the large ones.
package boltdoc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.etcd.io/bbolt"

	"github.com/wolfeidau/objcache/metadata"
)

// DefaultFileName is the conventional name of the database inside the
// cache root.
const DefaultFileName = "cache_metadata.db"

var (
	bucketEntries = []byte("entries")
	bucketMeta    = []byte("meta")

	keyStats       = []byte("stats")
	keyVersion     = []byte("version")
	keyTTLDays     = []byte("ttl_days")
	keyLastUpdated = []byte("last_updated")
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for database lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithNoSync disables fsync on commit, trading durability on power loss
// for speed. Useful for tests.
func WithNoSync() Option {
	return func(s *Store) {
		s.noSync = true
	}
}

// Store is a bbolt-backed metadata.DocStore.
type Store struct {
	db     *bbolt.DB
	path   string
	logger *slog.Logger
	noSync bool
	codec  *envelopeCodec
}

// NewStore opens the database at path, creating it if needed.
func NewStore(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:   path,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	codec, err := newEnvelopeCodec()
	if err != nil {
		return nil, err
	}
	s.codec = codec

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: time.Second,
		NoSync:  s.noSync,
	})
	if err != nil {
		codec.close()
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s.db = db

	if err := s.createBuckets(); err != nil {
		db.Close()
		codec.close()
		return nil, err
	}

	s.logger.Debug("opened metadata database", "path", path)
	return s, nil
}

func (s *Store) createBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketEntries, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Load assembles the document from the entry and meta buckets. Entry
// values that fail to decode are skipped with a warning; their backing
// files are reconciled by the next sweep.
func (s *Store) Load(_ context.Context) (*metadata.Document, error) {
	doc := metadata.NewDocument()

	err := s.db.View(func(tx *bbolt.Tx) error {
		if entries := tx.Bucket(bucketEntries); entries != nil {
			err := entries.ForEach(func(k, v []byte) error {
				raw, err := s.codec.decode(v)
				if err != nil {
					s.logger.Warn("skipping undecodable metadata value",
						"id", string(k), "error", err)
					return nil
				}
				doc.Metadata[string(k)] = raw
				return nil
			})
			if err != nil {
				return err
			}
		}

		meta := tx.Bucket(bucketMeta)
		if meta == nil {
			return nil
		}
		if v := meta.Get(keyStats); v != nil {
			if err := json.Unmarshal(v, &doc.Stats); err != nil {
				return fmt.Errorf("%w: %s", metadata.ErrCorruptDocument, err)
			}
		}
		if v := meta.Get(keyVersion); v != nil {
			doc.Version = string(v)
		}
		if v := meta.Get(keyTTLDays); v != nil {
			if days, err := strconv.Atoi(string(v)); err == nil {
				doc.TTLDays = days
			}
		}
		if v := meta.Get(keyLastUpdated); v != nil {
			if t, err := time.Parse(time.RFC3339Nano, string(v)); err == nil {
				doc.LastUpdated = t
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Persist replaces the stored document in a single transaction.
func (s *Store) Persist(_ context.Context, doc *metadata.Document) (int64, error) {
	stats, err := json.Marshal(doc.Stats)
	if err != nil {
		return 0, fmt.Errorf("marshaling stats: %w", err)
	}

	var n int64
	err = s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketEntries); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return fmt.Errorf("resetting entries bucket: %w", err)
		}
		entries, err := tx.CreateBucket(bucketEntries)
		if err != nil {
			return fmt.Errorf("creating entries bucket: %w", err)
		}
		for id, raw := range doc.Metadata {
			v, err := s.codec.encode(raw)
			if err != nil {
				return fmt.Errorf("encoding metadata value %s: %w", id, err)
			}
			if err := entries.Put([]byte(id), v); err != nil {
				return fmt.Errorf("putting metadata value: %w", err)
			}
			n += int64(len(v))
		}

		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return fmt.Errorf("creating meta bucket: %w", err)
		}
		values := map[string][]byte{
			string(keyStats):       stats,
			string(keyVersion):     []byte(doc.Version),
			string(keyTTLDays):     []byte(strconv.Itoa(doc.TTLDays)),
			string(keyLastUpdated): []byte(doc.LastUpdated.Format(time.RFC3339Nano)),
		}
		for k, v := range values {
			if err := meta.Put([]byte(k), v); err != nil {
				return fmt.Errorf("putting meta %s: %w", k, err)
			}
			n += int64(len(v))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Clear empties both buckets. Clearing an empty store is not an error.
func (s *Store) Clear(_ context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketEntries, bucketMeta} {
			if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
				return fmt.Errorf("deleting bucket %s: %w", name, err)
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return fmt.Errorf("recreating bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Close releases the database and the codec.
func (s *Store) Close() error {
	s.codec.close()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	s.logger.Debug("closed metadata database", "path", s.path)
	return nil
}

var _ metadata.DocStore = (*Store)(nil)
