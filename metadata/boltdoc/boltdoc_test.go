package boltdoc

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/wolfeidau/objcache/metadata"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), DefaultFileName), append([]Option{WithNoSync()}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreLoadEmpty(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	doc, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, doc.Metadata)
	assert.Equal(t, metadata.DocVersion, doc.Version)
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	doc := metadata.NewDocument()
	doc.Metadata["obj_0011aabbccddeeff00112233_1700000000000"] = json.RawMessage(`{"id":"obj_0011aabbccddeeff00112233_1700000000000","size":100}`)
	doc.Metadata["obj_445566778899aabbccddeeff_1700000000001"] = json.RawMessage(`{"id":"obj_445566778899aabbccddeeff_1700000000001","size":200}`)
	doc.Stats = metadata.Stats{EntryCount: 2, TotalBytes: 300, HitCount: 7}
	doc.LastUpdated = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	doc.TTLDays = 30

	n, err := s.Persist(ctx, doc)
	require.NoError(t, err)
	require.Positive(t, n)

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, doc.Metadata, got.Metadata)
	assert.Equal(t, doc.Stats, got.Stats)
	assert.Equal(t, metadata.DocVersion, got.Version)
	assert.Equal(t, 30, got.TTLDays)
	assert.True(t, doc.LastUpdated.Equal(got.LastUpdated))
}

func TestStorePersistReplaces(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	doc := metadata.NewDocument()
	doc.Metadata["obj_0011aabbccddeeff00112233_1700000000000"] = json.RawMessage(`{"size":100}`)
	doc.Metadata["obj_445566778899aabbccddeeff_1700000000001"] = json.RawMessage(`{"size":200}`)
	_, err := s.Persist(ctx, doc)
	require.NoError(t, err)

	doc = metadata.NewDocument()
	doc.Metadata["obj_99aabbccddeeff0011223344_1700000000002"] = json.RawMessage(`{"size":300}`)
	_, err = s.Persist(ctx, doc)
	require.NoError(t, err)

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got.Metadata, 1)
	assert.Contains(t, got.Metadata, "obj_99aabbccddeeff0011223344_1700000000002")
}

func TestStoreLargeValueRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// Big enough to take the compressed path through the envelope.
	raw := json.RawMessage(`{"id":"obj_0011aabbccddeeff00112233_1700000000000","pad":"` +
		strings.Repeat("abcdef", 1024) + `"}`)

	doc := metadata.NewDocument()
	doc.Metadata["obj_0011aabbccddeeff00112233_1700000000000"] = raw
	n, err := s.Persist(ctx, doc)
	require.NoError(t, err)
	assert.Less(t, n, int64(len(raw)))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, raw, got.Metadata["obj_0011aabbccddeeff00112233_1700000000000"])
}

func TestStoreClear(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	doc := metadata.NewDocument()
	doc.Metadata["obj_0011aabbccddeeff00112233_1700000000000"] = json.RawMessage(`{"size":100}`)
	_, err := s.Persist(ctx, doc)
	require.NoError(t, err)

	require.NoError(t, s.Clear(ctx))
	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got.Metadata)

	// Clearing again is fine.
	require.NoError(t, s.Clear(ctx))
}

func TestStoreSkipsUndecodableValue(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	doc := metadata.NewDocument()
	doc.Metadata["obj_0011aabbccddeeff00112233_1700000000000"] = json.RawMessage(`{"size":100}`)
	_, err := s.Persist(ctx, doc)
	require.NoError(t, err)

	// Plant a value with a bogus envelope marker alongside the good one.
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEntries).Put([]byte("obj_445566778899aabbccddeeff_1700000000001"), []byte{0xff, 0x00})
	})
	require.NoError(t, err)

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got.Metadata, 1)
	assert.Contains(t, got.Metadata, "obj_0011aabbccddeeff00112233_1700000000000")
}

func TestStoreCorruptStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Persist(ctx, metadata.NewDocument())
	require.NoError(t, err)

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyStats, []byte("{broken"))
	})
	require.NoError(t, err)

	_, err = s.Load(ctx)
	require.ErrorIs(t, err, metadata.ErrCorruptDocument)
}
