package objcache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/objcache/janitor"
	"github.com/wolfeidau/objcache/metadata"
)

func TestSweepRemovesExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	c := newTestCache(t, WithNow(clock))

	doomed, err := c.StoreBytes(ctx, pdfBytes(1024), StoreOptions{TTL: time.Hour})
	require.NoError(t, err)
	keeper, err := c.StoreBytes(ctx, pdfBytes(2048), StoreOptions{TTL: -1})
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	res, err := c.Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Scanned)
	assert.Equal(t, 1, res.Expired)
	assert.Equal(t, int64(1024), res.BytesFreed)
	assert.Zero(t, res.Failures)

	assert.False(t, c.IsValid(ctx, doomed))
	assert.True(t, c.IsValid(ctx, keeper))
	assert.Equal(t, int64(1), c.Stats().EntryCount)
}

func TestSweepRemovesOrphans(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	keeper, err := c.StoreBytes(ctx, pdfBytes(1024), StoreOptions{})
	require.NoError(t, err)

	// A content file no record points at, plus a foreign file that is
	// not an entry at all.
	orphan := NewID(ChecksumBytes([]byte("orphan")), time.Now())
	require.NoError(t, os.WriteFile(filepath.Join(c.Dir(), string(orphan)), pdfBytes(2048), 0o644))
	foreign := filepath.Join(c.Dir(), "notes.txt")
	require.NoError(t, os.WriteFile(foreign, []byte("keep me"), 0o644))

	res, err := c.Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Orphans)
	assert.Equal(t, int64(2048), res.BytesFreed)

	_, err = os.Stat(filepath.Join(c.Dir(), string(orphan)))
	assert.ErrorIs(t, err, os.ErrNotExist)

	// Sweeps never touch non-entry files, the metadata document least
	// of all.
	_, err = os.Stat(foreign)
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(c.Dir(), metadata.DocFileName))
	assert.NoError(t, err)

	assert.True(t, c.IsValid(ctx, keeper))
}

func TestSweepRemovesStaleTemps(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	stale := filepath.Join(c.Dir(), ".tmp-abandoned")
	require.NoError(t, os.WriteFile(stale, []byte("half a store"), 0o600))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	fresh := filepath.Join(c.Dir(), ".tmp-inflight")
	require.NoError(t, os.WriteFile(fresh, []byte("still going"), 0o600))

	res, err := c.Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, res.StaleTemps)
	_, err = os.Stat(stale)
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}

func TestSweepCleanCache(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	id, err := c.StoreBytes(ctx, pdfBytes(1024), StoreOptions{})
	require.NoError(t, err)

	res, err := c.Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Scanned)
	assert.Zero(t, res.Expired)
	assert.Zero(t, res.Orphans)
	assert.Zero(t, res.StaleTemps)
	assert.Zero(t, res.Failures)
	assert.Zero(t, res.BytesFreed)

	_, err = c.Load(ctx, id)
	require.NoError(t, err)
}

func TestJanitorSweepsCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	c := newTestCache(t, WithNow(clock))

	_, err := c.StoreBytes(ctx, pdfBytes(1024), StoreOptions{TTL: time.Hour})
	require.NoError(t, err)
	now = now.Add(2 * time.Hour)

	m := janitor.NewManager(c, janitor.Config{Interval: 10 * time.Millisecond})
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	assert.Eventually(t, func() bool {
		return c.Stats().EntryCount == 0
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, entryFiles(t, c.Dir()))
}
