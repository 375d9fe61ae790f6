package store

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewFilesystem(t *testing.T) {
	tmpDir := t.TempDir()
	root := filepath.Join(tmpDir, "cache")

	fs, err := NewFilesystem(root)
	require.NoError(t, err)

	require.Equal(t, root, fs.Root())

	// Check directory was created
	info, err := os.Stat(root)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestFilesystemCommitOpen(t *testing.T) {
	fs, cleanup := newTestFilesystem(t)
	defer cleanup()

	ctx := context.Background()
	name := "obj_0011aabbccddeeff00112233_1700000000000"
	data := []byte("hello, world!")

	w, err := fs.Create(ctx)
	require.NoError(t, err)

	n, err := w.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)

	err = w.CommitAs(name)
	require.NoError(t, err)

	rc, err := fs.Open(ctx, name)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, data, got)

	// The committed file lives at PathFor
	_, err = os.Stat(fs.PathFor(name))
	require.NoError(t, err)
}

func TestFilesystemOpenNotFound(t *testing.T) {
	fs, cleanup := newTestFilesystem(t)
	defer cleanup()

	ctx := context.Background()

	_, err := fs.Open(ctx, "obj_ffffffffffffffffffffffff_1700000000000")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFilesystemSize(t *testing.T) {
	fs, cleanup := newTestFilesystem(t)
	defer cleanup()

	ctx := context.Background()
	name := "obj_0011aabbccddeeff00112233_1700000000000"
	data := []byte("test data for size check")

	commitContent(t, fs, name, data)

	size, err := fs.Size(ctx, name)
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), size)
}

func TestFilesystemSizeNotFound(t *testing.T) {
	fs, cleanup := newTestFilesystem(t)
	defer cleanup()

	ctx := context.Background()

	_, err := fs.Size(ctx, "obj_ffffffffffffffffffffffff_1700000000000")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFilesystemRemove(t *testing.T) {
	fs, cleanup := newTestFilesystem(t)
	defer cleanup()

	ctx := context.Background()
	name := "obj_0011aabbccddeeff00112233_1700000000000"

	commitContent(t, fs, name, []byte("data"))

	err := fs.Remove(ctx, name)
	require.NoError(t, err)

	_, err = fs.Open(ctx, name)
	require.ErrorIs(t, err, ErrNotFound)

	// Remove nonexistent should not error (idempotent)
	err = fs.Remove(ctx, name)
	require.NoError(t, err)
}

func TestFilesystemList(t *testing.T) {
	fs, cleanup := newTestFilesystem(t)
	defer cleanup()

	ctx := context.Background()

	names := []string{
		"obj_0011aabbccddeeff00112233_1700000000000",
		"obj_445566778899aabbccddeeff_1700000000001",
	}
	for _, name := range names {
		commitContent(t, fs, name, []byte("data"))
	}

	// A staged temp file must not be listed
	w, err := fs.Create(ctx)
	require.NoError(t, err)
	_, err = w.Write([]byte("staged"))
	require.NoError(t, err)
	defer func() { _ = w.Abort() }()

	got, err := fs.List(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, names, got)
}

func TestFilesystemAbort(t *testing.T) {
	fs, cleanup := newTestFilesystem(t)
	defer cleanup()

	ctx := context.Background()

	w, err := fs.Create(ctx)
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)

	err = w.Abort()
	require.NoError(t, err)

	// No files, including temps, remain
	entries, err := os.ReadDir(fs.Root())
	require.NoError(t, err)
	require.Empty(t, entries)

	// Abort is idempotent
	require.NoError(t, w.Abort())
}

func TestFilesystemCommitOverwrite(t *testing.T) {
	fs, cleanup := newTestFilesystem(t)
	defer cleanup()

	ctx := context.Background()
	name := "obj_0011aabbccddeeff00112233_1700000000000"

	commitContent(t, fs, name, []byte("initial"))

	// Committing again under the same name replaces the content atomically
	newData := []byte("new content that is longer")
	commitContent(t, fs, name, newData)

	rc, err := fs.Open(ctx, name)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()

	got, _ := io.ReadAll(rc)
	require.Equal(t, newData, got)
}

func TestFilesystemCommitIdempotent(t *testing.T) {
	fs, cleanup := newTestFilesystem(t)
	defer cleanup()

	ctx := context.Background()
	name := "obj_0011aabbccddeeff00112233_1700000000000"

	w, err := fs.Create(ctx)
	require.NoError(t, err)
	_, err = w.Write([]byte("data"))
	require.NoError(t, err)

	require.NoError(t, w.CommitAs(name))
	require.NoError(t, w.CommitAs(name))
	require.NoError(t, w.Abort())

	rc, err := fs.Open(ctx, name)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()

	got, _ := io.ReadAll(rc)
	require.Equal(t, []byte("data"), got)
}

func TestFilesystemRemoveStaleTemps(t *testing.T) {
	fs, cleanup := newTestFilesystem(t)
	defer cleanup()

	ctx := context.Background()

	// Stage two temps without committing
	stale, err := fs.Create(ctx)
	require.NoError(t, err)
	_, err = stale.Write([]byte("stale"))
	require.NoError(t, err)

	fresh, err := fs.Create(ctx)
	require.NoError(t, err)
	_, err = fresh.Write([]byte("fresh"))
	require.NoError(t, err)
	defer func() { _ = fresh.Abort() }()

	// Age one of them past the cutoff
	stalePath := tempPaths(t, fs.Root())[0]
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stalePath, old, old))

	removed, err := fs.RemoveStaleTemps(ctx, time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	require.Len(t, tempPaths(t, fs.Root()), 1)
}

// Helper functions

func newTestFilesystem(t *testing.T) (*Filesystem, func()) {
	t.Helper()
	tmpDir := t.TempDir()
	fs, err := NewFilesystem(tmpDir)
	require.NoError(t, err)
	return fs, func() {}
}

func commitContent(t *testing.T, fs *Filesystem, name string, data []byte) {
	t.Helper()
	w, err := fs.Create(context.Background())
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.CommitAs(name))
}

func tempPaths(t *testing.T, root string) []string {
	t.Helper()
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	var paths []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), tempPrefix) {
			paths = append(paths, filepath.Join(root, entry.Name()))
		}
	}
	return paths
}
