package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newInstrumentedStore(t *testing.T) *Instrumented {
	t.Helper()
	fs, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)
	return NewInstrumented(fs)
}

func TestInstrumented_CommitOpen(t *testing.T) {
	is := newInstrumentedStore(t)
	ctx := context.Background()

	name := "obj_0011aabbccddeeff00112233_1700000000000"
	data := []byte("hello, instrumented store")

	w, err := is.Create(ctx)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.CommitAs(name))

	rc, err := is.Open(ctx, name)
	require.NoError(t, err)

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, data, got)
	require.NoError(t, rc.Close())
}

func TestInstrumented_OpenNotFound(t *testing.T) {
	is := newInstrumentedStore(t)
	ctx := context.Background()

	_, err := is.Open(ctx, "obj_ffffffffffffffffffffffff_1700000000000")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestInstrumented_Abort(t *testing.T) {
	is := newInstrumentedStore(t)
	ctx := context.Background()

	w, err := is.Create(ctx)
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, w.Abort())

	names, err := is.List(ctx)
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestInstrumented_SizeRemoveList(t *testing.T) {
	is := newInstrumentedStore(t)
	ctx := context.Background()

	name := "obj_0011aabbccddeeff00112233_1700000000000"
	data := []byte("size test content")

	w, err := is.Create(ctx)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.CommitAs(name))

	size, err := is.Size(ctx, name)
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), size)

	names, err := is.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{name}, names)

	require.NoError(t, is.Remove(ctx, name))

	_, err = is.Size(ctx, name)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestInstrumented_RemoveStaleTemps(t *testing.T) {
	is := newInstrumentedStore(t)
	ctx := context.Background()

	// Nothing staged, nothing removed
	removed, err := is.RemoveStaleTemps(ctx, time.Hour)
	require.NoError(t, err)
	require.Zero(t, removed)
}

func TestInstrumented_PathForAndUnwrap(t *testing.T) {
	fs, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)
	is := NewInstrumented(fs)

	name := "obj_0011aabbccddeeff00112233_1700000000000"
	require.Equal(t, fs.PathFor(name), is.PathFor(name))
	require.Same(t, fs, is.Unwrap())
}

func TestOutcomeFromError(t *testing.T) {
	require.Equal(t, "success", outcomeFromError(nil))
	require.Equal(t, "not_found", outcomeFromError(ErrNotFound))
	require.Equal(t, "not_found", outcomeFromError(fmt.Errorf("wrap: %w", ErrNotFound)))
	require.Equal(t, "error", outcomeFromError(errors.New("some other error")))
}
