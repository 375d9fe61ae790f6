package view

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	idA = "obj_7a1de53bc99740faa3592401_1756100000000"
	idB = "obj_b42f0c881d5e4a17c06d93e2_1756100000001"
	idC = "obj_19ce7ab045f1c3889e2d6074_1756100000002"
)

func newTestPool(t *testing.T, opts ...Option) *Pool {
	t.Helper()

	p := NewPool(opts...)
	t.Cleanup(func() {
		_ = p.Close()
	})
	return p
}

func writeBlob(t *testing.T, content []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "blob")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestMappingReadAt(t *testing.T) {
	content := []byte("%PDF-1.7 0123456789abcdefghij")
	p := newTestPool(t)

	m, err := p.Acquire(context.Background(), idA, writeBlob(t, content), int64(len(content)))
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, idA, m.ID())
	assert.Equal(t, int64(len(content)), m.Size())

	buf := make([]byte, 5)
	n, err := m.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte("%PDF-"), buf)

	n, err = m.ReadAt(buf, m.Size()-5)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, content[len(content)-5:], buf)
}

func TestMappingReadAtOutOfRange(t *testing.T) {
	content := []byte("%PDF-1.7 content")
	p := newTestPool(t)

	m, err := p.Acquire(context.Background(), idA, writeBlob(t, content), int64(len(content)))
	require.NoError(t, err)
	defer m.Close()

	// One byte past the end fails whole, no short read.
	n, err := m.ReadAt(make([]byte, 6), m.Size()-5)
	require.ErrorIs(t, err, ErrOutOfRange)
	assert.Zero(t, n)

	n, err = m.ReadAt(make([]byte, 1), -1)
	require.ErrorIs(t, err, ErrOutOfRange)
	assert.Zero(t, n)

	n, err = m.ReadAt(make([]byte, 1), m.Size())
	require.ErrorIs(t, err, ErrOutOfRange)
	assert.Zero(t, n)

	// Zero-length read at exactly the end is in bounds.
	n, err = m.ReadAt(nil, m.Size())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMappingBytes(t *testing.T) {
	content := []byte("%PDF-1.7 mapped without copying")
	p := newTestPool(t)

	m, err := p.Acquire(context.Background(), idA, writeBlob(t, content), int64(len(content)))
	require.NoError(t, err)

	assert.Equal(t, content, m.Bytes())

	require.NoError(t, m.Close())
	assert.Nil(t, m.Bytes())
}

func TestMappingSectionReader(t *testing.T) {
	content := []byte("%PDF-1.7 0123456789abcdefghij")
	p := newTestPool(t)

	m, err := p.Acquire(context.Background(), idA, writeBlob(t, content), int64(len(content)))
	require.NoError(t, err)
	defer m.Close()

	got, err := io.ReadAll(io.NewSectionReader(m, 9, 10))
	require.NoError(t, err)
	assert.Equal(t, content[9:19], got)
}

func TestMappingCloseReleases(t *testing.T) {
	content := []byte("%PDF-1.7 x")
	p := newTestPool(t)

	m, err := p.Acquire(context.Background(), idA, writeBlob(t, content), int64(len(content)))
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close()) // second close is a no-op

	n, err := m.ReadAt(make([]byte, 1), 0)
	require.ErrorIs(t, err, ErrClosed)
	assert.Zero(t, n)

	st := p.Stats()
	assert.Equal(t, 0, st.Pinned)
	assert.Equal(t, 1, st.Mapped) // stays pooled for reuse
	assert.Equal(t, int64(0), st.TotalUnmaps)
}

func TestMappingEmptyFile(t *testing.T) {
	p := newTestPool(t)

	m, err := p.Acquire(context.Background(), idA, writeBlob(t, nil), 0)
	require.NoError(t, err)

	assert.Zero(t, m.Size())
	assert.Empty(t, m.Bytes())

	n, err := m.ReadAt(nil, 0)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = m.ReadAt(make([]byte, 1), 0)
	require.ErrorIs(t, err, ErrOutOfRange)

	require.NoError(t, m.Close())
}
