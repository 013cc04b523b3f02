package backing

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAnonBackingWriteAndResize(t *testing.T) {
	b := NewAnon()
	require.False(t, b.IsFile())
	require.GreaterOrEqual(t, b.Len(), growthChunk)

	pos := 0
	require.NoError(t, b.Write([]byte("hello"), &pos))
	require.Equal(t, 5, pos)
	require.Equal(t, []byte("hello"), b.Bytes()[:5])

	require.NoError(t, b.ResizeFor(growthChunk+100))
	require.GreaterOrEqual(t, b.Len(), growthChunk+100)
	require.Equal(t, []byte("hello"), b.Bytes()[:5])
}

func TestAnonBackingResizeToShrinks(t *testing.T) {
	b := NewAnon()
	require.NoError(t, b.ResizeTo(16))
	require.Equal(t, 16, b.Len())
}

func TestFileBackingPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.bin")

	b, err := NewFile(path)
	require.NoError(t, err)
	require.True(t, b.IsFile())

	pos := 0
	require.NoError(t, b.Write([]byte("persisted"), &pos))
	require.NoError(t, b.Flush())
	require.NoError(t, b.Close())

	b2, err := NewFile(path)
	require.NoError(t, err)
	defer b2.Close()
	require.Equal(t, []byte("persisted"), b2.Bytes()[:9])
}

func TestFileBackingRejectsSecondOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.bin")

	b, err := NewFile(path)
	require.NoError(t, err)
	defer b.Close()

	_, err = NewFile(path)
	require.Error(t, err)
}

func TestFlushRangeIsANoOpOnAnon(t *testing.T) {
	b := NewAnon()
	require.NoError(t, b.FlushRange(0, 10))
}
