package intmultistore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertGetRemove(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "test", WithMemoryThreshold(16))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Insert("k", 1))
	require.NoError(t, s.Insert("k", 5))
	require.NoError(t, s.Insert("k", 3))

	values, err := s.Get("k")
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 3, 5}, values)

	ok, err := s.GetIdx("k", 3)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.GetIdx("k", 9)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Remove("k", 3))
	values, err = s.Get("k")
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 5}, values)
}

func TestInsertRejectsDuplicateValue(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "test", WithMemoryThreshold(16))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Insert("k", 1))
	err = s.Insert("k", 1)
	require.ErrorIs(t, err, ErrValueExists)
}

func TestRemoveRejectsMissingKeyOrValue(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "test", WithMemoryThreshold(16))
	require.NoError(t, err)
	defer s.Close()

	err = s.Remove("missing", 1)
	require.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, s.Insert("k", 1))
	err = s.Remove("k", 2)
	require.ErrorIs(t, err, ErrValueNotFound)
}

func TestGetMissingKeyReturnsErrKeyNotFound(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "test", WithMemoryThreshold(16))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get("nope")
	require.ErrorIs(t, err, ErrKeyNotFound)

	ok, err := s.GetIdx("nope", 1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReopenPreservesValues(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "test", WithMemoryThreshold(16))
	require.NoError(t, err)
	require.NoError(t, s.Insert("a", 1))
	require.NoError(t, s.Insert("a", 2))
	require.NoError(t, s.Close())

	reopened, err := Open(dir, "test", WithMemoryThreshold(16))
	require.NoError(t, err)
	defer reopened.Close()

	values, err := reopened.Get("a")
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2}, values)
}

func TestCleanupReclaimsOrphansAndCompactsSlab(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "test", WithMemoryThreshold(16))
	require.NoError(t, err)

	require.NoError(t, s.Insert("keep", 1))
	require.NoError(t, s.Insert("keep", 2))
	require.NoError(t, s.Insert("empty", 9))
	require.NoError(t, s.Remove("empty", 9))

	require.NoError(t, s.Cleanup())

	values, err := s.Get("keep")
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2}, values)

	_, err = s.Get("empty")
	require.ErrorIs(t, err, ErrKeyNotFound, "cleanup must drop the orphaned key from the index entirely")
	require.NoError(t, s.Close())

	// The compacted slab must survive as the canonical file, not just
	// as an in-memory swap: reopening must see the same compacted
	// state, with "keep"'s index entry resolving against offsets in
	// the renamed (compacted) file rather than the stale pre-compaction
	// one.
	reopened, err := Open(dir, "test", WithMemoryThreshold(16))
	require.NoError(t, err)
	defer reopened.Close()

	values, err = reopened.Get("keep")
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2}, values)

	_, err = reopened.Get("empty")
	require.ErrorIs(t, err, ErrKeyNotFound)
}
