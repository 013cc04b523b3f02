package rawstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/a-n-d-r-e-w-l/covenant/seqstore"
	"github.com/a-n-d-r-e-w-l/covenant/seqstore/backing"
)

func TestRetainKeepsOnlyNamedRecords(t *testing.T) {
	s := newTestStore(t)
	id1, err := s.Add([]byte("one"))
	require.NoError(t, err)
	id2, err := s.Add([]byte("two"))
	require.NoError(t, err)
	id3, err := s.Add([]byte("three"))
	require.NoError(t, err)
	_ = id2

	require.NoError(t, s.Retain([]seqstore.ID{id1, id3}))

	got1, err := s.Get(id1)
	require.NoError(t, err)
	require.Equal(t, []byte("one"), got1)

	got3, err := s.Get(id3)
	require.NoError(t, err)
	require.Equal(t, []byte("three"), got3)

	_, err = s.Get(id2)
	require.Error(t, err)
}

func TestRetainRejectsUnsortedInput(t *testing.T) {
	s := newTestStore(t)
	id1, err := s.Add([]byte("a"))
	require.NoError(t, err)
	id2, err := s.Add([]byte("b"))
	require.NoError(t, err)

	err = s.Retain([]seqstore.ID{id2, id1})
	require.ErrorIs(t, err, seqstore.ErrUnsortedInputs)
}

func TestRetainRejectsIDNotPresent(t *testing.T) {
	b := backing.NewAnon()
	s, err := New(b, []byte("m"))
	require.NoError(t, err)
	_, err = s.Add([]byte("real"))
	require.NoError(t, err)

	fake := seqstore.NewID(999999, 4)
	err = s.Retain([]seqstore.ID{fake})
	require.ErrorIs(t, err, seqstore.ErrRetainPartial)
}

func TestRetainDoesNotCoalesceAdjacentGaps(t *testing.T) {
	s := newTestStore(t)
	id1, err := s.Add([]byte("aaaa"))
	require.NoError(t, err)
	id2, err := s.Add([]byte("bbbb"))
	require.NoError(t, err)
	_, err = s.Add([]byte("cccc"))
	require.NoError(t, err)

	require.NoError(t, s.Retain([]seqstore.ID{id1, id2}))
	require.Len(t, s.gaps, 1, "only the trailing record was dropped")

	// A payload far larger than any existing gap forces Add to append
	// rather than reuse, so the new record doesn't land back where id3
	// used to be and mask the coalescing check below.
	big := make([]byte, 256)
	id4, err := s.Add(big)
	require.NoError(t, err)
	require.NoError(t, s.Retain([]seqstore.ID{id4}))
	require.Len(t, s.gaps, 3, "Retain must not coalesce the two now-adjacent gaps with the trailing one")
}
