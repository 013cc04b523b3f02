package ark

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutNewObjectThenGetReturnsSameBytes(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	data := []byte("hello, content-addressed world")
	ref, isNew, err := s.Put(bytes.NewReader(data))
	require.NoError(t, err)
	require.True(t, isNew)

	got, err := s.Get(ref)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestPutSameContentTwiceDeduplicates(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	data := []byte("duplicate me")
	ref1, isNew1, err := s.Put(bytes.NewReader(data))
	require.NoError(t, err)
	require.True(t, isNew1)

	ref2, isNew2, err := s.Put(bytes.NewReader(append([]byte(nil), data...)))
	require.NoError(t, err)
	require.False(t, isNew2, "identical content must dedupe rather than store again")
	require.Equal(t, ref1.ID, ref2.ID)
	require.Equal(t, ref1.Digests, ref2.Digests)
}

func TestPutDifferentContentStoresSeparately(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	ref1, _, err := s.Put(bytes.NewReader([]byte("alpha")))
	require.NoError(t, err)
	ref2, _, err := s.Put(bytes.NewReader([]byte("beta")))
	require.NoError(t, err)

	require.NotEqual(t, ref1.ID, ref2.ID)

	got1, err := s.Get(ref1)
	require.NoError(t, err)
	require.Equal(t, []byte("alpha"), got1)

	got2, err := s.Get(ref2)
	require.NoError(t, err)
	require.Equal(t, []byte("beta"), got2)
}

func TestOpenRejectsSecondConcurrentOpenOnSameDir(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	_, err = Open(dir)
	require.Error(t, err, "a second Open must fail to acquire ARK.LOCK")
}

func TestReopenPreservesStoredObjects(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	ref, _, err := s.Put(bytes.NewReader([]byte("persisted payload")))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ref)
	require.NoError(t, err)
	require.Equal(t, []byte("persisted payload"), got)

	_, isNew, err := reopened.Put(bytes.NewReader([]byte("persisted payload")))
	require.NoError(t, err)
	require.False(t, isNew, "dedup must survive a reopen")
}
