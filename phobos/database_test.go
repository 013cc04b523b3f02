package phobos

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "test")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Set([]byte("a"), 1))
	require.NoError(t, db.Set([]byte("b"), 2))

	v, ok := db.Get([]byte("a"))
	require.True(t, ok)
	require.Equal(t, uint64(1), v)

	v, ok = db.Get([]byte("b"))
	require.True(t, ok)
	require.Equal(t, uint64(2), v)

	_, ok = db.Get([]byte("missing"))
	require.False(t, ok)
}

func TestDeleteShadowsValueInMemtable(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "test")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Set([]byte("k"), 1))
	require.NoError(t, db.Delete([]byte("k")))

	_, ok := db.Get([]byte("k"))
	require.False(t, ok)
}

func TestDeleteShadowsValueAcrossAFlush(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "test", WithMemoryThreshold(16))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Set([]byte("k"), 1))
	require.NoError(t, db.Flush())
	require.NoError(t, db.Delete([]byte("k")))
	require.NoError(t, db.Flush())

	_, ok := db.Get([]byte("k"))
	require.False(t, ok, "tombstone written in a later table must shadow the earlier value")
	require.Len(t, db.tables, 2)
}

func TestMergeDropsTombstonesEntirely(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "test", WithMemoryThreshold(16))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Set([]byte("k"), 1))
	require.NoError(t, db.Flush())
	require.NoError(t, db.Delete([]byte("k")))

	seen := map[string]uint64{}
	require.NoError(t, db.Merge(func(key []byte, value uint64) error {
		seen[string(key)] = value
		return nil
	}))
	require.NotContains(t, seen, "k", "a full merge must not emit a callback for a tombstoned key")

	_, ok := db.Get([]byte("k"))
	require.False(t, ok)
}

func TestSetOverwritesExistingKey(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "test")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Set([]byte("k"), 1))
	require.NoError(t, db.Set([]byte("k"), 2))

	v, ok := db.Get([]byte("k"))
	require.True(t, ok)
	require.Equal(t, uint64(2), v)
}

func TestFlushMovesMemtableIntoATable(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "test", WithMemoryThreshold(16))
	require.NoError(t, err)
	defer db.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, db.Set([]byte{byte('a' + i)}, uint64(i)))
	}
	require.Equal(t, 5, db.mem.Count())

	require.NoError(t, db.Flush())
	require.Equal(t, 0, db.mem.Count())
	require.Len(t, db.tables, 1)

	for i := 0; i < 5; i++ {
		v, ok := db.Get([]byte{byte('a' + i)})
		require.True(t, ok)
		require.Equal(t, uint64(i), v)
	}
}

func TestSetAutoFlushesAtMemoryThreshold(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "test", WithMemoryThreshold(16))
	require.NoError(t, err)
	defer db.Close()

	for i := 0; i < 16; i++ {
		require.NoError(t, db.Set([]byte{byte(i)}, uint64(i)))
	}
	require.Equal(t, 0, db.mem.Count(), "threshold reached should trigger an automatic flush")
	require.Len(t, db.tables, 1)
}

func TestReopenRecoversFlushedTables(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "test", WithMemoryThreshold(16))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, db.Set([]byte{byte('a' + i)}, uint64(i)))
	}
	require.NoError(t, db.Flush())
	require.NoError(t, db.Close())

	reopened, err := Open(dir, "test", WithMemoryThreshold(16))
	require.NoError(t, err)
	defer reopened.Close()

	require.Len(t, reopened.tables, 1)
	v, ok := reopened.Get([]byte("a"))
	require.True(t, ok)
	require.Equal(t, uint64(0), v)
}

func TestReopenReplaysUnflushedWAL(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "test", WithMemoryThreshold(128))
	require.NoError(t, err)
	require.NoError(t, db.Set([]byte("x"), 42))
	require.NoError(t, db.Close())

	reopened, err := Open(dir, "test", WithMemoryThreshold(128))
	require.NoError(t, err)
	defer reopened.Close()

	v, ok := reopened.Get([]byte("x"))
	require.True(t, ok)
	require.Equal(t, uint64(42), v)
}

func TestRecoverWALFromLeftoverBackup(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "test", WithMemoryThreshold(128))
	require.NoError(t, err)
	require.NoError(t, db.Set([]byte("y"), 7))
	require.NoError(t, db.Close())

	p := pather{dir: dir, prefix: "test"}
	walBytes, err := os.ReadFile(p.walPath())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(p.walBackupPath(), walBytes, 0o644))
	require.NoError(t, os.WriteFile(p.walPath(), nil, 0o644))

	reopened, err := Open(dir, "test", WithMemoryThreshold(128))
	require.NoError(t, err)
	defer reopened.Close()

	v, ok := reopened.Get([]byte("y"))
	require.True(t, ok)
	require.Equal(t, uint64(7), v)

	_, err = os.Stat(p.walBackupPath())
	require.True(t, os.IsNotExist(err), "recovery must remove the wal backup once replay completes")
}

func TestMergeInvokesCallbackForEveryEntryAndClearsTables(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "test", WithMemoryThreshold(16))
	require.NoError(t, err)
	defer db.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, db.Set([]byte{byte('a' + i)}, uint64(i)))
	}
	require.NoError(t, db.Flush())
	require.NoError(t, db.Set([]byte("z"), 99))

	seen := map[string]uint64{}
	require.NoError(t, db.Merge(func(key []byte, value uint64) error {
		seen[string(key)] = value
		return nil
	}))

	require.Len(t, seen, 6)
	require.Equal(t, uint64(99), seen["z"])
	require.Len(t, db.tables, 1)
	require.Equal(t, 0, db.mem.Count())
}

func TestMergeAbortsOnCallbackError(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "test", WithMemoryThreshold(16))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Set([]byte("a"), 1))
	require.NoError(t, db.Flush())

	boom := errors.New("boom")
	err = db.Merge(func(key []byte, value uint64) error { return boom })
	require.ErrorIs(t, err, boom)

	require.Len(t, db.tables, 1, "an aborted merge must leave the table list untouched")
}

func TestCalculateLevelClampsToZeroAndMatchesLogFormula(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "test", WithFanout(4), WithMemoryThreshold(10))
	require.NoError(t, err)
	defer db.Close()

	require.Equal(t, uint8(0), db.calculateLevel(1))
	require.Equal(t, uint8(0), db.calculateLevel(10))
	// avoid exact powers of the fanout, where log/log division can land
	// a hair under the integer boundary due to floating-point error.
	require.Equal(t, uint8(1), db.calculateLevel(45))
	require.Equal(t, uint8(2), db.calculateLevel(200))
}

func TestOpenRejectsInvalidOptions(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(dir, "test", WithFanout(1))
	require.Error(t, err)

	_, err = Open(filepath.Join(dir, "b"), "test", WithMemoryThreshold(1))
	require.Error(t, err)
}
