package intmultistore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeValuesRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 300, 70000, 1 << 40}
	encoded := encodeValues(values)
	decoded, err := decodeValues(encoded)
	require.NoError(t, err)
	require.Equal(t, values, decoded)
}

func TestDecodeEmptyPayload(t *testing.T) {
	decoded, err := decodeValues(nil)
	require.NoError(t, err)
	require.Empty(t, decoded)
}

func TestInsertSortedMaintainsOrder(t *testing.T) {
	var values []uint64
	var ok bool
	values, ok = insertSorted(values, 5)
	require.True(t, ok)
	values, ok = insertSorted(values, 1)
	require.True(t, ok)
	values, ok = insertSorted(values, 3)
	require.True(t, ok)

	require.Equal(t, []uint64{1, 3, 5}, values)
}

func TestInsertSortedRejectsDuplicate(t *testing.T) {
	values := []uint64{1, 3, 5}
	_, ok := insertSorted(values, 3)
	require.False(t, ok)
}

func TestRemoveSortedRemovesMiddleElement(t *testing.T) {
	values := []uint64{1, 3, 5}
	out, ok := removeSorted(values, 3)
	require.True(t, ok)
	require.Equal(t, []uint64{1, 5}, out)
}

func TestRemoveSortedRejectsMissingValue(t *testing.T) {
	values := []uint64{1, 3, 5}
	_, ok := removeSorted(values, 4)
	require.False(t, ok)
}
