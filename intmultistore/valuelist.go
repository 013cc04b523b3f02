package intmultistore

import (
	"encoding/binary"
	"sort"

	"github.com/cockroachdb/errors"
)

// decodeValues parses a slab payload into its strictly-ascending
// uint64 values.
func decodeValues(payload []byte) ([]uint64, error) {
	var out []uint64
	pos := 0
	for pos < len(payload) {
		v, n := binary.Uvarint(payload[pos:])
		if n <= 0 {
			return nil, errors.New("intmultistore: corrupt value list")
		}
		out = append(out, v)
		pos += n
	}
	return out, nil
}

// encodeValues serializes a strictly-ascending list of uint64 values as
// concatenated varints (spec.md §3, diverging intentionally from the
// original's NonZeroU64 representation — see DESIGN.md).
func encodeValues(values []uint64) []byte {
	buf := make([]byte, 0, len(values)*binary.MaxVarintLen64)
	var vb [binary.MaxVarintLen64]byte
	for _, v := range values {
		n := binary.PutUvarint(vb[:], v)
		buf = append(buf, vb[:n]...)
	}
	return buf
}

// insertSorted returns values with v inserted in sorted order, or ok =
// false if v is already present.
func insertSorted(values []uint64, v uint64) (out []uint64, ok bool) {
	i := sort.Search(len(values), func(i int) bool { return values[i] >= v })
	if i < len(values) && values[i] == v {
		return values, false
	}
	out = make([]uint64, len(values)+1)
	copy(out, values[:i])
	out[i] = v
	copy(out[i+1:], values[i:])
	return out, true
}

// removeSorted returns values with v removed, or ok = false if v was
// not present.
func removeSorted(values []uint64, v uint64) (out []uint64, ok bool) {
	i := sort.Search(len(values), func(i int) bool { return values[i] >= v })
	if i >= len(values) || values[i] != v {
		return values, false
	}
	out = make([]uint64, len(values)-1)
	copy(out, values[:i])
	copy(out[i:], values[i+1:])
	return out, true
}
