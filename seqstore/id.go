package seqstore

import (
	"encoding/binary"
	"math/bits"

	"github.com/cockroachdb/errors"
)

// ID is an opaque handle returned by Add and consumed by Get, Replace,
// and Remove. It embeds the record's slab offset and a small
// length-derived marker used to detect stale-id reuse (see the ID
// entry of DESIGN.md). The zero value is never issued
// by Add and can be used as a sentinel "no id".
type ID struct {
	offset uint64
	marker uint8
}

// Offset returns the byte offset of the record this ID names.
func (id ID) Offset() uint64 { return id.offset }

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool { return id.offset == 0 && id.marker == 0 }

// NewID constructs the ID a record of the given length at offset would
// be issued by Add. Exported for use by packages (rawstore) that
// implement the slab allocator itself.
func NewID(offset uint64, length uint64) ID {
	return ID{offset: offset, marker: markerFor(length)}
}

// Verify reports whether id's marker matches a record of the given
// length, i.e. whether id could plausibly still name that record.
func (id ID) Verify(length uint64) bool {
	return id.marker == markerFor(length)
}

// maxPackableOffset is the largest offset that fits alongside the 8-bit
// marker in a 64-bit packed ID.
const maxPackableOffset = 1<<56 - 1

// Pack encodes id as a single non-zero uint64, suitable for storage
// outside the process (e.g. as the slab-id value a sorted-string map
// points at).
func (id ID) Pack() uint64 {
	if id.offset > maxPackableOffset {
		panic(errors.AssertionFailedf("seqstore: offset %d does not fit in a packed ID", id.offset))
	}
	return id.offset<<8 | uint64(id.marker)
}

// UnpackID reverses Pack.
func UnpackID(packed uint64) ID {
	return ID{offset: packed >> 8, marker: uint8(packed & 0xFF)}
}

// markerFor derives an 8-bit fingerprint from a record length: the
// XOR-fold of its big-endian byte representation, mixed with the
// length's bit-magnitude so that lengths sharing a byte-xor but
// differing in size are still usually distinguished. It is a
// probabilistic check (~1/256 collision rate per spec's "ID marker
// collisions" note), not a cryptographic one.
func markerFor(length uint64) uint8 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], length)
	var x uint8
	for _, b := range buf {
		x ^= b
	}
	mag := uint8(bits.Len64(length))
	return x ^ (mag<<3 | mag>>5)
}
