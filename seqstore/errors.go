package seqstore

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
)

// Sentinel errors for the slab store's error taxonomy (spec.md §7).
// Use errors.Is against these; the errors returned by the package wrap
// one of them with positional context via errors.Wrapf.
var (
	// ErrMap, ErrResize, ErrFlush name the OS call failure kinds (mmap,
	// grow, msync). The backing package does not attach them: it wraps
	// the OS error with its own message, so errors.Is against these does
	// not match a backing failure.
	ErrMap    = errors.New("seqstore: map failure")
	ErrResize = errors.New("seqstore: resize failure")
	ErrFlush  = errors.New("seqstore: flush failure")

	// ErrUnknownTag: a tag byte's selector bits match no known kind. The
	// slab store reports that case as a *tag.UnknownTagError instead,
	// which does not wrap this sentinel.
	ErrUnknownTag = errors.New("seqstore: unknown tag")
	// ErrIncorrectTag: a valid tag of the wrong kind for the requested
	// operation (e.g. Get or Replace on the End tag).
	ErrIncorrectTag = errors.New("seqstore: incorrect tag for operation")
	// ErrEntryCorrupt: a Writing record was encountered via a live-id
	// operation.
	ErrEntryCorrupt = errors.New("seqstore: entry corrupt (still writing)")
	// ErrAlreadyDeleted: the id names a Deleted record.
	ErrAlreadyDeleted = errors.New("seqstore: already deleted")
	// ErrCannotReplaceDeleted: Replace was called on a Deleted record.
	ErrCannotReplaceDeleted = errors.New("seqstore: cannot replace a deleted record")
	// ErrMismatchedLengths: Replace's new payload length differs from
	// the old one.
	ErrMismatchedLengths = errors.New("seqstore: mismatched lengths")
	// ErrIDCheck: an id's marker does not match the record at its
	// offset.
	ErrIDCheck = errors.New("seqstore: id marker does not match record")
	// ErrInvalidVarint: a header or WAL varint failed to parse.
	ErrInvalidVarint = errors.New("seqstore: invalid varint")
)

// Open-time validation errors (spec.md's OpenError taxonomy).
var (
	ErrTooSmall        = errors.New("seqstore: backing too small for a header")
	ErrMagic           = errors.New("seqstore: header magic mismatch")
	ErrUnknownVersion  = errors.New("seqstore: unknown header version")
	ErrSpecMagicLen    = errors.New("seqstore: spec magic length mismatch")
	ErrSpecMagic       = errors.New("seqstore: spec magic mismatch")
	ErrPartialWrite    = errors.New("seqstore: partial write detected at open")
	ErrDataAfterEnd    = errors.New("seqstore: data found after the end tag")
	ErrNoEnd           = errors.New("seqstore: no end tag found")
)

// Retain preconditions (spec.md's RetainError taxonomy).
var (
	ErrUnsortedInputs = errors.New("seqstore: retain ids must be strictly ascending")
	ErrRetainPartial  = errors.New("seqstore: retain requested an id still being written")
)

// withPosition wraps err with a redacted-safe position field, matching
// the teacher's convention of marking offsets safe to log since they
// carry no user payload data.
func withPosition(err error, position int) error {
	return errors.Wrapf(err, "at position %s", redact.Safe(position))
}
