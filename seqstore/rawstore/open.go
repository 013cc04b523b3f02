package rawstore

import (
	"bytes"
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/a-n-d-r-e-w-l/covenant/seqstore"
	"github.com/a-n-d-r-e-w-l/covenant/seqstore/backing"
	"github.com/a-n-d-r-e-w-l/covenant/seqstore/internal/tag"
)

// RecoveryStrategy governs how Open handles a Writing record or a
// missing End tag left behind by a crash mid-Add.
type RecoveryStrategy int

const (
	// RecoveryError fails Open with a typed error if recovery is
	// needed.
	RecoveryError RecoveryStrategy = iota
	// RecoveryRollback converts stray Writing records into Deleted
	// gaps and appends an End tag if one was not found.
	RecoveryRollback
)

// OpenOptions configures Open.
type OpenOptions struct {
	SpecMagic        []byte
	NoSpecMagicCheck bool
	RecoveryStrategy RecoveryStrategy
	Registerer       prometheus.Registerer
}

// OpenOption mutates an OpenOptions.
type OpenOption func(*OpenOptions)

// WithSpecMagic requires the opened store's header to carry exactly
// magic.
func WithSpecMagic(magic []byte) OpenOption {
	return func(o *OpenOptions) { o.SpecMagic = magic; o.NoSpecMagicCheck = false }
}

// WithoutSpecMagicCheck skips spec-magic validation entirely.
func WithoutSpecMagicCheck() OpenOption {
	return func(o *OpenOptions) { o.NoSpecMagicCheck = true }
}

// WithRecoveryStrategy sets the strategy Open uses for stray Writing
// records or a missing End tag.
func WithRecoveryStrategy(s RecoveryStrategy) OpenOption {
	return func(o *OpenOptions) { o.RecoveryStrategy = s }
}

// Open validates b's header and scans its records, reconstructing the
// gap list and locating the End tag.
func Open(b *backing.Backing, opts ...OpenOption) (*Store, error) {
	var o OpenOptions
	for _, opt := range opts {
		opt(&o)
	}

	buf := b.Bytes()
	if len(buf) < len(headerMagic)+len(headerVersion)+1 {
		return nil, seqstore.ErrTooSmall
	}
	pos := 0
	if !bytes.Equal(buf[pos:pos+len(headerMagic)], headerMagic[:]) {
		return nil, seqstore.ErrMagic
	}
	pos += len(headerMagic)
	if !bytes.Equal(buf[pos:pos+len(headerVersion)], headerVersion[:]) {
		return nil, seqstore.ErrUnknownVersion
	}
	pos += len(headerVersion)

	specLen, n := binary.Uvarint(buf[pos:])
	if n <= 0 {
		return nil, seqstore.ErrInvalidVarint
	}
	pos += n
	if pos+int(specLen) > len(buf) {
		return nil, seqstore.ErrSpecMagicLen
	}
	specMagic := buf[pos : pos+int(specLen)]
	if !o.NoSpecMagicCheck {
		if int(specLen) != len(o.SpecMagic) {
			return nil, seqstore.ErrSpecMagicLen
		}
		if !bytes.Equal(specMagic, o.SpecMagic) {
			return nil, seqstore.ErrSpecMagic
		}
	}
	pos += int(specLen)

	s := &Store{backing: b, specMagic: append([]byte(nil), specMagic...), headerLen: pos, met: newMetrics(o.Registerer)}

	if err := s.scan(o.RecoveryStrategy); err != nil {
		return nil, err
	}
	return s, nil
}

// scan walks every record from the header to the End tag, populating
// the gap list and s.end.
func (s *Store) scan(strategy RecoveryStrategy) error {
	buf := s.backing.Bytes()
	pos := s.headerLen
	var gaps []Gap
	foundEnd := false

	for pos < len(buf) {
		recordStart := pos
		if buf[pos] == 0 {
			// Zero padding where a tag should be: no End tag was written.
			break
		}
		t, err := tag.Read(buf, &pos)
		if err != nil {
			return err
		}
		switch t.Kind {
		case tag.KindEnd:
			s.end = recordStart
			foundEnd = true
		case tag.KindWritten:
			pos += int(t.Length)
		case tag.KindDeleted:
			tagLen := pos - recordStart
			gaps = append(gaps, Gap{At: recordStart, Length: int(t.Length), TagLen: tagLen})
			pos += int(t.Length)
		case tag.KindWriting:
			tagLen := pos - recordStart
			length := int(t.Length)
			switch strategy {
			case RecoveryRollback:
				wpos := recordStart
				if err := tag.WriteExact(buf, &wpos, tag.Deleted(uint64(length)), tagLen); err != nil {
					return err
				}
				gaps = append(gaps, Gap{At: recordStart, Length: length, TagLen: tagLen})
			default:
				return withPosition(seqstore.ErrPartialWrite, recordStart)
			}
			pos += length
		}
		if foundEnd {
			break
		}
	}

	if !foundEnd {
		switch strategy {
		case RecoveryRollback:
			s.end = pos
			if err := s.backing.ResizeFor(pos + 1); err != nil {
				return errors.Wrap(err, "rawstore: open: reserve end tag")
			}
			buf = s.backing.Bytes()
			endPos := pos
			tag.WriteBuffer(buf, &endPos, tag.End())
			if err := s.backing.FlushRange(pos, 1); err != nil {
				return err
			}
		default:
			return seqstore.ErrNoEnd
		}
	} else {
		for i := s.end + 1; i < len(buf); i++ {
			if buf[i] != 0 {
				return withPosition(seqstore.ErrDataAfterEnd, i)
			}
		}
	}

	s.gaps = gaps
	return nil
}
