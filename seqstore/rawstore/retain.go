package rawstore

import (
	"github.com/a-n-d-r-e-w-l/covenant/seqstore"
	"github.com/a-n-d-r-e-w-l/covenant/seqstore/internal/tag"
)

// Retain deletes every record not named by sortedIDs, which must be
// strictly ascending by offset, in a single left-to-right scan. The
// gap list is rebuilt from scratch; unlike Remove, adjacent gaps
// produced by a Retain pass are not coalesced (spec.md §4.3.5).
func (s *Store) Retain(sortedIDs []seqstore.ID) error {
	for i := 1; i < len(sortedIDs); i++ {
		if sortedIDs[i].Offset() <= sortedIDs[i-1].Offset() {
			return seqstore.ErrUnsortedInputs
		}
	}

	buf := s.backing.Bytes()
	pos := s.headerLen
	want := 0
	var newGaps []Gap

	for pos < s.end {
		recordStart := pos
		t, err := tag.Read(buf, &pos)
		if err != nil {
			return err
		}
		tagLen := pos - recordStart
		length := int(t.Length)

		wantsThis := want < len(sortedIDs) && int(sortedIDs[want].Offset()) == recordStart

		if t.Kind == tag.KindWriting && wantsThis {
			return seqstore.ErrRetainPartial
		}

		if t.Kind == tag.KindWritten && wantsThis {
			want++
			pos = recordStart + tagLen + length
			continue
		}

		// Not retained (already a gap, or a live/writing record being
		// dropped): overwrite with a Deleted tag of the same span.
		wpos := recordStart
		if err := tag.WriteExact(buf, &wpos, tag.Deleted(uint64(length)), tagLen); err != nil {
			return err
		}
		zero(buf[wpos : recordStart+tagLen+length])
		newGaps = append(newGaps, Gap{At: recordStart, Length: length, TagLen: tagLen})
		pos = recordStart + tagLen + length
	}

	if want != len(sortedIDs) {
		return seqstore.ErrRetainPartial
	}

	s.gaps = newGaps
	return s.backing.FlushRange(s.headerLen, s.end-s.headerLen)
}
