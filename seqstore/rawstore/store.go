// Package rawstore implements the slab store: a gap-tracked allocator
// and record lifecycle over a backing.Backing, with a durable on-disk
// format recoverable after a crash.
package rawstore

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/a-n-d-r-e-w-l/covenant/seqstore"
	"github.com/a-n-d-r-e-w-l/covenant/seqstore/backing"
	"github.com/a-n-d-r-e-w-l/covenant/seqstore/internal/tag"
)

var (
	headerMagic   = [...]byte{0x1F, 'P', 'L', 'F', 'm', 'a', 'p'}
	headerVersion = [...]byte{0x00, 0x00}
)

// Gap records a Deleted span in the slab, kept in memory so Add can
// reuse it without rescanning the file.
type Gap struct {
	At     int // offset of the gap's tag byte
	Length int // payload length
	TagLen int // bytes occupied by the tag
}

func (g Gap) span() int { return g.TagLen + g.Length }

// Store is the slab store: a durable mapping from seqstore.ID to byte
// string, backed by a backing.Backing.
type Store struct {
	backing   *backing.Backing
	specMagic []byte
	headerLen int
	end       int // offset of the current End tag (append point)
	gaps      []Gap
	met       *metrics
}

// WithRegisterer opts a Store into Prometheus instrumentation
// (gap-count gauge, add/remove counters). Unset by default.
func WithRegisterer(reg prometheus.Registerer) OpenOption {
	return func(o *OpenOptions) { o.Registerer = reg }
}

// New initializes a fresh Store in b, which must be empty or
// zero-filled, stamping specMagic into the header so a later Open can
// reject cross-loading by a different consumer.
func New(b *backing.Backing, specMagic []byte, opts ...OpenOption) (*Store, error) {
	var o OpenOptions
	for _, opt := range opts {
		opt(&o)
	}
	s := &Store{backing: b, specMagic: append([]byte(nil), specMagic...), met: newMetrics(o.Registerer)}
	header := s.buildHeader()
	s.headerLen = len(header)

	pos := 0
	if err := b.Write(header, &pos); err != nil {
		return nil, errors.Wrap(err, "rawstore: write header")
	}
	if err := b.ResizeFor(pos + 1); err != nil {
		return nil, errors.Wrap(err, "rawstore: reserve end tag")
	}
	buf := b.Bytes()
	s.end = pos
	tag.WriteBuffer(buf, &pos, tag.End())
	if err := b.Flush(); err != nil {
		return nil, errors.Wrap(err, "rawstore: flush header")
	}
	return s, nil
}

func (s *Store) buildHeader() []byte {
	var varintBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(varintBuf[:], uint64(len(s.specMagic)))

	header := make([]byte, 0, len(headerMagic)+len(headerVersion)+n+len(s.specMagic))
	header = append(header, headerMagic[:]...)
	header = append(header, headerVersion[:]...)
	header = append(header, varintBuf[:n]...)
	header = append(header, s.specMagic...)
	return header
}

// Close flushes and releases the underlying Backing.
func (s *Store) Close() error {
	return s.backing.Close()
}

// Add stores payload and returns an ID to retrieve it by. See
// spec.md §4.3.3 for the gap-selection and two-phase-durability
// algorithm implemented here.
func (s *Store) Add(payload []byte) (seqstore.ID, error) {
	length := len(payload)
	required := tag.WrittenLength(tag.Writing(uint64(length))) + length

	best := -1
	scanned := s.gaps
	if len(scanned) > 8 {
		scanned = scanned[:8]
	}
	for i, g := range scanned {
		size := g.span()
		if size == required || size >= required+5 {
			if best == -1 || size < s.gaps[best].span() {
				best = i
			}
		}
	}

	var p int
	appending := best == -1
	if appending {
		p = s.end
	} else {
		p = s.gaps[best].At
	}

	if err := s.backing.ResizeFor(p + required + 1); err != nil {
		return seqstore.ID{}, errors.Wrap(err, "rawstore: add: resize")
	}
	buf := s.backing.Bytes()

	pos := p
	tag.WriteBuffer(buf, &pos, tag.Writing(uint64(length)))
	copy(buf[pos:], payload)
	pos += length

	if !appending {
		gap := s.gaps[best]
		remainder := gap.span() - required
		if remainder > 0 {
			rTagLen, rPayloadLen := tag.CalcTagLen(remainder)
			wpos := pos
			if err := tag.WriteExact(buf, &wpos, tag.Deleted(uint64(rPayloadLen)), rTagLen); err != nil {
				return seqstore.ID{}, err
			}
			zero(buf[wpos:pos+remainder])
			s.gaps[best] = Gap{At: pos, Length: rPayloadLen, TagLen: rTagLen}
		} else {
			s.gaps = append(s.gaps[:best], s.gaps[best+1:]...)
		}
	} else {
		s.end = pos
		if err := s.backing.ResizeFor(pos + 1); err != nil {
			return seqstore.ID{}, errors.Wrap(err, "rawstore: add: reserve end tag")
		}
		buf = s.backing.Bytes()
		endPos := pos
		tag.WriteBuffer(buf, &endPos, tag.End())
	}

	if err := s.backing.FlushRange(p, s.end+1-p); err != nil {
		return seqstore.ID{}, errors.Wrap(err, "rawstore: add: flush payload")
	}

	tag.FlipWritingToWritten(buf, p)
	if err := s.backing.FlushRange(p, 1); err != nil {
		return seqstore.ID{}, errors.Wrap(err, "rawstore: add: flush tag flip")
	}

	s.met.recordAdd(len(s.gaps))
	return seqstore.NewID(uint64(p), uint64(length)), nil
}

// View calls fn with the payload named by id, without copying it. fn
// must not retain the slice past its return.
func (s *Store) View(id seqstore.ID, fn func([]byte) error) error {
	buf := s.backing.Bytes()
	p := int(id.Offset())
	pos := p
	t, err := tag.Read(buf, &pos)
	if err != nil {
		return err
	}
	switch t.Kind {
	case tag.KindDeleted:
		return withPosition(seqstore.ErrAlreadyDeleted, p)
	case tag.KindWriting:
		return withPosition(seqstore.ErrEntryCorrupt, p)
	case tag.KindEnd:
		return withPosition(seqstore.ErrIncorrectTag, p)
	}
	if !id.Verify(t.Length) {
		return withPosition(seqstore.ErrIDCheck, p)
	}
	return fn(buf[pos : pos+int(t.Length)])
}

// Get copies and returns the payload named by id.
func (s *Store) Get(id seqstore.ID) ([]byte, error) {
	var out []byte
	err := s.View(id, func(b []byte) error {
		out = append([]byte(nil), b...)
		return nil
	})
	return out, err
}

// Replace overwrites the payload named by id with newPayload, which
// must be the same length as the existing one.
func (s *Store) Replace(id seqstore.ID, newPayload []byte) error {
	buf := s.backing.Bytes()
	p := int(id.Offset())
	pos := p
	t, err := tag.Read(buf, &pos)
	if err != nil {
		return err
	}
	switch t.Kind {
	case tag.KindDeleted:
		return withPosition(seqstore.ErrCannotReplaceDeleted, p)
	case tag.KindWriting:
		return withPosition(seqstore.ErrEntryCorrupt, p)
	case tag.KindEnd:
		return withPosition(seqstore.ErrIncorrectTag, p)
	}
	if !id.Verify(t.Length) {
		return withPosition(seqstore.ErrIDCheck, p)
	}
	if uint64(len(newPayload)) != t.Length {
		return withPosition(seqstore.ErrMismatchedLengths, p)
	}
	copy(buf[pos:pos+len(newPayload)], newPayload)
	return s.backing.FlushRange(pos, len(newPayload))
}

// Remove calls fn with the payload named by id (if fn is non-nil), then
// deletes the record, coalescing with any adjacent gap.
func (s *Store) Remove(id seqstore.ID, fn func([]byte) error) error {
	buf := s.backing.Bytes()
	p := int(id.Offset())
	pos := p
	t, err := tag.Read(buf, &pos)
	if err != nil {
		return err
	}
	switch t.Kind {
	case tag.KindDeleted:
		return withPosition(seqstore.ErrAlreadyDeleted, p)
	case tag.KindWriting:
		return withPosition(seqstore.ErrEntryCorrupt, p)
	case tag.KindEnd:
		panic(errors.AssertionFailedf("rawstore: cannot remove end tag at position %d", p))
	}
	if !id.Verify(t.Length) {
		return withPosition(seqstore.ErrIDCheck, p)
	}
	tagLen := pos - p
	length := int(t.Length)
	if fn != nil {
		if err := fn(buf[pos : pos+length]); err != nil {
			return err
		}
	}
	recordEnd := pos + length

	beforeIdx, afterIdx := -1, -1
	for i, g := range s.gaps {
		if g.At+g.span() == p {
			beforeIdx = i
		}
		if g.At == recordEnd {
			afterIdx = i
		}
	}

	if beforeIdx == -1 && afterIdx == -1 {
		tag.FlipWrittenToDeleted(buf, p)
		zero(buf[pos:recordEnd])
		s.gaps = append(s.gaps, Gap{At: p, Length: length, TagLen: tagLen})
		s.met.recordRemove(len(s.gaps))
		return s.backing.FlushRange(p, recordEnd-p)
	}

	start, end := p, recordEnd
	if beforeIdx != -1 {
		start = s.gaps[beforeIdx].At
	}
	if afterIdx != -1 {
		g := s.gaps[afterIdx]
		end = g.At + g.span()
	}

	newTagLen, newPayloadLen := tag.CalcTagLen(end - start)
	wpos := start
	if err := tag.WriteExact(buf, &wpos, tag.Deleted(uint64(newPayloadLen)), newTagLen); err != nil {
		return err
	}
	zero(buf[wpos : start+newTagLen+newPayloadLen])

	s.gaps = removeIndices(s.gaps, beforeIdx, afterIdx)
	s.gaps = append(s.gaps, Gap{At: start, Length: newPayloadLen, TagLen: newTagLen})
	s.met.recordRemove(len(s.gaps))
	return s.backing.FlushRange(start, end-start)
}

// RemoveBytes removes id and returns a copy of its payload.
func (s *Store) RemoveBytes(id seqstore.ID) ([]byte, error) {
	var out []byte
	err := s.Remove(id, func(b []byte) error {
		out = append([]byte(nil), b...)
		return nil
	})
	return out, err
}

// WithBytes calls fn with the whole committed region of the backing,
// from the first record to the End tag. Intended for debug tooling.
func (s *Store) WithBytes(fn func([]byte)) {
	fn(s.backing.Bytes()[s.headerLen:s.end])
}

func removeIndices(gaps []Gap, idxs ...int) []Gap {
	remove := make(map[int]bool, len(idxs))
	for _, i := range idxs {
		if i >= 0 {
			remove[i] = true
		}
	}
	out := gaps[:0]
	for i, g := range gaps {
		if !remove[i] {
			out = append(out, g)
		}
	}
	return out
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func withPosition(err error, position int) error {
	return errors.Wrapf(err, "at position %s", redact.Safe(position))
}
