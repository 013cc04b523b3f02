package phobos

import (
	"bytes"
	"encoding/binary"
	"os"

	"github.com/cockroachdb/errors"
)

// walRecord is a single parsed write-ahead-log entry.
type walRecord struct {
	kind  byte
	key   []byte
	value uint64 // meaningful only when kind == walTagInsert
}

const (
	walTagInsert  = 0x00
	walTagFlushed = 0x01
	walTagDelete  = 0x02
)

func appendInsert(f *os.File, key []byte, value uint64) error {
	var buf bytes.Buffer
	buf.WriteByte(walTagInsert)
	var vb [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(vb[:], uint64(len(key)))
	buf.Write(vb[:n])
	buf.Write(key)
	n = binary.PutUvarint(vb[:], value)
	buf.Write(vb[:n])
	if _, err := f.Write(buf.Bytes()); err != nil {
		return errors.Wrap(err, "phobos: wal: append insert")
	}
	return errors.Wrap(f.Sync(), "phobos: wal: fsync")
}

func appendDelete(f *os.File, key []byte) error {
	var buf bytes.Buffer
	buf.WriteByte(walTagDelete)
	var vb [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(vb[:], uint64(len(key)))
	buf.Write(vb[:n])
	buf.Write(key)
	if _, err := f.Write(buf.Bytes()); err != nil {
		return errors.Wrap(err, "phobos: wal: append delete")
	}
	return errors.Wrap(f.Sync(), "phobos: wal: fsync")
}

func appendFlushed(f *os.File) error {
	if _, err := f.Write([]byte{walTagFlushed}); err != nil {
		return errors.Wrap(err, "phobos: wal: append flushed")
	}
	return errors.Wrap(f.Sync(), "phobos: wal: fsync")
}

// parseWAL decodes every well-formed record in data, stopping silently
// at the first truncated or unrecognized tag so that an arbitrarily
// truncated WAL tail yields the state of some prefix of the recorded
// operations (spec.md's crash-replay property, P7).
func parseWAL(data []byte) []walRecord {
	var out []walRecord
	pos := 0
	for pos < len(data) {
		switch data[pos] {
		case walTagInsert:
			p := pos + 1
			klen, n := binary.Uvarint(data[p:])
			if n <= 0 {
				return out
			}
			p += n
			if p+int(klen) > len(data) {
				return out
			}
			key := append([]byte(nil), data[p:p+int(klen)]...)
			p += int(klen)
			value, n := binary.Uvarint(data[p:])
			if n <= 0 {
				return out
			}
			p += n
			out = append(out, walRecord{kind: walTagInsert, key: key, value: value})
			pos = p
		case walTagDelete:
			p := pos + 1
			klen, n := binary.Uvarint(data[p:])
			if n <= 0 {
				return out
			}
			p += n
			if p+int(klen) > len(data) {
				return out
			}
			key := append([]byte(nil), data[p:p+int(klen)]...)
			p += int(klen)
			out = append(out, walRecord{kind: walTagDelete, key: key})
			pos = p
		case walTagFlushed:
			out = append(out, walRecord{kind: walTagFlushed})
			pos++
		default:
			return out
		}
	}
	return out
}
