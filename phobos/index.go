package phobos

import (
	"bytes"
	"encoding/binary"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/natefinch/atomic"
)

// indexMagic is spec.md's literal External Interfaces byte sequence:
// 0xFE 'ruFSTg' 0xAA.
var indexMagic = []byte{0xFE, 'r', 'u', 'F', 'S', 'T', 'g', 0xAA}

type indexEntry struct {
	id    uint64
	level uint8
	count int
}

// readIndex parses the index file at path. A missing file is not an
// error: it means no tables have been flushed yet.
func readIndex(path string) ([]indexEntry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "phobos: read index %s", path)
	}
	if len(data) < len(indexMagic) || !bytes.Equal(data[:len(indexMagic)], indexMagic) {
		return nil, errors.Newf("phobos: index %s has bad magic", path)
	}
	pos := len(indexMagic)
	n, sz := binary.Uvarint(data[pos:])
	if sz <= 0 {
		return nil, errors.Newf("phobos: index %s: invalid count varint", path)
	}
	pos += sz

	entries := make([]indexEntry, 0, n)
	for i := uint64(0); i < n; i++ {
		id, sz := binary.Uvarint(data[pos:])
		if sz <= 0 {
			return nil, errors.Newf("phobos: index %s: invalid id varint", path)
		}
		pos += sz
		if pos >= len(data) {
			return nil, errors.Newf("phobos: index %s: truncated level byte", path)
		}
		level := data[pos]
		pos++
		count, sz := binary.Uvarint(data[pos:])
		if sz <= 0 {
			return nil, errors.Newf("phobos: index %s: invalid count varint", path)
		}
		pos += sz
		entries = append(entries, indexEntry{id: id, level: level, count: int(count)})
	}
	return entries, nil
}

// writeIndex rewrites the index file atomically: write to a staging
// path, then rename over the active one.
func writeIndex(stagePath, finalPath string, entries []indexEntry) error {
	var buf bytes.Buffer
	buf.Write(indexMagic)
	var varintBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(varintBuf[:], uint64(len(entries)))
	buf.Write(varintBuf[:n])
	for _, e := range entries {
		n := binary.PutUvarint(varintBuf[:], e.id)
		buf.Write(varintBuf[:n])
		buf.WriteByte(e.level)
		n = binary.PutUvarint(varintBuf[:], uint64(e.count))
		buf.Write(varintBuf[:n])
	}
	if err := atomic.WriteFile(stagePath, bytes.NewReader(buf.Bytes())); err != nil {
		return errors.Wrapf(err, "phobos: write index %s", stagePath)
	}
	if err := os.Rename(stagePath, finalPath); err != nil {
		return errors.Wrapf(err, "phobos: rename index %s -> %s", stagePath, finalPath)
	}
	return nil
}
