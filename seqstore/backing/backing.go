// Package backing owns a sized mutable byte region, either file-mapped
// (shared with a file exclusively locked for the Backing's lifetime) or
// anonymous (process-private), and exposes growth, byte access, and
// whole/partial flush to persistent storage.
package backing

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/edsrzf/mmap-go"
	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"
)

// growthChunk is the quantum a file-backed region grows in; amortises
// the cost of the underlying remap.
const growthChunk = 256

// Backing is a contiguous mutable byte region. NewFile and NewAnon
// create it at least growthChunk bytes long; ResizeTo can set any
// length, including a smaller one.
// It is not safe for concurrent use; the slab store above it is
// single-writer (see spec's concurrency model).
type Backing struct {
	path   string
	file   *os.File
	lock   *flock.Flock
	mapped mmap.MMap // nil for the anonymous variant
	anon   []byte    // non-nil for the anonymous variant
}

// NewFile creates or opens a file-backed Backing at path, exclusively
// locking it for the lifetime of the Backing. If the file is empty it is
// grown to growthChunk bytes before mapping.
func NewFile(path string) (*Backing, error) {
	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, errors.Wrapf(err, "backing: lock %s", path)
	}
	if !ok {
		return nil, errors.Newf("backing: %s is already locked by another process", path)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		_ = lock.Unlock()
		return nil, errors.Wrapf(err, "backing: open %s", path)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		_ = lock.Unlock()
		return nil, errors.Wrapf(err, "backing: stat %s", path)
	}
	if info.Size() < growthChunk {
		if err := f.Truncate(growthChunk); err != nil {
			_ = f.Close()
			_ = lock.Unlock()
			return nil, errors.Wrapf(err, "backing: resize %s", path)
		}
	}

	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		_ = f.Close()
		_ = lock.Unlock()
		return nil, errors.Wrapf(err, "backing: mmap %s", path)
	}

	return &Backing{path: path, file: f, lock: lock, mapped: m}, nil
}

// NewAnon creates a process-private Backing of growthChunk bytes.
func NewAnon() *Backing {
	return &Backing{anon: make([]byte, growthChunk)}
}

// Bytes returns the current contents. The slice is invalidated by any
// call that grows the Backing.
func (b *Backing) Bytes() []byte {
	if b.mapped != nil {
		return b.mapped
	}
	return b.anon
}

// Len returns the current length of the backing region.
func (b *Backing) Len() int {
	return len(b.Bytes())
}

// IsFile reports whether this Backing is file-mapped.
func (b *Backing) IsFile() bool {
	return b.mapped != nil
}

// Write copies bytes into the region starting at *pos, growing the
// region first if necessary, and advances *pos past the written bytes.
func (b *Backing) Write(data []byte, pos *int) error {
	if err := b.ResizeFor(*pos + len(data)); err != nil {
		return err
	}
	copy(b.Bytes()[*pos:], data)
	*pos += len(data)
	return nil
}

// ResizeFor ensures the region is at least need bytes long, growing in
// growthChunk increments.
func (b *Backing) ResizeFor(need int) error {
	if need <= b.Len() {
		return nil
	}
	newLen := (need/growthChunk + 1) * growthChunk
	return b.ResizeTo(newLen)
}

// ResizeTo grows or shrinks the region to exactly newLen bytes.
func (b *Backing) ResizeTo(newLen int) error {
	if b.mapped != nil {
		if err := b.mapped.Unmap(); err != nil {
			return errors.Wrapf(err, "backing: unmap %s before resize", b.path)
		}
		b.mapped = nil
		if err := b.file.Truncate(int64(newLen)); err != nil {
			return errors.Wrapf(err, "backing: truncate %s to %d", b.path, newLen)
		}
		m, err := mmap.Map(b.file, mmap.RDWR, 0)
		if err != nil {
			return errors.Wrapf(err, "backing: remap %s", b.path)
		}
		b.mapped = m
		return nil
	}

	if newLen <= len(b.anon) {
		b.anon = b.anon[:newLen]
		return nil
	}
	grown := make([]byte, newLen)
	copy(grown, b.anon)
	b.anon = grown
	return nil
}

// Flush commits every dirty byte of a file-backed region to storage. A
// no-op for the anonymous variant.
func (b *Backing) Flush() error {
	if b.mapped == nil {
		return nil
	}
	if err := b.mapped.Flush(); err != nil {
		return errors.Wrapf(err, "backing: flush %s", b.path)
	}
	return nil
}

// FlushRange commits [start, start+length) to storage. mmap-go only
// exposes whole-mapping flush, so partial ranges go through msync
// directly, page-aligned as POSIX requires.
func (b *Backing) FlushRange(start, length int) error {
	if b.mapped == nil || length <= 0 {
		return nil
	}
	pageSize := os.Getpagesize()
	alignedStart := start &^ (pageSize - 1)
	end := start + length
	if end > len(b.mapped) {
		end = len(b.mapped)
	}
	alignedEnd := ((end + pageSize - 1) / pageSize) * pageSize
	if alignedEnd > len(b.mapped) {
		alignedEnd = len(b.mapped)
	}
	if alignedEnd <= alignedStart {
		return nil
	}
	region := []byte(b.mapped[alignedStart:alignedEnd])
	if err := unix.Msync(region, unix.MS_SYNC); err != nil {
		return errors.Wrapf(err, "backing: msync [%d,%d) of %s", alignedStart, alignedEnd, b.path)
	}
	return nil
}

// Close flushes and releases the region, unlocking and closing the
// underlying file for the file-mapped variant.
func (b *Backing) Close() error {
	if b.mapped == nil {
		return nil
	}
	var errs []error
	if err := b.mapped.Flush(); err != nil {
		errs = append(errs, err)
	}
	if err := b.mapped.Unmap(); err != nil {
		errs = append(errs, err)
	}
	b.mapped = nil
	if err := b.file.Close(); err != nil {
		errs = append(errs, err)
	}
	if b.lock != nil {
		if err := b.lock.Unlock(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Wrapf(errs[0], "backing: close %s", b.path)
	}
	return nil
}
