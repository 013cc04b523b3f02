// Package ark is the thin content-addressed object store facade
// described in SPEC_FULL.md §12: it wires one intmultistore per digest
// algorithm behind a single Put/Get surface, deduplicating candidates
// that agree on every digest and a byte-for-byte comparison.
package ark

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/a-n-d-r-e-w-l/covenant/intmultistore"
	"github.com/a-n-d-r-e-w-l/covenant/seqstore"
	"github.com/a-n-d-r-e-w-l/covenant/seqstore/backing"
	"github.com/a-n-d-r-e-w-l/covenant/seqstore/rawstore"
)

// objectSpecMagic distinguishes ark's object slab from any other
// rawstore consumer over the same directory layout.
var objectSpecMagic = []byte("ark-objects-v1")

// Ref names a stored object: its digests under every indexed algorithm
// and the id of its content in the object store.
type Ref struct {
	Digests Digests
	ID      seqstore.ID
}

// Options configures a Store.
type Options struct {
	Logger *zap.Logger
}

// Option mutates Options.
type Option func(*Options)

// WithLogger attaches a structured logger.
func WithLogger(l *zap.Logger) Option { return func(o *Options) { o.Logger = l } }

// Store is the content-addressed object store.
type Store struct {
	dir  string
	lock *flock.Flock

	objBacking *backing.Backing
	objects    *rawstore.Store

	digestStores [5]*intmultistore.Store
	log          *zap.Logger
}

// Open opens or creates the object store rooted at dir, taking the
// ARK.LOCK sentinel (spec.md §4.6) for its lifetime.
func Open(dir string, opts ...Option) (*Store, error) {
	o := Options{Logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "ark: mkdir %s", dir)
	}

	lock := flock.New(filepath.Join(dir, "ARK.LOCK"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, errors.Wrap(err, "ark: lock ARK.LOCK")
	}
	if !ok {
		return nil, errors.Newf("ark: %s is already opened by another process", dir)
	}

	objPath := filepath.Join(dir, "objects.slab")
	info, statErr := os.Stat(objPath)
	fresh := os.IsNotExist(statErr) || (statErr == nil && info.Size() == 0)
	objBacking, err := backing.NewFile(objPath)
	if err != nil {
		_ = lock.Unlock()
		return nil, errors.Wrap(err, "ark: open object backing")
	}
	var objects *rawstore.Store
	if fresh {
		objects, err = rawstore.New(objBacking, objectSpecMagic)
	} else {
		objects, err = rawstore.Open(objBacking,
			rawstore.WithSpecMagic(objectSpecMagic),
			rawstore.WithRecoveryStrategy(rawstore.RecoveryRollback))
	}
	if err != nil {
		_ = objBacking.Close()
		_ = lock.Unlock()
		return nil, errors.Wrap(err, "ark: open object store")
	}

	s := &Store{dir: dir, lock: lock, objBacking: objBacking, objects: objects, log: o.Logger}
	for i, name := range digestNames {
		ms, err := intmultistore.Open(dir, name, intmultistore.WithLogger(o.Logger))
		if err != nil {
			_ = s.closePartial(i)
			return nil, errors.Wrapf(err, "ark: open digest index %s", name)
		}
		s.digestStores[i] = ms
	}
	return s, nil
}

func (s *Store) closePartial(upTo int) error {
	var first error
	for i := 0; i < upTo; i++ {
		if err := s.digestStores[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	if err := s.objects.Close(); err != nil && first == nil {
		first = err
	}
	if err := s.lock.Unlock(); err != nil && first == nil {
		first = err
	}
	return first
}

// Close releases every digest index, the object store, and ARK.LOCK.
func (s *Store) Close() error {
	return s.closePartial(len(s.digestStores))
}

// Put stores data's content if no existing object agrees with it on
// every digest and a byte comparison; otherwise it returns the
// existing object's Ref. The returned bool reports whether data was
// newly stored.
func (s *Store) Put(r io.Reader) (Ref, bool, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Ref{}, false, errors.Wrap(err, "ark: read candidate")
	}
	d := computeDigests(data)
	keys := d.slices()

	candidateSets := make([]map[seqstore.ID]bool, len(s.digestStores))
	for i, ms := range s.digestStores {
		values, err := ms.Get(string(keys[i]))
		if err != nil && !errors.Is(err, intmultistore.ErrKeyNotFound) {
			return Ref{}, false, errors.Wrapf(err, "ark: lookup %s", digestNames[i])
		}
		set := make(map[seqstore.ID]bool, len(values))
		for _, v := range values {
			set[seqstore.UnpackID(v)] = true
		}
		candidateSets[i] = set
	}

	var common []seqstore.ID
	if len(candidateSets[0]) > 0 {
		for id := range candidateSets[0] {
			inAll := true
			for _, set := range candidateSets[1:] {
				if !set[id] {
					inAll = false
					break
				}
			}
			if inAll {
				common = append(common, id)
			}
		}
	}

	for _, id := range common {
		existing, err := s.objects.Get(id)
		if err != nil {
			return Ref{}, false, errors.Wrap(err, "ark: read candidate match")
		}
		if bytes.Equal(existing, data) {
			return Ref{Digests: d, ID: id}, false, nil
		}
	}

	id, err := s.objects.Add(data)
	if err != nil {
		return Ref{}, false, errors.Wrap(err, "ark: store object")
	}
	for i, ms := range s.digestStores {
		if err := ms.Insert(string(keys[i]), id.Pack()); err != nil {
			return Ref{}, false, errors.Wrapf(err, "ark: index %s", digestNames[i])
		}
	}
	return Ref{Digests: d, ID: id}, true, nil
}

// Get returns the content of the object named by ref.
func (s *Store) Get(ref Ref) ([]byte, error) {
	data, err := s.objects.Get(ref.ID)
	return data, errors.Wrap(err, "ark: get")
}
