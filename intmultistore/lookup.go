package intmultistore

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/a-n-d-r-e-w-l/covenant/phobos"
	"github.com/a-n-d-r-e-w-l/covenant/seqstore"
	"github.com/a-n-d-r-e-w-l/covenant/seqstore/backing"
	"github.com/a-n-d-r-e-w-l/covenant/seqstore/rawstore"
)

// SpecMagic distinguishes a value-list slab file from any other
// consumer of the seqstore package opening the same kind of backing.
var SpecMagic = []byte("intmultistore-v1")

// Options configures a Store. Fanout and MemoryThreshold are passed
// straight through to the underlying phobos.Database.
type Options struct {
	Fanout          int
	MemoryThreshold int
	Logger          *zap.Logger
	Registerer      prometheus.Registerer
}

// Option mutates Options.
type Option func(*Options)

// WithFanout sets the underlying sorted-string map's leveled-merge
// fanout.
func WithFanout(f int) Option { return func(o *Options) { o.Fanout = f } }

// WithMemoryThreshold sets the underlying sorted-string map's memtable
// flush threshold.
func WithMemoryThreshold(t int) Option { return func(o *Options) { o.MemoryThreshold = t } }

// WithLogger attaches a structured logger, forwarded to the underlying
// sorted-string map.
func WithLogger(l *zap.Logger) Option { return func(o *Options) { o.Logger = l } }

// WithRegisterer forwards Prometheus instrumentation to the underlying
// sorted-string map.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *Options) { o.Registerer = reg }
}

// Store is a durable map from string key to a sorted set of distinct
// uint64 values: a phobos.Database mapping each key to a packed
// seqstore.ID, and a rawstore.Store holding the value set itself as a
// slab entry.
type Store struct {
	dir    string
	prefix string

	idx  *phobos.Database
	slab *rawstore.Store
	back *backing.Backing
}

// slabPath is the canonical on-disk location of the value-list slab,
// the name Open always (re)attaches to.
func (s *Store) slabPath() string { return filepath.Join(s.dir, s.prefix+".lkp") }

// slabStagePath is where Cleanup builds the compacted slab before
// renaming it onto slabPath, mirroring phobos's index/table staging
// convention.
func (s *Store) slabStagePath() string { return filepath.Join(s.dir, "."+s.prefix+".lkp~") }

// Open opens or creates a Store rooted at dir with file prefix prefix.
func Open(dir, prefix string, opts ...Option) (*Store, error) {
	o := Options{Fanout: 6, MemoryThreshold: 128, Logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	idx, err := phobos.Open(dir, prefix,
		phobos.WithFanout(o.Fanout),
		phobos.WithMemoryThreshold(o.MemoryThreshold),
		phobos.WithLogger(o.Logger),
		phobos.WithRegisterer(o.Registerer))
	if err != nil {
		return nil, errors.Wrap(err, "intmultistore: open index")
	}

	s := &Store{dir: dir, prefix: prefix, idx: idx}
	slabPath := s.slabPath()
	info, statErr := os.Stat(slabPath)
	fresh := os.IsNotExist(statErr) || (statErr == nil && info.Size() == 0)

	b, err := backing.NewFile(slabPath)
	if err != nil {
		_ = idx.Close()
		return nil, errors.Wrap(err, "intmultistore: open slab backing")
	}

	var slab *rawstore.Store
	if fresh {
		slab, err = rawstore.New(b, SpecMagic, rawstore.WithRegisterer(o.Registerer))
	} else {
		slab, err = rawstore.Open(b,
			rawstore.WithSpecMagic(SpecMagic),
			rawstore.WithRecoveryStrategy(rawstore.RecoveryRollback),
			rawstore.WithRegisterer(o.Registerer))
	}
	if err != nil {
		_ = b.Close()
		_ = idx.Close()
		return nil, errors.Wrap(err, "intmultistore: open slab")
	}

	s.slab = slab
	s.back = b
	return s, nil
}

// Close releases the underlying slab and index resources.
func (s *Store) Close() error {
	err1 := s.slab.Close()
	err2 := s.idx.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Get returns the sorted, distinct values associated with key.
func (s *Store) Get(key string) ([]uint64, error) {
	packed, ok := s.idx.Get([]byte(key))
	if !ok {
		return nil, ErrKeyNotFound
	}
	payload, err := s.slab.Get(seqstore.UnpackID(packed))
	if err != nil {
		return nil, errors.Wrap(err, "intmultistore: get")
	}
	return decodeValues(payload)
}

// GetIdx reports whether key's value set contains value. It decodes
// the full list via Get and scans it.
func (s *Store) GetIdx(key string, value uint64) (bool, error) {
	values, err := s.Get(key)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, v := range values {
		if v == value {
			return true, nil
		}
	}
	return false, nil
}

// Insert adds value to key's value set, creating the key if it is
// absent. The new slab entry is written and indexed before the old one
// is freed, so a crash mid-Insert leaves either the old or the new
// entry reachable, never neither.
func (s *Store) Insert(key string, value uint64) error {
	packed, exists := s.idx.Get([]byte(key))
	var oldID seqstore.ID
	var values []uint64
	if exists {
		oldID = seqstore.UnpackID(packed)
		payload, err := s.slab.Get(oldID)
		if err != nil {
			return errors.Wrap(err, "intmultistore: insert: read existing")
		}
		values, err = decodeValues(payload)
		if err != nil {
			return err
		}
	}

	newValues, ok := insertSorted(values, value)
	if !ok {
		return ErrValueExists
	}

	newID, err := s.slab.Add(encodeValues(newValues))
	if err != nil {
		return errors.Wrap(err, "intmultistore: insert: add")
	}
	if err := s.idx.Set([]byte(key), newID.Pack()); err != nil {
		return errors.Wrap(err, "intmultistore: insert: index")
	}
	if exists {
		if err := s.slab.Remove(oldID, nil); err != nil {
			return errors.Wrap(err, "intmultistore: insert: free old")
		}
	}
	return nil
}

// Remove removes value from key's value set. If the set becomes
// empty, the key is left pointing at an empty slab entry; Cleanup
// reclaims such keys offline (spec.md's multi-value orphan recovery —
// see DESIGN.md).
func (s *Store) Remove(key string, value uint64) error {
	packed, exists := s.idx.Get([]byte(key))
	if !exists {
		return ErrKeyNotFound
	}
	oldID := seqstore.UnpackID(packed)
	payload, err := s.slab.Get(oldID)
	if err != nil {
		return errors.Wrap(err, "intmultistore: remove: read existing")
	}
	values, err := decodeValues(payload)
	if err != nil {
		return err
	}
	newValues, ok := removeSorted(values, value)
	if !ok {
		return ErrValueNotFound
	}

	newID, err := s.slab.Add(encodeValues(newValues))
	if err != nil {
		return errors.Wrap(err, "intmultistore: remove: add")
	}
	if err := s.idx.Set([]byte(key), newID.Pack()); err != nil {
		return errors.Wrap(err, "intmultistore: remove: index")
	}
	return s.slab.Remove(oldID, nil)
}

// Cleanup performs an offline compaction (spec.md §4.5.1): keys whose
// value set has gone empty are dropped, the slab store is compacted to
// drop orphaned and superseded entries, and the compacted slab is
// staged then renamed atomically onto the canonical slab path so a
// subsequent Open picks it up, instead of only swapping it in for this
// process's lifetime.
func (s *Store) Cleanup() error {
	type liveEntry struct {
		key string
		id  seqstore.ID
	}
	var live []liveEntry
	var orphans []string

	err := s.idx.Merge(func(key []byte, value uint64) error {
		id := seqstore.UnpackID(value)
		payload, err := s.slab.Get(id)
		if err != nil {
			return errors.Wrap(err, "intmultistore: cleanup: read")
		}
		if len(payload) == 0 {
			orphans = append(orphans, string(key))
			return nil
		}
		live = append(live, liveEntry{key: string(key), id: id})
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "intmultistore: cleanup: merge index")
	}
	for _, k := range orphans {
		if err := s.idx.Delete([]byte(k)); err != nil {
			return errors.Wrapf(err, "intmultistore: cleanup: delete orphan key %q", k)
		}
	}

	keepIDs := make([]seqstore.ID, len(live))
	for i, e := range live {
		keepIDs[i] = e.id
	}

	stagePath := s.slabStagePath()
	if err := os.Remove(stagePath); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "intmultistore: cleanup: clear stale stage %s", stagePath)
	}
	dst, err := backing.NewFile(stagePath)
	if err != nil {
		return errors.Wrap(err, "intmultistore: cleanup: open stage backing")
	}
	newSlab, remap, err := rawstore.Filter(s.slab, dst, keepIDs)
	if err != nil {
		_ = dst.Close()
		return errors.Wrap(err, "intmultistore: cleanup: filter")
	}

	for _, e := range live {
		newID, ok := remap[e.id]
		if !ok {
			return errors.Newf("intmultistore: cleanup: missing remap for key %q", e.key)
		}
		if err := s.idx.Set([]byte(e.key), newID.Pack()); err != nil {
			return errors.Wrap(err, "intmultistore: cleanup: rewrite index")
		}
	}

	oldSlab := s.slab
	if err := oldSlab.Close(); err != nil {
		return errors.Wrap(err, "intmultistore: cleanup: close old slab")
	}
	finalPath := s.slabPath()
	if err := os.Rename(stagePath, finalPath); err != nil {
		return errors.Wrapf(err, "intmultistore: cleanup: rename %s -> %s", stagePath, finalPath)
	}

	s.slab = newSlab
	s.back = dst
	return nil
}
