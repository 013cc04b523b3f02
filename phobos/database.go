// Package phobos implements the sorted-string map: an append-only
// leveled map from byte-key to 64-bit value, realised as a
// log-structured merge of sorted table files with an in-memory write
// buffer and a write-ahead log.
package phobos

import (
	"os"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/swiss"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Options configures a Database. The zero value is not valid; use
// Open, which applies defaults matching spec.md §6 (fanout 6, memory
// threshold 128).
type Options struct {
	Fanout          int
	MemoryThreshold int
	Logger          *zap.Logger
	Registerer      prometheus.Registerer
}

// Option mutates Options.
type Option func(*Options)

// WithFanout sets the leveled-merge fanout F (spec.md §4.4, default 6).
func WithFanout(f int) Option {
	return func(o *Options) { o.Fanout = f }
}

// WithMemoryThreshold sets the memtable flush threshold T (spec.md
// §4.4, default 128).
func WithMemoryThreshold(t int) Option {
	return func(o *Options) { o.MemoryThreshold = t }
}

// WithLogger attaches a structured logger for lifecycle events (open,
// recovery, flush, merge). Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithRegisterer opts the Database into Prometheus instrumentation
// (flush/merge counters, table and memtable gauges), registered
// against reg. Unset by default, so Open never registers metrics a
// caller didn't ask for.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *Options) { o.Registerer = reg }
}

// memEntry is a memtable-resident write: either a value, or a
// tombstone recording that the key was deleted after the most recent
// table entry (or absence) beneath it.
type memEntry struct {
	value     uint64
	tombstone bool
}

// Database is the sorted-string map.
type Database struct {
	pather pather
	fanout int
	memThreshold int
	log    *zap.Logger

	mem    *swiss.Map[string, memEntry]
	tables []*tableHandle
	nextID uint64

	wal *os.File
	met *metrics
}

// Open opens or creates the database rooted at dir with file prefix
// prefix, replaying and recovering its write-ahead log per spec.md
// §4.4.6.
func Open(dir, prefix string, opts ...Option) (*Database, error) {
	o := Options{Fanout: 6, MemoryThreshold: 128, Logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Fanout < 2 {
		return nil, errors.Newf("phobos: fanout must be >= 2, got %d", o.Fanout)
	}
	if o.MemoryThreshold < 16 {
		return nil, errors.Newf("phobos: memory threshold must be >= 16, got %d", o.MemoryThreshold)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "phobos: mkdir %s", dir)
	}
	p := pather{dir: dir, prefix: prefix}

	idxEntries, err := readIndex(p.indexPath())
	if err != nil {
		return nil, err
	}
	var tables []*tableHandle
	var nextID uint64
	for _, e := range idxEntries {
		t, err := openTable(p.tablePath(e.id, e.level), e.id, e.level)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
		if e.id >= nextID {
			nextID = e.id + 1
		}
	}

	db := &Database{
		pather:       p,
		fanout:       o.Fanout,
		memThreshold: o.MemoryThreshold,
		log:          o.Logger,
		mem:          swiss.New[string, memEntry](uint32(o.MemoryThreshold)),
		tables:       tables,
		nextID:       nextID,
		met:          newMetrics(o.Registerer),
	}

	if err := db.recoverWAL(); err != nil {
		return nil, err
	}
	return db, nil
}

// recoverWAL implements spec.md §4.4.6: reconcile any in-progress
// recovery from a prior crash, replay inserts, trigger a flush, and
// leave the WAL empty with no backup file.
func (db *Database) recoverWAL() error {
	backupPath := db.pather.walBackupPath()
	walPath := db.pather.walPath()

	var combined []byte
	if backup, err := os.ReadFile(backupPath); err == nil {
		combined = append(combined, backup...)
		if cur, err := os.ReadFile(walPath); err == nil {
			combined = append(combined, cur...)
		} else if !os.IsNotExist(err) {
			return errors.Wrapf(err, "phobos: read wal %s", walPath)
		}
		db.log.Info("recovering from interrupted wal recovery", zap.String("backup", backupPath))
	} else if os.IsNotExist(err) {
		cur, err := os.ReadFile(walPath)
		if err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "phobos: read wal %s", walPath)
		}
		combined = cur
		if len(cur) > 0 {
			if err := os.WriteFile(backupPath, cur, 0o644); err != nil {
				return errors.Wrapf(err, "phobos: write wal backup %s", backupPath)
			}
		}
	} else {
		return errors.Wrapf(err, "phobos: stat wal backup %s", backupPath)
	}

	f, err := os.OpenFile(walPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrapf(err, "phobos: open wal %s", walPath)
	}
	db.wal = f

	records := parseWAL(combined)
	for _, r := range records {
		switch r.kind {
		case walTagInsert:
			db.mem.Put(string(r.key), memEntry{value: r.value})
		case walTagDelete:
			db.mem.Put(string(r.key), memEntry{tombstone: true})
		}
	}
	if len(records) > 0 {
		db.log.Info("replayed wal records", zap.Int("count", len(records)))
		if err := db.Flush(); err != nil {
			return err
		}
	}

	if err := os.Remove(backupPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "phobos: remove wal backup %s", backupPath)
	}
	return nil
}

// Close releases the underlying WAL file handle. It does
// not force a final Flush; callers that want memtable contents
// persisted as a table should call Flush first.
func (db *Database) Close() error {
	if db.wal == nil {
		return nil
	}
	return errors.Wrap(db.wal.Close(), "phobos: close wal")
}

// Set durably associates key with value. The WAL append in step 1 is
// the linearisation point (spec.md §4.4.1).
func (db *Database) Set(key []byte, value uint64) error {
	if err := appendInsert(db.wal, key, value); err != nil {
		return err
	}
	db.mem.Put(string(key), memEntry{value: value})
	db.met.recordMemCount(db.mem.Count())
	if db.mem.Count() >= db.memThreshold {
		return db.Flush()
	}
	return nil
}

// Delete durably removes key, shadowing any table entry beneath it
// with a tombstone until a full Merge drops the tombstone for good.
func (db *Database) Delete(key []byte) error {
	if err := appendDelete(db.wal, key); err != nil {
		return err
	}
	db.mem.Put(string(key), memEntry{tombstone: true})
	db.met.recordMemCount(db.mem.Count())
	if db.mem.Count() >= db.memThreshold {
		return db.Flush()
	}
	return nil
}

// Get returns the value for key: the memtable if present, else the
// value from the highest-id table that contains key (spec.md §4.4.2,
// "most recent write wins"). A tombstone at the winning level reports
// not-found.
func (db *Database) Get(key []byte) (uint64, bool) {
	if e, ok := db.mem.Get(string(key)); ok {
		if e.tombstone {
			return 0, false
		}
		return e.value, true
	}
	var bestID uint64
	var best tableEntry
	found := false
	for _, t := range db.tables {
		if e, ok := t.get(key); ok {
			if !found || t.id > bestID {
				bestID, best, found = t.id, e, true
			}
		}
	}
	if !found || best.tombstone {
		return 0, false
	}
	return best.value, true
}

func (db *Database) memSnapshot() map[string]memEntry {
	out := make(map[string]memEntry, db.mem.Count())
	db.mem.Iter(func(k string, v memEntry) bool {
		out[k] = v
		return false
	})
	return out
}

// calculateLevel implements spec.md §4.4.3:
// level(count) = clamp(log_F(max(1, count/T)), 0, 255).
func (db *Database) calculateLevel(count int) uint8 {
	ratio := float64(count) / float64(db.memThreshold)
	if ratio < 1 {
		ratio = 1
	}
	level := logBase(ratio, float64(db.fanout))
	if level < 0 {
		level = 0
	}
	if level > 255 {
		level = 255
	}
	return uint8(level)
}

// Flush performs the partial merge of spec.md §4.4.4.
func (db *Database) Flush() error {
	buckets := map[uint8]int{}
	for _, t := range db.tables {
		buckets[t.level]++
	}
	maxLevel := -1
	for lvl, cnt := range buckets {
		if cnt >= db.fanout && int(lvl) > maxLevel {
			maxLevel = int(lvl)
		}
	}

	var tablesToMerge []*tableHandle
	if maxLevel >= 0 {
		for _, t := range db.tables {
			if int(t.level) <= maxLevel {
				tablesToMerge = append(tablesToMerge, t)
			}
		}
	}

	entries := mergeEntries(tablesToMerge, db.memSnapshot(), false)

	var newLevel uint8
	if maxLevel < 0 {
		newLevel = 0
	} else {
		count := len(entries)
		newLevel = db.calculateLevel(count)
	}

	if err := db.finalize(tablesToMerge, entries, newLevel); err != nil {
		return err
	}
	db.met.recordFlush(len(db.tables))
	db.log.Info("flush complete", zap.Int("entries", len(entries)), zap.Uint8("level", newLevel))
	return nil
}

// Merge performs the full merge of spec.md §4.4.5: every table and the
// memtable are merged into one, and callback is invoked for every
// emitted (key, value) pair. callback returning an error aborts the
// merge, leaving the database unchanged.
func (db *Database) Merge(callback func(key []byte, value uint64) error) error {
	entries := mergeEntries(db.tables, db.memSnapshot(), true)
	for _, e := range entries {
		if err := callback(e.key, e.value); err != nil {
			return err
		}
	}
	if err := db.finalize(db.tables, entries, db.calculateLevel(len(entries))); err != nil {
		return err
	}
	db.met.recordMerge(len(db.tables))
	return nil
}

// finalize writes the new table (if entries is non-empty), swaps it
// into the active table list in place of tablesToMerge, rewrites the
// index atomically, unlinks the retired files, drains the memtable,
// and truncates the WAL — the ordering spec.md §4.4.4 requires so that
// a crash between the index write and the unlink leaves harmless
// orphan files rather than a dangling index.
func (db *Database) finalize(tablesToMerge []*tableHandle, entries []tableEntry, newLevel uint8) error {
	merging := make(map[*tableHandle]bool, len(tablesToMerge))
	for _, t := range tablesToMerge {
		merging[t] = true
	}
	kept := make([]*tableHandle, 0, len(db.tables)-len(tablesToMerge)+1)
	for _, t := range db.tables {
		if !merging[t] {
			kept = append(kept, t)
		}
	}

	if len(entries) > 0 {
		id := db.nextID
		db.nextID++
		path := db.pather.tablePath(id, newLevel)
		if err := writeTable(db.pather.tableStagePath(), path, entries); err != nil {
			return err
		}
		kept = append(kept, &tableHandle{id: id, level: newLevel, path: path, entries: entries})
	}

	idxEntries := make([]indexEntry, len(kept))
	for i, t := range kept {
		idxEntries[i] = indexEntry{id: t.id, level: t.level, count: t.count()}
	}
	if err := writeIndex(db.pather.indexStagePath(), db.pather.indexPath(), idxEntries); err != nil {
		return err
	}
	db.tables = kept

	for _, t := range tablesToMerge {
		if err := os.Remove(t.path); err != nil && !os.IsNotExist(err) {
			db.log.Warn("failed to unlink retired table", zap.String("path", t.path), zap.Error(err))
		}
	}

	db.mem = swiss.New[string, memEntry](uint32(db.memThreshold))
	db.met.recordMemCount(0)

	if err := appendFlushed(db.wal); err != nil {
		return err
	}
	if err := db.wal.Truncate(0); err != nil {
		return errors.Wrap(err, "phobos: truncate wal")
	}
	if _, err := db.wal.Seek(0, 0); err != nil {
		return errors.Wrap(err, "phobos: seek wal")
	}
	return nil
}

// mergeEntries computes the sorted union of tables and mem, picking,
// on key collision, the value from the input with the greatest id; the
// memtable shadows every table (spec.md §4.4.4 step 4). When
// dropTombstones is set (a true full merge over every table, as in
// Merge), tombstoned keys are omitted from the result entirely, since
// nothing is left beneath them to keep shadowing; a partial Flush must
// keep them so un-merged tables stay correctly shadowed.
func mergeEntries(tables []*tableHandle, mem map[string]memEntry, dropTombstones bool) []tableEntry {
	type candidate struct {
		entry tableEntry
		id    uint64
	}
	best := make(map[string]candidate)
	for _, t := range tables {
		for _, e := range t.entries {
			k := string(e.key)
			if cur, ok := best[k]; !ok || t.id > cur.id {
				best[k] = candidate{entry: e, id: t.id}
			}
		}
	}
	shadowID := uint64(0)
	for _, t := range tables {
		if t.id+1 > shadowID {
			shadowID = t.id + 1
		}
	}
	for k, v := range mem {
		best[k] = candidate{entry: tableEntry{key: []byte(k), value: v.value, tombstone: v.tombstone}, id: shadowID}
	}

	keys := make([]string, 0, len(best))
	for k := range best {
		if dropTombstones && best[k].entry.tombstone {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]tableEntry, len(keys))
	for i, k := range keys {
		entries[i] = best[k].entry
	}
	return entries
}
