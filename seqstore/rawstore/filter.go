package rawstore

import (
	"github.com/cockroachdb/errors"

	"github.com/a-n-d-r-e-w-l/covenant/seqstore"
	"github.com/a-n-d-r-e-w-l/covenant/seqstore/backing"
)

// Filter copies the records named by keepIDs out of s into a freshly
// created Store over dst, in the order given, and returns the new
// Store alongside a remap from old to new ID. Used by offline
// compaction (intmultistore.Cleanup) to reclaim orphaned slab records
// without the gap-list churn of repeated Remove calls.
func Filter(s *Store, dst *backing.Backing, keepIDs []seqstore.ID) (*Store, map[seqstore.ID]seqstore.ID, error) {
	out, err := New(dst, s.specMagic)
	if err != nil {
		return nil, nil, errors.Wrap(err, "rawstore: filter: create destination")
	}
	remap := make(map[seqstore.ID]seqstore.ID, len(keepIDs))
	for _, id := range keepIDs {
		payload, err := s.Get(id)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "rawstore: filter: read %v", id)
		}
		newID, err := out.Add(payload)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "rawstore: filter: write %v", id)
		}
		remap[id] = newID
	}
	return out, remap, nil
}
