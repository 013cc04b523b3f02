// Package intmultistore implements a durable map from string key to a
// sorted set of distinct uint64 values, by composing a phobos.Database
// (key -> slab id) with a rawstore.Store holding each key's value set
// as a varint-encoded strictly-ascending list.
package intmultistore

import "github.com/cockroachdb/errors"

var (
	// ErrValueExists: Insert was called with a value already present
	// for that key.
	ErrValueExists = errors.New("intmultistore: value already present")
	// ErrValueNotFound: Remove was called with a value absent from that
	// key's set.
	ErrValueNotFound = errors.New("intmultistore: value not found")
	// ErrKeyNotFound: the key has no entry at all.
	ErrKeyNotFound = errors.New("intmultistore: key not found")
)
