//go:build seqstore_debug

// Package rawstore's debug checker is a small fuzz/consistency-test
// harness, ported from the original's raw_store/checker.rs. It is
// gated behind the seqstore_debug build tag since it exists purely to
// support tests and load-generation tooling, never production code.
package rawstore

import (
	"bytes"
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/a-n-d-r-e-w-l/covenant/seqstore"
	"github.com/a-n-d-r-e-w-l/covenant/seqstore/backing"
)

// Checker drives a Store through a sequence of named operations,
// keeping a shadow copy of every record so each can be verified
// against the store's own answer.
type Checker[N comparable] struct {
	store *Store
	names map[N]seqstore.ID
	order []N
	check map[seqstore.ID][]byte
}

// NewChecker wraps a freshly created Store over b.
func NewChecker[N comparable](b *backing.Backing, specMagic []byte) (*Checker[N], error) {
	s, err := New(b, specMagic)
	if err != nil {
		return nil, err
	}
	return &Checker[N]{store: s, names: map[N]seqstore.ID{}, check: map[seqstore.ID][]byte{}}, nil
}

// Add stores bytes under name, failing if name is already in use.
func (c *Checker[N]) Add(name N, data []byte) error {
	if _, ok := c.names[name]; ok {
		return errors.Newf("rawstore: checker: name %v already in use", name)
	}
	id, err := c.store.Add(data)
	if err != nil {
		return err
	}
	c.names[name] = id
	c.order = append(c.order, name)
	c.check[id] = append([]byte(nil), data...)
	return nil
}

// Remove deletes name's record and verifies the removed bytes matched
// what Add originally stored.
func (c *Checker[N]) Remove(name N) error {
	id, ok := c.names[name]
	if !ok {
		return errors.Newf("rawstore: checker: removing name %v that was never added", name)
	}
	want := c.check[id]
	got, err := c.store.RemoveBytes(id)
	if err != nil {
		return err
	}
	delete(c.names, name)
	delete(c.check, id)
	if !bytes.Equal(want, got) {
		return errors.Newf("rawstore: checker: mismatch for %v: expected %q, found %q", name, want, got)
	}
	return nil
}

// Check verifies name's stored bytes still match what Add wrote.
func (c *Checker[N]) Check(name N) error {
	id, ok := c.names[name]
	if !ok {
		return errors.Newf("rawstore: checker: checking name %v that was never added", name)
	}
	want := c.check[id]
	got, err := c.store.Get(id)
	if err != nil {
		return err
	}
	if !bytes.Equal(want, got) {
		return errors.Newf("rawstore: checker: mismatch for %v: expected %q, found %q", name, want, got)
	}
	return nil
}

// CheckAll runs Check over every name currently tracked.
func (c *Checker[N]) CheckAll() error {
	for _, name := range c.order {
		if _, ok := c.names[name]; !ok {
			continue
		}
		if err := c.Check(name); err != nil {
			return err
		}
	}
	return nil
}

// Reopen runs Open again over the current Store's Backing, without
// closing it first, exercising the open-time scan/recovery path.
func (c *Checker[N]) Reopen(opts ...OpenOption) error {
	b := c.store.backing
	s, err := Open(b, opts...)
	if err != nil {
		return err
	}
	c.store = s
	return nil
}

// Store exposes the underlying Store for direct inspection.
func (c *Checker[N]) Store() *Store { return c.store }

// Print dumps the live committed region for debugging.
func (c *Checker[N]) Print() {
	c.store.WithBytes(func(b []byte) {
		fmt.Printf("%q\n", bytes.TrimRight(b, "\x00"))
	})
}
