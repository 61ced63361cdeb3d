// Package kv is the durable key-value substrate:
// append-safe maps and counters that survive process restart. Every other
// persistent component (capsule store, upload sessions, blob metadata)
// holds a *kv.DB handle rather than touching storage directly.
//
// Backed by tidwall/buntdb, an embeddable, indexed key-value store with an
// optional append-only file for restart durability.
/*
 * Copyright (c) 2024, 552020. All rights reserved.
 */
package kv

import (
	"fmt"
	"strconv"

	"github.com/tidwall/buntdb"

	"github.com/552020/futura-alpha-icp-sub007/cmn"
)

// Counter names for the two monotonic counters that must never regress
// across restart.
const (
	CounterSession = "ctr:session"
	CounterBlob    = "ctr:blob"
)

type DB struct {
	bunt *buntdb.DB
}

// Open opens the substrate. path == "" opens an in-memory, non-persistent
// instance (used by tests and ephemeral deployments); any other path opens
// a file-backed, append-only-log-durable instance, the same open-or-create
// semantics buntdb.Open gives for free.
func Open(path string) (*DB, error) {
	p := path
	if p == "" {
		p = ":memory:"
	}
	b, err := buntdb.Open(p)
	if err != nil {
		return nil, cmn.WrapInternal(err, "open substrate")
	}
	return &DB{bunt: b}, nil
}

func (d *DB) Close() error {
	if err := d.bunt.Close(); err != nil {
		return cmn.WrapInternal(err, "close substrate")
	}
	return nil
}

// Raw exposes the underlying buntdb handle to components (cluster, blob,
// upload) that run their own transactions over it. No buntdb index is
// declared; their secondary lookups are prefixed keys in the main keyspace.
func (d *DB) Raw() *buntdb.DB { return d.bunt }

// NextTx is the transaction-scoped counter increment, for callers (upload
// engine) that need it alongside other writes in one atomic commit.
func NextTx(tx *buntdb.Tx, counter string) (uint64, error) {
	cur, err := tx.Get(counter)
	var val uint64
	if err == nil {
		val, _ = strconv.ParseUint(cur, 10, 64)
	} else if err != buntdb.ErrNotFound {
		return 0, err
	}
	next := val + 1
	if _, _, err := tx.Set(counter, strconv.FormatUint(next, 10), nil); err != nil {
		return 0, err
	}
	return next, nil
}

// Next increments and returns the named monotonic counter, durably. Counters
// never regress: a restart resumes from the last persisted value, not zero.
func (d *DB) Next(counter string) (uint64, error) {
	var next uint64
	err := d.bunt.Update(func(tx *buntdb.Tx) error {
		n, err := NextTx(tx, counter)
		if err != nil {
			return err
		}
		next = n
		return nil
	})
	if err != nil {
		return 0, cmn.WrapInternal(err, fmt.Sprintf("increment counter %s", counter))
	}
	return next, nil
}

// Current returns the counter's current value without incrementing it
// (0 if never incremented).
func (d *DB) Current(counter string) (uint64, error) {
	var val uint64
	err := d.bunt.View(func(tx *buntdb.Tx) error {
		cur, err := tx.Get(counter)
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		val, _ = strconv.ParseUint(cur, 10, 64)
		return nil
	})
	if err != nil {
		return 0, cmn.WrapInternal(err, fmt.Sprintf("read counter %s", counter))
	}
	return val, nil
}
