package lmdb

import (
	"github.com/ledgerwatch/lmdb-go/lmdb"
	"github.com/pkg/errors"
)

// Direction selects cursor iteration order.
type Direction int

// Iteration directions.
const (
	Forward Direction = iota
	Backward
)

// Read iterates every entry of table in the given direction, invoking cb
// with each key/value pair. Both slices borrow database memory valid only
// for the duration of the call. Iteration stops when cb returns false.
func (db *DB) Read(table Table, cb func(key, value []byte) bool, dir Direction) error {
	return db.view(func(txn *lmdb.Txn) error {
		return db.scan(txn, table, nil, cb, dir)
	})
}

// ReadFrom iterates entries of table starting at the smallest key greater
// than or equal to start (or, iterating backward, at the largest key less
// than or equal to start).
func (db *DB) ReadFrom(table Table, start []byte, cb func(key, value []byte) bool, dir Direction) error {
	return db.view(func(txn *lmdb.Txn) error {
		return db.scan(txn, table, start, cb, dir)
	})
}

func (db *DB) scan(txn *lmdb.Txn, table Table, start []byte, cb func(key, value []byte) bool, dir Direction) error {
	cursor, err := txn.OpenCursor(db.dbi(table))
	if err != nil {
		return errors.Wrap(err, "failed to open cursor")
	}
	defer cursor.Close()

	var key, value []byte
	switch {
	case start == nil && dir == Forward:
		key, value, err = cursor.Get(nil, nil, lmdb.First)
	case start == nil:
		key, value, err = cursor.Get(nil, nil, lmdb.Last)
	default:
		key, value, err = cursor.Get(start, nil, lmdb.SetRange)
		if dir == Backward {
			// SetRange lands on the first key >= start; walking
			// backward must begin at the largest key <= start.
			switch {
			case lmdb.IsNotFound(err):
				key, value, err = cursor.Get(nil, nil, lmdb.Last)
			case err == nil && string(key) != string(start):
				key, value, err = cursor.Get(nil, nil, lmdb.Prev)
			}
		}
	}

	for {
		if lmdb.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return errors.WithStack(err)
		}

		if !cb(key, value) {
			return nil
		}

		if dir == Forward {
			key, value, err = cursor.Get(nil, nil, lmdb.Next)
		} else {
			key, value, err = cursor.Get(nil, nil, lmdb.Prev)
		}
	}
}

// ReadDup iterates every duplicate value stored under key in a dup-sort
// table, invoking cb for each value until it returns false.
func (db *DB) ReadDup(table Table, key []byte, cb func(value []byte) bool) error {
	return db.view(func(txn *lmdb.Txn) error {
		cursor, err := txn.OpenCursor(db.dbi(table))
		if err != nil {
			return errors.Wrap(err, "failed to open cursor")
		}
		defer cursor.Close()

		_, value, err := cursor.Get(key, nil, lmdb.SetKey)
		for {
			if lmdb.IsNotFound(err) {
				return nil
			}
			if err != nil {
				return errors.WithStack(err)
			}

			if !cb(value) {
				return nil
			}

			_, value, err = cursor.Get(nil, nil, lmdb.NextDup)
		}
	})
}
