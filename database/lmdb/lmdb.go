// Package lmdb wraps the LMDB embedded key/value store with the typed
// table model used by the blockchain database: tables are declared up
// front by integer id, values are accessed through borrowing callbacks,
// and every write happens inside an explicit or implicit transaction.
package lmdb

import (
	"encoding/binary"
	"os"

	"github.com/ledgerwatch/lmdb-go/lmdb"
	"github.com/pkg/errors"
)

// Table is the integer id of a declared table.
type Table int

// KeyMode describes how a table's keys behave.
type KeyMode uint

// Key modes. These mirror the underlying database flags.
const (
	// ModeDefault is a plain byte-ordered table.
	ModeDefault KeyMode = 0

	// ModeIntegerKey declares keys to be native-endian unsigned
	// integers.
	ModeIntegerKey KeyMode = KeyMode(lmdb.IntegerKey)

	// ModeDupSort permits multiple sorted values per key.
	ModeDupSort KeyMode = KeyMode(lmdb.DupSort)

	// ModeDupSortIntegerKey combines ModeDupSort and ModeIntegerKey.
	ModeDupSortIntegerKey = ModeDupSort | ModeIntegerKey
)

// TableDefinition declares one table: its id, its stable on-disk name,
// and its key mode.
type TableDefinition struct {
	Table Table
	Name  string
	Mode  KeyMode
}

const (
	// maxTables bounds the number of named databases in the
	// environment.
	maxTables = 64

	// mapSize is the maximum size the environment may grow to. The map
	// is sparse; no space is consumed until used.
	mapSize = 1 << 34
)

// DB is an open LMDB environment with its declared tables.
type DB struct {
	env  *lmdb.Env
	dbis map[Table]lmdb.DBI
}

// New creates or opens the environment at path, declares every table in
// tables, and drops the contents of every table in dropped. Dropped
// tables exist only so that databases written by earlier schema versions
// open cleanly; their rows are never migrated.
func New(path string, tables []TableDefinition, dropped []TableDefinition) (*DB, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, errors.Wrapf(err, "failed to create database directory %s", path)
	}

	env, err := lmdb.NewEnv()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create environment")
	}
	if err := env.SetMaxDBs(maxTables); err != nil {
		return nil, errors.Wrap(err, "failed to configure max tables")
	}
	if err := env.SetMapSize(mapSize); err != nil {
		return nil, errors.Wrap(err, "failed to configure map size")
	}
	if err := env.Open(path, 0, 0600); err != nil {
		return nil, errors.Wrapf(err, "failed to open environment at %s", path)
	}

	db := &DB{
		env:  env,
		dbis: make(map[Table]lmdb.DBI, len(tables)),
	}

	err = env.Update(func(txn *lmdb.Txn) error {
		for _, def := range tables {
			dbi, err := txn.OpenDBI(def.Name, uint(def.Mode)|lmdb.Create)
			if err != nil {
				return errors.Wrapf(err, "failed to open table %s", def.Name)
			}
			db.dbis[def.Table] = dbi
		}

		for _, def := range dropped {
			dbi, err := txn.OpenDBI(def.Name, uint(def.Mode)|lmdb.Create)
			if err != nil {
				return errors.Wrapf(err, "failed to open legacy table %s", def.Name)
			}
			if err := txn.Drop(dbi, false); err != nil {
				return errors.Wrapf(err, "failed to drop legacy table %s", def.Name)
			}
			log.Debugf("Dropped contents of legacy table %s", def.Name)
		}

		return nil
	})
	if err != nil {
		env.Close()
		return nil, err
	}

	return db, nil
}

// Close syncs and closes the environment.
func (db *DB) Close() error {
	if err := db.env.Sync(true); err != nil {
		log.Errorf("Failed to sync environment: %s", err)
	}
	return errors.WithStack(db.env.Close())
}

// IntegerKey encodes an integer table key. Integer-keyed tables use
// native byte order; this package only targets little-endian platforms,
// which also makes the on-disk layout match the documented encoding.
func IntegerKey(value uint32) []byte {
	key := make([]byte, 4)
	binary.LittleEndian.PutUint32(key, value)
	return key
}

// HeightKey encodes a block height as a wide integer table key.
func HeightKey(value uint64) []byte {
	key := make([]byte, 8)
	binary.LittleEndian.PutUint64(key, value)
	return key
}

// Exists returns whether key is present in table.
func (db *DB) Exists(table Table, key []byte) bool {
	found := false
	err := db.env.View(func(txn *lmdb.Txn) error {
		txn.RawRead = true
		_, err := txn.Get(db.dbi(table), key)
		if lmdb.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		log.Errorf("Exists failed on table %d: %s", table, err)
		return false
	}

	return found
}

// Load invokes cb with the value stored for key, if any. The view passed
// to cb borrows database memory and is valid only for the duration of the
// call. Returns ErrNotFound when the key is absent.
func (db *DB) Load(table Table, key []byte, cb func(value []byte) error) error {
	return db.view(func(txn *lmdb.Txn) error {
		return loadRaw(txn, db.dbi(table), key, cb)
	})
}

// LoadTxn behaves like Load inside an existing transaction.
func (db *DB) LoadTxn(table Table, key []byte, cb func(value []byte) error, txn *Txn) error {
	return loadRaw(txn.txn, db.dbi(table), key, cb)
}

func loadRaw(txn *lmdb.Txn, dbi lmdb.DBI, key []byte, cb func(value []byte) error) error {
	value, err := txn.Get(dbi, key)
	if lmdb.IsNotFound(err) {
		return errors.WithStack(ErrNotFound)
	}
	if err != nil {
		return errors.WithStack(err)
	}

	return cb(value)
}

// Store writes value under key in its own transaction. For dup-sort
// tables the value is inserted alongside any existing values; otherwise
// any previous value is overwritten.
func (db *DB) Store(table Table, key, value []byte) error {
	txn, err := db.BeginRW()
	if err != nil {
		return err
	}

	if err := db.StoreTxn(table, key, value, txn); err != nil {
		_ = txn.Finalize(false)
		return err
	}

	return txn.Finalize(true)
}

// StoreTxn writes value under key inside an existing transaction.
func (db *DB) StoreTxn(table Table, key, value []byte, txn *Txn) error {
	return errors.WithStack(txn.txn.Put(db.dbi(table), key, value, 0))
}

// Delete removes key (and every duplicate value under it) inside an
// existing transaction. Deleting an absent key is not an error.
func (db *DB) Delete(table Table, key []byte, txn *Txn) error {
	err := txn.txn.Del(db.dbi(table), key, nil)
	if lmdb.IsNotFound(err) {
		return nil
	}
	return errors.WithStack(err)
}

// DeleteValue removes one specific duplicate value under key in a
// dup-sort table.
func (db *DB) DeleteValue(table Table, key, value []byte, txn *Txn) error {
	err := txn.txn.Del(db.dbi(table), key, value)
	if lmdb.IsNotFound(err) {
		return nil
	}
	return errors.WithStack(err)
}

func (db *DB) dbi(table Table) lmdb.DBI {
	dbi, ok := db.dbis[table]
	if !ok {
		log.Criticalf("Access to undeclared table %d", table)
	}
	return dbi
}

func (db *DB) view(fn func(txn *lmdb.Txn) error) error {
	return db.env.View(func(txn *lmdb.Txn) error {
		txn.RawRead = true
		return fn(txn)
	})
}
