package lmdb

import (
	"runtime"

	"github.com/ledgerwatch/lmdb-go/lmdb"
	"github.com/pkg/errors"
)

// Txn is an explicit database transaction. A transaction must be
// finalized exactly once; Finalize(true) commits, Finalize(false) aborts.
//
// Read-write transactions pin their goroutine to an OS thread for their
// whole lifetime, as required by the underlying store, so they must be
// finalized by the goroutine that began them.
type Txn struct {
	txn      *lmdb.Txn
	write    bool
	closed   bool
	onCommit []func()
}

// OnCommit registers fn to run after the transaction commits
// successfully. Aborted transactions never run their hooks.
func (t *Txn) OnCommit(fn func()) {
	t.onCommit = append(t.onCommit, fn)
}

// BeginRO starts a read-only transaction.
func (db *DB) BeginRO() (*Txn, error) {
	txn, err := db.env.BeginTxn(nil, lmdb.Readonly)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin read transaction")
	}
	txn.RawRead = true

	return &Txn{txn: txn}, nil
}

// BeginRW starts a read-write transaction.
func (db *DB) BeginRW() (*Txn, error) {
	runtime.LockOSThread()
	txn, err := db.env.BeginTxn(nil, 0)
	if err != nil {
		runtime.UnlockOSThread()
		return nil, errors.Wrap(err, "failed to begin write transaction")
	}
	txn.RawRead = true

	return &Txn{txn: txn, write: true}, nil
}

// Finalize commits the transaction when commit is true and aborts it
// otherwise. Finalizing an already finalized transaction returns
// ErrTxnClosed.
func (t *Txn) Finalize(commit bool) error {
	if t.closed {
		return errors.WithStack(ErrTxnClosed)
	}
	t.closed = true

	defer func() {
		if t.write {
			runtime.UnlockOSThread()
		}
	}()

	if commit {
		if err := t.txn.Commit(); err != nil {
			return errors.Wrap(err, "failed to commit transaction")
		}
		for _, fn := range t.onCommit {
			fn()
		}
		return nil
	}

	t.txn.Abort()
	return nil
}
