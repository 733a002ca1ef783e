package database

import (
	"sync"

	"github.com/otxnet/otxd/chainhash"
	"github.com/otxnet/otxd/database/bulk"
	"github.com/otxnet/otxd/database/lmdb"
	"github.com/pkg/errors"
)

// BlockReader is a shared-mode borrow of a stored block payload. Close
// must be called when the caller is done with the bytes; the payload may
// be read concurrently by any number of readers.
type BlockReader struct {
	data []byte
	lock *sync.RWMutex
	once sync.Once
}

// Bytes returns the raw block payload. The slice borrows mapped memory
// and is valid until Close.
func (r *BlockReader) Bytes() []byte {
	return r.data
}

// Close releases the shared lock on the block.
func (r *BlockReader) Close() {
	r.once.Do(r.lock.RUnlock)
}

// BlockWriter is an exclusive-mode writable view of a block payload
// reservation. The caller fills Bytes and then calls Close; the index
// entry referencing the reservation is already durable when the writer is
// handed out.
type BlockWriter struct {
	data []byte
	lock *sync.RWMutex
	once sync.Once
}

// Bytes returns the writable payload region.
func (w *BlockWriter) Bytes() []byte {
	return w.data
}

// Close releases the exclusive lock on the block.
func (w *BlockWriter) Close() {
	w.once.Do(w.lock.Unlock)
}

// Blocks stores raw block payloads keyed by block hash. Each block is
// guarded by its own reader/writer lock so long-running scans can read
// concurrently while writes remain serialized per block.
type Blocks struct {
	db    *lmdb.DB
	bulk  *bulk.Store
	table lmdb.Table

	mtx   sync.Mutex
	locks map[chainhash.Hash]*sync.RWMutex
}

func newBlocks(db *lmdb.DB, bulkStore *bulk.Store) *Blocks {
	return &Blocks{
		db:    db,
		bulk:  bulkStore,
		table: tableBlockIndex,
		locks: make(map[chainhash.Hash]*sync.RWMutex),
	}
}

// Exists returns whether a payload for the given block is stored.
func (b *Blocks) Exists(block chainhash.Hash) bool {
	return b.db.Exists(b.table, block[:])
}

// Load returns a shared-mode view of the stored payload for the given
// block, or ErrNotFound.
func (b *Blocks) Load(block chainhash.Hash) (*BlockReader, error) {
	var entry bulk.IndexEntry
	err := b.db.Load(b.table, block[:], func(value []byte) error {
		if err := entry.Decode(value); err != nil {
			return errors.Wrap(ErrCorruptStore, err.Error())
		}
		return nil
	})
	if err != nil {
		if IsNotFoundError(err) {
			log.Tracef("Block %s not found in index", block)
		}
		return nil, err
	}

	view, err := b.bulk.ReadView(entry)
	if err != nil {
		return nil, err
	}

	lock := b.blockLock(block)
	lock.RLock()

	return &BlockReader{data: view, lock: lock}, nil
}

// Store reserves size bytes for the given block and returns an
// exclusive-mode writable view of the reservation. The caller writes the
// payload through the view and closes it.
func (b *Blocks) Store(block chainhash.Hash, size uint64) (*BlockWriter, error) {
	if size == 0 {
		return nil, errors.Wrapf(ErrInvalidInput,
			"invalid block size for block %s", block)
	}

	lock := b.blockLock(block)
	lock.Lock()

	writer, err := b.store(block, size)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	writer.lock = lock

	return writer, nil
}

func (b *Blocks) store(block chainhash.Hash, size uint64) (*BlockWriter, error) {
	var entry bulk.IndexEntry
	err := b.db.Load(b.table, block[:], func(value []byte) error {
		return entry.Decode(value)
	})
	if err != nil && !IsNotFoundError(err) {
		return nil, err
	}

	txn, err := b.db.BeginRW()
	if err != nil {
		return nil, err
	}

	b.bulk.Mutex().Lock()
	view, err := b.bulk.WriteView(txn, &entry, func(txn *lmdb.Txn) error {
		return b.db.StoreTxn(b.table, block[:], entry.Encode(), txn)
	}, size)
	b.bulk.Mutex().Unlock()

	if err != nil {
		log.Errorf("Failed to get write position for block %s: %s", block, err)
		_ = txn.Finalize(false)
		return nil, err
	}

	if err := txn.Finalize(true); err != nil {
		return nil, err
	}

	return &BlockWriter{data: view}, nil
}

func (b *Blocks) blockLock(block chainhash.Hash) *sync.RWMutex {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	lock, ok := b.locks[block]
	if !ok {
		lock = &sync.RWMutex{}
		b.locks[block] = lock
	}

	return lock
}
