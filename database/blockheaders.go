package database

import (
	"bytes"

	"github.com/otxnet/otxd/chainhash"
	"github.com/otxnet/otxd/database/bulk"
	"github.com/otxnet/otxd/database/lmdb"
	"github.com/otxnet/otxd/wire"
	"github.com/pkg/errors"
)

// HeaderUpdate is one entry of a bulk header import: the record plus a
// flag indicating the header was never seen before. New headers have
// their local metadata cleared so that chain state is recomputed by the
// header oracle.
type HeaderUpdate struct {
	Record *wire.HeaderRecord
	New    bool
}

// BlockHeaders stores serialized block headers keyed by block hash.
type BlockHeaders struct {
	db    *lmdb.DB
	bulk  *bulk.Store
	table lmdb.Table
}

func newBlockHeaders(db *lmdb.DB, bulkStore *bulk.Store) *BlockHeaders {
	return &BlockHeaders{
		db:    db,
		bulk:  bulkStore,
		table: tableHeaderIndex,
	}
}

// Exists returns whether a header with the given hash is stored.
func (h *BlockHeaders) Exists(hash chainhash.Hash) bool {
	return h.db.Exists(h.table, hash[:])
}

// Load returns the stored header record for the given hash, or
// ErrNotFound.
func (h *BlockHeaders) Load(hash chainhash.Hash) (*wire.HeaderRecord, error) {
	var entry bulk.IndexEntry
	err := h.db.Load(h.table, hash[:], func(value []byte) error {
		if err := entry.Decode(value); err != nil {
			return errors.Wrap(ErrCorruptStore, err.Error())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	view, err := h.bulk.ReadView(entry)
	if err != nil {
		return nil, err
	}

	record := &wire.HeaderRecord{}
	if err := record.Deserialize(bytes.NewReader(view)); err != nil {
		return nil, errors.Wrap(ErrCorruptStore, err.Error())
	}

	return record, nil
}

// Store persists a single header record, overwriting any previous record
// for the same hash.
func (h *BlockHeaders) Store(record *wire.HeaderRecord) error {
	txn, err := h.db.BeginRW()
	if err != nil {
		return err
	}

	h.bulk.Mutex().Lock()
	err = h.store(txn, false, record)
	h.bulk.Mutex().Unlock()

	if err != nil {
		_ = txn.Finalize(false)
		return err
	}

	return txn.Finalize(true)
}

// StoreMany persists a batch of header records under one transaction and
// one bulk lock acquisition. Records flagged New have their local
// metadata cleared before serialization.
func (h *BlockHeaders) StoreMany(headers map[chainhash.Hash]HeaderUpdate) error {
	if len(headers) == 0 {
		return nil
	}

	txn, err := h.db.BeginRW()
	if err != nil {
		return err
	}

	h.bulk.Mutex().Lock()
	for _, update := range headers {
		if err = h.store(txn, update.New, update.Record); err != nil {
			break
		}
	}
	h.bulk.Mutex().Unlock()

	if err != nil {
		_ = txn.Finalize(false)
		return err
	}

	return txn.Finalize(true)
}

// store writes one header record. The caller holds the bulk mutex and
// owns the transaction.
func (h *BlockHeaders) store(txn *lmdb.Txn, clearLocal bool, record *wire.HeaderRecord) error {
	serialized := record
	if clearLocal {
		cleared := *record
		cleared.ClearLocal()
		serialized = &cleared
	}

	hash := record.Header.BlockHash()

	var buf bytes.Buffer
	buf.Grow(wire.HeaderRecordPayload)
	if err := serialized.Serialize(&buf); err != nil {
		return err
	}
	payload := buf.Bytes()

	var entry bulk.IndexEntry
	err := h.db.LoadTxn(h.table, hash[:], func(value []byte) error {
		return entry.Decode(value)
	}, txn)
	if err != nil && !IsNotFoundError(err) {
		return err
	}

	view, err := h.bulk.WriteView(txn, &entry, func(txn *lmdb.Txn) error {
		return h.db.StoreTxn(h.table, hash[:], entry.Encode(), txn)
	}, uint64(len(payload)))
	if err != nil {
		log.Errorf("Failed to allocate storage for header %s: %s", hash, err)
		return err
	}
	copy(view, payload)

	return nil
}
