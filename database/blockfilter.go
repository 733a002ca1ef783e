package database

import (
	"bytes"
	"encoding/binary"

	"github.com/otxnet/otxd/chaincfg"
	"github.com/otxnet/otxd/chainhash"
	"github.com/otxnet/otxd/database/bulk"
	"github.com/otxnet/otxd/database/lmdb"
	"github.com/otxnet/otxd/wire"
	"github.com/pkg/errors"
)

// FilterHeaderItem associates a block with its chained filter header and
// the hash of the filter the header commits to.
type FilterHeaderItem struct {
	Block      chainhash.Hash
	Header     chainhash.Hash
	FilterHash chainhash.Hash
}

// FilterItem associates a block with its compact filter.
type FilterItem struct {
	Block  chainhash.Hash
	Filter *wire.FilterRecord
}

// BlockFilter stores compact filters and their header chain, per filter
// type. Filter payloads live in the bulk store; cfheader records are
// small and live directly in the key/value store.
type BlockFilter struct {
	db   *lmdb.DB
	bulk *bulk.Store
}

func newBlockFilter(db *lmdb.DB, bulkStore *bulk.Store) *BlockFilter {
	return &BlockFilter{db: db, bulk: bulkStore}
}

func filterTable(filterType wire.FilterType) (lmdb.Table, error) {
	switch filterType {
	case wire.FilterTypeBasic:
		return tableFilterIndexBasic, nil
	case wire.FilterTypeBasicBCH:
		return tableFilterIndexBCH, nil
	case wire.FilterTypeES:
		return tableFilterIndexES, nil
	default:
		return 0, errors.Wrapf(ErrInvalidInput, "unsupported filter type %d",
			filterType)
	}
}

func filterHeaderTable(filterType wire.FilterType) (lmdb.Table, error) {
	switch filterType {
	case wire.FilterTypeBasic:
		return tableFilterHeadersBasic, nil
	case wire.FilterTypeBasicBCH:
		return tableFilterHeadersBCH, nil
	case wire.FilterTypeES:
		return tableFilterHeadersOpentxs, nil
	default:
		return 0, errors.Wrapf(ErrInvalidInput, "unsupported filter type %d",
			filterType)
	}
}

// filterTipKey computes the configuration key holding the filter tip for
// one (filter type, chain) pair. The keys live above the reserved
// low-numbered configuration range.
func filterTipKey(filterType wire.FilterType, chain chaincfg.Chain) uint32 {
	index := uint32(0)
	switch filterType {
	case wire.FilterTypeBasicBCH:
		index = 1
	case wire.FilterTypeES:
		index = 2
	}
	return 256 + uint32(chain)*16 + index
}

// FilterTip returns the persisted filter tip for the given type and
// chain, or a position of height -1 when none was stored yet.
func (f *BlockFilter) FilterTip(filterType wire.FilterType, chain chaincfg.Chain) (chainhash.Position, error) {
	out := chainhash.Position{Height: -1}
	err := f.db.Load(tableConfig, lmdb.IntegerKey(filterTipKey(filterType, chain)),
		func(value []byte) error {
			if len(value) != 8+chainhash.HashSize {
				return errors.Wrapf(ErrCorruptStore,
					"invalid filter tip size %d", len(value))
			}
			out.Height = chainhash.Height(binary.LittleEndian.Uint64(value[:8]))
			copy(out.Hash[:], value[8:])
			return nil
		})
	if err != nil && !IsNotFoundError(err) {
		return out, err
	}

	return out, nil
}

// SetFilterTip persists the filter tip for the given type and chain.
func (f *BlockFilter) SetFilterTip(filterType wire.FilterType, chain chaincfg.Chain, position chainhash.Position) error {
	value := make([]byte, 8+chainhash.HashSize)
	binary.LittleEndian.PutUint64(value[:8], uint64(position.Height))
	copy(value[8:], position.Hash[:])

	return f.db.Store(tableConfig, lmdb.IntegerKey(filterTipKey(filterType, chain)), value)
}

// HaveFilter returns whether a filter of the given type is stored for the
// block.
func (f *BlockFilter) HaveFilter(filterType wire.FilterType, block chainhash.Hash) bool {
	table, err := filterTable(filterType)
	if err != nil {
		log.Errorf("%s", err)
		return false
	}
	return f.db.Exists(table, block[:])
}

// HaveFilterHeader returns whether a filter header of the given type is
// stored for the block.
func (f *BlockFilter) HaveFilterHeader(filterType wire.FilterType, block chainhash.Hash) bool {
	table, err := filterHeaderTable(filterType)
	if err != nil {
		log.Errorf("%s", err)
		return false
	}
	return f.db.Exists(table, block[:])
}

// LoadFilter returns the stored filter of the given type for the block.
func (f *BlockFilter) LoadFilter(filterType wire.FilterType, block chainhash.Hash) (*wire.FilterRecord, error) {
	table, err := filterTable(filterType)
	if err != nil {
		return nil, err
	}

	entry, err := f.loadFilterIndex(table, block, nil)
	if err != nil {
		return nil, err
	}

	return f.readFilter(entry)
}

// LoadFilters returns the stored filters for the given blocks, in order,
// stopping at the first block with no stored filter.
func (f *BlockFilter) LoadFilters(filterType wire.FilterType, blocks []chainhash.Hash) ([]*wire.FilterRecord, error) {
	table, err := filterTable(filterType)
	if err != nil {
		return nil, err
	}

	// Collect the index entries under one snapshot, then read the
	// payloads outside the transaction: the mapped views do not require
	// it.
	entries := make([]bulk.IndexEntry, 0, len(blocks))
	txn, err := f.db.BeginRO()
	if err != nil {
		return nil, err
	}
	for _, block := range blocks {
		entry, err := f.loadFilterIndex(table, block, txn)
		if err != nil {
			if IsNotFoundError(err) {
				break
			}
			_ = txn.Finalize(false)
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := txn.Finalize(false); err != nil {
		return nil, err
	}

	out := make([]*wire.FilterRecord, 0, len(entries))
	for _, entry := range entries {
		record, err := f.readFilter(entry)
		if err != nil {
			log.Errorf("Failed to read indexed filter: %s", err)
			break
		}
		out = append(out, record)
	}

	return out, nil
}

// LoadFilterHash returns the hash of the stored filter of the given type
// for the block.
func (f *BlockFilter) LoadFilterHash(filterType wire.FilterType, block chainhash.Hash) (chainhash.Hash, error) {
	record, err := f.loadFilterHeader(filterType, block)
	if err != nil {
		return chainhash.Hash{}, err
	}
	return record.FilterHash, nil
}

// LoadFilterHeader returns the chained filter header of the given type
// for the block.
func (f *BlockFilter) LoadFilterHeader(filterType wire.FilterType, block chainhash.Hash) (chainhash.Hash, error) {
	record, err := f.loadFilterHeader(filterType, block)
	if err != nil {
		return chainhash.Hash{}, err
	}
	return record.Header, nil
}

func (f *BlockFilter) loadFilterHeader(filterType wire.FilterType, block chainhash.Hash) (*wire.CfheaderRecord, error) {
	table, err := filterHeaderTable(filterType)
	if err != nil {
		return nil, err
	}

	record := &wire.CfheaderRecord{}
	err = f.db.Load(table, block[:], func(value []byte) error {
		if err := record.Deserialize(bytes.NewReader(value)); err != nil {
			return errors.Wrap(ErrCorruptStore, err.Error())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return record, nil
}

// StoreFilterHeaders persists a batch of cfheader records under one
// transaction.
func (f *BlockFilter) StoreFilterHeaders(filterType wire.FilterType, items []FilterHeaderItem) error {
	if len(items) == 0 {
		return nil
	}

	table, err := filterHeaderTable(filterType)
	if err != nil {
		return err
	}

	txn, err := f.db.BeginRW()
	if err != nil {
		return err
	}

	if err := f.storeHeaders(table, items, txn); err != nil {
		_ = txn.Finalize(false)
		return err
	}

	return txn.Finalize(true)
}

// StoreFilters persists a batch of filters under one transaction and one
// bulk lock acquisition.
func (f *BlockFilter) StoreFilters(filterType wire.FilterType, items []FilterItem) error {
	if len(items) == 0 {
		return nil
	}

	table, err := filterTable(filterType)
	if err != nil {
		return err
	}

	payloads, err := serializeFilters(items)
	if err != nil {
		return err
	}

	txn, err := f.db.BeginRW()
	if err != nil {
		return err
	}

	f.bulk.Mutex().Lock()
	err = f.storeFilters(table, items, payloads, txn)
	f.bulk.Mutex().Unlock()

	if err != nil {
		_ = txn.Finalize(false)
		return err
	}

	return txn.Finalize(true)
}

// StoreCalculatedFilters persists matching batches of cfheaders and
// filters under a single transaction and a single bulk lock acquisition.
// This is the preferred write path during sync: serialization happens
// before any lock is taken and the bulk mutex is held only for the copy.
// The batches must be the same length; a mismatch mutates nothing.
func (f *BlockFilter) StoreCalculatedFilters(filterType wire.FilterType, headers []FilterHeaderItem, filters []FilterItem) error {
	if len(headers) != len(filters) {
		return errors.Wrapf(ErrInvalidInput,
			"mismatched header and filter batches: %d vs %d",
			len(headers), len(filters))
	}
	if len(headers) == 0 {
		return nil
	}

	headerTable, err := filterHeaderTable(filterType)
	if err != nil {
		return err
	}
	table, err := filterTable(filterType)
	if err != nil {
		return err
	}

	// Reject a batch whose filters do not hash to the values committed
	// by the cfheaders before anything is written. The caller is
	// expected to redownload.
	for i := range headers {
		hash := filters[i].Filter.Hash()
		if hash != headers[i].FilterHash {
			return errors.Wrapf(ErrCorruptStore,
				"filter for block %s hashes to %s, cfheader commits to %s",
				filters[i].Block, hash, headers[i].FilterHash)
		}
	}

	payloads, err := serializeFilters(filters)
	if err != nil {
		return err
	}

	txn, err := f.db.BeginRW()
	if err != nil {
		return err
	}

	if err := f.storeHeaders(headerTable, headers, txn); err != nil {
		_ = txn.Finalize(false)
		return err
	}

	f.bulk.Mutex().Lock()
	err = f.storeFilters(table, filters, payloads, txn)
	f.bulk.Mutex().Unlock()

	if err != nil {
		_ = txn.Finalize(false)
		return err
	}

	return txn.Finalize(true)
}

func (f *BlockFilter) storeHeaders(table lmdb.Table, items []FilterHeaderItem, txn *lmdb.Txn) error {
	for _, item := range items {
		record := wire.NewCfheaderRecord(item.Header, item.FilterHash)

		var buf bytes.Buffer
		buf.Grow(wire.CfheaderRecordPayload)
		if err := record.Serialize(&buf); err != nil {
			return err
		}

		if err := f.db.StoreTxn(table, item.Block[:], buf.Bytes(), txn); err != nil {
			log.Errorf("Failed to store cfheader for block %s: %s",
				item.Block, err)
			return err
		}
	}

	return nil
}

// storeFilters writes pre-serialized filter payloads. The caller holds
// the bulk mutex and owns the transaction.
func (f *BlockFilter) storeFilters(table lmdb.Table, items []FilterItem, payloads [][]byte, txn *lmdb.Txn) error {
	for i, item := range items {
		block := item.Block

		var entry bulk.IndexEntry
		err := f.db.LoadTxn(table, block[:], func(value []byte) error {
			return entry.Decode(value)
		}, txn)
		if err != nil && !IsNotFoundError(err) {
			return err
		}

		view, err := f.bulk.WriteView(txn, &entry, func(txn *lmdb.Txn) error {
			return f.db.StoreTxn(table, block[:], entry.Encode(), txn)
		}, uint64(len(payloads[i])))
		if err != nil {
			log.Errorf("Failed to allocate storage for cfilter of block %s: %s",
				block, err)
			return err
		}
		copy(view, payloads[i])
	}

	return nil
}

func (f *BlockFilter) loadFilterIndex(table lmdb.Table, block chainhash.Hash, txn *lmdb.Txn) (bulk.IndexEntry, error) {
	var entry bulk.IndexEntry
	cb := func(value []byte) error {
		if err := entry.Decode(value); err != nil {
			return errors.Wrap(ErrCorruptStore, err.Error())
		}
		return nil
	}

	var err error
	if txn != nil {
		err = f.db.LoadTxn(table, block[:], cb, txn)
	} else {
		err = f.db.Load(table, block[:], cb)
	}

	return entry, err
}

func (f *BlockFilter) readFilter(entry bulk.IndexEntry) (*wire.FilterRecord, error) {
	view, err := f.bulk.ReadView(entry)
	if err != nil {
		return nil, err
	}

	record := &wire.FilterRecord{}
	if err := record.Deserialize(bytes.NewReader(view)); err != nil {
		return nil, errors.Wrap(ErrCorruptStore, err.Error())
	}

	return record, nil
}

func serializeFilters(items []FilterItem) ([][]byte, error) {
	payloads := make([][]byte, len(items))
	for i, item := range items {
		if item.Filter == nil {
			return nil, errors.Wrapf(ErrInvalidInput,
				"missing filter for block %s", item.Block)
		}

		var buf bytes.Buffer
		buf.Grow(item.Filter.SerializeSize())
		if err := item.Filter.Serialize(&buf); err != nil {
			return nil, err
		}
		payloads[i] = buf.Bytes()
	}

	return payloads, nil
}
