package database

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/dchest/siphash"
	"github.com/otxnet/otxd/chaincfg"
	"github.com/otxnet/otxd/chainhash"
	"github.com/otxnet/otxd/database/bulk"
	"github.com/otxnet/otxd/database/lmdb"
	"github.com/otxnet/otxd/wire"
	"github.com/pkg/errors"
)

// syncLoadLimit caps the payload bytes a single Load call delivers.
const syncLoadLimit = 4 * 1024 * 1024

// syncRecordPayload is the size of a sync table value: an index entry
// plus a little endian checksum.
const syncRecordPayload = bulk.IndexEntryPayload + 8

// The sync record checksum key is fixed at all zeroes. The per-database
// siphash key only fingerprints wallet patterns.
const syncChecksumK0, syncChecksumK1 = 0, 0

// syncRecord is the sync table value: where the packet lives in the bulk
// store and the checksum of its bytes.
type syncRecord struct {
	entry    bulk.IndexEntry
	checksum uint64
}

func (r *syncRecord) encode() []byte {
	buf := make([]byte, syncRecordPayload)
	copy(buf, r.entry.Encode())
	binary.LittleEndian.PutUint64(buf[bulk.IndexEntryPayload:], r.checksum)
	return buf
}

func (r *syncRecord) decode(data []byte) error {
	if len(data) != syncRecordPayload {
		return errors.Wrapf(ErrCorruptStore, "invalid sync record size %d",
			len(data))
	}
	if err := r.entry.Decode(data[:bulk.IndexEntryPayload]); err != nil {
		return errors.Wrap(ErrCorruptStore, err.Error())
	}
	r.checksum = binary.LittleEndian.Uint64(data[bulk.IndexEntryPayload:])
	return nil
}

// Sync maintains the per-chain, height-contiguous stream of sync packets
// served to light clients. Heights run from 0 to the chain tip with no
// gaps; a reorg truncates the stream to the new tip.
type Sync struct {
	db     *lmdb.DB
	bulk   *bulk.Store
	tables map[chaincfg.Chain]lmdb.Table

	mtx  sync.RWMutex
	tips map[chaincfg.Chain]chainhash.Height
}

func newSync(db *lmdb.DB, bulkStore *bulk.Store, tables map[chaincfg.Chain]lmdb.Table) (*Sync, error) {
	s := &Sync{
		db:     db,
		bulk:   bulkStore,
		tables: tables,
		tips:   make(map[chaincfg.Chain]chainhash.Height, len(tables)),
	}

	for chain := range tables {
		s.tips[chain] = -1
	}

	err := db.Read(tableSyncTips, func(key, value []byte) bool {
		if len(key) != 4 || len(value) != 8 {
			log.Errorf("Invalid sync tip entry: key %d bytes, value %d bytes",
				len(key), len(value))
			return true
		}
		chain := chaincfg.Chain(binary.LittleEndian.Uint32(key))
		height := chainhash.Height(binary.LittleEndian.Uint64(value))
		if _, ok := s.tips[chain]; ok {
			s.tips[chain] = height
		}
		return true
	}, lmdb.Forward)
	if err != nil {
		return nil, err
	}

	for _, chain := range chaincfg.SupportedChains() {
		if err := s.importGenesis(chain); err != nil {
			return nil, err
		}
	}
	if err := s.importGenesis(chaincfg.ChainUnitTest); err != nil {
		return nil, err
	}

	return s, nil
}

// Tip returns the height of the last packet Load will deliver for the
// chain, or -1 when the stream is empty.
func (s *Sync) Tip(chain chaincfg.Chain) chainhash.Height {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	tip, ok := s.tips[chain]
	if !ok {
		return -1
	}
	return tip
}

// Store appends packets to the chain's stream. Heights must be strictly
// ascending; when the first packet's height does not extend the current
// tip the stream is first reorged back to its parent. The payload writes,
// index updates and tip update all commit in one transaction.
func (s *Sync) Store(chain chaincfg.Chain, items []*wire.SyncPacket) error {
	if len(items) == 0 {
		return nil
	}

	table, ok := s.tables[chain]
	if !ok {
		return errors.Wrapf(ErrInvalidInput, "unsupported chain %s", chain)
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if first := items[0]; first.Height <= s.tips[chain] {
		parent := first.Height - 1
		if parent < 0 {
			parent = 0
		}
		if err := s.reorg(chain, parent); err != nil {
			log.Errorf("Reorg error: %s", err)
			return err
		}
	}

	previous := s.tips[chain]
	log.Tracef("Previous %s sync tip height: %d", chain, previous)

	txn, err := s.db.BeginRW()
	if err != nil {
		return err
	}

	s.bulk.Mutex().Lock()
	tip, err := s.store(table, items, previous, txn)
	s.bulk.Mutex().Unlock()

	if err != nil {
		_ = txn.Finalize(false)
		return err
	}

	if err := s.storeTip(chain, tip, txn); err != nil {
		_ = txn.Finalize(false)
		return err
	}

	if err := txn.Finalize(true); err != nil {
		return err
	}
	s.tips[chain] = tip

	return nil
}

func (s *Sync) store(table lmdb.Table, items []*wire.SyncPacket, previous chainhash.Height, txn *lmdb.Txn) (chainhash.Height, error) {
	for _, item := range items {
		previous++
		if item.Height != previous {
			return 0, errors.Wrapf(ErrInvalidInput,
				"sequence error: got height %d, expected %d",
				item.Height, previous)
		}

		var buf bytes.Buffer
		buf.Grow(item.SerializeSize())
		if err := item.Serialize(&buf); err != nil {
			return 0, err
		}
		payload := buf.Bytes()

		record := syncRecord{}
		view, err := s.bulk.WriteView(txn, &record.entry, nil,
			uint64(len(payload)))
		if err != nil {
			log.Errorf("Failed to allocate space for sync packet at "+
				"height %d: %s", item.Height, err)
			return 0, err
		}
		copy(view, payload)
		record.checksum = siphash.Hash(syncChecksumK0, syncChecksumK1, view)

		key := lmdb.HeightKey(uint64(item.Height))
		if err := s.db.StoreTxn(table, key, record.encode(), txn); err != nil {
			log.Errorf("Failed to update sync index at height %d: %s",
				item.Height, err)
			return 0, err
		}
	}

	return items[len(items)-1].Height, nil
}

// Load appends stored packet payloads with height greater than `after` to
// add, stopping once add returns false, the stream is exhausted, or about
// 4 MiB have been delivered. It returns whether at least one packet was
// delivered.
//
// A checksum mismatch truncates the stream to the last good height and
// stops delivery; the caller is expected to refetch from its source.
func (s *Sync) Load(chain chaincfg.Chain, after chainhash.Height, add func(payload []byte) bool) bool {
	table, ok := s.tables[chain]
	if !ok {
		return false
	}

	start := lmdb.HeightKey(uint64(after + 1))
	haveOne := false
	total := 0
	badHeight := chainhash.Height(-1)

	s.mtx.RLock()
	err := s.db.ReadFrom(table, start, func(key, value []byte) bool {
		if len(key) != 8 {
			log.Errorf("Invalid sync key size %d", len(key))
			return false
		}
		height := chainhash.Height(binary.LittleEndian.Uint64(key))

		record := syncRecord{}
		if err := record.decode(value); err != nil {
			log.Errorf("Invalid sync record at height %d: %s", height, err)
			badHeight = height
			return false
		}

		view, err := s.bulk.ReadView(record.entry)
		if err != nil {
			log.Errorf("Failed to load sync packet at height %d: %s",
				height, err)
			badHeight = height
			return false
		}

		if siphash.Hash(syncChecksumK0, syncChecksumK1, view) != record.checksum {
			log.Errorf("Checksum failure at %s height %d", chain, height)
			badHeight = height
			return false
		}

		if !add(view) {
			return false
		}

		haveOne = true
		total += len(view)

		return total < syncLoadLimit
	}, lmdb.Forward)
	s.mtx.RUnlock()

	if err != nil {
		log.Errorf("Sync load failed: %s", err)
		return haveOne
	}

	if badHeight >= 0 {
		// The read lock cannot be upgraded; retake the lock exclusively
		// and recheck the tip in case another writer already truncated
		// the stream.
		s.mtx.Lock()
		if badHeight <= s.tips[chain] {
			if err := s.reorg(chain, badHeight-1); err != nil {
				log.Errorf("Failed to truncate %s sync stream to %d: %s",
					chain, badHeight-1, err)
			}
		}
		s.mtx.Unlock()
	}

	return haveOne
}

// Reorg deletes every record above height and makes height the new tip.
func (s *Sync) Reorg(chain chaincfg.Chain, height chainhash.Height) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.reorg(chain, height)
}

// reorg implements Reorg. The caller holds the exclusive lock.
func (s *Sync) reorg(chain chaincfg.Chain, height chainhash.Height) error {
	if height < 0 {
		return errors.Wrapf(ErrInvalidInput, "invalid reorg height %d", height)
	}

	table, ok := s.tables[chain]
	if !ok {
		return errors.Wrapf(ErrInvalidInput, "unsupported chain %s", chain)
	}

	tip := s.tips[chain]

	txn, err := s.db.BeginRW()
	if err != nil {
		return err
	}

	for key := height + 1; key <= tip; key++ {
		if err := s.db.Delete(table, lmdb.HeightKey(uint64(key)), txn); err != nil {
			_ = txn.Finalize(false)
			return err
		}
	}

	if err := s.storeTip(chain, height, txn); err != nil {
		_ = txn.Finalize(false)
		return err
	}

	if err := txn.Finalize(true); err != nil {
		return err
	}
	s.tips[chain] = height

	return nil
}

func (s *Sync) storeTip(chain chaincfg.Chain, height chainhash.Height, txn *lmdb.Txn) error {
	value := make([]byte, 8)
	binary.LittleEndian.PutUint64(value, uint64(height))

	return s.db.StoreTxn(tableSyncTips, lmdb.IntegerKey(uint32(chain)), value, txn)
}

// importGenesis seeds an empty stream with the chain's genesis packet.
func (s *Sync) importGenesis(chain chaincfg.Chain) error {
	if tip, ok := s.tips[chain]; !ok || tip >= 0 {
		return nil
	}

	params := chaincfg.Lookup(chain)
	if params == nil {
		return errors.Wrapf(ErrInvalidInput, "unregistered chain %s", chain)
	}

	packet := &wire.SyncPacket{
		Chain:       uint32(chain),
		Height:      0,
		FilterType:  wire.FilterTypeES,
		FilterCount: params.GenesisCfilterCount,
		Header:      params.GenesisHeader,
		Filter:      params.GenesisCfilter,
	}

	return s.Store(chain, []*wire.SyncPacket{packet})
}
