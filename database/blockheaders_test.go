package database

import (
	"testing"

	"github.com/otxnet/otxd/chainhash"
	"github.com/otxnet/otxd/config"
	"github.com/otxnet/otxd/wire"
)

func testHeaderRecord(nonce uint32) *wire.HeaderRecord {
	return &wire.HeaderRecord{
		Header: wire.BlockHeader{
			Version:    1,
			PrevBlock:  testHash(0x01),
			MerkleRoot: testHash(0x02),
			Timestamp:  1231006505,
			Bits:       0x1d00ffff,
			Nonce:      nonce,
		},
		Height:        7,
		Status:        wire.HeaderStatusCheckpoint,
		Work:          testHash(0x03),
		InheritedWork: testHash(0x04),
	}
}

func TestHeaderStoreAndLoad(t *testing.T) {
	db := setupDB(t, config.StorageLevelCache)
	headers := db.BlockHeaders()

	record := testHeaderRecord(100)
	hash := record.Header.BlockHash()

	if headers.Exists(hash) {
		t.Fatalf("TestHeaderStoreAndLoad: header exists before store")
	}

	if err := headers.Store(record); err != nil {
		t.Fatalf("TestHeaderStoreAndLoad: store failed: %s", err)
	}
	if !headers.Exists(hash) {
		t.Fatalf("TestHeaderStoreAndLoad: stored header does not exist")
	}

	loaded, err := headers.Load(hash)
	if err != nil {
		t.Fatalf("TestHeaderStoreAndLoad: load failed: %s", err)
	}
	if loaded.Header.BlockHash() != hash {
		t.Fatalf("TestHeaderStoreAndLoad: loaded header hashes to %s, "+
			"want %s", loaded.Header.BlockHash(), hash)
	}
	if loaded.Height != 7 || loaded.Status != wire.HeaderStatusCheckpoint {
		t.Fatalf("TestHeaderStoreAndLoad: local metadata lost: %+v", loaded)
	}

	if _, err := headers.Load(testHash(0xaa)); !IsNotFoundError(err) {
		t.Fatalf("TestHeaderStoreAndLoad: expected ErrNotFound, got %v", err)
	}
}

func TestHeaderStoreMany(t *testing.T) {
	db := setupDB(t, config.StorageLevelCache)
	headers := db.BlockHeaders()

	// A new header has its local metadata cleared; a known header
	// keeps it.
	newRecord := testHeaderRecord(200)
	knownRecord := testHeaderRecord(201)

	updates := map[chainhash.Hash]HeaderUpdate{
		newRecord.Header.BlockHash():   {Record: newRecord, New: true},
		knownRecord.Header.BlockHash(): {Record: knownRecord, New: false},
	}
	if err := headers.StoreMany(updates); err != nil {
		t.Fatalf("TestHeaderStoreMany: store failed: %s", err)
	}

	cleared, err := headers.Load(newRecord.Header.BlockHash())
	if err != nil {
		t.Fatalf("TestHeaderStoreMany: load failed: %s", err)
	}
	if cleared.Height != 0 || cleared.Status != wire.HeaderStatusNormal ||
		!cleared.Work.IsZero() {
		t.Fatalf("TestHeaderStoreMany: local metadata not cleared for "+
			"new header: %+v", cleared)
	}

	kept, err := headers.Load(knownRecord.Header.BlockHash())
	if err != nil {
		t.Fatalf("TestHeaderStoreMany: load failed: %s", err)
	}
	if kept.Height != 7 || kept.Status != wire.HeaderStatusCheckpoint {
		t.Fatalf("TestHeaderStoreMany: local metadata lost for known "+
			"header: %+v", kept)
	}
}
