package database

import (
	"testing"
	"time"

	"github.com/otxnet/otxd/chaincfg"
	"github.com/otxnet/otxd/config"
	"github.com/otxnet/otxd/wire"
)

func testPeer(id string, lastConnected time.Time) *wire.PeerRecord {
	return &wire.PeerRecord{
		ID:       id,
		Chain:    uint32(chaincfg.ChainBitcoin),
		Protocol: wire.PeerProtocolBitcoin,
		Transports: map[wire.PeerTransport]struct{}{
			wire.PeerTransportIPv4: {},
		},
		Services: map[wire.PeerService]struct{}{
			wire.PeerServiceCompactFilters: {},
		},
		LastConnected: lastConnected,
		Address:       []byte{10, 0, 0, 1},
		Port:          8333,
	}
}

func TestPeerInsertAndGet(t *testing.T) {
	db := setupDB(t, config.StorageLevelCache)
	peers := db.Peers()

	when := time.Unix(1600000000, 0)
	if err := peers.Insert(testPeer("peer-a", when)); err != nil {
		t.Fatalf("TestPeerInsertAndGet: insert failed: %s", err)
	}

	record, err := peers.Get("peer-a")
	if err != nil {
		t.Fatalf("TestPeerInsertAndGet: get failed: %s", err)
	}
	if record.Port != 8333 || record.Chain != uint32(chaincfg.ChainBitcoin) {
		t.Fatalf("TestPeerInsertAndGet: loaded record is wrong: %+v", record)
	}
	if !record.LastConnected.Equal(when) {
		t.Fatalf("TestPeerInsertAndGet: last connected is %s, want %s",
			record.LastConnected, when)
	}

	if _, err := peers.Get("missing"); !IsNotFoundError(err) {
		t.Fatalf("TestPeerInsertAndGet: expected ErrNotFound, got %v", err)
	}

	if err := peers.Insert(&wire.PeerRecord{}); err == nil {
		t.Fatalf("TestPeerInsertAndGet: empty peer accepted")
	}
}

func TestPeerImportSkipsDuplicates(t *testing.T) {
	db := setupDB(t, config.StorageLevelCache)
	peers := db.Peers()

	original := testPeer("peer-a", time.Unix(1600000000, 0))
	if err := peers.Insert(original); err != nil {
		t.Fatalf("TestPeerImportSkipsDuplicates: insert failed: %s", err)
	}

	replacement := testPeer("peer-a", time.Unix(1700000000, 0))
	replacement.Port = 1
	batch := []*wire.PeerRecord{
		replacement,
		testPeer("peer-b", time.Unix(1650000000, 0)),
	}
	if err := peers.Import(batch); err != nil {
		t.Fatalf("TestPeerImportSkipsDuplicates: import failed: %s", err)
	}

	record, err := peers.Get("peer-a")
	if err != nil {
		t.Fatalf("TestPeerImportSkipsDuplicates: get failed: %s", err)
	}
	if record.Port != 8333 {
		t.Fatalf("TestPeerImportSkipsDuplicates: import overwrote an " +
			"existing peer")
	}

	if _, err := peers.Get("peer-b"); err != nil {
		t.Fatalf("TestPeerImportSkipsDuplicates: imported peer missing: %s",
			err)
	}
}

func TestPeerFind(t *testing.T) {
	db := setupDB(t, config.StorageLevelCache)
	peers := db.Peers()

	// peer-b is the least recently connected matching peer.
	for id, when := range map[string]time.Time{
		"peer-a": time.Unix(1700000000, 0),
		"peer-b": time.Unix(1600000000, 0),
		"peer-c": time.Unix(1650000000, 0),
	} {
		if err := peers.Insert(testPeer(id, when)); err != nil {
			t.Fatalf("TestPeerFind: insert failed: %s", err)
		}
	}

	// A peer on another chain never matches.
	other := testPeer("peer-d", time.Unix(1500000000, 0))
	other.Chain = uint32(chaincfg.ChainBitcoinCash)
	if err := peers.Insert(other); err != nil {
		t.Fatalf("TestPeerFind: insert failed: %s", err)
	}

	found, err := peers.Find(uint32(chaincfg.ChainBitcoin),
		wire.PeerProtocolBitcoin,
		map[wire.PeerTransport]struct{}{wire.PeerTransportIPv4: {}},
		map[wire.PeerService]struct{}{wire.PeerServiceCompactFilters: {}})
	if err != nil {
		t.Fatalf("TestPeerFind: find failed: %s", err)
	}
	if found.ID != "peer-b" {
		t.Fatalf("TestPeerFind: found %s, want peer-b", found.ID)
	}

	// Requesting a service nobody advertises finds nothing.
	_, err = peers.Find(uint32(chaincfg.ChainBitcoin),
		wire.PeerProtocolBitcoin,
		map[wire.PeerTransport]struct{}{wire.PeerTransportIPv4: {}},
		map[wire.PeerService]struct{}{wire.PeerServiceGraph: {}})
	if !IsNotFoundError(err) {
		t.Fatalf("TestPeerFind: expected ErrNotFound, got %v", err)
	}

	// Deterministic tie-break: equal timestamps resolve by lexical id.
	tieA := testPeer("tie-a", time.Unix(1400000000, 0))
	tieB := testPeer("tie-b", time.Unix(1400000000, 0))
	if err := peers.Insert(tieB); err != nil {
		t.Fatalf("TestPeerFind: insert failed: %s", err)
	}
	if err := peers.Insert(tieA); err != nil {
		t.Fatalf("TestPeerFind: insert failed: %s", err)
	}

	found, err = peers.Find(uint32(chaincfg.ChainBitcoin),
		wire.PeerProtocolBitcoin, nil, nil)
	if err != nil {
		t.Fatalf("TestPeerFind: find failed: %s", err)
	}
	if found.ID != "tie-a" {
		t.Fatalf("TestPeerFind: tie broke to %s, want tie-a", found.ID)
	}
}
