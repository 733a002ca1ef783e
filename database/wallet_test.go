package database

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/otxnet/otxd/chainhash"
	"github.com/otxnet/otxd/config"
	"github.com/otxnet/otxd/wire"
)

func containsTxid(txids []chainhash.Hash, txid chainhash.Hash) bool {
	for _, candidate := range txids {
		if candidate == txid {
			return true
		}
	}
	return false
}

func TestPatternLifecycle(t *testing.T) {
	db := setupDB(t, config.StorageLevelCache)
	wallet := db.Wallet()

	txA := testHash(0xa1)
	p1, p2, p3 := PatternID(1), PatternID(2), PatternID(3)

	if err := wallet.AssociateTransaction(txA, []PatternID{p1, p2}); err != nil {
		t.Fatalf("TestPatternLifecycle: associate failed: %s", err)
	}

	for _, pattern := range []PatternID{p1, p2} {
		txids := wallet.LookupTransactions(pattern)
		if !containsTxid(txids, txA) {
			t.Fatalf("TestPatternLifecycle: pattern %d does not list %s: %s",
				pattern, txA, spew.Sdump(txids))
		}
	}

	// Re-associating replaces the set: p1 is dropped, p3 is added.
	if err := wallet.AssociateTransaction(txA, []PatternID{p2, p3}); err != nil {
		t.Fatalf("TestPatternLifecycle: re-associate failed: %s", err)
	}

	if txids := wallet.LookupTransactions(p1); len(txids) != 0 {
		t.Fatalf("TestPatternLifecycle: stale pattern still lists "+
			"transactions: %s", spew.Sdump(txids))
	}
	for _, pattern := range []PatternID{p2, p3} {
		txids := wallet.LookupTransactions(pattern)
		if len(txids) != 1 || txids[0] != txA {
			t.Fatalf("TestPatternLifecycle: pattern %d lists %s, want [%s]",
				pattern, spew.Sdump(txids), txA)
		}
	}

	// Idempotence: repeating the association changes nothing.
	if err := wallet.AssociateTransaction(txA, []PatternID{p2, p3}); err != nil {
		t.Fatalf("TestPatternLifecycle: repeat associate failed: %s", err)
	}
	if txids := wallet.LookupTransactions(p2); len(txids) != 1 {
		t.Fatalf("TestPatternLifecycle: idempotent associate duplicated "+
			"entries: %s", spew.Sdump(txids))
	}

	if err := wallet.AssociateTransaction(chainhash.Hash{}, nil); err == nil {
		t.Fatalf("TestPatternLifecycle: empty txid accepted")
	}
}

func TestWalletIndexSurvivesReopen(t *testing.T) {
	dataDir := t.TempDir()

	db := mustOpen(t, dataDir, config.StorageLevelCache)
	wallet := db.Wallet()

	txA := testHash(0xb1)
	element := []byte("persistent-element")
	pattern := db.IndexItem(element)

	if err := wallet.AssociateTransaction(txA, []PatternID{pattern}); err != nil {
		t.Fatalf("TestWalletIndexSurvivesReopen: associate failed: %s", err)
	}
	wallet.UpdateContact(Contact{ID: "alice", Elements: [][]byte{element}})

	// Close snapshots the indexes.
	if err := db.Close(); err != nil {
		t.Fatalf("TestWalletIndexSurvivesReopen: close failed: %s", err)
	}

	db = mustOpen(t, dataDir, config.StorageLevelCache)
	defer db.Close()
	wallet = db.Wallet()

	txids := wallet.LookupTransactions(pattern)
	if len(txids) != 1 || txids[0] != txA {
		t.Fatalf("TestWalletIndexSurvivesReopen: pattern lost across "+
			"reopen: %s", spew.Sdump(txids))
	}
	contacts := wallet.LookupContact(element)
	if len(contacts) != 1 || contacts[0] != "alice" {
		t.Fatalf("TestWalletIndexSurvivesReopen: contact lost across "+
			"reopen: %v", contacts)
	}

	// The restored forward map keeps AssociateTransaction idempotent:
	// re-associating must not lose or duplicate anything.
	if err := wallet.AssociateTransaction(txA, []PatternID{pattern}); err != nil {
		t.Fatalf("TestWalletIndexSurvivesReopen: re-associate failed: %s",
			err)
	}
	if txids := wallet.LookupTransactions(pattern); len(txids) != 1 {
		t.Fatalf("TestWalletIndexSurvivesReopen: re-associate corrupted "+
			"the restored index: %s", spew.Sdump(txids))
	}

	// An explicit Flush mid-session works too.
	if err := wallet.Flush(); err != nil {
		t.Fatalf("TestWalletIndexSurvivesReopen: flush failed: %s", err)
	}
}

func testTransaction(marker byte) *wire.MsgTx {
	return &wire.MsgTx{
		Version: 1,
		TxIn: []*wire.TxIn{{
			PreviousOutpoint: wire.Outpoint{
				Hash:  testHash(marker),
				Index: 0,
			},
			SignatureScript: []byte{0x51},
			Sequence:        0xffffffff,
		}},
		TxOut: []*wire.TxOut{{
			Value:    5000000000,
			PkScript: []byte{0x76, 0xa9, marker, 0x88, 0xac},
		}},
	}
}

func TestTransactionRoundTrip(t *testing.T) {
	db := setupDB(t, config.StorageLevelCache)
	wallet := db.Wallet()

	tx := testTransaction(0x07)
	if err := wallet.StoreTransaction(tx); err != nil {
		t.Fatalf("TestTransactionRoundTrip: store failed: %s", err)
	}

	loaded, err := wallet.LoadTransaction(tx.TxHash())
	if err != nil {
		t.Fatalf("TestTransactionRoundTrip: load failed: %s", err)
	}
	if loaded.TxHash() != tx.TxHash() {
		t.Fatalf("TestTransactionRoundTrip: loaded transaction hashes to "+
			"%s, want %s", loaded.TxHash(), tx.TxHash())
	}

	if _, err := wallet.LoadTransaction(testHash(0xee)); !IsNotFoundError(err) {
		t.Fatalf("TestTransactionRoundTrip: expected ErrNotFound, got %v", err)
	}

	// Storing again replaces the record in place.
	if err := wallet.StoreTransaction(tx); err != nil {
		t.Fatalf("TestTransactionRoundTrip: second store failed: %s", err)
	}
	if _, err := wallet.LoadTransaction(tx.TxHash()); err != nil {
		t.Fatalf("TestTransactionRoundTrip: reload failed: %s", err)
	}
}

func TestContactIndex(t *testing.T) {
	db := setupDB(t, config.StorageLevelCache)
	wallet := db.Wallet()

	elementA := []byte("element-a")
	elementB := []byte("element-b")

	// Associate a transaction with elementA's pattern so contact
	// updates report it.
	txA := testHash(0x42)
	patternA := db.IndexItem(elementA)
	if err := wallet.AssociateTransaction(txA, []PatternID{patternA}); err != nil {
		t.Fatalf("TestContactIndex: associate failed: %s", err)
	}

	affected := wallet.UpdateContact(Contact{
		ID:       "alice",
		Elements: [][]byte{elementA},
	})
	if !containsTxid(affected, txA) {
		t.Fatalf("TestContactIndex: update did not report affected "+
			"transaction: %s", spew.Sdump(affected))
	}

	contacts := wallet.LookupContact(elementA)
	if len(contacts) != 1 || contacts[0] != "alice" {
		t.Fatalf("TestContactIndex: elementA maps to %v, want [alice]",
			contacts)
	}

	// Replacing alice's elements drops elementA and reports txA again.
	affected = wallet.UpdateContact(Contact{
		ID:       "alice",
		Elements: [][]byte{elementB},
	})
	if !containsTxid(affected, txA) {
		t.Fatalf("TestContactIndex: removal did not report affected "+
			"transaction: %s", spew.Sdump(affected))
	}
	if contacts := wallet.LookupContact(elementA); len(contacts) != 0 {
		t.Fatalf("TestContactIndex: elementA still maps to %v", contacts)
	}
}

func TestMergedContact(t *testing.T) {
	db := setupDB(t, config.StorageLevelCache)
	wallet := db.Wallet()

	elementA := []byte("parent-element")
	elementB := []byte("child-element")

	wallet.UpdateContact(Contact{ID: "parent", Elements: [][]byte{elementA}})
	wallet.UpdateContact(Contact{ID: "child", Elements: [][]byte{elementB}})

	wallet.UpdateMergedContact(
		Contact{ID: "parent", Elements: [][]byte{elementA}},
		Contact{ID: "child", Elements: [][]byte{elementB}},
	)

	// The child's element now belongs to the parent only.
	contacts := wallet.LookupContact(elementB)
	if len(contacts) != 1 || contacts[0] != "parent" {
		t.Fatalf("TestMergedContact: elementB maps to %v, want [parent]",
			contacts)
	}
	if contacts := wallet.LookupContact(elementA); len(contacts) != 1 ||
		contacts[0] != "parent" {
		t.Fatalf("TestMergedContact: elementA maps to %v, want [parent]",
			contacts)
	}
}
