package lmdb

import (
	"bytes"
	"testing"
)

const (
	tablePlain Table = iota
	tableInteger
	tableDup
	tableLegacy
)

func setupDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(t.TempDir(), []TableDefinition{
		{Table: tablePlain, Name: "plain", Mode: ModeDefault},
		{Table: tableInteger, Name: "integer", Mode: ModeIntegerKey},
		{Table: tableDup, Name: "dup", Mode: ModeDupSortIntegerKey},
	}, nil)
	if err != nil {
		t.Fatalf("setupDB: failed to open database: %s", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("setupDB: failed to close database: %s", err)
		}
	})

	return db
}

func TestStoreAndLoad(t *testing.T) {
	db := setupDB(t)

	key := []byte("key")
	value := []byte("value")
	if err := db.Store(tablePlain, key, value); err != nil {
		t.Fatalf("TestStoreAndLoad: store failed: %s", err)
	}

	if !db.Exists(tablePlain, key) {
		t.Fatalf("TestStoreAndLoad: stored key does not exist")
	}
	if db.Exists(tablePlain, []byte("missing")) {
		t.Fatalf("TestStoreAndLoad: missing key reported to exist")
	}

	var loaded []byte
	err := db.Load(tablePlain, key, func(v []byte) error {
		loaded = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		t.Fatalf("TestStoreAndLoad: load failed: %s", err)
	}
	if !bytes.Equal(loaded, value) {
		t.Fatalf("TestStoreAndLoad: loaded %x, want %x", loaded, value)
	}

	err = db.Load(tablePlain, []byte("missing"), func(v []byte) error {
		t.Fatalf("TestStoreAndLoad: callback invoked for missing key")
		return nil
	})
	if !IsNotFoundError(err) {
		t.Fatalf("TestStoreAndLoad: expected ErrNotFound, got %v", err)
	}
}

func TestTransactionFinalize(t *testing.T) {
	db := setupDB(t)

	key := []byte("aborted")
	txn, err := db.BeginRW()
	if err != nil {
		t.Fatalf("TestTransactionFinalize: begin failed: %s", err)
	}
	if err := db.StoreTxn(tablePlain, key, []byte("x"), txn); err != nil {
		t.Fatalf("TestTransactionFinalize: store failed: %s", err)
	}
	if err := txn.Finalize(false); err != nil {
		t.Fatalf("TestTransactionFinalize: abort failed: %s", err)
	}
	if db.Exists(tablePlain, key) {
		t.Fatalf("TestTransactionFinalize: aborted write is visible")
	}

	txn, err = db.BeginRW()
	if err != nil {
		t.Fatalf("TestTransactionFinalize: begin failed: %s", err)
	}
	if err := db.StoreTxn(tablePlain, key, []byte("x"), txn); err != nil {
		t.Fatalf("TestTransactionFinalize: store failed: %s", err)
	}
	committed := false
	txn.OnCommit(func() { committed = true })
	if err := txn.Finalize(true); err != nil {
		t.Fatalf("TestTransactionFinalize: commit failed: %s", err)
	}
	if !committed {
		t.Fatalf("TestTransactionFinalize: commit hook did not run")
	}
	if !db.Exists(tablePlain, key) {
		t.Fatalf("TestTransactionFinalize: committed write is not visible")
	}

	if err := txn.Finalize(true); err == nil {
		t.Fatalf("TestTransactionFinalize: double finalize did not fail")
	}
}

func TestDupSort(t *testing.T) {
	db := setupDB(t)

	key := IntegerKey(7)
	for _, value := range []string{"b", "a", "c"} {
		if err := db.Store(tableDup, key, []byte(value)); err != nil {
			t.Fatalf("TestDupSort: store failed: %s", err)
		}
	}

	var values []string
	err := db.ReadDup(tableDup, key, func(v []byte) bool {
		values = append(values, string(v))
		return true
	})
	if err != nil {
		t.Fatalf("TestDupSort: read failed: %s", err)
	}
	if len(values) != 3 {
		t.Fatalf("TestDupSort: got %d values, want 3", len(values))
	}
	// Duplicates are stored sorted.
	for i, want := range []string{"a", "b", "c"} {
		if values[i] != want {
			t.Fatalf("TestDupSort: value %d is %q, want %q", i, values[i], want)
		}
	}

	txn, err := db.BeginRW()
	if err != nil {
		t.Fatalf("TestDupSort: begin failed: %s", err)
	}
	if err := db.DeleteValue(tableDup, key, []byte("b"), txn); err != nil {
		t.Fatalf("TestDupSort: delete failed: %s", err)
	}
	if err := txn.Finalize(true); err != nil {
		t.Fatalf("TestDupSort: commit failed: %s", err)
	}

	values = nil
	if err := db.ReadDup(tableDup, key, func(v []byte) bool {
		values = append(values, string(v))
		return true
	}); err != nil {
		t.Fatalf("TestDupSort: read failed: %s", err)
	}
	if len(values) != 2 || values[0] != "a" || values[1] != "c" {
		t.Fatalf("TestDupSort: unexpected values after delete: %v", values)
	}
}

func TestReadFrom(t *testing.T) {
	db := setupDB(t)

	for _, height := range []uint64{0, 1, 2, 5, 9} {
		if err := db.Store(tableInteger, HeightKey(height), []byte{byte(height)}); err != nil {
			t.Fatalf("TestReadFrom: store failed: %s", err)
		}
	}

	tests := []struct {
		name     string
		start    uint64
		expected []uint64
	}{
		{name: "from existing key", start: 2, expected: []uint64{2, 5, 9}},
		{name: "from gap", start: 3, expected: []uint64{5, 9}},
		{name: "past the end", start: 10, expected: nil},
	}

	for _, test := range tests {
		var got []uint64
		err := db.ReadFrom(tableInteger, HeightKey(test.start),
			func(key, value []byte) bool {
				got = append(got, uint64(value[0]))
				return true
			}, Forward)
		if err != nil {
			t.Fatalf("TestReadFrom (%s): read failed: %s", test.name, err)
		}
		if len(got) != len(test.expected) {
			t.Fatalf("TestReadFrom (%s): got %v, want %v", test.name, got,
				test.expected)
		}
		for i := range got {
			if got[i] != test.expected[i] {
				t.Fatalf("TestReadFrom (%s): got %v, want %v", test.name,
					got, test.expected)
			}
		}
	}
}

func TestDroppedTables(t *testing.T) {
	dir := t.TempDir()

	db, err := New(dir, []TableDefinition{
		{Table: tablePlain, Name: "plain", Mode: ModeDefault},
		{Table: tableLegacy, Name: "legacy", Mode: ModeDefault},
	}, nil)
	if err != nil {
		t.Fatalf("TestDroppedTables: open failed: %s", err)
	}
	if err := db.Store(tableLegacy, []byte("old"), []byte("row")); err != nil {
		t.Fatalf("TestDroppedTables: store failed: %s", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("TestDroppedTables: close failed: %s", err)
	}

	db, err = New(dir, []TableDefinition{
		{Table: tablePlain, Name: "plain", Mode: ModeDefault},
	}, []TableDefinition{
		{Table: tableLegacy, Name: "legacy", Mode: ModeDefault},
	})
	if err != nil {
		t.Fatalf("TestDroppedTables: reopen failed: %s", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("TestDroppedTables: close failed: %s", err)
	}

	// Open the legacy table as a live table again to observe that the
	// drop emptied it.
	db, err = New(dir, []TableDefinition{
		{Table: tablePlain, Name: "plain", Mode: ModeDefault},
		{Table: tableLegacy, Name: "legacy", Mode: ModeDefault},
	}, nil)
	if err != nil {
		t.Fatalf("TestDroppedTables: third open failed: %s", err)
	}
	defer db.Close()

	if db.Exists(tableLegacy, []byte("old")) {
		t.Fatalf("TestDroppedTables: legacy row survived reopen")
	}
}
