package database

import (
	"testing"

	"github.com/otxnet/otxd/chainhash"
	"github.com/otxnet/otxd/config"
	"github.com/otxnet/otxd/database/bulk"
)

// setupDB opens a fresh database under a temporary directory with small
// bulk segments.
func setupDB(t *testing.T, storageLevel int) *Database {
	t.Helper()
	return setupDBAt(t, t.TempDir(), storageLevel)
}

func setupDBAt(t *testing.T, dataDir string, storageLevel int) *Database {
	t.Helper()

	previous := bulk.SegmentSize
	bulk.SegmentSize = 1 << 20
	t.Cleanup(func() { bulk.SegmentSize = previous })

	db, err := Open(&config.Options{
		DataDir:           dataDir,
		BlockStorageLevel: storageLevel,
	})
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

// mustOpen opens a database without registering cleanup; callers close
// it themselves. Used by reopen scenarios.
func mustOpen(t *testing.T, dataDir string, storageLevel int) *Database {
	t.Helper()

	previous := bulk.SegmentSize
	bulk.SegmentSize = 1 << 20
	t.Cleanup(func() { bulk.SegmentSize = previous })

	db, err := Open(&config.Options{
		DataDir:           dataDir,
		BlockStorageLevel: storageLevel,
	})
	if err != nil {
		t.Fatalf("mustOpen: failed to open database: %s", err)
	}

	return db
}

// testHash builds a deterministic hash from a seed byte.
func testHash(seed byte) chainhash.Hash {
	var hash chainhash.Hash
	for i := range hash {
		hash[i] = seed
	}
	return hash
}
