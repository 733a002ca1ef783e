package database

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/otxnet/otxd/config"
)

func TestBlockStoreRoundTrip(t *testing.T) {
	db := setupDB(t, config.StorageLevelAll)
	blocks := db.Blocks()

	hash := testHash(0x70)
	payload := bytes.Repeat([]byte{0xbd}, 1000)

	if blocks.Exists(hash) {
		t.Fatalf("TestBlockStoreRoundTrip: block exists before store")
	}

	writer, err := blocks.Store(hash, uint64(len(payload)))
	if err != nil {
		t.Fatalf("TestBlockStoreRoundTrip: store failed: %s", err)
	}
	if len(writer.Bytes()) != len(payload) {
		t.Fatalf("TestBlockStoreRoundTrip: writable view is %d bytes, "+
			"want %d", len(writer.Bytes()), len(payload))
	}
	copy(writer.Bytes(), payload)
	writer.Close()

	if !blocks.Exists(hash) {
		t.Fatalf("TestBlockStoreRoundTrip: stored block does not exist")
	}

	reader, err := blocks.Load(hash)
	if err != nil {
		t.Fatalf("TestBlockStoreRoundTrip: load failed: %s", err)
	}
	defer reader.Close()

	if !bytes.Equal(reader.Bytes(), payload) {
		t.Fatalf("TestBlockStoreRoundTrip: read back different bytes")
	}
}

func TestBlockStoreInvalidSize(t *testing.T) {
	db := setupDB(t, config.StorageLevelAll)

	if _, err := db.Blocks().Store(testHash(0x71), 0); err == nil {
		t.Fatalf("TestBlockStoreInvalidSize: zero-size store accepted")
	}
}

func TestBlockLockSharing(t *testing.T) {
	db := setupDB(t, config.StorageLevelAll)
	blocks := db.Blocks()

	hash := testHash(0x72)
	payload := []byte("shared readers")

	writer, err := blocks.Store(hash, uint64(len(payload)))
	if err != nil {
		t.Fatalf("TestBlockLockSharing: store failed: %s", err)
	}
	copy(writer.Bytes(), payload)
	writer.Close()

	// Concurrent readers proceed together.
	first, err := blocks.Load(hash)
	if err != nil {
		t.Fatalf("TestBlockLockSharing: first load failed: %s", err)
	}
	second, err := blocks.Load(hash)
	if err != nil {
		t.Fatalf("TestBlockLockSharing: second load failed: %s", err)
	}

	// A writer must wait until both readers release the block.
	writerDone := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w, err := blocks.Store(hash, uint64(len(payload)))
		if err != nil {
			t.Errorf("TestBlockLockSharing: concurrent store failed: %s", err)
			close(writerDone)
			return
		}
		copy(w.Bytes(), payload)
		w.Close()
		close(writerDone)
	}()

	select {
	case <-writerDone:
		t.Fatalf("TestBlockLockSharing: writer proceeded while readers " +
			"hold the block")
	case <-time.After(50 * time.Millisecond):
	}

	first.Close()
	second.Close()

	select {
	case <-writerDone:
	case <-time.After(5 * time.Second):
		t.Fatalf("TestBlockLockSharing: writer never proceeded after " +
			"readers released the block")
	}
	wg.Wait()
}
