package download

import (
	"testing"

	"github.com/otxnet/otxd/chainhash"
)

func position(height chainhash.Height) chainhash.Position {
	var hash chainhash.Hash
	hash[0] = byte(height)
	hash[1] = byte(height >> 8)
	return chainhash.NewPosition(height, hash)
}

func positions(from, to chainhash.Height) []chainhash.Position {
	out := make([]chainhash.Position, 0, to-from+1)
	for height := from; height <= to; height++ {
		out = append(out, position(height))
	}
	return out
}

// testManager processes string payloads whose anchor is the payload
// itself chained onto the previous anchor.
func testManager(start chainhash.Height, tips *[]chainhash.Position, reject func(chainhash.Height) bool) *Manager[string, string] {
	cfg := Config[string, string]{
		Name: "test",
		Process: func(task *Task[string, string], previous string) (string, bool) {
			if reject != nil && reject(task.Position.Height) {
				return "", false
			}
			return previous + "/" + task.Data, true
		},
		UpdateTip: func(pos chainhash.Position, _ string) {
			*tips = append(*tips, pos)
		},
	}

	return NewManager(cfg, position(start), Resolved("anchor"))
}

func TestBatchSizeStaircase(t *testing.T) {
	tests := []struct {
		queueLength int
		expected    int
	}{
		{queueLength: 0, expected: 1},
		{queueLength: 9, expected: 1},
		{queueLength: 10, expected: 10},
		{queueLength: 99, expected: 10},
		{queueLength: 100, expected: 100},
		{queueLength: 999, expected: 100},
		{queueLength: 1000, expected: 1000},
		{queueLength: 5000, expected: 1000},
	}

	for _, test := range tests {
		if got := DefaultBatchSize(test.queueLength); got != test.expected {
			t.Fatalf("TestBatchSizeStaircase: size for %d is %d, want %d",
				test.queueLength, got, test.expected)
		}
	}
}

func TestProcessInOrder(t *testing.T) {
	var tips []chainhash.Position
	m := testManager(0, &tips, nil)

	m.UpdatePosition(positions(0, 5), nil)
	if got := m.QueueLength(); got != 5 {
		t.Fatalf("TestProcessInOrder: queue length is %d, want 5", got)
	}

	// The first batch holds a single task; later batches take the rest.
	batch := m.AllocateBatch()
	if batch.Len() != 1 {
		t.Fatalf("TestProcessInOrder: first batch has %d tasks, want 1",
			batch.Len())
	}
	for {
		pos, ok := batch.NextPosition()
		if !ok {
			batch = m.AllocateBatch()
			if batch.Len() == 0 {
				break
			}
			continue
		}
		batch.Receive("payload-" + pos.String())
	}

	m.ProcessDownloaded()

	if len(tips) != 5 {
		t.Fatalf("TestProcessInOrder: %d tip updates, want 5", len(tips))
	}
	for i, tip := range tips {
		if tip.Height != chainhash.Height(i+1) {
			t.Fatalf("TestProcessInOrder: tip update %d at height %d, "+
				"want %d", i, tip.Height, i+1)
		}
	}

	if known := m.Known(); known.Height != 5 {
		t.Fatalf("TestProcessInOrder: known height is %d, want 5",
			known.Height)
	}

	// Anchors chain through every processed height.
	anchor, err := m.Finished().Result()
	if err != nil {
		t.Fatalf("TestProcessInOrder: finished future failed: %s", err)
	}
	if anchor == "anchor" {
		t.Fatalf("TestProcessInOrder: anchor did not advance")
	}
}

func TestRejectedPayloadRedownloads(t *testing.T) {
	var tips []chainhash.Position
	rejectOnce := true
	m := testManager(0, &tips, func(height chainhash.Height) bool {
		if height == 2 && rejectOnce {
			rejectOnce = false
			return true
		}
		return false
	})

	m.UpdatePosition(positions(0, 3), nil)

	fill := func() {
		for {
			batch := m.AllocateBatch()
			if batch.Len() == 0 {
				return
			}
			for {
				pos, ok := batch.NextPosition()
				if !ok {
					break
				}
				batch.Receive("payload-" + pos.String())
			}
		}
	}

	fill()
	m.ProcessDownloaded()

	// Height 1 processed; height 2 was rejected and went back to
	// pending, blocking height 3.
	if len(tips) != 1 || tips[0].Height != 1 {
		t.Fatalf("TestRejectedPayloadRedownloads: tips after rejection: %v",
			tips)
	}

	fill()
	m.ProcessDownloaded()

	if len(tips) != 3 {
		t.Fatalf("TestRejectedPayloadRedownloads: %d tip updates, want 3",
			len(tips))
	}
	for i, tip := range tips {
		if tip.Height != chainhash.Height(i+1) {
			t.Fatalf("TestRejectedPayloadRedownloads: tip update %d at "+
				"height %d", i, tip.Height)
		}
	}
}

func TestReorgReset(t *testing.T) {
	var tips []chainhash.Position
	m := testManager(0, &tips, nil)

	m.UpdatePosition(positions(0, 10), nil)

	// A reorg back to height 4 discards the queue and reseeds.
	ancestors := positions(4, 8)
	m.UpdatePosition(ancestors, Resolved("reorg-anchor"))

	if known := m.Known(); known.Height != 4 {
		t.Fatalf("TestReorgReset: known height is %d after reorg, want 4",
			known.Height)
	}
	if got := m.QueueLength(); got != 4 {
		t.Fatalf("TestReorgReset: queue length is %d after reorg, want 4",
			got)
	}

	for {
		batch := m.AllocateBatch()
		if batch.Len() == 0 {
			break
		}
		for {
			pos, ok := batch.NextPosition()
			if !ok {
				break
			}
			batch.Receive("payload-" + pos.String())
		}
		m.ProcessDownloaded()
	}

	if len(tips) != 4 {
		t.Fatalf("TestReorgReset: %d tip updates, want 4", len(tips))
	}
	if tips[0].Height != 5 || tips[len(tips)-1].Height != 8 {
		t.Fatalf("TestReorgReset: tip updates span %d..%d, want 5..8",
			tips[0].Height, tips[len(tips)-1].Height)
	}

	anchor, err := m.Finished().Result()
	if err != nil {
		t.Fatalf("TestReorgReset: finished future failed: %s", err)
	}
	if anchor[:12] != "reorg-anchor" {
		t.Fatalf("TestReorgReset: anchor %q does not chain from the "+
			"reorg anchor", anchor)
	}
}

func TestShutdownCancelsQueue(t *testing.T) {
	var tips []chainhash.Position
	m := testManager(0, &tips, nil)

	m.UpdatePosition(positions(0, 3), nil)
	batch := m.AllocateBatch()
	task := batch.tasks[0]

	m.Shutdown()

	if _, err := task.Future().Result(); err == nil {
		t.Fatalf("TestShutdownCancelsQueue: queued future resolved after " +
			"shutdown")
	}
	if got := m.QueueLength(); got != 0 {
		t.Fatalf("TestShutdownCancelsQueue: queue length is %d after "+
			"shutdown", got)
	}
}
