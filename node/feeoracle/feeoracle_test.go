package feeoracle

import (
	"testing"
	"time"

	"github.com/otxnet/otxd/chaincfg"
	"github.com/otxnet/otxd/node"
	"github.com/otxnet/otxd/worker"
)

func setupOracle(t *testing.T) (*FeeOracle, *worker.Pool) {
	t.Helper()

	pool := worker.NewPool(2)
	t.Cleanup(pool.Stop)

	oracle := New(chaincfg.ChainUnitTest, node.NewEventBus(), pool)
	t.Cleanup(func() {
		select {
		case <-oracle.Shutdown():
		case <-time.After(10 * time.Second):
			t.Errorf("setupOracle: oracle did not shut down")
		}
	})

	return oracle, pool
}

func TestWindowedAverage(t *testing.T) {
	oracle, _ := setupOracle(t)

	now := time.Unix(1700000000, 0)
	oracle.now = func() time.Time { return now }

	// Feed samples directly into the actor-owned window with
	// backdated timestamps: one expired, two current.
	oracle.data = []sample{
		{when: now.Add(-25 * time.Minute), amount: 100},
		{when: now.Add(-10 * time.Minute), amount: 200},
		{when: now.Add(-5 * time.Minute), amount: 300},
	}

	oracle.StateMachine()

	estimate, ok := oracle.EstimatedFee()
	if !ok {
		t.Fatalf("TestWindowedAverage: no estimate after tick")
	}
	if estimate != 250 {
		t.Fatalf("TestWindowedAverage: estimate is %d, want 250", estimate)
	}
	if len(oracle.data) != 2 {
		t.Fatalf("TestWindowedAverage: %d samples retained, want 2",
			len(oracle.data))
	}
}

func TestEmptyWindow(t *testing.T) {
	oracle, _ := setupOracle(t)

	if _, ok := oracle.EstimatedFee(); ok {
		t.Fatalf("TestEmptyWindow: fresh oracle has an estimate")
	}

	now := time.Unix(1700000000, 0)
	oracle.now = func() time.Time { return now }
	oracle.data = []sample{
		{when: now.Add(-21 * time.Minute), amount: 500},
	}

	oracle.StateMachine()

	if _, ok := oracle.EstimatedFee(); ok {
		t.Fatalf("TestEmptyWindow: estimate remains after every sample " +
			"expired")
	}
}

func TestSubmitEstimate(t *testing.T) {
	oracle, _ := setupOracle(t)

	if err := oracle.SubmitEstimate(1000); err != nil {
		t.Fatalf("TestSubmitEstimate: submit failed: %s", err)
	}

	// The sample is consumed by the actor and reflected on the next
	// tick.
	deadline := time.After(10 * time.Second)
	for {
		oracle.worker.Trigger()
		if estimate, ok := oracle.EstimatedFee(); ok {
			if estimate != 1000 {
				t.Fatalf("TestSubmitEstimate: estimate is %d, want 1000",
					estimate)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("TestSubmitEstimate: estimate never published")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestEventPublished(t *testing.T) {
	pool := worker.NewPool(2)
	t.Cleanup(pool.Stop)

	events := node.NewEventBus()
	sub := events.Subscribe(16)
	defer events.Unsubscribe(sub)

	oracle := New(chaincfg.ChainUnitTest, events, pool)
	defer func() {
		select {
		case <-oracle.Shutdown():
		case <-time.After(10 * time.Second):
			t.Errorf("TestEventPublished: oracle did not shut down")
		}
	}()

	oracle.data = []sample{{when: time.Now(), amount: 42}}
	oracle.StateMachine()

	select {
	case event := <-sub.C:
		if event.Type != node.ETFeeEstimateUpdated {
			t.Fatalf("TestEventPublished: unexpected event type %s",
				event.Type)
		}
		if event.Chain != chaincfg.ChainUnitTest {
			t.Fatalf("TestEventPublished: event for chain %s", event.Chain)
		}
	case <-time.After(time.Second):
		t.Fatalf("TestEventPublished: no event published")
	}
}
