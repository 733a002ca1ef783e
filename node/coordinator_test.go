package node

import (
	"testing"

	"github.com/pkg/errors"
)

func closedChan() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func TestCoordinatorOrder(t *testing.T) {
	var order []string
	subsystem := func(name string) Subsystem {
		return Subsystem{
			Name: name,
			Start: func() error {
				order = append(order, "start:"+name)
				return nil
			},
			Stop: func() <-chan struct{} {
				order = append(order, "stop:"+name)
				return closedChan()
			},
		}
	}

	c := NewCoordinator()
	c.Register(subsystem("database"))
	c.Register(subsystem("oracles"))

	if err := c.Start(); err != nil {
		t.Fatalf("TestCoordinatorOrder: start failed: %s", err)
	}
	c.Stop()

	expected := []string{
		"start:database", "start:oracles",
		"stop:oracles", "stop:database",
	}
	if len(order) != len(expected) {
		t.Fatalf("TestCoordinatorOrder: got %v", order)
	}
	for i := range expected {
		if order[i] != expected[i] {
			t.Fatalf("TestCoordinatorOrder: step %d is %s, want %s", i,
				order[i], expected[i])
		}
	}
}

func TestCoordinatorStartFailure(t *testing.T) {
	var stopped []string

	c := NewCoordinator()
	c.Register(Subsystem{
		Name:  "first",
		Start: func() error { return nil },
		Stop: func() <-chan struct{} {
			stopped = append(stopped, "first")
			return closedChan()
		},
	})
	c.Register(Subsystem{
		Name:  "second",
		Start: func() error { return errors.New("boom") },
		Stop: func() <-chan struct{} {
			stopped = append(stopped, "second")
			return closedChan()
		},
	})

	if err := c.Start(); err == nil {
		t.Fatalf("TestCoordinatorStartFailure: start did not fail")
	}

	// Only the successfully started subsystem was stopped.
	if len(stopped) != 1 || stopped[0] != "first" {
		t.Fatalf("TestCoordinatorStartFailure: stopped %v", stopped)
	}

	// A later Stop is a no-op.
	c.Stop()
	if len(stopped) != 1 {
		t.Fatalf("TestCoordinatorStartFailure: repeated stop ran again: %v",
			stopped)
	}
}
