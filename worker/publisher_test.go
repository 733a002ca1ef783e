package worker

import "testing"

func TestPublisherFanOut(t *testing.T) {
	p := NewPublisher[int]()
	defer p.Close()

	first := p.Subscribe(8)
	second := p.Subscribe(8)

	for i := 0; i < 3; i++ {
		p.Publish(i)
	}

	for _, sub := range []*Subscription[int]{first, second} {
		for i := 0; i < 3; i++ {
			value, ok := <-sub.C
			if !ok {
				t.Fatalf("TestPublisherFanOut: subscription closed early")
			}
			if value != i {
				t.Fatalf("TestPublisherFanOut: got %d, want %d", value, i)
			}
		}
	}
}

func TestPublisherDropOldest(t *testing.T) {
	p := NewPublisher[int]()
	defer p.Close()

	sub := p.Subscribe(2)

	// The subscriber never drains; the queue keeps only the newest two
	// values and publishing never blocks.
	for i := 0; i < 10; i++ {
		p.Publish(i)
	}

	if got := <-sub.C; got != 8 {
		t.Fatalf("TestPublisherDropOldest: first queued value is %d, "+
			"want 8", got)
	}
	if got := <-sub.C; got != 9 {
		t.Fatalf("TestPublisherDropOldest: second queued value is %d, "+
			"want 9", got)
	}
	select {
	case value := <-sub.C:
		t.Fatalf("TestPublisherDropOldest: unexpected extra value %d", value)
	default:
	}
}

func TestPublisherUnsubscribe(t *testing.T) {
	p := NewPublisher[int]()
	defer p.Close()

	kept := p.Subscribe(4)
	dropped := p.Subscribe(4)

	p.Unsubscribe(dropped)
	// Repeated unsubscribe is harmless.
	p.Unsubscribe(dropped)

	p.Publish(7)

	if _, ok := <-dropped.C; ok {
		t.Fatalf("TestPublisherUnsubscribe: removed subscription received " +
			"a value")
	}
	if value, ok := <-kept.C; !ok || value != 7 {
		t.Fatalf("TestPublisherUnsubscribe: kept subscription got %d/%t",
			value, ok)
	}
}

func TestPublisherClose(t *testing.T) {
	p := NewPublisher[int]()

	sub := p.Subscribe(4)
	p.Close()
	p.Close()

	if _, ok := <-sub.C; ok {
		t.Fatalf("TestPublisherClose: subscription still open after close")
	}

	// Publishing and subscribing after close are inert.
	p.Publish(1)
	late := p.Subscribe(4)
	if _, ok := <-late.C; ok {
		t.Fatalf("TestPublisherClose: late subscription is open")
	}
}
