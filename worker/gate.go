package worker

import "sync"

// Gate is the admission control for an actor's external surface: work
// enters only while the gate is open, and closing the gate blocks until
// every admitted unit has left. Admission and drain share one lock so
// that no new work can slip in between the close decision and the wait.
type Gate struct {
	mtx      sync.Mutex
	cond     *sync.Cond
	inFlight int
	closed   bool
}

// NewGate returns an open gate.
func NewGate() *Gate {
	g := &Gate{}
	g.cond = sync.NewCond(&g.mtx)
	return g
}

// Enter admits one unit of work. It returns false when the gate is
// closed; callers must not proceed in that case. Every successful Enter
// must be paired with a Leave.
func (g *Gate) Enter() bool {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	if g.closed {
		return false
	}
	g.inFlight++
	return true
}

// Leave marks one admitted unit of work as finished, waking a pending
// Close once the gate has drained.
func (g *Gate) Leave() {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	if g.inFlight == 0 {
		panic("Leave called without a matching Enter")
	}
	g.inFlight--
	if g.inFlight == 0 {
		g.cond.Broadcast()
	}
}

// Close rejects all future work and waits for admitted work to drain.
// Close is idempotent; concurrent callers all return once the gate is
// empty.
func (g *Gate) Close() {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	g.closed = true
	for g.inFlight > 0 {
		g.cond.Wait()
	}
}

// IsClosed reports whether the gate has been closed.
func (g *Gate) IsClosed() bool {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	return g.closed
}
