package worker

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/otxnet/otxd/logger"
	"github.com/otxnet/otxd/util/panics"
)

var log, _ = logger.Get(logger.SubsystemTags.WRKR)

var spawn = panics.GoroutineWrapperFunc(log)

// pipelineBatchLimit bounds how many mailbox messages one scheduling
// turn may consume before yielding the poll goroutine to other actors.
const pipelineBatchLimit = 16

// Actor is a single-consumer component driven by the pool: Pipeline
// consumes one incoming message, StateMachine performs additional work
// and reports whether more remains, and ShutDown releases owned
// resources. ShutDown is called at most once.
type Actor interface {
	Pipeline(message Message)
	StateMachine() bool
	ShutDown()
}

// Pool is a fixed set of poll goroutines multiplexing any number of
// workers. A worker is queued at most once at a time, which guarantees
// its actor executes on at most one goroutine at a time.
type Pool struct {
	queue chan *Worker
	stop  chan struct{}
	once  sync.Once
}

// NewPool starts a pool with the given number of poll goroutines. A size
// of zero uses one goroutine per available CPU, minimum two.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
		if size < 2 {
			size = 2
		}
	}

	p := &Pool{
		queue: make(chan *Worker, 1024),
		stop:  make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		spawn(p.run)
	}

	return p
}

// Stop terminates the poll goroutines. Workers still holding work are
// abandoned; callers shut down their workers first.
func (p *Pool) Stop() {
	p.once.Do(func() { close(p.stop) })
}

func (p *Pool) run() {
	for {
		select {
		case <-p.stop:
			return
		case w := <-p.queue:
			w.turn()
		}
	}
}

// Worker binds an actor to a mailbox and drives it through a pool.
type Worker struct {
	name    string
	actor   Actor
	mailbox *Mailbox
	pool    *Pool
	gate    *Gate

	scheduled int32
	stopped   int32
	done      chan struct{}

	heartbeat time.Duration
	ticker    *time.Ticker
	tickerMtx sync.Mutex
}

// New binds actor to a fresh mailbox driven by pool. When heartbeat is
// non-zero the worker triggers its own state machine on that cadence
// once started.
func New(name string, actor Actor, pool *Pool, heartbeat time.Duration) *Worker {
	w := &Worker{
		name:      name,
		actor:     actor,
		mailbox:   NewMailbox(),
		pool:      pool,
		gate:      NewGate(),
		done:      make(chan struct{}),
		heartbeat: heartbeat,
	}
	w.mailbox.setOnEnqueueHandler(w.schedule)
	w.mailbox.setOnCapacityReachedHandler(func() {
		log.Warnf("%s mailbox reached capacity", w.name)
	})

	return w
}

// Start begins the heartbeat, if one is configured.
func (w *Worker) Start() {
	if w.heartbeat == 0 {
		return
	}

	w.tickerMtx.Lock()
	defer w.tickerMtx.Unlock()
	if w.ticker != nil {
		return
	}
	w.ticker = time.NewTicker(w.heartbeat)
	ticker := w.ticker

	spawn(func() {
		for {
			select {
			case <-w.done:
				return
			case <-ticker.C:
				w.Trigger()
			}
		}
	})
}

// Enqueue delivers a message to the actor. It fails once shutdown has
// begun.
func (w *Worker) Enqueue(message Message) error {
	if !w.gate.Enter() {
		return ErrMailboxClosed
	}
	defer w.gate.Leave()

	return w.mailbox.Enqueue(message)
}

// Trigger schedules a state machine step.
func (w *Worker) Trigger() {
	if atomic.LoadInt32(&w.stopped) != 0 {
		return
	}
	w.schedule()
}

// Shutdown closes the gate, delivers the terminal message, and returns a
// channel that is closed once the actor has fully drained. Shutdown is
// idempotent.
func (w *Worker) Shutdown() <-chan struct{} {
	if atomic.CompareAndSwapInt32(&w.stopped, 0, 1) {
		w.gate.Close()
		w.tickerMtx.Lock()
		if w.ticker != nil {
			w.ticker.Stop()
		}
		w.tickerMtx.Unlock()

		// The gate is closed, so Enqueue is no longer possible; post
		// the terminal message directly.
		if err := w.mailbox.Enqueue(NewMessage(WorkShutdown)); err != nil {
			// The mailbox can only be closed by a completed shutdown.
			log.Errorf("%s shutdown enqueue failed: %s", w.name, err)
		}
		w.schedule()
	}

	return w.done
}

// Done returns the channel closed when the actor has shut down.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// schedule queues the worker for a turn on the pool unless it is already
// queued.
func (w *Worker) schedule() {
	if atomic.CompareAndSwapInt32(&w.scheduled, 0, 1) {
		select {
		case w.pool.queue <- w:
		case <-w.pool.stop:
			atomic.StoreInt32(&w.scheduled, 0)
		}
	}
}

// turn runs one scheduling turn: a bounded batch of pipeline messages
// followed by a state machine step. Re-queues itself while work remains.
func (w *Worker) turn() {
	terminated := false
	for i := 0; i < pipelineBatchLimit; i++ {
		message, ok := w.mailbox.Poll()
		if !ok {
			break
		}
		if message.Work == WorkShutdown {
			w.terminate()
			terminated = true
			break
		}
		w.actor.Pipeline(message)
	}

	if terminated {
		atomic.StoreInt32(&w.scheduled, 0)
		return
	}

	more := w.actor.StateMachine()

	atomic.StoreInt32(&w.scheduled, 0)
	if more || w.mailbox.Len() > 0 {
		w.schedule()
	}
}

// terminate drains the remaining messages through the actor, releases
// its resources and resolves the shutdown promise.
func (w *Worker) terminate() {
	for {
		message, ok := w.mailbox.Poll()
		if !ok {
			break
		}
		if message.Work == WorkShutdown {
			continue
		}
		w.actor.Pipeline(message)
	}

	w.mailbox.Close()
	w.actor.ShutDown()
	close(w.done)
	log.Debugf("%s shut down", w.name)
}
