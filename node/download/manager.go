// Package download implements the generic chain-of-tasks pipeline used
// to sync height-ordered payloads (compact filters, blocks): the manager
// tracks a known position, accepts work derived from the header chain,
// allocates batches to peer workers, and integrates completed items
// strictly in height order.
package download

import (
	"sync"

	"github.com/otxnet/otxd/chainhash"
	"github.com/otxnet/otxd/logger"
)

var log, _ = logger.Get(logger.SubsystemTags.DNLD)

// TaskState describes a task's progress through the pipeline.
type TaskState int

// Task states.
const (
	StatePending TaskState = iota
	StateInFlight
	StateDownloaded
	StateProcessed
)

// Task is one height of outstanding work: the position to download, the
// future resolving to the predecessor's anchor value, and the promise
// for this height's anchor value.
type Task[P, A any] struct {
	Position chainhash.Position

	// Previous resolves to the anchor at Position.Height - 1.
	Previous *Future[A]

	// Data holds the downloaded payload once state reaches
	// StateDownloaded.
	Data P

	future   *Future[A]
	promise  *Promise[A]
	state    TaskState
	attempts int
}

// Future returns the future resolving to this task's anchor value.
func (t *Task[P, A]) Future() *Future[A] {
	return t.future
}

// Attempts returns how many times the payload was requested.
func (t *Task[P, A]) Attempts() int {
	return t.attempts
}

// Batch is a slice of in-flight tasks granted to one worker. The worker
// walks the batch with NextPosition and feeds results back with Receive.
type Batch[P, A any] struct {
	tasks []*Task[P, A]
	next  int
}

// Len returns the number of tasks in the batch.
func (b *Batch[P, A]) Len() int {
	if b == nil {
		return 0
	}
	return len(b.tasks)
}

// NextPosition returns the position of the next task awaiting a payload,
// or false when the batch is exhausted.
func (b *Batch[P, A]) NextPosition() (chainhash.Position, bool) {
	if b == nil || b.next >= len(b.tasks) {
		return chainhash.Position{}, false
	}
	return b.tasks[b.next].Position, true
}

// Receive records the payload for the current task and advances the
// batch.
func (b *Batch[P, A]) Receive(payload P) bool {
	if b == nil || b.next >= len(b.tasks) {
		return false
	}
	task := b.tasks[b.next]
	b.next++
	task.Data = payload
	task.state = StateDownloaded
	return true
}

// Config parameterizes a manager.
type Config[P, A any] struct {
	// Name labels log output.
	Name string

	// BatchSize computes a batch size from the queue length. Nil uses
	// the default staircase.
	BatchSize func(queueLength int) int

	// Process verifies a downloaded payload against the predecessor
	// anchor and computes this height's anchor. Returning false
	// rejects the payload and requeues the task for download.
	Process func(task *Task[P, A], previous A) (A, bool)

	// UpdateTip is invoked exactly once per processed task, in strictly
	// ascending height order.
	UpdateTip func(position chainhash.Position, anchor A)
}

// DefaultBatchSize is the staircase used when Config.BatchSize is nil.
func DefaultBatchSize(queueLength int) int {
	switch {
	case queueLength < 10:
		return 1
	case queueLength < 100:
		return 10
	case queueLength < 1000:
		return 100
	default:
		return 1000
	}
}

// Manager is the generic download pipeline. All methods are safe for
// concurrent use.
type Manager[P, A any] struct {
	cfg Config[P, A]

	mtx      sync.Mutex
	known    chainhash.Position
	finished *Future[A]
	queue    []*Task[P, A]
}

// NewManager returns a manager whose known position starts at `start`
// with `finished` resolving to the anchor value there.
func NewManager[P, A any](cfg Config[P, A], start chainhash.Position, finished *Future[A]) *Manager[P, A] {
	if cfg.BatchSize == nil {
		cfg.BatchSize = DefaultBatchSize
	}

	return &Manager[P, A]{
		cfg:      cfg,
		known:    start,
		finished: finished,
	}
}

// Known returns the highest position whose payload has been processed.
func (m *Manager[P, A]) Known() chainhash.Position {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.known
}

// Finished returns the future resolving to the anchor at Known.
func (m *Manager[P, A]) Finished() *Future[A] {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.finished
}

// QueueLength returns the number of queued tasks.
func (m *Manager[P, A]) QueueLength() int {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return len(m.queue)
}

// Reset discards the queue and reseeds the pipeline at position with the
// given anchor future. Used when the caller detects a reorg below the
// known position.
func (m *Manager[P, A]) Reset(position chainhash.Position, anchor *Future[A]) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.reset(position, anchor)
}

func (m *Manager[P, A]) reset(position chainhash.Position, anchor *Future[A]) {
	log.Debugf("%s download queue reset to %s", m.cfg.Name, position)
	for _, task := range m.queue {
		task.future.Cancel()
	}
	m.queue = nil
	m.known = position
	m.finished = anchor
}

// UpdatePosition extends the queue toward the ancestor chain returned by
// the header oracle. When the chain's first element differs from the
// known position this is a reorg: the queue is rebuilt on top of the
// common ancestor using `prior` as its anchor. Positions at or below the
// end of the queue are ignored.
func (m *Manager[P, A]) UpdatePosition(ancestors []chainhash.Position, prior *Future[A]) {
	if len(ancestors) == 0 {
		return
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	first := ancestors[0]
	switch {
	case first.IsEqual(m.known):
		ancestors = ancestors[1:]
	case prior != nil:
		// The ancestor chain no longer passes through the known
		// position: a reorg. Rebuild on top of the common ancestor.
		m.reset(first, prior)
		ancestors = ancestors[1:]
	default:
		log.Errorf("%s ancestor chain starts at %s instead of %s and no "+
			"anchor was supplied", m.cfg.Name, first, m.known)
		return
	}

	last := m.known
	if n := len(m.queue); n > 0 {
		last = m.queue[n-1].Position
	}

	previous := m.finished
	if n := len(m.queue); n > 0 {
		previous = m.queue[n-1].future
	}

	added := 0
	for _, position := range ancestors {
		if position.Height <= last.Height {
			continue
		}
		future, promise := NewFuture[A]()
		m.queue = append(m.queue, &Task[P, A]{
			Position: position,
			Previous: previous,
			future:   future,
			promise:  promise,
			state:    StatePending,
		})
		previous = future
		last = position
		added++
	}

	if added > 0 {
		log.Tracef("%s queued %d new positions up to %s", m.cfg.Name,
			added, last)
	}
}

// AllocateBatch grants a slice of pending tasks to a worker, marking
// them in flight. Returns an empty batch when nothing is pending.
func (m *Manager[P, A]) AllocateBatch() *Batch[P, A] {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	limit := m.cfg.BatchSize(len(m.queue))
	batch := &Batch[P, A]{}
	for _, task := range m.queue {
		if len(batch.tasks) == limit {
			break
		}
		if task.state != StatePending {
			continue
		}
		task.state = StateInFlight
		task.attempts++
		batch.tasks = append(batch.tasks, task)
	}

	return batch
}

// ProcessDownloaded integrates completed tasks in queue order: each
// downloaded task whose predecessor has been processed is checked via
// Process; success resolves the task's anchor and advances the tip,
// failure reverts the task to pending for redownload. Processed tasks
// are pruned from the queue.
func (m *Manager[P, A]) ProcessDownloaded() {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	for _, task := range m.queue {
		if task.state == StateProcessed {
			continue
		}
		if task.state != StateDownloaded {
			break
		}
		if !task.Previous.Ready() {
			break
		}
		previous, err := task.Previous.Result()
		if err != nil {
			break
		}

		anchor, ok := m.cfg.Process(task, previous)
		if !ok {
			log.Infof("%s payload for %s rejected, redownloading",
				m.cfg.Name, task.Position)
			task.state = StatePending
			break
		}

		task.state = StateProcessed
		task.promise.Resolve(anchor)
		m.known = task.Position
		m.finished = task.future
		m.cfg.UpdateTip(task.Position, anchor)
	}

	m.prune()
}

// prune drops the processed prefix of the queue. The caller holds the
// manager lock.
func (m *Manager[P, A]) prune() {
	cut := 0
	for _, task := range m.queue {
		if task.state != StateProcessed {
			break
		}
		cut++
	}
	if cut > 0 {
		m.queue = append([]*Task[P, A](nil), m.queue[cut:]...)
	}
}

// Shutdown cancels all queued work.
func (m *Manager[P, A]) Shutdown() {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	for _, task := range m.queue {
		task.future.Cancel()
	}
	m.queue = nil
}
