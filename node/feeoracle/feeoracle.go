// Package feeoracle aggregates rolling fee estimates: sources deliver
// samples into the oracle's mailbox, and on every state machine tick the
// oracle drops samples older than the validity window and publishes the
// arithmetic mean of what remains.
package feeoracle

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/otxnet/otxd/chaincfg"
	"github.com/otxnet/otxd/logger"
	"github.com/otxnet/otxd/node"
	"github.com/otxnet/otxd/util/panics"
	"github.com/otxnet/otxd/worker"
	"github.com/pkg/errors"
)

var log, _ = logger.Get(logger.SubsystemTags.FEES)

const (
	// validity is how long a sample participates in the estimate.
	validity = 20 * time.Minute

	// tickInterval is the cadence of estimate recomputation.
	tickInterval = time.Minute
)

// Work types understood by the oracle's actor.
const (
	// workUpdateEstimate carries one frame holding a little endian
	// fee rate sample in satoshis per 1000 virtual bytes.
	workUpdateEstimate worker.WorkType = worker.WorkCustom + iota
)

// sample is one timestamped fee rate observation.
type sample struct {
	when   time.Time
	amount uint64
}

// FeeOracle maintains a windowed average of fee estimates for one chain.
type FeeOracle struct {
	chain  chaincfg.Chain
	events *node.EventBus
	worker *worker.Worker

	// now is the clock, replaceable by tests.
	now func() time.Time

	// data is owned by the actor and only touched inside Pipeline and
	// StateMachine.
	data []sample

	outputMtx sync.RWMutex
	output    uint64
	haveValue bool

	timerMtx sync.Mutex
	timer    *time.Timer
	stopped  bool
}

// New constructs and starts the oracle.
func New(chain chaincfg.Chain, events *node.EventBus, pool *worker.Pool) *FeeOracle {
	o := &FeeOracle{
		chain:  chain,
		events: events,
		now:    time.Now,
	}
	o.worker = worker.New("fee oracle", o, pool, 0)
	o.resetTimer()

	return o
}

// SubmitEstimate delivers one fee rate sample, in satoshis per 1000
// virtual bytes. Sources call this whenever they refresh.
func (o *FeeOracle) SubmitEstimate(amount uint64) error {
	frame := make([]byte, 8)
	binary.LittleEndian.PutUint64(frame, amount)

	err := o.worker.Enqueue(worker.NewMessage(workUpdateEstimate, frame))
	return errors.WithStack(err)
}

// EstimatedFee returns the last computed estimate, or false when no
// samples exist.
func (o *FeeOracle) EstimatedFee() (uint64, bool) {
	o.outputMtx.RLock()
	defer o.outputMtx.RUnlock()
	return o.output, o.haveValue
}

// Shutdown cancels the timer and drains the oracle. The returned channel
// closes when shutdown completes.
func (o *FeeOracle) Shutdown() <-chan struct{} {
	o.timerMtx.Lock()
	o.stopped = true
	if o.timer != nil {
		o.timer.Stop()
	}
	o.timerMtx.Unlock()

	return o.worker.Shutdown()
}

// Pipeline consumes one actor message.
// This method is part of the worker.Actor interface.
func (o *FeeOracle) Pipeline(message worker.Message) {
	switch message.Work {
	case workUpdateEstimate:
		o.processUpdate(message)
	default:
		log.Errorf("Unhandled work type %d", message.Work)
	}
}

// StateMachine trims expired samples and republishes the estimate.
// This method is part of the worker.Actor interface.
func (o *FeeOracle) StateMachine() bool {
	limit := o.now().Add(-validity)

	var sum uint64
	kept := o.data[:0]
	for _, s := range o.data {
		if s.when.Before(limit) {
			continue
		}
		kept = append(kept, s)
		sum += s.amount
	}
	o.data = kept

	o.outputMtx.Lock()
	if len(o.data) > 0 {
		o.output = sum / uint64(len(o.data))
		o.haveValue = true
		log.Debugf("Updated %s fee estimate to %d sat / 1000 vBytes",
			o.chain, o.output)
	} else {
		o.output = 0
		o.haveValue = false
		log.Debugf("Fee estimate for %s not available", o.chain)
	}
	estimate, have := o.output, o.haveValue
	o.outputMtx.Unlock()

	if have {
		o.events.Publish(node.Event{
			Type:  node.ETFeeEstimateUpdated,
			Chain: o.chain,
			// The estimate rides in the height field; fee events carry
			// no block.
			Height: int64(estimate),
		})
	}

	return false
}

// ShutDown releases the sample window.
// This method is part of the worker.Actor interface.
func (o *FeeOracle) ShutDown() {
	o.data = nil
}

func (o *FeeOracle) processUpdate(message worker.Message) {
	if len(message.Frames) != 1 || len(message.Frames[0]) != 8 {
		log.Errorf("Malformed fee estimate message")
		return
	}

	amount := binary.LittleEndian.Uint64(message.Frames[0])
	o.data = append(o.data, sample{when: o.now(), amount: amount})
}

// resetTimer arms the periodic recomputation. Cancellation during
// shutdown is expected and silent.
func (o *FeeOracle) resetTimer() {
	o.timerMtx.Lock()
	defer o.timerMtx.Unlock()
	if o.stopped {
		return
	}

	afterFunc := panics.AfterFuncWrapperFunc(log)
	o.timer = afterFunc(tickInterval, func() {
		o.worker.Trigger()
		o.resetTimer()
	})
}
