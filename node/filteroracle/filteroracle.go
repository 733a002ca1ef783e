// Package filteroracle keeps the compact filter chain for one chain and
// filter type in sync: it derives outstanding work from the header
// oracle, hands batches to peer workers, validates downloaded filters
// against the cfheader chain, persists them, and publishes tip updates.
package filteroracle

import (
	"time"

	"github.com/otxnet/otxd/chaincfg"
	"github.com/otxnet/otxd/chainhash"
	"github.com/otxnet/otxd/database"
	"github.com/otxnet/otxd/logger"
	"github.com/otxnet/otxd/node"
	"github.com/otxnet/otxd/node/download"
	"github.com/otxnet/otxd/wire"
	"github.com/otxnet/otxd/worker"
	"github.com/pkg/errors"
)

var log, _ = logger.Get(logger.SubsystemTags.FORC)

// heartbeatInterval is the cadence of the oracle's periodic processing.
const heartbeatInterval = 20 * time.Millisecond

// Work types understood by the oracle's actor.
const (
	// workResetFilterTip carries a position (height, hash) and the
	// anchor header at that position.
	workResetFilterTip worker.WorkType = worker.WorkCustom + iota
)

// FilterOracle drives cfilter sync for one (chain, filter type) pair.
type FilterOracle struct {
	chain      chaincfg.Chain
	filterType wire.FilterType
	db         *database.Database
	header     node.HeaderOracle
	events     *node.EventBus

	manager *download.Manager[*wire.FilterRecord, chainhash.Hash]
	worker  *worker.Worker

	// Filters verified during one processing pass, stored as a batch.
	pendingHeaders []database.FilterHeaderItem
	pendingFilters []database.FilterItem
}

// New constructs the oracle, seeding the download pipeline at the stored
// filter tip.
func New(chain chaincfg.Chain, filterType wire.FilterType, db *database.Database, header node.HeaderOracle, events *node.EventBus, pool *worker.Pool) (*FilterOracle, error) {
	o := &FilterOracle{
		chain:      chain,
		filterType: filterType,
		db:         db,
		header:     header,
		events:     events,
	}

	tip, err := db.BlockFilters().FilterTip(filterType, chain)
	if err != nil {
		return nil, err
	}

	anchor := chainhash.Hash{}
	if tip.Height >= 0 {
		anchor, err = db.BlockFilters().LoadFilterHeader(filterType, tip.Hash)
		if err != nil && !database.IsNotFoundError(err) {
			return nil, err
		}
	}

	o.manager = download.NewManager(download.Config[*wire.FilterRecord, chainhash.Hash]{
		Name:      "cfilter",
		Process:   o.process,
		UpdateTip: o.updateTip,
	}, tip, download.Resolved(anchor))

	o.worker = worker.New("filter oracle", o, pool, heartbeatInterval)
	o.worker.Start()

	return o, nil
}

// NextBatch grants the next slice of outstanding filter downloads to a
// peer worker.
func (o *FilterOracle) NextBatch() *download.Batch[*wire.FilterRecord, chainhash.Hash] {
	return o.manager.AllocateBatch()
}

// Tip returns the current filter tip position.
func (o *FilterOracle) Tip() chainhash.Position {
	return o.manager.Known()
}

// Heartbeat refreshes the pipeline against the best header chain and
// schedules a processing pass.
func (o *FilterOracle) Heartbeat() {
	o.updatePosition(o.header.BestChain())
	o.worker.Trigger()
}

// ResetFilterTip asks the oracle to restart the pipeline at the given
// position with the given anchor header.
func (o *FilterOracle) ResetFilterTip(position chainhash.Position, anchor chainhash.Hash) error {
	frames := make([][]byte, 3)
	frames[0] = heightFrame(position.Height)
	frames[1] = position.Hash.CloneBytes()
	frames[2] = anchor.CloneBytes()

	return o.worker.Enqueue(worker.NewMessage(workResetFilterTip, frames...))
}

// Shutdown drains the oracle. The returned channel closes when shutdown
// completes.
func (o *FilterOracle) Shutdown() <-chan struct{} {
	return o.worker.Shutdown()
}

// Pipeline consumes one actor message.
// This method is part of the worker.Actor interface.
func (o *FilterOracle) Pipeline(message worker.Message) {
	switch message.Work {
	case workResetFilterTip:
		o.processReset(message)
	default:
		log.Errorf("Unhandled work type %d", message.Work)
	}
}

// StateMachine integrates downloaded filters and persists them.
// This method is part of the worker.Actor interface.
func (o *FilterOracle) StateMachine() bool {
	o.pendingHeaders = o.pendingHeaders[:0]
	o.pendingFilters = o.pendingFilters[:0]

	o.manager.ProcessDownloaded()

	if len(o.pendingFilters) > 0 {
		err := o.db.BlockFilters().StoreCalculatedFilters(o.filterType,
			o.pendingHeaders, o.pendingFilters)
		if err != nil {
			log.Errorf("Failed to store %d verified %s filters: %s",
				len(o.pendingFilters), o.chain, err)
		}
	}

	return false
}

// ShutDown releases the download queue.
// This method is part of the worker.Actor interface.
func (o *FilterOracle) ShutDown() {
	o.manager.Shutdown()
}

// updatePosition feeds the ancestor chain between the known position and
// pos into the download manager.
func (o *FilterOracle) updatePosition(pos chainhash.Position) {
	current := o.manager.Known()
	if pos.Height <= current.Height && pos.IsEqual(current) {
		return
	}

	ancestors, err := o.header.Ancestors(current, pos)
	if err != nil || len(ancestors) == 0 {
		return
	}

	var prior *download.Future[chainhash.Hash]
	if first := ancestors[0]; !first.IsEqual(current) {
		// The common ancestor is below the known position: a reorg.
		// Reseed the anchor from the stored cfheader chain.
		header, err := o.db.BlockFilters().LoadFilterHeader(o.filterType,
			first.Hash)
		if err != nil {
			log.Errorf("Missing cfheader for reorg ancestor %s: %s",
				first, err)
			return
		}
		prior = download.Resolved(header)
	}

	o.manager.UpdatePosition(ancestors, prior)

	if prior != nil {
		first := ancestors[0]
		o.events.Publish(node.Event{
			Type:       node.ETReorgFilter,
			Chain:      o.chain,
			FilterType: o.filterType,
			Height:     first.Height,
			Hash:       first.Hash,
		})
	}
}

// process verifies one downloaded filter against the cfheader chain and
// computes the next anchor header.
func (o *FilterOracle) process(task *download.Task[*wire.FilterRecord, chainhash.Hash], previous chainhash.Hash) (chainhash.Hash, bool) {
	record := task.Data
	if record == nil {
		return chainhash.Hash{}, false
	}

	expected, err := o.db.BlockFilters().LoadFilterHash(o.filterType,
		task.Position.Hash)
	if err != nil {
		log.Errorf("No cfheader for block %s at height %d: %s",
			task.Position.Hash, task.Position.Height, err)
		return chainhash.Hash{}, false
	}

	hash := record.Hash()
	if hash != expected {
		log.Errorf("Filter for block %s at height %d does not match "+
			"header. Received: %s expected: %s", task.Position.Hash,
			task.Position.Height, hash, expected)
		return chainhash.Hash{}, false
	}

	anchor := wire.NextFilterHeader(hash, previous)
	o.pendingHeaders = append(o.pendingHeaders, database.FilterHeaderItem{
		Block:      task.Position.Hash,
		Header:     anchor,
		FilterHash: hash,
	})
	o.pendingFilters = append(o.pendingFilters, database.FilterItem{
		Block:  task.Position.Hash,
		Filter: record,
	})

	return anchor, true
}

// updateTip persists the new filter tip and publishes the update.
func (o *FilterOracle) updateTip(position chainhash.Position, anchor chainhash.Hash) {
	err := o.db.BlockFilters().SetFilterTip(o.filterType, o.chain, position)
	if err != nil {
		log.Errorf("Failed to persist %s filter tip %s: %s", o.chain,
			position, err)
		return
	}

	log.Debugf("%s cfilter chain updated to height %d", o.chain,
		position.Height)
	o.events.Publish(node.Event{
		Type:       node.ETNewFilter,
		Chain:      o.chain,
		FilterType: o.filterType,
		Height:     position.Height,
		Hash:       position.Hash,
	})
}

func (o *FilterOracle) processReset(message worker.Message) {
	if len(message.Frames) < 3 {
		log.Errorf("Malformed reset message with %d frames",
			len(message.Frames))
		return
	}

	height, err := heightFromFrame(message.Frames[0])
	if err != nil {
		log.Errorf("Malformed reset height: %s", err)
		return
	}
	hash, err := chainhash.NewHash(message.Frames[1])
	if err != nil {
		log.Errorf("Malformed reset hash: %s", err)
		return
	}
	anchor, err := chainhash.NewHash(message.Frames[2])
	if err != nil {
		log.Errorf("Malformed reset anchor: %s", err)
		return
	}

	position := chainhash.NewPosition(height, *hash)
	o.manager.Reset(position, download.Resolved(*anchor))
	o.events.Publish(node.Event{
		Type:       node.ETReorgFilter,
		Chain:      o.chain,
		FilterType: o.filterType,
		Height:     position.Height,
		Hash:       position.Hash,
	})
}

func heightFrame(height chainhash.Height) []byte {
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[i] = byte(uint64(height) >> (8 * i))
	}
	return buf
}

func heightFromFrame(frame []byte) (chainhash.Height, error) {
	if len(frame) != 8 {
		return 0, errors.Errorf("invalid height frame size %d", len(frame))
	}
	var out uint64
	for i := 0; i < 8; i++ {
		out |= uint64(frame[i]) << (8 * i)
	}
	return chainhash.Height(out), nil
}
