// Package blockoracle serves parsed blocks: a bounded cache of block
// futures backed by the on-disk block store, fed by a download pipeline
// when the storage policy calls for keeping every block.
package blockoracle

import (
	"bytes"
	"encoding/binary"
	"sync"
	"time"

	"github.com/otxnet/otxd/chaincfg"
	"github.com/otxnet/otxd/chainhash"
	"github.com/otxnet/otxd/database"
	"github.com/otxnet/otxd/logger"
	"github.com/otxnet/otxd/node"
	"github.com/otxnet/otxd/node/download"
	"github.com/otxnet/otxd/util/panics"
	"github.com/otxnet/otxd/wire"
	"github.com/otxnet/otxd/worker"
	"github.com/pkg/errors"
)

var log, _ = logger.Get(logger.SubsystemTags.BORC)

var spawn = panics.GoroutineWrapperFunc(log)

// heartbeatInterval is the cadence of the oracle's periodic processing.
const heartbeatInterval = 500 * time.Millisecond

// Work types understood by the oracle's actor.
const (
	// workSubmitBlock carries one frame holding raw block bytes.
	workSubmitBlock worker.WorkType = worker.WorkCustom + iota
)

// blockTipKeyBase maps a chain to the configuration key persisting its
// block download tip.
const blockTipKeyBase uint32 = 1 << 24

// BlockOracle serves block payloads for one chain.
type BlockOracle struct {
	chain     chaincfg.Chain
	db        *database.Database
	header    node.HeaderOracle
	events    *node.EventBus
	validator Validator

	worker  *worker.Worker
	manager *download.Manager[[]byte, chainhash.Hash]

	mtx     sync.Mutex
	cache   *blockCache
	pending map[chainhash.Hash]*download.Promise[*wire.MsgBlock]
}

// New constructs the oracle. The download pipeline only runs under
// storage policy All; other policies serve cached and submitted blocks.
func New(chain chaincfg.Chain, db *database.Database, header node.HeaderOracle, events *node.EventBus, pool *worker.Pool) (*BlockOracle, error) {
	cache, err := newBlockCache(cacheLimit)
	if err != nil {
		return nil, err
	}

	o := &BlockOracle{
		chain:     chain,
		db:        db,
		header:    header,
		events:    events,
		validator: NewMerkleValidator(header),
		cache:     cache,
		pending:   make(map[chainhash.Hash]*download.Promise[*wire.MsgBlock]),
	}

	if db.BlockPolicy() == database.PolicyAll {
		tip := o.loadTip()
		o.manager = download.NewManager(download.Config[[]byte, chainhash.Hash]{
			Name:      "block",
			Process:   o.process,
			UpdateTip: o.updateTip,
		}, tip, download.Resolved(tip.Hash))
	}

	o.worker = worker.New("block oracle", o, pool, heartbeatInterval)
	o.worker.Start()

	return o, nil
}

// LoadBitcoin returns a future resolving to the parsed block. Stored
// blocks resolve from disk; otherwise the future resolves when the block
// arrives through the download pipeline or SubmitBlock. Eviction from the
// cache fails an unresolved future with download.ErrCancelled; neither
// eviction nor dropping the future withdraws a download already queued
// for the block.
func (o *BlockOracle) LoadBitcoin(hash chainhash.Hash) *download.Future[*wire.MsgBlock] {
	o.mtx.Lock()
	if future := o.cache.find(hash); future != nil {
		o.mtx.Unlock()
		return future
	}

	future, promise := download.NewFuture[*wire.MsgBlock]()
	o.cache.push(hash, future)

	if o.db.Blocks().Exists(hash) {
		o.mtx.Unlock()
		spawn(func() { o.resolveFromStorage(hash, promise) })
		return future
	}

	if o.db.BlockPolicy() == database.PolicyNone {
		o.mtx.Unlock()
		promise.Fail(errors.Wrapf(database.ErrNotFound,
			"block %s is not stored and the storage policy forbids download",
			hash))
		return future
	}

	o.pending[hash] = promise
	o.mtx.Unlock()
	o.worker.Trigger()

	return future
}

// LoadBitcoinBatch returns one future per requested hash, in order.
func (o *BlockOracle) LoadBitcoinBatch(hashes []chainhash.Hash) []*download.Future[*wire.MsgBlock] {
	out := make([]*download.Future[*wire.MsgBlock], len(hashes))
	for i, hash := range hashes {
		out[i] = o.LoadBitcoin(hash)
	}
	return out
}

// SubmitBlock feeds externally obtained block bytes into the pipeline.
func (o *BlockOracle) SubmitBlock(raw []byte) error {
	if len(raw) == 0 {
		return errors.Wrap(database.ErrInvalidInput, "empty block")
	}

	payload := append([]byte(nil), raw...)
	return o.worker.Enqueue(worker.NewMessage(workSubmitBlock, payload))
}

// GetBlockJob hands the next download batch to an external peer worker.
func (o *BlockOracle) GetBlockJob() *download.Batch[[]byte, chainhash.Hash] {
	if o.manager == nil {
		return &download.Batch[[]byte, chainhash.Hash]{}
	}
	return o.manager.AllocateBatch()
}

// Heartbeat refreshes the pipeline against the best header chain and
// schedules a processing pass.
func (o *BlockOracle) Heartbeat() {
	if o.manager != nil {
		o.updatePosition(o.header.BestChain())
	}
	o.worker.Trigger()
}

// Tip returns the highest position whose block has been integrated, or a
// position of height -1 when the downloader is disabled.
func (o *BlockOracle) Tip() chainhash.Position {
	if o.manager == nil {
		return chainhash.Position{Height: -1}
	}
	return o.manager.Known()
}

// Shutdown drains the oracle. The returned channel closes when shutdown
// completes.
func (o *BlockOracle) Shutdown() <-chan struct{} {
	return o.worker.Shutdown()
}

// Pipeline consumes one actor message.
// This method is part of the worker.Actor interface.
func (o *BlockOracle) Pipeline(message worker.Message) {
	switch message.Work {
	case workSubmitBlock:
		if len(message.Frames) != 1 {
			log.Errorf("Malformed submit message with %d frames",
				len(message.Frames))
			return
		}
		o.processSubmitted(message.Frames[0])
	default:
		log.Errorf("Unhandled work type %d", message.Work)
	}
}

// StateMachine integrates downloaded blocks.
// This method is part of the worker.Actor interface.
func (o *BlockOracle) StateMachine() bool {
	if o.manager != nil {
		o.manager.ProcessDownloaded()
	}
	return false
}

// ShutDown releases the download queue and the cache.
// This method is part of the worker.Actor interface.
func (o *BlockOracle) ShutDown() {
	if o.manager != nil {
		o.manager.Shutdown()
	}

	o.mtx.Lock()
	defer o.mtx.Unlock()
	for _, promise := range o.pending {
		promise.Fail(download.ErrCancelled)
	}
	o.pending = make(map[chainhash.Hash]*download.Promise[*wire.MsgBlock])
	o.cache.clear()
}

func (o *BlockOracle) resolveFromStorage(hash chainhash.Hash, promise *download.Promise[*wire.MsgBlock]) {
	reader, err := o.db.Blocks().Load(hash)
	if err != nil {
		promise.Fail(err)
		return
	}
	defer reader.Close()

	block := &wire.MsgBlock{}
	if err := block.Deserialize(bytes.NewReader(reader.Bytes())); err != nil {
		promise.Fail(errors.Wrapf(database.ErrCorruptStore,
			"stored block %s failed to parse: %s", hash, err))
		return
	}

	promise.Resolve(block)
}

// processSubmitted validates and integrates externally supplied block
// bytes, deduplicating by hash.
func (o *BlockOracle) processSubmitted(raw []byte) {
	block := &wire.MsgBlock{}
	if err := block.Deserialize(bytes.NewReader(raw)); err != nil {
		log.Errorf("Rejecting unparseable submitted block: %s", err)
		return
	}
	hash := block.BlockHash()

	o.mtx.Lock()
	cached := o.cache.find(hash)
	o.mtx.Unlock()
	if cached != nil && cached.Ready() {
		log.Tracef("Ignoring duplicate submission of block %s", hash)
		return
	}

	if err := o.validator.Validate(block); err != nil {
		log.Errorf("Rejecting submitted block %s: %s", hash, err)
		return
	}

	if o.db.BlockPolicy() != database.PolicyNone {
		if err := o.storeBlock(hash, raw); err != nil {
			log.Errorf("Failed to store submitted block %s: %s", hash, err)
			return
		}
	}

	o.resolvePending(hash, block)
}

// process verifies one downloaded block payload and stores it.
func (o *BlockOracle) process(task *download.Task[[]byte, chainhash.Hash], _ chainhash.Hash) (chainhash.Hash, bool) {
	block := &wire.MsgBlock{}
	if err := block.Deserialize(bytes.NewReader(task.Data)); err != nil {
		log.Errorf("Downloaded block at height %d failed to parse: %s",
			task.Position.Height, err)
		return chainhash.Hash{}, false
	}

	hash := block.BlockHash()
	if hash != task.Position.Hash {
		log.Errorf("Downloaded block at height %d hashes to %s, expected %s",
			task.Position.Height, hash, task.Position.Hash)
		return chainhash.Hash{}, false
	}

	if err := o.validator.Validate(block); err != nil {
		log.Errorf("Downloaded block %s failed validation: %s", hash, err)
		return chainhash.Hash{}, false
	}

	if err := o.storeBlock(hash, task.Data); err != nil {
		log.Errorf("Failed to store block %s: %s", hash, err)
		return chainhash.Hash{}, false
	}

	o.resolvePending(hash, block)

	return hash, true
}

func (o *BlockOracle) storeBlock(hash chainhash.Hash, raw []byte) error {
	writer, err := o.db.Blocks().Store(hash, uint64(len(raw)))
	if err != nil {
		return err
	}
	copy(writer.Bytes(), raw)
	writer.Close()

	return nil
}

func (o *BlockOracle) resolvePending(hash chainhash.Hash, block *wire.MsgBlock) {
	o.mtx.Lock()
	promise, ok := o.pending[hash]
	if ok {
		delete(o.pending, hash)
	} else {
		var future *download.Future[*wire.MsgBlock]
		future, promise = download.NewFuture[*wire.MsgBlock]()
		o.cache.push(hash, future)
	}
	o.mtx.Unlock()

	promise.Resolve(block)
}

// updatePosition feeds the ancestor chain between the known position and
// pos into the download manager.
func (o *BlockOracle) updatePosition(pos chainhash.Position) {
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
		prior = download.Resolved(first.Hash)
	}

	o.manager.UpdatePosition(ancestors, prior)

	if prior != nil {
		first := ancestors[0]
		o.events.Publish(node.Event{
			Type:   node.ETReorgBlock,
			Chain:  o.chain,
			Height: first.Height,
			Hash:   first.Hash,
		})
	}
}

// updateTip persists the new block tip and publishes the update.
func (o *BlockOracle) updateTip(position chainhash.Position, _ chainhash.Hash) {
	value := make([]byte, 8+chainhash.HashSize)
	binary.LittleEndian.PutUint64(value[:8], uint64(position.Height))
	copy(value[8:], position.Hash[:])

	err := o.db.Config().Set(blockTipKeyBase+uint32(o.chain), value)
	if err != nil {
		log.Errorf("Failed to persist %s block tip %s: %s", o.chain,
			position, err)
		return
	}

	log.Debugf("%s block chain updated to height %d", o.chain,
		position.Height)
	o.events.Publish(node.Event{
		Type:   node.ETNewBlock,
		Chain:  o.chain,
		Height: position.Height,
		Hash:   position.Hash,
	})
}

// loadTip returns the persisted block tip, or a position of height -1.
func (o *BlockOracle) loadTip() chainhash.Position {
	out := chainhash.Position{Height: -1}

	value, err := o.db.Config().Get(blockTipKeyBase + uint32(o.chain))
	if err != nil || len(value) != 8+chainhash.HashSize {
		return out
	}

	out.Height = chainhash.Height(binary.LittleEndian.Uint64(value[:8]))
	copy(out.Hash[:], value[8:])

	return out
}
