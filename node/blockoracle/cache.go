package blockoracle

import (
	lru "github.com/hashicorp/golang-lru"
	"github.com/otxnet/otxd/chainhash"
	"github.com/otxnet/otxd/node/download"
	"github.com/otxnet/otxd/wire"
)

// cacheLimit bounds the number of block futures held in memory.
const cacheLimit = 1024

// blockCache is a bounded cache of block hash to shared block future.
// Evicting an unresolved future fails it with download.ErrCancelled; the
// work producing it is not stopped.
type blockCache struct {
	entries *lru.Cache
}

func newBlockCache(limit int) (*blockCache, error) {
	entries, err := lru.NewWithEvict(limit, func(_, value interface{}) {
		future := value.(*download.Future[*wire.MsgBlock])
		if !future.Ready() {
			future.Cancel()
		}
	})
	if err != nil {
		return nil, err
	}

	return &blockCache{entries: entries}, nil
}

// find returns the cached future for the given block, if any.
func (c *blockCache) find(hash chainhash.Hash) *download.Future[*wire.MsgBlock] {
	value, ok := c.entries.Get(hash)
	if !ok {
		return nil
	}
	return value.(*download.Future[*wire.MsgBlock])
}

// push caches the future for the given block, possibly evicting the
// least recently used entry.
func (c *blockCache) push(hash chainhash.Hash, future *download.Future[*wire.MsgBlock]) {
	c.entries.Add(hash, future)
}

// clear drops every cached future.
func (c *blockCache) clear() {
	c.entries.Purge()
}
