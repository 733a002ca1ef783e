// Package node hosts the oracles built on the blockchain database and
// the shared contracts between them.
package node

import (
	"github.com/otxnet/otxd/chainhash"
	"github.com/otxnet/otxd/wire"
)

// HeaderOracle is the component that owns the header chain. Only the
// contract the oracles rely on is stated here; the implementation lives
// with the header sync pipeline.
type HeaderOracle interface {
	// Ancestors returns the chain of positions connecting `from` to
	// `to`, starting with the highest common ancestor of the two. When
	// `from` is on the best chain the first element equals `from`;
	// otherwise the caller learns the reorg point from it.
	Ancestors(from, to chainhash.Position) ([]chainhash.Position, error)

	// BestChain returns the current best tip.
	BestChain() chainhash.Position

	// LoadHeader returns the stored header record for the given block.
	LoadHeader(hash chainhash.Hash) (*wire.HeaderRecord, error)
}
