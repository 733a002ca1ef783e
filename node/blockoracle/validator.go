package blockoracle

import (
	"github.com/otxnet/otxd/node"
	"github.com/otxnet/otxd/wire"
	"github.com/pkg/errors"
)

// Validator checks a parsed block before it is accepted into storage.
type Validator interface {
	Validate(block *wire.MsgBlock) error
}

// merkleValidator verifies that a block's transactions hash to the
// merkle root committed by the already-stored header for the same block
// hash.
type merkleValidator struct {
	header node.HeaderOracle
}

// NewMerkleValidator returns the default block validator.
func NewMerkleValidator(header node.HeaderOracle) Validator {
	return &merkleValidator{header: header}
}

func (v *merkleValidator) Validate(block *wire.MsgBlock) error {
	hash := block.BlockHash()

	record, err := v.header.LoadHeader(hash)
	if err != nil {
		return errors.Wrapf(err, "no stored header for block %s", hash)
	}

	calculated := calcMerkleRoot(block.TxHashes())
	if calculated != record.Header.MerkleRoot {
		return errors.Errorf("block %s merkle root mismatch: calculated "+
			"%s, header commits to %s", hash, calculated,
			record.Header.MerkleRoot)
	}

	return nil
}
