// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"io"

	"github.com/otxnet/otxd/chainhash"
	"github.com/pkg/errors"
)

// BlockHeaderPayload is the number of bytes a serialized bitcoin style
// block header occupies. Version 4 bytes + PrevBlock hash + MerkleRoot
// hash + Timestamp 4 bytes + Bits 4 bytes + Nonce 4 bytes.
const BlockHeaderPayload = 16 + 2*chainhash.HashSize

// HeaderStatus describes how a stored header relates to the chain it
// belongs to.
type HeaderStatus uint8

// Header statuses.
const (
	HeaderStatusNormal HeaderStatus = iota
	HeaderStatusCheckpoint
	HeaderStatusDisconnected
)

// BlockHeader defines information about a block and is used in the bitcoin
// block and headers messages.
type BlockHeader struct {
	// Version of the block. This is not the same as the protocol version.
	Version int32

	// Hash of the previous block header in the block chain.
	PrevBlock chainhash.Hash

	// Merkle tree reference to hash of all transactions for the block.
	MerkleRoot chainhash.Hash

	// Time the block was created, as unix seconds.
	Timestamp uint32

	// Difficulty target for the block.
	Bits uint32

	// Nonce used to generate the block.
	Nonce uint32
}

// BlockHash computes the block identifier hash for the given block header.
func (h *BlockHeader) BlockHash() chainhash.Hash {
	buf := bytes.NewBuffer(make([]byte, 0, BlockHeaderPayload))
	_ = writeBlockHeader(buf, h)

	return chainhash.DoubleHashH(buf.Bytes())
}

// Deserialize decodes a block header from r into the receiver using a
// format that is suitable for long-term storage such as a database.
func (h *BlockHeader) Deserialize(r io.Reader) error {
	return readBlockHeader(r, h)
}

// Serialize encodes a block header from the receiver to w using a format
// that is suitable for long-term storage such as a database.
func (h *BlockHeader) Serialize(w io.Writer) error {
	return writeBlockHeader(w, h)
}

// readBlockHeader reads a bitcoin block header from r.
func readBlockHeader(r io.Reader, h *BlockHeader) error {
	version, err := readUint32(r)
	if err != nil {
		return err
	}
	h.Version = int32(version)

	if _, err := io.ReadFull(r, h.PrevBlock[:]); err != nil {
		return errors.WithStack(err)
	}
	if _, err := io.ReadFull(r, h.MerkleRoot[:]); err != nil {
		return errors.WithStack(err)
	}

	if h.Timestamp, err = readUint32(r); err != nil {
		return err
	}
	if h.Bits, err = readUint32(r); err != nil {
		return err
	}
	if h.Nonce, err = readUint32(r); err != nil {
		return err
	}

	return nil
}

// writeBlockHeader writes a bitcoin block header to w.
func writeBlockHeader(w io.Writer, h *BlockHeader) error {
	if err := writeUint32(w, uint32(h.Version)); err != nil {
		return err
	}
	if _, err := w.Write(h.PrevBlock[:]); err != nil {
		return errors.WithStack(err)
	}
	if _, err := w.Write(h.MerkleRoot[:]); err != nil {
		return errors.WithStack(err)
	}
	if err := writeUint32(w, h.Timestamp); err != nil {
		return err
	}
	if err := writeUint32(w, h.Bits); err != nil {
		return err
	}
	return writeUint32(w, h.Nonce)
}

// HeaderRecord is the storage representation of a block header: the chain
// header itself plus the locally computed metadata. The local section is
// cleared when headers are imported in bulk so that chain state is
// recomputed from scratch.
type HeaderRecord struct {
	Header BlockHeader

	// Local metadata.
	Height        chainhash.Height
	Status        HeaderStatus
	Work          chainhash.Hash
	InheritedWork chainhash.Hash
}

// HeaderRecordPayload is the serialized size of a HeaderRecord.
// Header + Height 8 bytes + Status 1 byte + 1 pad byte + two work hashes.
const HeaderRecordPayload = BlockHeaderPayload + 10 + 2*chainhash.HashSize

// ClearLocal resets the locally computed metadata so that downstream
// consumers recompute height, status and work.
func (rec *HeaderRecord) ClearLocal() {
	rec.Height = 0
	rec.Status = HeaderStatusNormal
	rec.Work = chainhash.Hash{}
	rec.InheritedWork = chainhash.Hash{}
}

// Serialize encodes the header record to w.
func (rec *HeaderRecord) Serialize(w io.Writer) error {
	if err := writeBlockHeader(w, &rec.Header); err != nil {
		return err
	}
	if err := writeUint64(w, uint64(rec.Height)); err != nil {
		return err
	}
	if err := writeUint8(w, uint8(rec.Status)); err != nil {
		return err
	}
	if err := writeUint8(w, 0); err != nil {
		return err
	}
	if _, err := w.Write(rec.Work[:]); err != nil {
		return errors.WithStack(err)
	}
	_, err := w.Write(rec.InheritedWork[:])
	return errors.WithStack(err)
}

// Deserialize decodes a header record from r into the receiver.
func (rec *HeaderRecord) Deserialize(r io.Reader) error {
	if err := readBlockHeader(r, &rec.Header); err != nil {
		return err
	}

	height, err := readUint64(r)
	if err != nil {
		return err
	}
	rec.Height = chainhash.Height(height)

	status, err := readUint8(r)
	if err != nil {
		return err
	}
	rec.Status = HeaderStatus(status)

	// Discard the pad byte.
	if _, err := readUint8(r); err != nil {
		return err
	}

	if _, err := io.ReadFull(r, rec.Work[:]); err != nil {
		return errors.WithStack(err)
	}
	if _, err := io.ReadFull(r, rec.InheritedWork[:]); err != nil {
		return errors.WithStack(err)
	}

	return nil
}
