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

const (
	// OutpointPayload is the serialized size of an outpoint: a txid plus
	// a little endian output index.
	OutpointPayload = chainhash.HashSize + 4

	// maxTxInPerMessage is the maximum number of transaction inputs a
	// decoded transaction is allowed to carry.
	maxTxInPerMessage = 1 << 17

	// maxTxOutPerMessage is the maximum number of transaction outputs a
	// decoded transaction is allowed to carry.
	maxTxOutPerMessage = 1 << 17

	// maxScriptSize is the maximum accepted script length when decoding.
	maxScriptSize = 1 << 20
)

// Outpoint defines a bitcoin data type that is used to track previous
// transaction outputs.
type Outpoint struct {
	Hash  chainhash.Hash
	Index uint32
}

// Bytes returns the canonical 36 byte encoding of the outpoint: the txid
// followed by the little endian index.
func (o *Outpoint) Bytes() []byte {
	buf := make([]byte, OutpointPayload)
	copy(buf, o.Hash[:])
	littleEndian.PutUint32(buf[chainhash.HashSize:], o.Index)

	return buf
}

// Less reports whether o orders before target: lexicographically by txid,
// then numerically by index.
func (o *Outpoint) Less(target *Outpoint) bool {
	if o.Hash != target.Hash {
		return o.Hash.Less(&target.Hash)
	}
	return o.Index < target.Index
}

// readOutpoint reads the next sequence of bytes from r as an Outpoint.
func readOutpoint(r io.Reader, o *Outpoint) error {
	if _, err := io.ReadFull(r, o.Hash[:]); err != nil {
		return errors.WithStack(err)
	}

	var err error
	o.Index, err = readUint32(r)
	return err
}

// writeOutpoint encodes o to w.
func writeOutpoint(w io.Writer, o *Outpoint) error {
	if _, err := w.Write(o.Hash[:]); err != nil {
		return errors.WithStack(err)
	}
	return writeUint32(w, o.Index)
}

// TxIn defines a bitcoin transaction input.
type TxIn struct {
	PreviousOutpoint Outpoint
	SignatureScript  []byte
	Sequence         uint32
}

// TxOut defines a bitcoin transaction output.
type TxOut struct {
	Value    int64
	PkScript []byte
}

// MsgTx represents a bitcoin tx message. It is used to deliver transaction information in response to a
// getdata message for a given transaction, and is the storage
// serialization for the wallet transaction index.
type MsgTx struct {
	Version  int32
	TxIn     []*TxIn
	TxOut    []*TxOut
	LockTime uint32
}

// TxHash generates the Hash for the transaction.
func (msg *MsgTx) TxHash() chainhash.Hash {
	buf := bytes.NewBuffer(make([]byte, 0, msg.SerializeSize()))

	// Ignore the error returns since the only way the encode could fail
	// is being out of memory which would cause a run-time panic.
	_ = msg.Serialize(buf)

	return chainhash.DoubleHashH(buf.Bytes())
}

// SerializeSize returns the number of bytes it would take to serialize the
// transaction.
func (msg *MsgTx) SerializeSize() int {
	// Version 4 bytes + LockTime 4 bytes + serialized varint size for
	// the number of transaction inputs and outputs.
	n := 8 + VarIntSerializeSize(uint64(len(msg.TxIn))) +
		VarIntSerializeSize(uint64(len(msg.TxOut)))

	for _, txIn := range msg.TxIn {
		n += OutpointPayload + 4 +
			VarIntSerializeSize(uint64(len(txIn.SignatureScript))) +
			len(txIn.SignatureScript)
	}
	for _, txOut := range msg.TxOut {
		n += 8 + VarIntSerializeSize(uint64(len(txOut.PkScript))) +
			len(txOut.PkScript)
	}

	return n
}

// Serialize encodes the transaction to w using a format that is suitable
// for long-term storage such as a database.
func (msg *MsgTx) Serialize(w io.Writer) error {
	if err := writeUint32(w, uint32(msg.Version)); err != nil {
		return err
	}

	if err := WriteVarInt(w, uint64(len(msg.TxIn))); err != nil {
		return err
	}
	for _, txIn := range msg.TxIn {
		if err := writeOutpoint(w, &txIn.PreviousOutpoint); err != nil {
			return err
		}
		if err := WriteVarBytes(w, txIn.SignatureScript); err != nil {
			return err
		}
		if err := writeUint32(w, txIn.Sequence); err != nil {
			return err
		}
	}

	if err := WriteVarInt(w, uint64(len(msg.TxOut))); err != nil {
		return err
	}
	for _, txOut := range msg.TxOut {
		if err := writeUint64(w, uint64(txOut.Value)); err != nil {
			return err
		}
		if err := WriteVarBytes(w, txOut.PkScript); err != nil {
			return err
		}
	}

	return writeUint32(w, msg.LockTime)
}

// Deserialize decodes a transaction from r into the receiver.
func (msg *MsgTx) Deserialize(r io.Reader) error {
	version, err := readUint32(r)
	if err != nil {
		return err
	}
	msg.Version = int32(version)

	count, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	if count > maxTxInPerMessage {
		return errors.Errorf("too many input transactions to fit into "+
			"max message size [count %d, max %d]", count,
			maxTxInPerMessage)
	}

	msg.TxIn = make([]*TxIn, count)
	for i := range msg.TxIn {
		txIn := TxIn{}
		if err := readOutpoint(r, &txIn.PreviousOutpoint); err != nil {
			return err
		}
		if txIn.SignatureScript, err = ReadVarBytes(r, maxScriptSize,
			"transaction input signature script"); err != nil {
			return err
		}
		if txIn.Sequence, err = readUint32(r); err != nil {
			return err
		}
		msg.TxIn[i] = &txIn
	}

	count, err = ReadVarInt(r)
	if err != nil {
		return err
	}
	if count > maxTxOutPerMessage {
		return errors.Errorf("too many output transactions to fit into "+
			"max message size [count %d, max %d]", count,
			maxTxOutPerMessage)
	}

	msg.TxOut = make([]*TxOut, count)
	for i := range msg.TxOut {
		txOut := TxOut{}
		value, err := readUint64(r)
		if err != nil {
			return err
		}
		txOut.Value = int64(value)
		if txOut.PkScript, err = ReadVarBytes(r, maxScriptSize,
			"transaction output public key script"); err != nil {
			return err
		}
		msg.TxOut[i] = &txOut
	}

	msg.LockTime, err = readUint32(r)
	return err
}
