package wire

import (
	"io"

	"github.com/otxnet/otxd/chainhash"
)

// MaxSyncPayload is the maximum accepted size for either field of a sync
// packet.
const MaxSyncPayload = 8 * 1024 * 1024

// SyncPacket is a chain-scoped, height-keyed record delivered to light
// clients: the chain block header together with the filter data needed to
// scan the block without downloading it.
type SyncPacket struct {
	Chain       uint32
	Height      chainhash.Height
	FilterType  FilterType
	FilterCount uint32
	Header      []byte
	Filter      []byte
}

// SerializeSize returns the number of bytes it would take to serialize the
// packet.
func (p *SyncPacket) SerializeSize() int {
	return 20 +
		VarIntSerializeSize(uint64(len(p.Header))) + len(p.Header) +
		VarIntSerializeSize(uint64(len(p.Filter))) + len(p.Filter)
}

// Serialize encodes the packet to w.
func (p *SyncPacket) Serialize(w io.Writer) error {
	if err := writeUint32(w, p.Chain); err != nil {
		return err
	}
	if err := writeUint64(w, uint64(p.Height)); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(p.FilterType)); err != nil {
		return err
	}
	if err := writeUint32(w, p.FilterCount); err != nil {
		return err
	}
	if err := WriteVarBytes(w, p.Header); err != nil {
		return err
	}
	return WriteVarBytes(w, p.Filter)
}

// Deserialize decodes a packet from r into the receiver.
func (p *SyncPacket) Deserialize(r io.Reader) error {
	chain, err := readUint32(r)
	if err != nil {
		return err
	}
	p.Chain = chain

	height, err := readUint64(r)
	if err != nil {
		return err
	}
	p.Height = chainhash.Height(height)

	filterType, err := readUint32(r)
	if err != nil {
		return err
	}
	p.FilterType = FilterType(filterType)

	if p.FilterCount, err = readUint32(r); err != nil {
		return err
	}
	if p.Header, err = ReadVarBytes(r, MaxSyncPayload, "sync header"); err != nil {
		return err
	}
	p.Filter, err = ReadVarBytes(r, MaxSyncPayload, "sync filter")
	return err
}
