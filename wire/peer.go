package wire

import (
	"io"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// PeerProtocol identifies the application protocol spoken by a peer.
type PeerProtocol uint8

// Defined peer protocols.
const (
	PeerProtocolOpentxs PeerProtocol = iota
	PeerProtocolBitcoin
	PeerProtocolEthereum
)

// PeerTransport identifies the transport an address belongs to.
type PeerTransport uint8

// Defined peer transports.
const (
	PeerTransportIPv4 PeerTransport = iota + 1
	PeerTransportIPv6
	PeerTransportOnion
	PeerTransportEep
	PeerTransportZMQ
)

// PeerService is a service bit advertised by a peer.
type PeerService uint8

// Defined peer service bits.
const (
	PeerServiceNone PeerService = iota
	PeerServiceAvatar
	PeerServiceBitcoin
	PeerServiceCompactFilters
	PeerServiceGraph
	PeerServiceLimited
	PeerServiceSync
)

// maxPeerSetEntries bounds the decoded size of peer service and transport
// sets.
const maxPeerSetEntries = 256

// maxPeerAddress bounds the decoded size of the peer address bytes.
const maxPeerAddress = 512

// PeerRecord is the storage representation of a known peer address and
// its secondary index attributes.
type PeerRecord struct {
	ID            string
	Chain         uint32
	Protocol      PeerProtocol
	Transports    map[PeerTransport]struct{}
	Services      map[PeerService]struct{}
	LastConnected time.Time
	Address       []byte
	Port          uint16
}

// TransportList returns the transports in sorted order, for deterministic
// serialization.
func (p *PeerRecord) TransportList() []PeerTransport {
	out := make([]PeerTransport, 0, len(p.Transports))
	for transport := range p.Transports {
		out = append(out, transport)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ServiceList returns the services in sorted order, for deterministic
// serialization.
func (p *PeerRecord) ServiceList() []PeerService {
	out := make([]PeerService, 0, len(p.Services))
	for service := range p.Services {
		out = append(out, service)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Serialize encodes the peer record to w.
func (p *PeerRecord) Serialize(w io.Writer) error {
	if err := WriteVarBytes(w, []byte(p.ID)); err != nil {
		return err
	}
	if err := writeUint32(w, p.Chain); err != nil {
		return err
	}
	if err := writeUint8(w, uint8(p.Protocol)); err != nil {
		return err
	}

	transports := p.TransportList()
	if err := WriteVarInt(w, uint64(len(transports))); err != nil {
		return err
	}
	for _, transport := range transports {
		if err := writeUint8(w, uint8(transport)); err != nil {
			return err
		}
	}

	services := p.ServiceList()
	if err := WriteVarInt(w, uint64(len(services))); err != nil {
		return err
	}
	for _, service := range services {
		if err := writeUint8(w, uint8(service)); err != nil {
			return err
		}
	}

	if err := writeUint64(w, uint64(p.LastConnected.Unix())); err != nil {
		return err
	}
	if err := writeUint16(w, p.Port); err != nil {
		return err
	}
	return WriteVarBytes(w, p.Address)
}

// Deserialize decodes a peer record from r into the receiver.
func (p *PeerRecord) Deserialize(r io.Reader) error {
	id, err := ReadVarBytes(r, maxPeerAddress, "peer id")
	if err != nil {
		return err
	}
	p.ID = string(id)

	if p.Chain, err = readUint32(r); err != nil {
		return err
	}

	protocol, err := readUint8(r)
	if err != nil {
		return err
	}
	p.Protocol = PeerProtocol(protocol)

	count, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	if count > maxPeerSetEntries {
		return errors.Errorf("too many peer transports [count %d]", count)
	}
	p.Transports = make(map[PeerTransport]struct{}, count)
	for i := uint64(0); i < count; i++ {
		transport, err := readUint8(r)
		if err != nil {
			return err
		}
		p.Transports[PeerTransport(transport)] = struct{}{}
	}

	count, err = ReadVarInt(r)
	if err != nil {
		return err
	}
	if count > maxPeerSetEntries {
		return errors.Errorf("too many peer services [count %d]", count)
	}
	p.Services = make(map[PeerService]struct{}, count)
	for i := uint64(0); i < count; i++ {
		service, err := readUint8(r)
		if err != nil {
			return err
		}
		p.Services[PeerService(service)] = struct{}{}
	}

	lastConnected, err := readUint64(r)
	if err != nil {
		return err
	}
	p.LastConnected = time.Unix(int64(lastConnected), 0)

	if p.Port, err = readUint16(r); err != nil {
		return err
	}
	p.Address, err = ReadVarBytes(r, maxPeerAddress, "peer address")
	return err
}
