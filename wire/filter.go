package wire

import (
	"io"

	"github.com/btcsuite/btcutil/gcs"
	"github.com/otxnet/otxd/chainhash"
	"github.com/pkg/errors"
)

// FilterType is an enumerated compact filter type.
type FilterType uint32

// Defined filter types.
const (
	// FilterTypeBasic is the BIP158 basic filter.
	FilterTypeBasic FilterType = 0

	// FilterTypeBasicBCH is the bitcoin cash variant of the basic
	// filter.
	FilterTypeBasicBCH FilterType = 1

	// FilterTypeES is the extended filter covering all script elements.
	FilterTypeES FilterType = 88
)

// String returns the filter type as a human readable string.
func (t FilterType) String() string {
	switch t {
	case FilterTypeBasic:
		return "basic"
	case FilterTypeBasicBCH:
		return "basic_bch"
	case FilterTypeES:
		return "es"
	default:
		return "unknown"
	}
}

// filterRecordVersion is the current serialization version for filter and
// cfheader records.
const filterRecordVersion = 1

// MaxFilterPayload is the maximum accepted size of an encoded compact
// filter.
const MaxFilterPayload = 4 * 1024 * 1024

// FilterRecord is the storage representation of a golomb coded set
// filter: its parameters, element count, and the encoded bytes.
type FilterRecord struct {
	Version uint32

	// Bits is the golomb-rice parameter P.
	Bits uint8

	// FPRate is the false positive parameter M.
	FPRate uint32

	// Count is the number of elements encoded in the set.
	Count uint32

	// Filter is the encoded golomb coded set, excluding the element
	// count.
	Filter []byte
}

// Hash returns the double-SHA256 hash of the encoded filter, which is the
// value committed to by the cfheader chain.
func (rec *FilterRecord) Hash() chainhash.Hash {
	return chainhash.DoubleHashH(rec.Filter)
}

// SerializeSize returns the number of bytes it would take to serialize the
// filter record.
func (rec *FilterRecord) SerializeSize() int {
	return 13 + VarIntSerializeSize(uint64(len(rec.Filter))) + len(rec.Filter)
}

// Serialize encodes the filter record to w.
func (rec *FilterRecord) Serialize(w io.Writer) error {
	if err := writeUint32(w, rec.Version); err != nil {
		return err
	}
	if err := writeUint8(w, rec.Bits); err != nil {
		return err
	}
	if err := writeUint32(w, rec.FPRate); err != nil {
		return err
	}
	if err := writeUint32(w, rec.Count); err != nil {
		return err
	}
	return WriteVarBytes(w, rec.Filter)
}

// Deserialize decodes a filter record from r into the receiver.
func (rec *FilterRecord) Deserialize(r io.Reader) error {
	var err error
	if rec.Version, err = readUint32(r); err != nil {
		return err
	}
	if rec.Bits, err = readUint8(r); err != nil {
		return err
	}
	if rec.FPRate, err = readUint32(r); err != nil {
		return err
	}
	if rec.Count, err = readUint32(r); err != nil {
		return err
	}
	rec.Filter, err = ReadVarBytes(r, MaxFilterPayload, "filter")
	return err
}

// GCS reconstructs the queryable golomb coded set from the stored
// parameters and bytes.
func (rec *FilterRecord) GCS() (*gcs.Filter, error) {
	filter, err := gcs.FromBytes(rec.Count, rec.Bits, uint64(rec.FPRate),
		rec.Filter)
	return filter, errors.WithStack(err)
}

// NewFilterRecord returns a filter record with the current version and
// BIP158 standard parameters.
func NewFilterRecord(count uint32, filter []byte) *FilterRecord {
	return &FilterRecord{
		Version: filterRecordVersion,
		Bits:    19,
		FPRate:  784931,
		Count:   count,
		Filter:  filter,
	}
}

// CfheaderRecord anchors a compact filter to its predecessor: the chained
// filter header plus the hash of the filter itself.
type CfheaderRecord struct {
	Version    uint32
	Header     chainhash.Hash
	FilterHash chainhash.Hash
}

// CfheaderRecordPayload is the serialized size of a CfheaderRecord.
const CfheaderRecordPayload = 4 + 2*chainhash.HashSize

// Serialize encodes the cfheader record to w.
func (rec *CfheaderRecord) Serialize(w io.Writer) error {
	if err := writeUint32(w, rec.Version); err != nil {
		return err
	}
	if _, err := w.Write(rec.Header[:]); err != nil {
		return errors.WithStack(err)
	}
	_, err := w.Write(rec.FilterHash[:])
	return errors.WithStack(err)
}

// Deserialize decodes a cfheader record from r into the receiver.
func (rec *CfheaderRecord) Deserialize(r io.Reader) error {
	var err error
	if rec.Version, err = readUint32(r); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, rec.Header[:]); err != nil {
		return errors.WithStack(err)
	}
	if _, err := io.ReadFull(r, rec.FilterHash[:]); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// NewCfheaderRecord returns a cfheader record with the current version.
func NewCfheaderRecord(header, filterHash chainhash.Hash) *CfheaderRecord {
	return &CfheaderRecord{
		Version:    filterRecordVersion,
		Header:     header,
		FilterHash: filterHash,
	}
}

// NextFilterHeader computes the chained filter header committing to
// filterHash on top of previous: double-SHA256 of the filter hash
// concatenated with the previous header.
func NextFilterHeader(filterHash, previous chainhash.Hash) chainhash.Hash {
	buf := make([]byte, 0, 2*chainhash.HashSize)
	buf = append(buf, filterHash[:]...)
	buf = append(buf, previous[:]...)

	return chainhash.DoubleHashH(buf)
}
