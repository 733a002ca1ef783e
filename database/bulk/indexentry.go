package bulk

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// IndexEntryPayload is the exact serialized size of an IndexEntry.
const IndexEntryPayload = 16

// IndexEntry locates a payload inside the bulk store: the segment file it
// lives in, the byte offset inside that segment, and its length.
type IndexEntry struct {
	Segment uint32
	Offset  uint32
	Length  uint64
}

// Empty reports whether the entry points at nothing.
func (e *IndexEntry) Empty() bool {
	return e.Length == 0
}

// Encode returns the 16 byte little endian encoding of the entry.
func (e *IndexEntry) Encode() []byte {
	buf := make([]byte, IndexEntryPayload)
	binary.LittleEndian.PutUint32(buf[0:4], e.Segment)
	binary.LittleEndian.PutUint32(buf[4:8], e.Offset)
	binary.LittleEndian.PutUint64(buf[8:16], e.Length)
	return buf
}

// Decode parses the 16 byte little endian encoding of an entry. Values of
// any other size are rejected.
func (e *IndexEntry) Decode(data []byte) error {
	if len(data) != IndexEntryPayload {
		return errors.Errorf("invalid index entry size %d, want %d",
			len(data), IndexEntryPayload)
	}
	e.Segment = binary.LittleEndian.Uint32(data[0:4])
	e.Offset = binary.LittleEndian.Uint32(data[4:8])
	e.Length = binary.LittleEndian.Uint64(data[8:16])
	return nil
}
