// Package bulk implements the append-only payload store backing the
// blockchain database: variable length payloads live in fixed size,
// memory-mapped segment files, and the key/value store holds 16 byte
// IndexEntry pointers into them. The next free byte of the logical stream
// is anchored in a configuration table so that the cursor and the index
// entries referencing it always commit together.
package bulk

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/edsrzf/mmap-go"
	"github.com/otxnet/otxd/database/lmdb"
	"github.com/pkg/errors"
)

// SegmentSize is the size of every segment file. Tests override this
// before opening a store; production stores use the default. Changing the
// value for an existing store corrupts it.
var SegmentSize uint64 = 256 * 1024 * 1024

// Store is an open bulk store.
type Store struct {
	db          *lmdb.DB
	dir         string
	prefix      string
	anchorTable lmdb.Table
	anchorKey   uint32
	segmentSize uint64

	// mtx serializes cursor advancement and segment creation. Readers
	// take it only briefly in ReadView to look up the segment map, never
	// while they use the returned view.
	mtx          sync.Mutex
	nextPosition uint64
	files        []*os.File
	maps         []mmap.MMap
}

// New opens the bulk store rooted at dir. Segment files are named
// "<prefix>NNNNN.dat". The current write cursor is loaded from (and kept
// in) anchorTable under the little endian encoding of anchorKey.
func New(db *lmdb.DB, dir, prefix string, anchorTable lmdb.Table, anchorKey uint32) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrapf(err, "failed to create bulk directory %s", dir)
	}

	s := &Store{
		db:          db,
		dir:         dir,
		prefix:      prefix,
		anchorTable: anchorTable,
		anchorKey:   anchorKey,
		segmentSize: SegmentSize,
	}

	if err := s.loadPosition(); err != nil {
		return nil, err
	}

	// Map every segment covered by the current cursor. The segment the
	// cursor points into must exist even when the store is empty.
	target := s.nextPosition/s.segmentSize + 1
	for i := uint64(0); i < target; i++ {
		if err := s.mapSegment(); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Mutex returns the single-writer lock protecting cursor advancement.
func (s *Store) Mutex() *sync.Mutex {
	return &s.mtx
}

// Close flushes and unmaps every segment.
func (s *Store) Close() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	var firstErr error
	for i, m := range s.maps {
		if err := m.Flush(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "failed to flush segment %d", i)
		}
		if err := m.Unmap(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "failed to unmap segment %d", i)
		}
	}
	for _, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = errors.WithStack(err)
		}
	}
	s.maps = nil
	s.files = nil

	return firstErr
}

// ReadView returns a borrow into the mapped segment holding the payload
// the entry points at. The view stays valid until the store is closed;
// callers must not write through it.
func (s *Store) ReadView(entry IndexEntry) ([]byte, error) {
	if entry.Empty() {
		return nil, errors.WithStack(lmdb.ErrNotFound)
	}
	if uint64(entry.Offset)+entry.Length > s.segmentSize {
		return nil, errors.Errorf("index entry exceeds segment bounds: "+
			"offset %d length %d", entry.Offset, entry.Length)
	}

	s.mtx.Lock()
	if int(entry.Segment) >= len(s.maps) {
		s.mtx.Unlock()
		return nil, errors.Errorf("index entry references unallocated "+
			"segment %d of %d", entry.Segment, len(s.maps))
	}
	m := s.maps[entry.Segment]
	s.mtx.Unlock()

	return m[entry.Offset : uint64(entry.Offset)+entry.Length], nil
}

// WriteView reserves size bytes of the logical stream and returns a
// writable view of the reservation. The caller must hold Mutex.
//
// The entry is updated to point at the reservation. onCommit, when not
// nil, runs inside txn after the reservation so the caller can persist
// its own index pointer atomically with the cursor update; returning an
// error from it abandons the write. A reservation that would straddle a
// segment boundary is moved to the start of the next segment, leaving the
// previous segment's trailing bytes as unreferenced slack.
//
// When size equals the entry's existing length the payload is replaced in
// place and the cursor does not move.
func (s *Store) WriteView(txn *lmdb.Txn, entry *IndexEntry, onCommit func(*lmdb.Txn) error, size uint64) ([]byte, error) {
	if size == 0 {
		return nil, errors.New("zero length write")
	}
	if size > s.segmentSize {
		return nil, errors.Errorf("write of %d bytes exceeds segment size %d",
			size, s.segmentSize)
	}

	if size != entry.Length {
		s.reserve(entry, size)
	} else {
		log.Tracef("Replacing existing %d byte item in segment %d", size,
			entry.Segment)
	}

	for uint64(len(s.maps)) <= uint64(entry.Segment) {
		if err := s.mapSegment(); err != nil {
			return nil, err
		}
	}

	if onCommit != nil {
		if err := onCommit(txn); err != nil {
			return nil, err
		}
	}

	if err := s.storePosition(txn); err != nil {
		return nil, err
	}

	m := s.maps[entry.Segment]
	return m[entry.Offset : uint64(entry.Offset)+size], nil
}

// reserve assigns the next free region of the stream to the entry and
// advances the in-memory cursor. The persisted cursor only moves when the
// enclosing transaction commits; an aborted transaction therefore leaves
// the reserved bytes orphaned in the file but unreferenced.
func (s *Store) reserve(entry *IndexEntry, size uint64) {
	position := s.nextPosition

	segment := position / s.segmentSize
	offset := position % s.segmentSize
	if offset+size > s.segmentSize {
		segment++
		offset = 0
		position = segment * s.segmentSize
	}

	entry.Segment = uint32(segment)
	entry.Offset = uint32(offset)
	entry.Length = size
	s.nextPosition = position + size

	log.Debugf("Storing new %d byte item at segment %d offset %d", size,
		segment, offset)
}

// NextPosition returns the current logical stream cursor.
func (s *Store) NextPosition() uint64 {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.nextPosition
}

func (s *Store) loadPosition() error {
	key := lmdb.IntegerKey(s.anchorKey)
	err := s.db.Load(s.anchorTable, key, func(value []byte) error {
		if len(value) != 8 {
			return errors.Errorf("invalid cursor size %d", len(value))
		}
		s.nextPosition = binary.LittleEndian.Uint64(value)
		return nil
	})
	if lmdb.IsNotFoundError(err) {
		initial := make([]byte, 8)
		return s.db.Store(s.anchorTable, key, initial)
	}

	return err
}

func (s *Store) storePosition(txn *lmdb.Txn) error {
	value := make([]byte, 8)
	binary.LittleEndian.PutUint64(value, s.nextPosition)

	return s.db.StoreTxn(s.anchorTable, lmdb.IntegerKey(s.anchorKey), value, txn)
}

// mapSegment creates or reopens the next segment file and maps it. Files
// of the wrong size are recreated; the filesystem keeps them sparse until
// written.
func (s *Store) mapSegment() error {
	index := len(s.files)
	path := s.segmentPath(index)
	log.Tracef("Initializing segment file %s", path)

	if info, err := os.Stat(path); err == nil {
		if uint64(info.Size()) != s.segmentSize {
			log.Errorf("Incorrect size %d for %s", info.Size(), path)
			if err := os.Remove(path); err != nil {
				return errors.WithStack(err)
			}
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return errors.Wrapf(err, "failed to open segment %s", path)
	}
	if err := f.Truncate(int64(s.segmentSize)); err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to size segment %s", path)
	}

	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to map segment %s", path)
	}

	s.files = append(s.files, f)
	s.maps = append(s.maps, m)

	return nil
}

func (s *Store) segmentPath(index int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s%05d.dat", s.prefix, index))
}
