// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// MaxVarIntPayload is the maximum payload size for a variable length integer.
const MaxVarIntPayload = 9

// littleEndian is a convenience variable since binary.LittleEndian is
// quite long.
var littleEndian = binary.LittleEndian

// errNonCanonicalVarInt is the common format string used for non-canonically
// encoded variable length integer errors.
var errNonCanonicalVarInt = "non-canonical varint %x - discriminant %x must " +
	"encode a value greater than %x"

// ReadVarInt reads a variable length integer from r and returns it as a
// uint64.
func ReadVarInt(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:1]); err != nil {
		return 0, errors.WithStack(err)
	}
	discriminant := buf[0]

	var rv uint64
	switch discriminant {
	case 0xff:
		if _, err := io.ReadFull(r, buf[:8]); err != nil {
			return 0, errors.WithStack(err)
		}
		rv = littleEndian.Uint64(buf[:8])

		// The encoding is not canonical if the value could have been
		// encoded using fewer bytes.
		min := uint64(0x100000000)
		if rv < min {
			return 0, errors.Errorf(errNonCanonicalVarInt, rv,
				discriminant, min)
		}

	case 0xfe:
		if _, err := io.ReadFull(r, buf[:4]); err != nil {
			return 0, errors.WithStack(err)
		}
		rv = uint64(littleEndian.Uint32(buf[:4]))

		min := uint64(0x10000)
		if rv < min {
			return 0, errors.Errorf(errNonCanonicalVarInt, rv,
				discriminant, min)
		}

	case 0xfd:
		if _, err := io.ReadFull(r, buf[:2]); err != nil {
			return 0, errors.WithStack(err)
		}
		rv = uint64(littleEndian.Uint16(buf[:2]))

		min := uint64(0xfd)
		if rv < min {
			return 0, errors.Errorf(errNonCanonicalVarInt, rv,
				discriminant, min)
		}

	default:
		rv = uint64(discriminant)
	}

	return rv, nil
}

// WriteVarInt serializes val to w using a variable number of bytes depending
// on its value.
func WriteVarInt(w io.Writer, val uint64) error {
	var buf [MaxVarIntPayload]byte
	switch {
	case val < 0xfd:
		buf[0] = uint8(val)
		_, err := w.Write(buf[:1])
		return errors.WithStack(err)

	case val <= 1<<16-1:
		buf[0] = 0xfd
		littleEndian.PutUint16(buf[1:3], uint16(val))
		_, err := w.Write(buf[:3])
		return errors.WithStack(err)

	case val <= 1<<32-1:
		buf[0] = 0xfe
		littleEndian.PutUint32(buf[1:5], uint32(val))
		_, err := w.Write(buf[:5])
		return errors.WithStack(err)

	default:
		buf[0] = 0xff
		littleEndian.PutUint64(buf[1:9], val)
		_, err := w.Write(buf[:9])
		return errors.WithStack(err)
	}
}

// VarIntSerializeSize returns the number of bytes it would take to serialize
// val as a variable length integer.
func VarIntSerializeSize(val uint64) int {
	switch {
	case val < 0xfd:
		return 1
	case val <= 1<<16-1:
		return 3
	case val <= 1<<32-1:
		return 5
	default:
		return 9
	}
}

// ReadVarBytes reads a variable length byte array. A byte array is encoded
// as a varInt containing the length of the array followed by the bytes
// themselves. An error is returned if the length is greater than the passed
// maxAllowed parameter which helps protect against memory exhaustion attacks
// and forced panics through malformed messages.
func ReadVarBytes(r io.Reader, maxAllowed uint64, fieldName string) ([]byte, error) {
	count, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}

	if count > maxAllowed {
		return nil, errors.Errorf("%s is larger than the max allowed size "+
			"[count %d, max %d]", fieldName, count, maxAllowed)
	}

	b := make([]byte, count)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, errors.WithStack(err)
	}
	return b, nil
}

// WriteVarBytes serializes a variable length byte array to w as a varInt
// containing the number of bytes, followed by the bytes themselves.
func WriteVarBytes(w io.Writer, bytes []byte) error {
	if err := WriteVarInt(w, uint64(len(bytes))); err != nil {
		return err
	}

	_, err := w.Write(bytes)
	return errors.WithStack(err)
}

func readUint8(r io.Reader) (uint8, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, errors.WithStack(err)
	}
	return buf[0], nil
}

func writeUint8(w io.Writer, val uint8) error {
	_, err := w.Write([]byte{val})
	return errors.WithStack(err)
}

func readUint16(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, errors.WithStack(err)
	}
	return littleEndian.Uint16(buf[:]), nil
}

func writeUint16(w io.Writer, val uint16) error {
	var buf [2]byte
	littleEndian.PutUint16(buf[:], val)
	_, err := w.Write(buf[:])
	return errors.WithStack(err)
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, errors.WithStack(err)
	}
	return littleEndian.Uint32(buf[:]), nil
}

func writeUint32(w io.Writer, val uint32) error {
	var buf [4]byte
	littleEndian.PutUint32(buf[:], val)
	_, err := w.Write(buf[:])
	return errors.WithStack(err)
}

func readUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, errors.WithStack(err)
	}
	return littleEndian.Uint64(buf[:]), nil
}

func writeUint64(w io.Writer, val uint64) error {
	var buf [8]byte
	littleEndian.PutUint64(buf[:], val)
	_, err := w.Write(buf[:])
	return errors.WithStack(err)
}
