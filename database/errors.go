package database

import (
	"github.com/otxnet/otxd/database/lmdb"
	"github.com/pkg/errors"
)

var (
	// ErrNotFound denotes that a requested entry does not exist in the
	// database.
	ErrNotFound = lmdb.ErrNotFound

	// ErrCorruptStore denotes that a stored value had an unexpected
	// size or failed validation.
	ErrCorruptStore = errors.New("corrupt store")

	// ErrInvalidInput denotes a caller error: an empty id, a negative
	// height, or mismatched vector lengths in a combined write.
	ErrInvalidInput = errors.New("invalid input")

	// ErrClosed denotes a use of the database after Close.
	ErrClosed = errors.New("database closed")
)

// IsNotFoundError checks whether err is, or wraps, ErrNotFound.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}
