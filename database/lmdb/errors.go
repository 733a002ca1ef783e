package lmdb

import "github.com/pkg/errors"

var (
	// ErrNotFound denotes that the requested key does not exist in the
	// table.
	ErrNotFound = errors.New("not found")

	// ErrTxnClosed denotes a use of a transaction after it was
	// finalized.
	ErrTxnClosed = errors.New("transaction already finalized")
)

// IsNotFoundError checks whether err is, or wraps, ErrNotFound.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}
