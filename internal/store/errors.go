package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a scoped lookup matches no row.
var ErrNotFound = errors.New("not found")

// StorageError wraps any failure reading or writing the local database.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// TransitionError is returned when a batch status change breaks the
// pending -> sending -> completed|failed chain.
type TransitionError struct {
	BatchID string
	From    BatchStatus
	To      BatchStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("batch %s: invalid transition from %s to %s", e.BatchID, e.From, e.To)
}

// IsStorageError reports whether err came from the database layer.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
