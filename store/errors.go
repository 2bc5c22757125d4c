package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by every operation while the backend is down.
	ErrNotConnected = errors.New("docache: storage not connected")
	// ErrEmptyDocument rejects inserts and upserts without fields.
	ErrEmptyDocument = errors.New("docache: empty document")
	// ErrInvalidSort reports a sort field that cannot be ordered by.
	ErrInvalidSort = errors.New("docache: invalid sort")
	// ErrNotNumeric reports an increment against a non-numeric value.
	ErrNotNumeric = errors.New("docache: value is not numeric")
)

// StoreError attributes a failure to an operation and collection.
type StoreError struct {
	Op         string
	Collection Collection
	Err        error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func wrap(op string, c Collection, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Collection: c, Err: err}
}
