package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested row does not exist or is
// no longer visible (e.g. an expired cache entry).
var ErrNotFound = errors.New("store: not found")

// StoreError wraps any I/O or transaction failure of the underlying
// database. It is always surfaced to the caller; a StoreError means the
// operation did not apply, fully or partially.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// ValidationError rejects bad caller input before any write happens
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
