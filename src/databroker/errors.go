package databroker

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for paths the broker does not know or has no value for
	ErrNotFound = errors.New("signal not found")
	// ErrNotIndexed is returned when indexing into a scalar signal
	ErrNotIndexed = errors.New("signal is not an indexed sequence")
)

// ConnectivityError means a round-trip to the broker failed
type ConnectivityError struct {
	Op   string
	Path Path
	Err  error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// ValidationError means the broker rejected a value for a path
type ValidationError struct {
	Path   Path
	Value  Value
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("value %s rejected for %s: %s", e.Value, e.Path, e.Reason)
}

// IndexError means an index fell outside a sequence
type IndexError struct {
	Path   Path
	Index  int
	Length int
}

func (e *IndexError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("index %d out of range (length %d)", e.Index, e.Length)
	}
	return fmt.Sprintf("index %d out of range for %s (length %d)", e.Index, e.Path, e.Length)
}

// CorruptValueError means the broker answered but the stored value could not
// be decoded
type CorruptValueError struct {
	Path Path
	Err  error
}

func (e *CorruptValueError) Error() string {
	return fmt.Sprintf("stored value for %s is corrupt: %v", e.Path, e.Err)
}

func (e *CorruptValueError) Unwrap() error {
	return e.Err
}
