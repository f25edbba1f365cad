package repositories

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested record does not exist
	ErrNotFound = errors.New("not found")
	// ErrNodeNotFound indicates a graph node does not exist
	ErrNodeNotFound = fmt.Errorf("node %w", ErrNotFound)
	// ErrEdgeNotFound indicates a graph edge does not exist
	ErrEdgeNotFound = fmt.Errorf("edge %w", ErrNotFound)
	// ErrAlreadyExists indicates a create for an existing key
	ErrAlreadyExists = errors.New("already exists")
	// ErrStorageUnavailable indicates the backing system cannot be reached
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// StorageError wraps a failure of a storage operation
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError wraps err as a StorageError for op
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// IsUnavailable reports whether err is a recoverable storage outage
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

// IsStorageError reports whether err came from a storage backend
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
