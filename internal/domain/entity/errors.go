package entity

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain layer operations.
var (
	// ErrNotFound indicates that a requested entity was not found
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidInput indicates that the provided input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrValidationFailed indicates that validation checks have failed
	ErrValidationFailed = errors.New("validation failed")

	// ErrStorage indicates that the underlying store failed to read or write
	ErrStorage = errors.New("storage error")

	// ErrEmbedding indicates that the embedder could not vectorize text
	ErrEmbedding = errors.New("embedding error")

	// ErrClassification indicates that the bias classifier failed
	ErrClassification = errors.New("classification error")

	// ErrInvalidQuery indicates malformed search parameters
	ErrInvalidQuery = errors.New("invalid query")
)

// ValidationError represents a validation error with detailed field information.
// It implements the error interface and provides context about which field failed validation.
type ValidationError struct {
	Field   string
	Message string
}

// Error returns a formatted error message for the validation error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// Is lets errors.Is(err, ErrValidationFailed) match any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// StorageError wraps a store failure with the repository operation that raised it.
// errors.Is(err, ErrStorage) matches it, and the cause stays reachable through Unwrap.
type StorageError struct {
	Op  string
	Err error
}

// NewStorageError returns a StorageError for op, or nil when err is nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, ErrStorage.Error(), e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}
