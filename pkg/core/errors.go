package core

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrEmptyPairs is returned when an operation needs at least one matched pair
	ErrEmptyPairs = errors.New("empty training pair set")

	// ErrDimensionMismatch is returned when source and target dimensions differ
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrDegenerate is returned when a decomposition fails or the input is not finite
	ErrDegenerate = errors.New("degenerate input")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUndefinedAccuracy is returned when no lexicon entry could be scored
	ErrUndefinedAccuracy = errors.New("accuracy undefined")

	// ErrNotFound is returned when a token or run is not found
	ErrNotFound = errors.New("not found")

	// ErrStoreClosed is returned when trying to use a closed store
	ErrStoreClosed = errors.New("store is closed")
)

// AlignError wraps errors with operation context
type AlignError struct {
	Op  string // Operation name
	Err error  // Underlying error
}

// Error implements the error interface
func (e *AlignError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("vecalign: %v", e.Err)
	}
	return fmt.Sprintf("vecalign: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *AlignError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target
func (e *AlignError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// WrapError wraps an error with operation context. A nil error stays nil.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &AlignError{Op: op, Err: err}
}

// Errorf wraps a sentinel with a formatted detail message under op.
func Errorf(op string, sentinel error, format string, args ...any) error {
	return &AlignError{Op: op, Err: fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))}
}
