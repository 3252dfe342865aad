// Package apperr defines the error taxonomy shared across packages.
// Callers match with errors.Is; helpers attach a descriptive message.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrAlreadyExists      = errors.New("already exists")
	ErrValidation         = errors.New("validation failed")
	ErrExternalService    = errors.New("external service failed")
	ErrMergeConflict      = errors.New("merge conflict")
	ErrPartialToolFailure = errors.New("partial tool failure")
)

// Validationf returns an error wrapping ErrValidation.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf returns an error wrapping ErrNotFound.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Externalf wraps cause as an ErrExternalService failure.
func Externalf(cause error, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %w", ErrExternalService, fmt.Sprintf(format, args...), cause)
}

// MergeConflictf returns an error wrapping ErrMergeConflict.
func MergeConflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMergeConflict, fmt.Sprintf(format, args...))
}
