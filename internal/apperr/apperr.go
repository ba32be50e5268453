package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates caller input that was rejected before any state change.
	ErrValidation = errors.New("validation")
	// ErrUnauthorized indicates a denied access check.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound is a sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrExportFailure tags a transformation or delivery error recorded into a job's
	// terminal state. It is never returned to the original export requester.
	ErrExportFailure = errors.New("export failure")
)

// Validationf tags a formatted error as a validation failure.
func Validationf(format string, args ...any) error {
	return errors.Join(ErrValidation, fmt.Errorf(format, args...))
}

// Unauthorizedf tags a formatted error as an authorization failure.
func Unauthorizedf(format string, args ...any) error {
	return errors.Join(ErrUnauthorized, fmt.Errorf(format, args...))
}

// NotFoundf tags a formatted error as a missing-resource failure.
func NotFoundf(format string, args ...any) error {
	return errors.Join(ErrNotFound, fmt.Errorf(format, args...))
}

// ExportFailuref tags a formatted error as an export processing failure.
func ExportFailuref(format string, args ...any) error {
	return errors.Join(ErrExportFailure, fmt.Errorf(format, args...))
}
