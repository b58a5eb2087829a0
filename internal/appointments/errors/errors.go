package errors

import "errors"

var (
	ErrNotFound = errors.New("appointment not found")

	ErrInvalidID = errors.New("invalid appointment ID format")

	// ErrStatusConflict means a guarded update matched no row: the
	// appointment's status changed since it was read. The caller lost
	// a concurrent cancel/confirm/sweep race and must not overwrite.
	ErrStatusConflict = errors.New("appointment status changed concurrently")
)
