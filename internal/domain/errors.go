package domain

import "errors"

var (
	// ErrValidation marks input that fails domain validation.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a lookup for a record that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks an operation that lost a state race (e.g. claiming an
	// already-consumed batch).
	ErrConflict = errors.New("conflict")
	// ErrUnknownStream marks a register call for a stream name that was never
	// configured at startup.
	ErrUnknownStream = errors.New("unknown stream")
	// ErrEmptyBatch marks a claimed batch whose event list is empty. This is an
	// internal-consistency fault: an open batch must never be empty.
	ErrEmptyBatch = errors.New("empty batch")
)
