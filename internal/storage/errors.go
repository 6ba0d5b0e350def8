package storage

import "errors"

var (
	// ErrNotFound means the requested row does not exist. Expected and
	// non-fatal: callers degrade (skip the send, start a fresh state).
	ErrNotFound = errors.New("not found")

	// ErrDuplicate means a write collided with a uniqueness constraint
	// on a row expected to be unique. It indicates a bug or data
	// corruption and must be surfaced, never swallowed.
	ErrDuplicate = errors.New("duplicate row")
)
