package repository

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict signals a guarded update matched no row because the record changed state first.
	ErrConflict = errors.New("repository: conflict")
	// ErrUnavailable reports that the backing store stayed unreachable after bounded retries.
	ErrUnavailable = errors.New("repository: store unavailable")
)
