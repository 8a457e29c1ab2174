package repository

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict is returned when a commit raced another writer or the
	// query reached a terminal status after it was read.
	ErrVersionConflict = errors.New("query modified concurrently")
	// ErrLockHeld is returned when another worker holds the query lock.
	ErrLockHeld = errors.New("query lock held")
)
