package database

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateEvent is returned when an event for the same employee, date
	// and type already exists.
	ErrDuplicateEvent = errors.New("duplicate attendance event")
)
