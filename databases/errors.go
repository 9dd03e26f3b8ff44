package databases

import "errors"

var (
	// ErrNotOpen is returned when no connection is registered under a name.
	ErrNotOpen = errors.New("database is not open")

	ErrInvalidName = errors.New("invalid name")
	ErrEmpty       = errors.New("empty input")
	ErrExists      = errors.New("already exists")
	ErrNotFound    = errors.New("does not exist")

	ErrTransactionActive = errors.New("transaction already in progress")
	ErrNoTransaction     = errors.New("no transaction in progress")
)
