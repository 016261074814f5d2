package repository

import "errors"

var (
	// ErrNameRequired is returned by New when no repository name is given.
	ErrNameRequired = errors.New("repository name is required")

	// ErrQueryConsumed is returned when a Query is used after Find or Count.
	ErrQueryConsumed = errors.New("query already executed")

	// ErrClosed is returned by operations on a closed repository.
	ErrClosed = errors.New("repository is closed")
)
