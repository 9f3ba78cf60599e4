package source

import "errors"

// Domain errors for configuration sources.
var (
	// ErrUnknownSource is returned when selecting an identifier that is not listed.
	ErrUnknownSource = errors.New("source: unknown source")

	// ErrNoSource is returned when no source is available or selected.
	ErrNoSource = errors.New("source: no source available")

	// ErrMissingTable is returned when a source lacks the utilities or registers table.
	ErrMissingTable = errors.New("source: missing table")
)
