package utility

import "errors"

// Domain errors for utilities and filters.
var (
	// ErrInvalidThreshold is returned for a current threshold other than off, 5, 20 or 40.
	ErrInvalidThreshold = errors.New("utility: invalid current threshold")
)
