package fieldbus

import "errors"

// Domain errors for meter reads.
var (
	// ErrNoData is the error of a poll in which no register could be read.
	ErrNoData = errors.New("no data read")

	// ErrShortResponse is returned when a meter answers with fewer words than requested.
	ErrShortResponse = errors.New("fieldbus: short response")

	// ErrWordCount is returned when a decoder is given the wrong number of words.
	ErrWordCount = errors.New("fieldbus: wrong word count")

	// ErrNotFinite is returned for a float register holding NaN or infinity.
	ErrNotFinite = errors.New("fieldbus: value is not finite")
)
