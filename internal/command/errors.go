package command

import "errors"

// Command errors. Domain errors from the poller (utility.ErrInvalidThreshold,
// source.ErrUnknownSource, poller.ErrUnknownUtility) and context deadline
// errors are returned unwrapped alongside these.
var (
	// ErrUnknownAction is returned for an action name Dispatch does not know.
	ErrUnknownAction = errors.New("command: unknown action")

	// ErrInvalidPayload is returned when the payload does not decode.
	ErrInvalidPayload = errors.New("command: invalid payload")

	// ErrNotFound is returned when history is requested for an unknown utility.
	ErrNotFound = errors.New("command: not found")
)
