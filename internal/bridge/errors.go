package bridge

import "errors"

var (
	// ErrUnknownCommand is returned for a command name the bridge does not handle.
	ErrUnknownCommand = errors.New("bridge: unknown command")

	// ErrInvalidParameters is returned when command parameters are missing or out of range.
	ErrInvalidParameters = errors.New("bridge: invalid parameters")
)
