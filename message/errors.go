package message

import "errors"

// Sentinel errors returned by message.Store implementations and helpers.
var (
	// ErrNotFound is returned when a message cannot be found.
	ErrNotFound = errors.New("message: not found")

	// ErrDuplicateID is returned when a message ID collides with an existing one.
	ErrDuplicateID = errors.New("message: duplicate id")

	// ErrInvalidStatus is returned when a status string doesn't match a known state.
	ErrInvalidStatus = errors.New("message: invalid status")

	// ErrInvalidTransition is returned when a patch would violate the state machine.
	ErrInvalidTransition = errors.New("message: invalid status transition")
)
