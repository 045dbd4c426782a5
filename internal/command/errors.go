package command

import "errors"

var (
	// ErrTimeout marks a single attempt that exceeded its per-type
	// deadline. A timed-out attempt counts as a failed attempt.
	ErrTimeout = errors.New("command attempt timed out")

	// ErrExhausted marks a command that failed every allowed attempt.
	ErrExhausted = errors.New("command retries exhausted")

	// ErrUnknownType is returned for command types outside the known set.
	ErrUnknownType = errors.New("unknown command type")

	// ErrInvalidParams is returned when a command's parameters fail
	// validation for its type.
	ErrInvalidParams = errors.New("invalid command parameters")

	// ErrNotFound is returned when a command id has no record.
	ErrNotFound = errors.New("command not found")

	// ErrUnknownPreset is returned when a start request names a preset
	// absent from configuration.
	ErrUnknownPreset = errors.New("unknown preset")
)
