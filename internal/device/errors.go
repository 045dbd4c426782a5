package device

import "errors"

// Sentinel errors for registry operations.
var (
	// ErrNotFound indicates the device is not present in the registry.
	ErrNotFound = errors.New("device: not found")

	// ErrAlreadyRunning indicates a component was started twice
	// (registry Initialize, monitor Start).
	ErrAlreadyRunning = errors.New("device: already running")
)
