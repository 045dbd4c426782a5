package adb

import "errors"

// Sentinel errors for the automation channel.
var (
	// ErrChannelUnavailable indicates the adb binary is missing or the adb
	// server is unreachable. Retryable: the next scan or attempt may succeed.
	ErrChannelUnavailable = errors.New("adb: channel unavailable")

	// ErrParseFailed indicates adb produced output this package could not parse.
	ErrParseFailed = errors.New("adb: parse failed")

	// ErrDeviceNotFound indicates the requested device is not attached.
	ErrDeviceNotFound = errors.New("adb: device not found")
)
