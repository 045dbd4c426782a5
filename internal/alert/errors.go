package alert

import "errors"

// ErrInvalidLevel is returned when parsing an unknown severity string.
var ErrInvalidLevel = errors.New("invalid alert level")
