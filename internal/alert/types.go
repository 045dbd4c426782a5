package alert

import "time"

// Level classifies alert severity.
type Level string

// Alert severity levels, in increasing order of urgency.
const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// ParseLevel converts a string (e.g. from a query parameter) to a
// Level, returning ErrInvalidLevel for unknown values.
func ParseLevel(s string) (Level, error) {
	l := Level(s)
	if !l.Valid() {
		return "", ErrInvalidLevel
	}
	return l, nil
}

// Valid reports whether the level is one of the known severities.
func (l Level) Valid() bool {
	switch l {
	case LevelInfo, LevelWarning, LevelError, LevelCritical:
		return true
	}
	return false
}

// Alert is a single notification flowing through the pipeline.
type Alert struct {
	ID        string         `json:"id"`
	Level     Level          `json:"level"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	DeviceID  string         `json:"device_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ToMap renders the alert for JSON delivery surfaces.
func (a Alert) ToMap() map[string]any {
	m := map[string]any{
		"id":        a.ID,
		"level":     string(a.Level),
		"title":     a.Title,
		"message":   a.Message,
		"timestamp": a.Timestamp.UTC().Format(time.RFC3339),
	}
	if a.DeviceID != "" {
		m["device_id"] = a.DeviceID
	}
	if len(a.Details) > 0 {
		m["details"] = a.Details
	}
	return m
}
