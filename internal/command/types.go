package command

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type is the logical operation a command performs on a device.
type Type string

// Command variants.
const (
	TypeStart  Type = "start"
	TypeStop   Type = "stop"
	TypePause  Type = "pause"
	TypeResume Type = "resume"
	TypeStatus Type = "status"
	TypeShell  Type = "shell"
)

// Valid reports whether the type is a known command variant.
func (t Type) Valid() bool {
	switch t {
	case TypeStart, TypeStop, TypePause, TypeResume, TypeStatus, TypeShell:
		return true
	}
	return false
}

// Status is a command's lifecycle state.
type Status string

// Command lifecycle states. Pending commands sit in the queue, running
// commands are being executed, completed and failed are terminal.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Command is one unit of work against a device. Higher Priority drains
// first; ties break by arrival order.
type Command struct {
	ID          string         `json:"id"`
	DeviceID    string         `json:"device_id"`
	Type        Type           `json:"type"`
	Params      map[string]any `json:"params,omitempty"`
	Priority    int            `json:"priority"`
	Status      Status         `json:"status"`
	Attempts    int            `json:"attempts"`
	Output      string         `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// NewCommand builds a pending command, validating the type and its
// params.
func NewCommand(deviceID string, cmdType Type, params map[string]any, priority int) (*Command, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device id is required", ErrInvalidParams)
	}
	if !cmdType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, cmdType)
	}

	switch cmdType {
	case TypeStart:
		if _, err := ParseStartParams(params); err != nil {
			return nil, err
		}
	case TypeShell:
		if _, err := ParseShellParams(params); err != nil {
			return nil, err
		}
	}

	return &Command{
		ID:        "cmd-" + uuid.NewString()[:8],
		DeviceID:  deviceID,
		Type:      cmdType,
		Params:    params,
		Priority:  priority,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Terminal reports whether the command reached a final state.
func (c *Command) Terminal() bool {
	return c.Status == StatusCompleted || c.Status == StatusFailed
}

// StartParams are the settings a start command applies to the
// controlled app before launch.
type StartParams struct {
	URL         string
	Iterations  int
	MinInterval int
	MaxInterval int
	Features    map[string]bool
}

// ParseStartParams validates and extracts start-command parameters.
func ParseStartParams(params map[string]any) (StartParams, error) {
	var p StartParams

	if v, ok := params["url"]; ok {
		s, ok := v.(string)
		if !ok {
			return p, fmt.Errorf("%w: url must be a string", ErrInvalidParams)
		}
		p.URL = s
	}

	var err error
	if p.Iterations, err = intParam(params, "iterations"); err != nil {
		return p, err
	}
	if p.MinInterval, err = intParam(params, "min_interval"); err != nil {
		return p, err
	}
	if p.MaxInterval, err = intParam(params, "max_interval"); err != nil {
		return p, err
	}

	if p.Iterations < 0 {
		return p, fmt.Errorf("%w: iterations must not be negative", ErrInvalidParams)
	}
	if p.MinInterval < 0 || p.MaxInterval < 0 {
		return p, fmt.Errorf("%w: intervals must not be negative", ErrInvalidParams)
	}
	if p.MaxInterval > 0 && p.MinInterval > p.MaxInterval {
		return p, fmt.Errorf("%w: min_interval exceeds max_interval", ErrInvalidParams)
	}

	if v, ok := params["features"]; ok {
		switch features := v.(type) {
		case map[string]bool:
			p.Features = features
		case map[string]any:
			p.Features = make(map[string]bool, len(features))
			for k, raw := range features {
				b, ok := raw.(bool)
				if !ok {
					return p, fmt.Errorf("%w: feature %q must be a boolean", ErrInvalidParams, k)
				}
				p.Features[k] = b
			}
		default:
			return p, fmt.Errorf("%w: features must be a map of booleans", ErrInvalidParams)
		}
	}

	return p, nil
}

// ShellParams carry the raw command line run by a shell command.
type ShellParams struct {
	Command string
}

// ParseShellParams validates and extracts shell-command parameters.
func ParseShellParams(params map[string]any) (ShellParams, error) {
	v, ok := params["command"]
	if !ok {
		return ShellParams{}, fmt.Errorf("%w: command is required", ErrInvalidParams)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return ShellParams{}, fmt.Errorf("%w: command must be a non-empty string", ErrInvalidParams)
	}
	return ShellParams{Command: s}, nil
}

// intParam reads an optional integer parameter that may arrive as an
// int (constructed in-process) or float64 (decoded from JSON).
func intParam(params map[string]any, key string) (int, error) {
	v, ok := params[key]
	if !ok {
		return 0, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidParams, key)
	}
}

func nowUTC() time.Time { return time.Now().UTC() }

// Result is the outcome a caller observes for one command.
type Result struct {
	Success   bool      `json:"success"`
	Output    string    `json:"output,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
