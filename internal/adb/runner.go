package adb

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Result is the outcome of one adb invocation or step.
//
// Expected failures (non-zero exit, device-side errors) are values, not Go
// errors: Success is false and Err describes the failure. Go errors are
// reserved for the channel itself being unusable.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Err     string `json:"error,omitempty"`
}

// ToMap returns the broadcast-friendly map shape of the result.
func (r Result) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"success": r.Success,
	}
	if r.Output != "" {
		m["output"] = r.Output
	}
	if r.Err != "" {
		m["error"] = r.Err
	}
	return m
}

// Runner executes a single adb invocation.
//
// Implementations return an error only when the invocation could not run at
// all (binary missing, server unreachable, context cancelled). A command
// that ran and failed returns a Result with Success=false and a nil error.
type Runner interface {
	Run(ctx context.Context, args ...string) (Result, error)
}

// execRunner invokes the adb binary via os/exec.
type execRunner struct {
	binary string
}

// NewExecRunner returns a Runner that shells out to the given adb binary.
func NewExecRunner(binary string) Runner {
	return &execRunner{binary: binary}
}

func (r *execRunner) Run(ctx context.Context, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, r.binary, args...) //nolint:gosec // Binary path comes from validated config
	out, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(out))

	if err == nil {
		return Result{Success: true, Output: output}, nil
	}

	// Context expiry takes precedence: the caller's per-attempt deadline hit.
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// adb ran and the command failed on-device or in the server.
		return Result{
			Success: false,
			Output:  output,
			Err:     fmt.Sprintf("exit status %d", exitErr.ExitCode()),
		}, nil
	}

	// Could not launch adb at all.
	return Result{}, fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
}
