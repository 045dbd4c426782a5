package adb

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Logger defines the logging interface for the controller.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Listing is one row of `adb devices -l`: the serial, the adb-reported
// state (device, offline, unauthorized) and the model token if present.
type Listing struct {
	ID    string
	State string
	Model string
}

var modelPattern = regexp.MustCompile(`model:(\S+)`)

// Controller is the automation channel. It issues adb invocations through
// a Runner and parses their output.
//
// Thread Safety:
//   - All methods are safe for concurrent use; the Controller holds no
//     mutable state.
type Controller struct {
	runner Runner
	logger Logger
}

// NewController creates a Controller on top of the given Runner.
func NewController(runner Runner) *Controller {
	return &Controller{
		runner: runner,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the controller.
func (c *Controller) SetLogger(logger Logger) {
	c.logger = logger
}

// ListDevices lists attached devices via `adb devices -l`.
//
// Returns ErrChannelUnavailable when adb itself cannot run; a device in a
// bad state (offline, unauthorized) is still listed with that state.
func (c *Controller) ListDevices(ctx context.Context) ([]Listing, error) {
	res, err := c.runner.Run(ctx, "devices", "-l")
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, fmt.Errorf("%w: %s", ErrChannelUnavailable, res.Err)
	}

	return parseDeviceList(res.Output), nil
}

// parseDeviceList parses `adb devices -l` output.
//
// Example input:
//
//	List of devices attached
//	R58M12ABCDE            device usb:1-4 product:a30 model:SM_A305F device:a30
//	0123456789ABCDEF       unauthorized usb:1-5
func parseDeviceList(output string) []Listing {
	var listings []Listing

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		l := Listing{
			ID:    fields[0],
			State: fields[1],
		}
		if m := modelPattern.FindStringSubmatch(line); m != nil {
			l.Model = m[1]
		}

		listings = append(listings, l)
	}

	return listings
}

// RunStep executes one step against a device.
//
// Channel failures are folded into the Result so callers have a single
// failure path; the executor retries on Success=false either way.
func (c *Controller) RunStep(ctx context.Context, deviceID string, step Step) Result {
	return c.shell(ctx, deviceID, step.shellCommand())
}

// shell runs a command on the device via `adb -s <id> shell`.
func (c *Controller) shell(ctx context.Context, deviceID, command string) Result {
	c.logger.Debug("running shell command", "device_id", deviceID, "command", command)

	res, err := c.runner.Run(ctx, "-s", deviceID, "shell", command)
	if err != nil {
		return Result{Success: false, Err: err.Error()}
	}
	return res
}

// ForceStop force-stops the given package on the device.
func (c *Controller) ForceStop(ctx context.Context, deviceID, pkg string) Result {
	return c.shell(ctx, deviceID, "am force-stop "+pkg)
}

// LaunchApp starts the given activity. Activity may be relative
// (".presentation.MainActivity") or fully qualified.
func (c *Controller) LaunchApp(ctx context.Context, deviceID, pkg, activity string) Result {
	return c.shell(ctx, deviceID, fmt.Sprintf("am start -n %s/%s", pkg, activity))
}

// ClearAppData clears the app's data and caches.
func (c *Controller) ClearAppData(ctx context.Context, deviceID, pkg string) Result {
	return c.shell(ctx, deviceID, "pm clear "+pkg)
}

// AppPID returns the PID of the running app, or an error if it is not
// running.
func (c *Controller) AppPID(ctx context.Context, deviceID, pkg string) (int, error) {
	res := c.shell(ctx, deviceID, "pidof "+pkg)
	if !res.Success || res.Output == "" {
		return 0, fmt.Errorf("%w: %s not running on %s", ErrDeviceNotFound, pkg, deviceID)
	}

	pid, err := strconv.Atoi(strings.Fields(res.Output)[0])
	if err != nil {
		return 0, fmt.Errorf("%w: pidof output %q", ErrParseFailed, res.Output)
	}
	return pid, nil
}

// BatteryLevel returns the device battery percentage from dumpsys.
func (c *Controller) BatteryLevel(ctx context.Context, deviceID string) (int, error) {
	res := c.shell(ctx, deviceID, "dumpsys battery")
	if !res.Success {
		return 0, fmt.Errorf("%w: dumpsys battery: %s", ErrChannelUnavailable, res.Err)
	}

	for _, line := range strings.Split(res.Output, "\n") {
		line = strings.TrimSpace(line)
		if after, ok := strings.CutPrefix(line, "level:"); ok {
			level, err := strconv.Atoi(strings.TrimSpace(after))
			if err != nil {
				return 0, fmt.Errorf("%w: battery level %q", ErrParseFailed, after)
			}
			return level, nil
		}
	}

	return 0, fmt.Errorf("%w: no battery level in dumpsys output", ErrParseFailed)
}

// DeviceProperties returns selected system properties for the device.
func (c *Controller) DeviceProperties(ctx context.Context, deviceID string) (map[string]string, error) {
	res := c.shell(ctx, deviceID, "getprop")
	if !res.Success {
		return nil, fmt.Errorf("%w: getprop: %s", ErrChannelUnavailable, res.Err)
	}

	props := make(map[string]string)
	for _, line := range strings.Split(res.Output, "\n") {
		// getprop lines look like: [ro.product.model]: [SM_A305F]
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "]: [", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimPrefix(parts[0], "[")
		value := strings.TrimSuffix(parts[1], "]")
		props[key] = value
	}

	return props, nil
}
