package command

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fleetworks/adbfleet-core/internal/adb"
	"github.com/fleetworks/adbfleet-core/internal/alert"
	"github.com/fleetworks/adbfleet-core/internal/device"
	"github.com/fleetworks/adbfleet-core/internal/infrastructure/config"
)

// Channel is the automation-channel surface the executor drives.
// Satisfied by adb.Controller.
type Channel interface {
	RunStep(ctx context.Context, deviceID string, step adb.Step) adb.Result
}

// Registry is the device-state surface the executor updates after a
// successful command. Satisfied by device.Registry.
type Registry interface {
	GetDevice(id string) (device.Device, bool)
	SetRunning(id string, running bool, lastCommandStatus string) error
	SetIteration(id string, iteration int) error
}

// Alerter receives the single alert raised when a command exhausts its
// retries. Satisfied by alert.Pipeline.
type Alerter interface {
	Send(level alert.Level, title, message, deviceID string, details map[string]any)
}

// Broadcaster receives device-state and progress pushes after
// successful commands. Satisfied by broadcast.Broadcaster.
type Broadcaster interface {
	BroadcastDeviceStatus(d device.Device) error
	BroadcastProgress(deviceID string, progress map[string]any) error
}

// Executor performs the externally visible effect of one command
// against the automation channel, with a per-type attempt timeout and
// bounded retries.
type Executor struct {
	channel  Channel
	registry Registry

	alerts      Alerter
	broadcaster Broadcaster
	logger      Logger

	app         config.AppConfig
	timeouts    config.CommandTimeouts
	maxAttempts int
	backoff     time.Duration
}

// NewExecutor creates an executor wired to the automation channel and
// device registry. Alert and broadcast delivery are optional and set
// separately.
func NewExecutor(channel Channel, registry Registry, cfg *config.Config) *Executor {
	maxAttempts := cfg.Commands.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	return &Executor{
		channel:     channel,
		registry:    registry,
		logger:      noopLogger{},
		app:         cfg.App,
		timeouts:    cfg.Commands.Timeouts,
		maxAttempts: maxAttempts,
		backoff:     cfg.RetryBackoff(),
	}
}

// SetAlerter wires the alert pipeline for exhaustion alerts.
func (e *Executor) SetAlerter(a Alerter) {
	e.alerts = a
}

// SetBroadcaster wires live device-state pushes.
func (e *Executor) SetBroadcaster(b Broadcaster) {
	e.broadcaster = b
}

// SetLogger replaces the default no-op logger.
func (e *Executor) SetLogger(logger Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// Execute performs one attempt of the command under its per-type
// timeout. Failures are reported in the Result, never raised.
func (e *Executor) Execute(ctx context.Context, cmd *Command) Result {
	attemptCtx, cancel := context.WithTimeout(ctx, e.timeouts.Timeout(string(cmd.Type)))
	defer cancel()

	var result Result
	switch cmd.Type {
	case TypeStart:
		result = e.executeStart(attemptCtx, cmd)
	case TypeStop, TypePause, TypeResume, TypeStatus:
		result = e.executeControl(attemptCtx, cmd)
	case TypeShell:
		result = e.executeShell(attemptCtx, cmd)
	default:
		result = failure(fmt.Sprintf("%s: %q", ErrUnknownType, cmd.Type))
	}

	if !result.Success && attemptCtx.Err() == context.DeadlineExceeded {
		result.Error = ErrTimeout.Error()
	}
	result.Timestamp = nowUTC()
	return result
}

// ExecuteWithRetries attempts Execute up to the configured maximum,
// sleeping a fixed backoff between attempts. A success at any attempt
// returns immediately. On exhaustion exactly one alert is raised,
// carrying the command id and parameters, and the terminal failure is
// returned. The caller always gets a terminal Result; nothing is
// thrown across the queue boundary.
func (e *Executor) ExecuteWithRetries(ctx context.Context, cmd *Command) Result {
	var result Result

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		cmd.Attempts = attempt
		result = e.Execute(ctx, cmd)

		if result.Success {
			e.applySuccess(cmd, result)
			return result
		}

		e.logger.Warn("command attempt failed",
			"command_id", cmd.ID, "device_id", cmd.DeviceID,
			"type", string(cmd.Type), "attempt", attempt, "error", result.Error)

		if attempt < e.maxAttempts {
			if !e.sleepBackoff(ctx) {
				break
			}
		}
	}

	result.Error = fmt.Sprintf("%s: %d attempts, last error: %s",
		ErrExhausted, cmd.Attempts, result.Error)

	if e.alerts != nil {
		e.alerts.Send(alert.LevelError, "command failed",
			fmt.Sprintf("command %s (%s) on %s failed after %d attempts",
				cmd.ID, cmd.Type, cmd.DeviceID, cmd.Attempts),
			cmd.DeviceID,
			map[string]any{
				"command_id": cmd.ID,
				"type":       string(cmd.Type),
				"params":     cmd.Params,
				"attempts":   cmd.Attempts,
			})
	}

	return result
}

// sleepBackoff waits the fixed retry backoff, returning false when the
// context was cancelled first.
func (e *Executor) sleepBackoff(ctx context.Context) bool {
	timer := time.NewTimer(e.backoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// applySuccess records the command outcome on the registry and pushes
// the new device state to live subscribers. Status output is relayed
// as a progress update; it does not change registry state.
func (e *Executor) applySuccess(cmd *Command, result Result) {
	var err error
	switch cmd.Type {
	case TypeStart:
		err = e.registry.SetRunning(cmd.DeviceID, true, "started")
	case TypeStop:
		err = e.registry.SetRunning(cmd.DeviceID, false, "stopped")
	case TypePause:
		err = e.registry.SetRunning(cmd.DeviceID, true, "paused")
	case TypeResume:
		err = e.registry.SetRunning(cmd.DeviceID, true, "running")
	case TypeStatus:
		e.applyStatus(cmd, result)
		return
	default:
		return // shell does not change device state
	}
	if err != nil {
		e.logger.Warn("registry update after command",
			"command_id", cmd.ID, "device_id", cmd.DeviceID, "error", err)
		return
	}

	if e.broadcaster == nil {
		return
	}
	if d, ok := e.registry.GetDevice(cmd.DeviceID); ok {
		if err := e.broadcaster.BroadcastDeviceStatus(d); err != nil {
			e.logger.Warn("broadcasting device status",
				"device_id", cmd.DeviceID, "error", err)
		}
	}
}

// applyStatus relays a status command's output as a progress update and
// records the reported iteration, when present, on the registry.
func (e *Executor) applyStatus(cmd *Command, result Result) {
	if n, ok := parseIteration(result.Output); ok {
		if err := e.registry.SetIteration(cmd.DeviceID, n); err != nil {
			e.logger.Warn("recording iteration",
				"device_id", cmd.DeviceID, "error", err)
		}
	}

	if e.broadcaster == nil {
		return
	}
	if err := e.broadcaster.BroadcastProgress(cmd.DeviceID, map[string]any{
		"output": result.Output,
	}); err != nil {
		e.logger.Warn("broadcasting status output",
			"device_id", cmd.DeviceID, "error", err)
	}
}

// parseIteration extracts an "iteration=N" token from status output.
func parseIteration(output string) (int, bool) {
	for _, field := range strings.Fields(output) {
		if v, found := strings.CutPrefix(field, "iteration="); found {
			n, err := strconv.Atoi(strings.TrimSuffix(v, ","))
			if err == nil && n >= 0 {
				return n, true
			}
		}
	}
	return 0, false
}

// executeStart runs the best-effort launch sequence: stop a stale
// instance, write settings into shared preferences, launch the app,
// then signal it to start. Sub-step failures are logged and the
// sequence continues; the device automation tolerates redundant
// signals. Only the final start signal decides success.
func (e *Executor) executeStart(ctx context.Context, cmd *Command) Result {
	params, err := ParseStartParams(cmd.Params)
	if err != nil {
		return failure(err.Error())
	}

	if r := e.channel.RunStep(ctx, cmd.DeviceID, adb.ShellStep{
		Command: "am force-stop " + e.app.Package,
	}); !r.Success {
		e.logger.Warn("start sequence: force-stop failed",
			"device_id", cmd.DeviceID, "error", r.Err)
	}

	for _, step := range e.settingsSteps(params) {
		if r := e.channel.RunStep(ctx, cmd.DeviceID, step); !r.Success {
			e.logger.Warn("start sequence: settings write failed",
				"device_id", cmd.DeviceID, "error", r.Err)
		}
	}

	if r := e.channel.RunStep(ctx, cmd.DeviceID, adb.ShellStep{
		Command: fmt.Sprintf("am start -n %s/%s", e.app.Package, e.app.Activity),
	}); !r.Success {
		// Without a running app the start signal is meaningless.
		return failure("launching app: " + r.Err)
	}

	r := e.channel.RunStep(ctx, cmd.DeviceID, adb.BroadcastStep{
		Action:  e.controlAction("START"),
		Package: e.app.Package,
	})
	if !r.Success {
		return failure("start signal: " + r.Err)
	}
	return success(r.Output)
}

// settingsSteps renders the start parameters as shared-preference
// writes. Zero values are skipped: absent settings keep the app's
// current configuration.
func (e *Executor) settingsSteps(params StartParams) []adb.Step {
	var steps []adb.Step

	pref := func(key, value, prefType string) {
		steps = append(steps, adb.PrefStep{
			Package: e.app.Package,
			File:    e.app.PrefsFile,
			Key:     key,
			Value:   value,
			Type:    prefType,
		})
	}

	if params.URL != "" {
		pref("url", params.URL, "string")
	}
	if params.Iterations > 0 {
		pref("iterations", strconv.Itoa(params.Iterations), "int")
	}
	if params.MinInterval > 0 {
		pref("min_interval", strconv.Itoa(params.MinInterval), "int")
	}
	if params.MaxInterval > 0 {
		pref("max_interval", strconv.Itoa(params.MaxInterval), "int")
	}
	for key, enabled := range params.Features {
		pref(key, strconv.FormatBool(enabled), "boolean")
	}

	return steps
}

// executeControl sends a single broadcast signal for stop, pause,
// resume and status commands.
func (e *Executor) executeControl(ctx context.Context, cmd *Command) Result {
	r := e.channel.RunStep(ctx, cmd.DeviceID, adb.BroadcastStep{
		Action:  e.controlAction(strings.ToUpper(string(cmd.Type))),
		Package: e.app.Package,
	})
	if !r.Success {
		return failure(string(cmd.Type) + " signal: " + r.Err)
	}
	return success(r.Output)
}

// executeShell runs a raw shell command on the device.
func (e *Executor) executeShell(ctx context.Context, cmd *Command) Result {
	params, err := ParseShellParams(cmd.Params)
	if err != nil {
		return failure(err.Error())
	}

	r := e.channel.RunStep(ctx, cmd.DeviceID, adb.ShellStep{Command: params.Command})
	if !r.Success {
		return failure(r.Err)
	}
	return success(r.Output)
}

// controlAction builds the broadcast action name for a control verb.
func (e *Executor) controlAction(verb string) string {
	return e.app.Package + ".control." + verb
}

func success(output string) Result {
	return Result{Success: true, Output: output}
}

func failure(errText string) Result {
	return Result{Success: false, Error: errText}
}
