package command

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetworks/adbfleet-core/internal/infrastructure/config"
)

// Priorities for the service convenience verbs. Stop outranks start so
// an operator can always interrupt a queued launch.
const (
	priorityStart   = 0
	priorityControl = 5
	priorityStatus  = 10
)

// Telemetry receives command execution measurements. Satisfied by
// influxdb.Client. Writes are fire-and-forget; failures never reach
// the command path.
type Telemetry interface {
	WriteCommandDuration(deviceID, commandType string, success bool, duration time.Duration, attempts int)
	WriteQueueDepth(deviceID string, depth int)
}

// Service is the convenience layer over the queue and executor: it
// builds a command, persists it, drains the device and returns the
// terminal result.
type Service struct {
	queue   *Queue
	repo    Repository
	presets map[string]config.Preset
	logger  Logger

	telemetry Telemetry
	observer  func(*Command)
}

// NewService creates a command service. repo may be nil; history is
// then kept in memory only for the life of the process.
func NewService(queue *Queue, repo Repository, presets map[string]config.Preset) *Service {
	s := &Service{
		queue:   queue,
		repo:    repo,
		presets: presets,
		logger:  noopLogger{},
	}
	queue.SetOnTerminal(func(cmd *Command) {
		s.persistUpdate(context.Background(), cmd)
		s.recordTerminal(cmd)
		if s.observer != nil {
			s.observer(cmd)
		}
	})
	return s
}

// SetLogger replaces the default no-op logger.
func (s *Service) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetTelemetry wires execution measurements (command duration, queue
// depth) to a telemetry sink. Set before drains start.
func (s *Service) SetTelemetry(t Telemetry) {
	s.telemetry = t
}

// SetOnTerminal registers an observer invoked after each command
// reaches a terminal state and is persisted. Set before drains start.
func (s *Service) SetOnTerminal(fn func(*Command)) {
	s.observer = fn
}

// StartSimulation launches the controlled app on a device. preset
// names a configured parameter bundle; params override individual
// preset values (or stand alone when preset is empty).
func (s *Service) StartSimulation(ctx context.Context, deviceID, preset string, params map[string]any) (Result, error) {
	merged, err := s.resolveStartParams(preset, params)
	if err != nil {
		return Result{}, err
	}
	return s.run(ctx, deviceID, TypeStart, merged, priorityStart)
}

// StopSimulation signals the controlled app to stop.
func (s *Service) StopSimulation(ctx context.Context, deviceID string) (Result, error) {
	return s.run(ctx, deviceID, TypeStop, nil, priorityControl)
}

// Pause signals the controlled app to pause.
func (s *Service) Pause(ctx context.Context, deviceID string) (Result, error) {
	return s.run(ctx, deviceID, TypePause, nil, priorityControl)
}

// Resume signals the controlled app to resume.
func (s *Service) Resume(ctx context.Context, deviceID string) (Result, error) {
	return s.run(ctx, deviceID, TypeResume, nil, priorityControl)
}

// GetStatus queries the controlled app's current state.
func (s *Service) GetStatus(ctx context.Context, deviceID string) (Result, error) {
	return s.run(ctx, deviceID, TypeStatus, nil, priorityStatus)
}

// Enqueue builds and persists a command without draining, for callers
// that run the drain asynchronously. Returns the pending command.
func (s *Service) Enqueue(ctx context.Context, deviceID string, cmdType Type, params map[string]any, priority int) (*Command, error) {
	cmd, err := NewCommand(deviceID, cmdType, params, priority)
	if err != nil {
		return nil, err
	}

	s.queue.Enqueue(cmd)
	s.persistCreate(ctx, cmd)
	if s.telemetry != nil {
		s.telemetry.WriteQueueDepth(cmd.DeviceID, s.queue.Status(cmd.DeviceID).Size)
	}
	return cmd, nil
}

// Drain executes the device's backlog and persists each terminal
// state. Exposed for async API enqueues.
func (s *Service) Drain(ctx context.Context, deviceID string) {
	s.queue.Drain(ctx, deviceID)
}

// QueueStatus reports the device's backlog.
func (s *Service) QueueStatus(deviceID string) QueueStatus {
	return s.queue.Status(deviceID)
}

// ClearQueue drops the device's pending backlog.
func (s *Service) ClearQueue(deviceID string) int {
	return s.queue.Clear(deviceID)
}

// GetCommand returns a persisted command by id.
func (s *Service) GetCommand(ctx context.Context, id string) (*Command, error) {
	if s.repo == nil {
		return nil, ErrNotFound
	}
	return s.repo.GetByID(ctx, id)
}

// ListRecent returns a device's recent command history, most recent
// first.
func (s *Service) ListRecent(ctx context.Context, deviceID string, limit int) ([]*Command, error) {
	if s.repo == nil {
		return []*Command{}, nil
	}
	return s.repo.ListRecent(ctx, deviceID, limit)
}

// run is the synchronous verb path: enqueue, drain the device, return
// the command's terminal result.
func (s *Service) run(ctx context.Context, deviceID string, cmdType Type, params map[string]any, priority int) (Result, error) {
	cmd, err := s.Enqueue(ctx, deviceID, cmdType, params, priority)
	if err != nil {
		return Result{}, err
	}

	s.queue.Drain(ctx, deviceID)

	result := Result{
		Success: cmd.Status == StatusCompleted,
		Output:  cmd.Output,
		Error:   cmd.Error,
	}
	if cmd.CompletedAt != nil {
		result.Timestamp = *cmd.CompletedAt
	} else {
		result.Timestamp = nowUTC()
	}
	return result, nil
}

// resolveStartParams merges a named preset with per-request overrides.
func (s *Service) resolveStartParams(preset string, overrides map[string]any) (map[string]any, error) {
	merged := map[string]any{}

	if preset != "" {
		p, ok := s.presets[preset]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPreset, preset)
		}
		if p.URL != "" {
			merged["url"] = p.URL
		}
		if p.Iterations > 0 {
			merged["iterations"] = p.Iterations
		}
		if p.MinInterval > 0 {
			merged["min_interval"] = p.MinInterval
		}
		if p.MaxInterval > 0 {
			merged["max_interval"] = p.MaxInterval
		}
		if len(p.Features) > 0 {
			merged["features"] = p.Features
		}
	}

	for k, v := range overrides {
		merged[k] = v
	}
	return merged, nil
}

// persistCreate inserts the command row; persistence failures are
// logged, never surfaced to the command path.
func (s *Service) persistCreate(ctx context.Context, cmd *Command) {
	if s.repo == nil {
		return
	}
	if err := s.repo.Create(ctx, cmd); err != nil {
		s.logger.Error("persisting command", "command_id", cmd.ID, "error", err)
	}
}

// recordTerminal samples execution telemetry for a terminal command:
// wall time from first attempt to terminal state, attempts consumed,
// and the backlog left on the device.
func (s *Service) recordTerminal(cmd *Command) {
	if s.telemetry == nil {
		return
	}

	start := cmd.CreatedAt
	if cmd.StartedAt != nil {
		start = *cmd.StartedAt
	}
	var duration time.Duration
	if cmd.CompletedAt != nil {
		duration = cmd.CompletedAt.Sub(start)
	}

	s.telemetry.WriteCommandDuration(cmd.DeviceID, string(cmd.Type),
		cmd.Status == StatusCompleted, duration, cmd.Attempts)
	s.telemetry.WriteQueueDepth(cmd.DeviceID, s.queue.Status(cmd.DeviceID).Size)
}

// persistUpdate writes the command's terminal state.
func (s *Service) persistUpdate(ctx context.Context, cmd *Command) {
	if s.repo == nil {
		return
	}
	if err := s.repo.Update(ctx, cmd); err != nil {
		s.logger.Error("updating command record", "command_id", cmd.ID, "error", err)
	}
}
