package command

import (
	"container/heap"
	"context"
	"sync"
)

// Logger is the minimal logging interface the command layer needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Runner executes one command to a terminal result. Implemented by
// Executor.
type Runner interface {
	ExecuteWithRetries(ctx context.Context, cmd *Command) Result
}

// pendingItem pairs a command with its arrival sequence number for
// stable priority ordering.
type pendingItem struct {
	cmd *Command
	seq uint64
}

// pendingHeap orders by (-priority, seq): higher priority first, ties
// broken by arrival order.
type pendingHeap []pendingItem

func (h pendingHeap) Len() int { return len(h) }

func (h pendingHeap) Less(i, j int) bool {
	if h[i].cmd.Priority != h[j].cmd.Priority {
		return h[i].cmd.Priority > h[j].cmd.Priority
	}
	return h[i].seq < h[j].seq
}

func (h pendingHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *pendingHeap) Push(x any) { *h = append(*h, x.(pendingItem)) }

func (h *pendingHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// deviceQueue holds one device's backlog. drainMu is the sole mutual
// exclusion for that device's command stream: holding it means no
// other drain loop runs for the device.
type deviceQueue struct {
	mu      sync.Mutex // guards pending and running
	pending pendingHeap
	running *Command

	drainMu sync.Mutex
}

// QueueStatus is a point-in-time view of one device's backlog.
type QueueStatus struct {
	Size    int      `json:"size"`
	Running *Command `json:"running,omitempty"`
}

// Queue serializes commands per device while letting different devices
// execute concurrently. Enqueue is safe to call while a drain is in
// flight.
type Queue struct {
	runner     Runner
	logger     Logger
	onTerminal func(*Command)

	mu      sync.Mutex
	devices map[string]*deviceQueue
	seq     uint64
}

// NewQueue creates a command queue that hands popped commands to runner.
func NewQueue(runner Runner) *Queue {
	return &Queue{
		runner:  runner,
		logger:  noopLogger{},
		devices: map[string]*deviceQueue{},
	}
}

// SetLogger replaces the default no-op logger.
func (q *Queue) SetLogger(logger Logger) {
	if logger != nil {
		q.logger = logger
	}
}

// SetOnTerminal registers a callback invoked after each command
// reaches a terminal state (persistence hook). Called outside the
// queue locks. Not safe to call once drains are running.
func (q *Queue) SetOnTerminal(fn func(*Command)) {
	q.onTerminal = fn
}

// forDevice returns the device's queue, creating it on first use.
func (q *Queue) forDevice(deviceID string) *deviceQueue {
	q.mu.Lock()
	defer q.mu.Unlock()

	dq, ok := q.devices[deviceID]
	if !ok {
		dq = &deviceQueue{}
		q.devices[deviceID] = dq
	}
	return dq
}

// Enqueue adds a pending command to its device's backlog.
func (q *Queue) Enqueue(cmd *Command) {
	q.mu.Lock()
	q.seq++
	seq := q.seq
	q.mu.Unlock()

	dq := q.forDevice(cmd.DeviceID)

	dq.mu.Lock()
	heap.Push(&dq.pending, pendingItem{cmd: cmd, seq: seq})
	size := dq.pending.Len()
	dq.mu.Unlock()

	q.logger.Debug("command enqueued",
		"command_id", cmd.ID, "device_id", cmd.DeviceID,
		"type", string(cmd.Type), "priority", cmd.Priority, "queue_size", size)
}

// Drain executes the device's backlog to empty, highest priority
// first. At most one drain loop runs per device: a concurrent call
// blocks until the running one finishes, then drains whatever remains.
// Drains for different devices run fully in parallel.
func (q *Queue) Drain(ctx context.Context, deviceID string) {
	dq := q.forDevice(deviceID)

	dq.drainMu.Lock()
	defer dq.drainMu.Unlock()

	for {
		if ctx.Err() != nil {
			return
		}

		dq.mu.Lock()
		if dq.pending.Len() == 0 {
			dq.mu.Unlock()
			return
		}
		item := heap.Pop(&dq.pending).(pendingItem)
		cmd := item.cmd
		cmd.Status = StatusRunning
		now := nowUTC()
		cmd.StartedAt = &now
		dq.running = cmd
		dq.mu.Unlock()

		result := q.runner.ExecuteWithRetries(ctx, cmd)

		dq.mu.Lock()
		done := nowUTC()
		cmd.CompletedAt = &done
		cmd.Output = result.Output
		if result.Success {
			cmd.Status = StatusCompleted
		} else {
			cmd.Status = StatusFailed
			cmd.Error = result.Error
		}
		dq.running = nil
		dq.mu.Unlock()

		if q.onTerminal != nil {
			q.onTerminal(cmd)
		}
	}
}

// Status returns the device's backlog size and currently running
// command, if any.
func (q *Queue) Status(deviceID string) QueueStatus {
	dq := q.forDevice(deviceID)

	dq.mu.Lock()
	defer dq.mu.Unlock()
	return QueueStatus{Size: dq.pending.Len(), Running: dq.running}
}

// Clear discards the device's pending backlog without executing it and
// returns the number of commands dropped. A running command is not
// interrupted. Dropped commands reach a terminal failed state, so the
// terminal hook fires for each one.
func (q *Queue) Clear(deviceID string) int {
	dq := q.forDevice(deviceID)

	dq.mu.Lock()
	now := nowUTC()
	dropped := make([]*Command, 0, dq.pending.Len())
	for _, item := range dq.pending {
		item.cmd.Status = StatusFailed
		item.cmd.Error = "cleared before execution"
		item.cmd.CompletedAt = &now
		dropped = append(dropped, item.cmd)
	}
	dq.pending = dq.pending[:0]
	dq.mu.Unlock()

	if q.onTerminal != nil {
		for _, cmd := range dropped {
			q.onTerminal(cmd)
		}
	}

	if len(dropped) > 0 {
		q.logger.Info("queue cleared", "device_id", deviceID, "dropped", len(dropped))
	}
	return len(dropped)
}
