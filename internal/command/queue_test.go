package command

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeRunner records execution order and simulates outcomes.
type fakeRunner struct {
	mu       sync.Mutex
	executed []string // command IDs in execution order
	inflight map[string]int
	maxSeen  map[string]int
	fail     bool
	delay    time.Duration
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		inflight: map[string]int{},
		maxSeen:  map[string]int{},
	}
}

func (f *fakeRunner) ExecuteWithRetries(_ context.Context, cmd *Command) Result {
	f.mu.Lock()
	f.executed = append(f.executed, cmd.ID)
	f.inflight[cmd.DeviceID]++
	if f.inflight[cmd.DeviceID] > f.maxSeen[cmd.DeviceID] {
		f.maxSeen[cmd.DeviceID] = f.inflight[cmd.DeviceID]
	}
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.inflight[cmd.DeviceID]--
	f.mu.Unlock()

	if f.fail {
		return Result{Success: false, Error: "simulated failure"}
	}
	return Result{Success: true, Output: "ok"}
}

func (f *fakeRunner) order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.executed))
	copy(out, f.executed)
	return out
}

func mustCommand(t *testing.T, deviceID string, cmdType Type, priority int) *Command {
	t.Helper()
	cmd, err := NewCommand(deviceID, cmdType, nil, priority)
	if err != nil {
		t.Fatalf("NewCommand() error = %v", err)
	}
	return cmd
}

func TestQueue_PriorityOrdering(t *testing.T) {
	runner := newFakeRunner()
	q := NewQueue(runner)

	c1 := mustCommand(t, "dev-1", TypeStart, 0)
	c2 := mustCommand(t, "dev-1", TypeStop, 5)
	q.Enqueue(c1)
	q.Enqueue(c2)

	q.Drain(context.Background(), "dev-1")

	got := runner.order()
	if len(got) != 2 {
		t.Fatalf("executed %d commands, want 2", len(got))
	}
	if got[0] != c2.ID || got[1] != c1.ID {
		t.Errorf("execution order = %v, want [%s %s] (higher priority first)", got, c2.ID, c1.ID)
	}
}

func TestQueue_TiesBreakByArrival(t *testing.T) {
	runner := newFakeRunner()
	q := NewQueue(runner)

	var ids []string
	for i := 0; i < 5; i++ {
		cmd := mustCommand(t, "dev-1", TypeStatus, 0)
		q.Enqueue(cmd)
		ids = append(ids, cmd.ID)
	}

	q.Drain(context.Background(), "dev-1")

	got := runner.order()
	for i, id := range ids {
		if got[i] != id {
			t.Fatalf("execution order = %v, want arrival order %v", got, ids)
		}
	}
}

func TestQueue_MutualExclusionPerDevice(t *testing.T) {
	runner := newFakeRunner()
	runner.delay = 10 * time.Millisecond
	q := NewQueue(runner)

	for i := 0; i < 6; i++ {
		q.Enqueue(mustCommand(t, "dev-1", TypeStatus, 0))
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Drain(context.Background(), "dev-1")
		}()
	}
	wg.Wait()

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if runner.maxSeen["dev-1"] > 1 {
		t.Errorf("observed %d concurrent executions on dev-1, want at most 1", runner.maxSeen["dev-1"])
	}
	if len(runner.executed) != 6 {
		t.Errorf("executed %d commands, want 6", len(runner.executed))
	}
}

func TestQueue_DevicesDrainInParallel(t *testing.T) {
	runner := newFakeRunner()
	runner.delay = 50 * time.Millisecond
	q := NewQueue(runner)

	q.Enqueue(mustCommand(t, "dev-1", TypeStatus, 0))
	q.Enqueue(mustCommand(t, "dev-2", TypeStatus, 0))

	start := time.Now()
	var wg sync.WaitGroup
	for _, id := range []string{"dev-1", "dev-2"} {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Drain(context.Background(), id)
		}()
	}
	wg.Wait()

	// Serial execution would take at least 100ms.
	if elapsed := time.Since(start); elapsed > 90*time.Millisecond {
		t.Errorf("two devices drained in %v, expected parallel execution", elapsed)
	}
}

func TestQueue_TerminalState(t *testing.T) {
	runner := newFakeRunner()
	q := NewQueue(runner)

	ok := mustCommand(t, "dev-1", TypeStatus, 0)
	q.Enqueue(ok)
	q.Drain(context.Background(), "dev-1")

	if ok.Status != StatusCompleted {
		t.Errorf("status = %v, want completed", ok.Status)
	}
	if ok.Output != "ok" {
		t.Errorf("output = %q, want ok", ok.Output)
	}
	if ok.StartedAt == nil || ok.CompletedAt == nil {
		t.Error("StartedAt / CompletedAt not set on terminal command")
	}

	runner.fail = true
	bad := mustCommand(t, "dev-1", TypeStatus, 0)
	q.Enqueue(bad)
	q.Drain(context.Background(), "dev-1")

	if bad.Status != StatusFailed {
		t.Errorf("status = %v, want failed", bad.Status)
	}
	if bad.Error != "simulated failure" {
		t.Errorf("error = %q, want simulated failure", bad.Error)
	}
}

func TestQueue_Status(t *testing.T) {
	runner := newFakeRunner()
	q := NewQueue(runner)

	if st := q.Status("dev-1"); st.Size != 0 || st.Running != nil {
		t.Errorf("empty queue status = %+v, want size 0 and no running command", st)
	}

	q.Enqueue(mustCommand(t, "dev-1", TypeStatus, 0))
	q.Enqueue(mustCommand(t, "dev-1", TypeStatus, 0))

	if st := q.Status("dev-1"); st.Size != 2 {
		t.Errorf("queue size = %d, want 2", st.Size)
	}
}

func TestQueue_Clear(t *testing.T) {
	runner := newFakeRunner()
	q := NewQueue(runner)

	c1 := mustCommand(t, "dev-1", TypeStatus, 0)
	c2 := mustCommand(t, "dev-1", TypeStatus, 0)
	q.Enqueue(c1)
	q.Enqueue(c2)

	if n := q.Clear("dev-1"); n != 2 {
		t.Errorf("Clear() = %d, want 2", n)
	}
	if c1.Status != StatusFailed || c2.Status != StatusFailed {
		t.Error("cleared commands not marked failed")
	}

	q.Drain(context.Background(), "dev-1")
	if got := len(runner.order()); got != 0 {
		t.Errorf("executed %d commands after clear, want 0", got)
	}

	if n := q.Clear("dev-1"); n != 0 {
		t.Errorf("Clear() on empty queue = %d, want 0", n)
	}
}

func TestQueue_ClearFiresTerminalHook(t *testing.T) {
	q := NewQueue(newFakeRunner())

	var terminal []*Command
	q.SetOnTerminal(func(cmd *Command) {
		terminal = append(terminal, cmd)
	})

	q.Enqueue(mustCommand(t, "dev-1", TypeStatus, 0))
	q.Enqueue(mustCommand(t, "dev-1", TypeStatus, 0))
	q.Clear("dev-1")

	if len(terminal) != 2 {
		t.Fatalf("terminal hook called %d times after clear, want 2", len(terminal))
	}
	for _, cmd := range terminal {
		if cmd.Status != StatusFailed {
			t.Errorf("cleared command status = %v, want failed", cmd.Status)
		}
		if cmd.CompletedAt == nil {
			t.Error("cleared command has no completion time")
		}
	}
}

func TestQueue_EnqueueDuringDrain(t *testing.T) {
	runner := newFakeRunner()
	runner.delay = 10 * time.Millisecond
	q := NewQueue(runner)

	q.Enqueue(mustCommand(t, "dev-1", TypeStatus, 0))

	done := make(chan struct{})
	go func() {
		q.Drain(context.Background(), "dev-1")
		close(done)
	}()

	// Enqueue while the drain loop is executing; the same drain should
	// pick it up.
	time.Sleep(2 * time.Millisecond)
	q.Enqueue(mustCommand(t, "dev-1", TypeStatus, 0))

	<-done
	if got := len(runner.order()); got != 2 {
		t.Errorf("executed %d commands, want 2", got)
	}
}

func TestQueue_DrainCancelled(t *testing.T) {
	runner := newFakeRunner()
	q := NewQueue(runner)

	q.Enqueue(mustCommand(t, "dev-1", TypeStatus, 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q.Drain(ctx, "dev-1")
	if got := len(runner.order()); got != 0 {
		t.Errorf("executed %d commands with cancelled context, want 0", got)
	}
}

func TestQueue_OnTerminalHook(t *testing.T) {
	runner := newFakeRunner()
	q := NewQueue(runner)

	var terminal []*Command
	q.SetOnTerminal(func(cmd *Command) {
		terminal = append(terminal, cmd)
	})

	q.Enqueue(mustCommand(t, "dev-1", TypeStatus, 0))
	q.Drain(context.Background(), "dev-1")

	if len(terminal) != 1 {
		t.Fatalf("terminal hook called %d times, want 1", len(terminal))
	}
	if !terminal[0].Terminal() {
		t.Errorf("hook received non-terminal command in status %v", terminal[0].Status)
	}
}
