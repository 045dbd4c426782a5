package alert

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetworks/adbfleet-core/internal/singlewriter"
)

// DefaultHistorySize is the ring buffer capacity when config gives none.
const DefaultHistorySize = 1000

// handlerTimeout bounds a single handler call so one slow delivery
// cannot stall the consumer indefinitely.
const handlerTimeout = 30 * time.Second

// Logger is the minimal logging interface the pipeline needs.
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

// Pipeline fans alerts out to registered handlers from a single
// consumer goroutine. Producers on any goroutine call Send; delivery
// order matches enqueue order. Handler failures are logged and never
// propagate back to the caller.
type Pipeline struct {
	queue    *singlewriter.Queue[Alert]
	handlers []Handler
	logger   Logger

	mu      sync.RWMutex
	history []Alert // ring buffer, oldest first
	start   int     // index of the oldest entry
}

// NewPipeline creates an alert pipeline with the given history
// capacity. Handlers must be registered before Start.
func NewPipeline(historySize int) *Pipeline {
	if historySize < 1 {
		historySize = DefaultHistorySize
	}
	return &Pipeline{
		queue:   singlewriter.New[Alert](),
		logger:  noopLogger{},
		history: make([]Alert, 0, historySize),
	}
}

// SetLogger replaces the default no-op logger.
func (p *Pipeline) SetLogger(logger Logger) {
	if logger != nil {
		p.logger = logger
	}
}

// AddHandler registers a delivery handler. Not safe to call after Start.
func (p *Pipeline) AddHandler(h Handler) {
	if h != nil {
		p.handlers = append(p.handlers, h)
	}
}

// Start spawns the consumer goroutine. Alerts sent before Start are
// dropped with a warning.
func (p *Pipeline) Start(ctx context.Context) {
	p.queue.Start(ctx, p.dispatch)
	p.logger.Info("alert pipeline started", "handlers", len(p.handlers))
}

// Send enqueues an alert for delivery. It never returns an error:
// command execution paths must not fail because alerting is degraded.
// Sends before Start or after Stop are dropped with a warning log.
func (p *Pipeline) Send(level Level, title, message, deviceID string, details map[string]any) {
	if !level.Valid() {
		p.logger.Warn("alert dropped: invalid level", "level", string(level), "title", title)
		return
	}

	a := Alert{
		ID:        "alr-" + uuid.NewString()[:8],
		Level:     level,
		Title:     title,
		Message:   message,
		DeviceID:  deviceID,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}

	if err := p.queue.Enqueue(a); err != nil {
		p.logger.Warn("alert dropped: pipeline not accepting",
			"reason", err, "level", string(level), "title", title)
	}
}

// dispatch runs on the consumer goroutine: record history, then fan
// out to every handler in registration order.
func (p *Pipeline) dispatch(a Alert) {
	p.record(a)

	for _, h := range p.handlers {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		if err := h.Handle(ctx, a); err != nil {
			p.logger.Error("alert handler failed",
				"handler", h.Name(), "alert_id", a.ID, "error", err)
		}
		cancel()
	}
}

// record appends to the bounded history ring, evicting the oldest
// entry at capacity.
func (p *Pipeline) record(a Alert) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.history) < cap(p.history) {
		p.history = append(p.history, a)
		return
	}
	p.history[p.start] = a
	p.start = (p.start + 1) % len(p.history)
}

// History returns a most-recent-first snapshot of retained alerts,
// optionally filtered by level and device. limit <= 0 means no limit.
func (p *Pipeline) History(level Level, deviceID string, limit int) []Alert {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := len(p.history)
	out := make([]Alert, 0, n)
	for i := n - 1; i >= 0; i-- {
		a := p.history[(p.start+i)%n]
		if level != "" && a.Level != level {
			continue
		}
		if deviceID != "" && a.DeviceID != deviceID {
			continue
		}
		out = append(out, a)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Stop closes intake and waits for the consumer to drain accepted
// alerts. Idempotent.
func (p *Pipeline) Stop() {
	p.queue.Stop()
	p.logger.Info("alert pipeline stopped")
}
