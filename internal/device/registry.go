package device

import (
	"context"
	"sync"
	"time"

	"github.com/fleetworks/adbfleet-core/internal/adb"
)

// Channel is the slice of the automation channel the registry needs.
type Channel interface {
	ListDevices(ctx context.Context) ([]adb.Listing, error)
}

// Notifier receives registry change events. All methods are called from
// the scanning goroutine after the registry lock is released; they must
// not call back into the registry synchronously from Shutdown paths.
type Notifier interface {
	// DeviceAdded fires when a previously unknown device appears.
	DeviceAdded(d Device)

	// DeviceStatusChanged fires on any status transition of a known device.
	DeviceStatusChanged(d Device, old Status)

	// DeviceRemoved fires when a device disappears from a successful scan.
	// Removal itself raises no alert; only the broadcast side cares.
	DeviceRemoved(d Device)
}

// Logger defines the logging interface for the registry.
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

// Registry tracks the device fleet and reconciles it against the
// automation channel.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Reads return deep copies; callers can never mutate registry state.
//   - ScanDevices is serialized by a dedicated scan mutex: a concurrent
//     caller waits for the in-flight scan, then runs its own.
type Registry struct {
	channel  Channel
	notifier Notifier
	logger   Logger

	interval time.Duration

	mu      sync.RWMutex
	devices map[string]Device

	// scanMu serializes reconciliations.
	scanMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// registryEvent is a change collected during reconciliation, fired after
// the registry lock is released.
type registryEvent struct {
	kind      string // "added", "removed", "status"
	device    Device
	oldStatus Status
}

// NewRegistry creates a Registry scanning through the given channel.
// interval is the periodic scan cadence used by Initialize.
func NewRegistry(channel Channel, interval time.Duration) *Registry {
	return &Registry{
		channel:  channel,
		logger:   noopLogger{},
		interval: interval,
		devices:  make(map[string]Device),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetNotifier sets the change-event receiver. Must be called before
// Initialize.
func (r *Registry) SetNotifier(n Notifier) {
	r.notifier = n
}

// Initialize runs one synchronous scan and then starts the periodic scan
// goroutine. The initial scan's failure is logged, not fatal: devices may
// simply not be attached yet.
func (r *Registry) Initialize(ctx context.Context) error {
	r.mu.Lock()
	if r.done != nil {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	scanCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.mu.Unlock()

	if _, err := r.ScanDevices(scanCtx); err != nil {
		r.logger.Warn("initial device scan failed", "error", err)
	}

	go r.scanLoop(scanCtx)

	return nil
}

// scanLoop runs periodic reconciliation until the context is cancelled.
func (r *Registry) scanLoop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.ScanDevices(ctx); err != nil {
				r.logger.Warn("device scan failed", "error", err)
			}
		}
	}
}

// Shutdown stops the periodic scan goroutine and waits for it to exit.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// ScanDevices reconciles the registry against one listing of the channel.
//
// A failed listing leaves the registry completely untouched: devices are
// never marked stale or offline because a scan could not run. A second
// identical scan produces no events.
func (r *Registry) ScanDevices(ctx context.Context) ([]Device, error) {
	r.scanMu.Lock()
	defer r.scanMu.Unlock()

	listings, err := r.channel.ListDevices(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var events []registryEvent

	r.mu.Lock()

	seen := make(map[string]bool, len(listings))
	for _, l := range listings {
		seen[l.ID] = true
		status := mapState(l.State)

		existing, ok := r.devices[l.ID]
		if !ok {
			d := Device{
				ID:       l.ID,
				Model:    l.Model,
				Status:   status,
				LastSeen: now,
			}
			r.devices[l.ID] = d
			events = append(events, registryEvent{kind: "added", device: d.DeepCopy()})
			continue
		}

		existing.LastSeen = now
		if l.Model != "" {
			existing.Model = l.Model
		}

		// A running command holds the device busy; a healthy listing must
		// not flip it back to online mid-command. Degraded states still win.
		effective := status
		if existing.Running && status == StatusOnline {
			effective = existing.Status
		}

		if existing.Status != effective {
			old := existing.Status
			existing.Status = effective
			r.devices[l.ID] = existing
			events = append(events, registryEvent{
				kind:      "status",
				device:    existing.DeepCopy(),
				oldStatus: old,
			})
		} else {
			r.devices[l.ID] = existing
		}
	}

	for id, d := range r.devices {
		if !seen[id] {
			delete(r.devices, id)
			events = append(events, registryEvent{kind: "removed", device: d.DeepCopy()})
		}
	}

	snapshot := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		snapshot = append(snapshot, d.DeepCopy())
	}

	r.mu.Unlock()

	r.fireEvents(events)

	return snapshot, nil
}

// mapState maps an adb listing state onto a registry status.
func mapState(state string) Status {
	switch state {
	case "device":
		return StatusOnline
	case "offline":
		return StatusOffline
	case "unauthorized":
		return StatusError
	default:
		return StatusError
	}
}

// fireEvents delivers collected reconciliation events to the notifier.
func (r *Registry) fireEvents(events []registryEvent) {
	for _, ev := range events {
		switch ev.kind {
		case "added":
			r.logger.Info("device added", "device_id", ev.device.ID, "status", ev.device.Status)
			if r.notifier != nil {
				r.notifier.DeviceAdded(ev.device)
			}
		case "status":
			r.logger.Info("device status changed",
				"device_id", ev.device.ID,
				"old", ev.oldStatus,
				"new", ev.device.Status,
			)
			if r.notifier != nil {
				r.notifier.DeviceStatusChanged(ev.device, ev.oldStatus)
			}
		case "removed":
			r.logger.Info("device removed", "device_id", ev.device.ID)
			if r.notifier != nil {
				r.notifier.DeviceRemoved(ev.device)
			}
		}
	}
}

// GetDevice returns a copy of the device, with ok=false if unknown.
func (r *Registry) GetDevice(id string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return Device{}, false
	}
	return d.DeepCopy(), true
}

// AllDevices returns copies of every registered device.
func (r *Registry) AllDevices() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d.DeepCopy())
	}
	return out
}

// SetRunning marks a device's simulation state after a command reaches a
// terminal state. lastCommandStatus records the outcome ("completed",
// "failed"). The device is held busy while running.
//
// The updated device is delivered to the notifier as a status change so
// subscribers see the transition.
func (r *Registry) SetRunning(id string, running bool, lastCommandStatus string) error {
	r.mu.Lock()
	d, ok := r.devices[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}

	old := d.Status
	d.Running = running
	if lastCommandStatus != "" {
		s := lastCommandStatus
		d.LastCommandStatus = &s
	}
	if running {
		d.Status = StatusBusy
	} else if d.Status == StatusBusy {
		d.Status = StatusOnline
	}
	r.devices[id] = d
	snapshot := d.DeepCopy()
	r.mu.Unlock()

	if r.notifier != nil && old != snapshot.Status {
		r.notifier.DeviceStatusChanged(snapshot, old)
	}
	return nil
}

// SetIteration records the app-reported iteration counter for a device.
func (r *Registry) SetIteration(id string, iteration int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return ErrNotFound
	}
	d.CurrentIteration = &iteration
	r.devices[id] = d
	return nil
}

// SetBattery records the battery percentage for a device.
func (r *Registry) SetBattery(id string, level int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return ErrNotFound
	}
	d.Battery = &level
	r.devices[id] = d
	return nil
}

// Stats returns device counts by status.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{Total: len(r.devices)}
	for _, d := range r.devices {
		switch d.Status {
		case StatusOnline:
			stats.Online++
		case StatusOffline:
			stats.Offline++
		case StatusBusy:
			stats.Busy++
		case StatusError:
			stats.Error++
		}
	}
	return stats
}
