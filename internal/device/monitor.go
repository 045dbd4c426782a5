package device

import (
	"context"
	"sync"
	"time"
)

// DefaultBatteryWarnLevel is the percentage at or below which a low
// battery warning fires, unless overridden.
const DefaultBatteryWarnLevel = 10

// MetricsChannel is the slice of the automation channel the monitor
// polls. Satisfied by adb.Controller.
type MetricsChannel interface {
	BatteryLevel(ctx context.Context, deviceID string) (int, error)
	AppPID(ctx context.Context, deviceID, pkg string) (int, error)
}

// MonitorEvents receives anomaly transitions detected by the monitor.
// Each condition fires once on entry; recovery fires once on exit.
// Methods are called from the monitor goroutine.
type MonitorEvents interface {
	// BatteryLow fires when a device's battery drops to or below the
	// warn level.
	BatteryLow(d Device, level int)

	// BatteryRecovered fires when a previously low battery climbs back
	// above the warn level.
	BatteryRecovered(d Device, level int)

	// AppNotRunning fires when a device marked running no longer has a
	// live app process.
	AppNotRunning(d Device)
}

// MetricsSink receives sampled metric values. Satisfied by
// influxdb.Client.
type MetricsSink interface {
	WriteDeviceMetric(deviceID, measurement string, value float64)
}

// Monitor periodically polls per-device runtime metrics over the
// automation channel: battery level for every reachable device, and
// app process liveness for devices with an active simulation. Samples
// land on the registry and the metrics sink; anomalies are reported
// through MonitorEvents.
//
// Offline and errored devices are skipped; the registry's scan loop
// owns reachability.
type Monitor struct {
	channel    MetricsChannel
	registry   *Registry
	appPackage string
	interval   time.Duration
	warnLevel  int

	events  MonitorEvents
	metrics MetricsSink
	logger  Logger

	// Condition state, mutated only by the monitor goroutine.
	lowBattery map[string]bool
	appDown    map[string]bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a monitor polling through the given channel.
// appPackage is the controlled app checked for liveness on running
// devices; interval is the poll cadence.
func NewMonitor(channel MetricsChannel, registry *Registry, appPackage string, interval time.Duration) *Monitor {
	return &Monitor{
		channel:    channel,
		registry:   registry,
		appPackage: appPackage,
		interval:   interval,
		warnLevel:  DefaultBatteryWarnLevel,
		logger:     noopLogger{},
		lowBattery: make(map[string]bool),
		appDown:    make(map[string]bool),
	}
}

// SetLogger sets the logger for the monitor.
func (m *Monitor) SetLogger(logger Logger) {
	m.logger = logger
}

// SetBatteryWarnLevel overrides the low-battery threshold. Must be
// called before Start.
func (m *Monitor) SetBatteryWarnLevel(level int) {
	if level > 0 {
		m.warnLevel = level
	}
}

// SetEvents sets the anomaly receiver. Must be called before Start.
func (m *Monitor) SetEvents(e MonitorEvents) {
	m.events = e
}

// SetMetrics sets the metrics sink. Must be called before Start.
func (m *Monitor) SetMetrics(s MetricsSink) {
	m.metrics = s
}

// Start launches the periodic polling goroutine.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.done != nil {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	pollCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.loop(pollCtx)

	return nil
}

// loop polls the fleet until the context is cancelled.
func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample(ctx)
		}
	}
}

// Stop halts the polling goroutine and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// sample polls every reachable device once and drops condition state
// for devices that left the fleet.
func (m *Monitor) sample(ctx context.Context) {
	devices := m.registry.AllDevices()

	seen := make(map[string]bool, len(devices))
	for _, d := range devices {
		if ctx.Err() != nil {
			return
		}
		seen[d.ID] = true
		if d.Status == StatusOffline || d.Status == StatusError {
			continue
		}
		m.sampleDevice(ctx, d)
	}

	for id := range m.lowBattery {
		if !seen[id] {
			delete(m.lowBattery, id)
		}
	}
	for id := range m.appDown {
		if !seen[id] {
			delete(m.appDown, id)
		}
	}
}

// sampleDevice collects one device's metrics and checks its anomaly
// conditions.
func (m *Monitor) sampleDevice(ctx context.Context, d Device) {
	level, err := m.channel.BatteryLevel(ctx, d.ID)
	if err != nil {
		m.logger.Debug("battery poll failed", "device_id", d.ID, "error", err)
	} else {
		if setErr := m.registry.SetBattery(d.ID, level); setErr != nil {
			m.logger.Debug("recording battery level", "device_id", d.ID, "error", setErr)
		}
		if m.metrics != nil {
			m.metrics.WriteDeviceMetric(d.ID, "battery_percent", float64(level))
		}
		m.checkBattery(d, level)
	}

	if d.CurrentIteration != nil && m.metrics != nil {
		m.metrics.WriteDeviceMetric(d.ID, "iteration", float64(*d.CurrentIteration))
	}

	if d.Running {
		m.checkApp(ctx, d)
	} else {
		delete(m.appDown, d.ID)
	}
}

// checkBattery fires low/recovered transitions around the warn level.
func (m *Monitor) checkBattery(d Device, level int) {
	wasLow := m.lowBattery[d.ID]
	isLow := level <= m.warnLevel
	if isLow {
		m.lowBattery[d.ID] = true
	} else {
		delete(m.lowBattery, d.ID)
	}

	if m.events == nil {
		return
	}
	switch {
	case isLow && !wasLow:
		m.logger.Warn("battery low", "device_id", d.ID, "level", level)
		m.events.BatteryLow(d, level)
	case !isLow && wasLow:
		m.logger.Info("battery recovered", "device_id", d.ID, "level", level)
		m.events.BatteryRecovered(d, level)
	}
}

// checkApp verifies the controlled app still has a live process on a
// device marked running. A poll failure counts as down: pidof returns
// an error both when the app is gone and when the device is
// unreachable, and either way the simulation is not making progress.
func (m *Monitor) checkApp(ctx context.Context, d Device) {
	_, err := m.channel.AppPID(ctx, d.ID, m.appPackage)

	wasDown := m.appDown[d.ID]
	if err != nil {
		m.appDown[d.ID] = true
	} else {
		delete(m.appDown, d.ID)
	}

	if err != nil && !wasDown {
		m.logger.Warn("app process missing on running device",
			"device_id", d.ID, "package", m.appPackage, "error", err)
		if m.events != nil {
			m.events.AppNotRunning(d)
		}
	}
}
