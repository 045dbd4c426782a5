package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/fleetworks/adbfleet-core/internal/alert"
	"github.com/fleetworks/adbfleet-core/internal/device"
	"github.com/fleetworks/adbfleet-core/internal/singlewriter"
)

// Built-in channel names. Unknown channels are created on first connect.
const (
	ChannelDevices = "devices"
	ChannelAlerts  = "alerts"
	ChannelStatus  = "status"
)

// Subscriber is a live message sink, typically a WebSocket connection.
// Send returning an error marks the subscriber dead; it is pruned
// after the current delivery sweep.
type Subscriber interface {
	ID() string
	Send(data []byte) error
}

// DeviceSource supplies the snapshot pushed to new subscribers on the
// devices channel.
type DeviceSource interface {
	AllDevices() []device.Device
}

// Logger is the minimal logging interface the broadcaster needs.
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

// Message is the wire envelope delivered to subscribers.
type Message struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp string `json:"timestamp"`
}

// envelope pairs a target channel with an unserialized message.
type envelope struct {
	channel string
	msgType string
	data    any
}

// Broadcaster fans messages out to live subscribers grouped by named
// channel. All producers funnel through one single-writer queue, so
// every subscriber observes messages in global enqueue order. Dead
// subscribers are pruned lazily after a delivery sweep, never during
// iteration.
type Broadcaster struct {
	queue   *singlewriter.Queue[envelope]
	devices DeviceSource
	logger  Logger

	mu       sync.Mutex
	channels map[string]map[string]Subscriber
	member   map[string]string // subscriber ID -> channel it belongs to
}

// New creates a broadcaster. devices may be nil; the devices-channel
// snapshot is then skipped.
func New(devices DeviceSource) *Broadcaster {
	return &Broadcaster{
		queue:   singlewriter.New[envelope](),
		devices: devices,
		logger:  noopLogger{},
		channels: map[string]map[string]Subscriber{
			ChannelDevices: {},
			ChannelAlerts:  {},
			ChannelStatus:  {},
		},
		member: map[string]string{},
	}
}

// SetLogger replaces the default no-op logger.
func (b *Broadcaster) SetLogger(logger Logger) {
	if logger != nil {
		b.logger = logger
	}
}

// Start spawns the delivery goroutine.
func (b *Broadcaster) Start(ctx context.Context) {
	b.queue.Start(ctx, b.deliver)
	b.logger.Info("broadcaster started")
}

// Stop closes intake and waits for queued messages to be delivered.
func (b *Broadcaster) Stop() {
	b.queue.Stop()
	b.logger.Info("broadcaster stopped")
}

// Connect registers a subscriber under a channel, creating the channel
// if it does not exist. A subscriber belongs to at most one channel: a
// second Connect moves it. Connecting to the devices channel pushes an
// immediate snapshot of current device state so the subscriber does
// not start stale.
func (b *Broadcaster) Connect(sub Subscriber, channel string) {
	b.mu.Lock()
	if prev, ok := b.member[sub.ID()]; ok && prev != channel {
		delete(b.channels[prev], sub.ID())
	}
	if b.channels[channel] == nil {
		b.channels[channel] = map[string]Subscriber{}
	}
	b.channels[channel][sub.ID()] = sub
	b.member[sub.ID()] = channel
	b.mu.Unlock()

	b.logger.Debug("subscriber connected", "subscriber", sub.ID(), "channel", channel)

	if channel == ChannelDevices && b.devices != nil {
		b.sendSnapshot(sub)
	}
}

// sendSnapshot pushes per-device status directly to one subscriber.
// Failure is logged only; the next failed broadcast prunes it.
func (b *Broadcaster) sendSnapshot(sub Subscriber) {
	devices := b.devices.AllDevices()
	states := make([]map[string]any, 0, len(devices))
	for _, d := range devices {
		states = append(states, d.ToMap())
	}

	data, err := marshalMessage("device_snapshot", states)
	if err != nil {
		b.logger.Error("marshalling device snapshot", "error", err)
		return
	}
	if err := sub.Send(data); err != nil {
		b.logger.Warn("snapshot send failed", "subscriber", sub.ID(), "error", err)
	}
}

// Disconnect removes a subscriber from a channel. Idempotent: removing
// a subscriber that was already pruned is a no-op. Channels persist
// when their last subscriber leaves.
func (b *Broadcaster) Disconnect(sub Subscriber, channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if set, ok := b.channels[channel]; ok {
		delete(set, sub.ID())
	}
	if b.member[sub.ID()] == channel {
		delete(b.member, sub.ID())
	}
}

// SubscriberCount returns the number of live subscribers on a channel.
func (b *Broadcaster) SubscriberCount(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.channels[channel])
}

// BroadcastDeviceStatus enqueues a device state change for the
// devices channel.
func (b *Broadcaster) BroadcastDeviceStatus(d device.Device) error {
	return b.queue.Enqueue(envelope{
		channel: ChannelDevices,
		msgType: "device_status",
		data:    d.ToMap(),
	})
}

// BroadcastAlert enqueues an alert for the alerts channel.
func (b *Broadcaster) BroadcastAlert(a alert.Alert) error {
	return b.queue.Enqueue(envelope{
		channel: ChannelAlerts,
		msgType: "alert",
		data:    a.ToMap(),
	})
}

// BroadcastProgress enqueues a simulation progress update for the
// status channel.
func (b *Broadcaster) BroadcastProgress(deviceID string, progress map[string]any) error {
	data := map[string]any{"device_id": deviceID}
	for k, v := range progress {
		data[k] = v
	}
	return b.queue.Enqueue(envelope{
		channel: ChannelStatus,
		msgType: "progress",
		data:    data,
	})
}

// Send enqueues a generic message for an arbitrary channel.
func (b *Broadcaster) Send(channel, msgType string, data any) error {
	return b.queue.Enqueue(envelope{channel: channel, msgType: msgType, data: data})
}

// deliver runs on the consumer goroutine: serialize once, sweep a
// point-in-time copy of the channel's subscribers, prune failures
// after the sweep.
func (b *Broadcaster) deliver(env envelope) {
	data, err := marshalMessage(env.msgType, env.data)
	if err != nil {
		b.logger.Error("marshalling broadcast message", "type", env.msgType, "error", err)
		return
	}

	b.mu.Lock()
	set := b.channels[env.channel]
	subs := make([]Subscriber, 0, len(set))
	for _, sub := range set {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	var failed []string
	for _, sub := range subs {
		if err := sub.Send(data); err != nil {
			b.logger.Warn("subscriber send failed, pruning",
				"subscriber", sub.ID(), "channel", env.channel, "error", err)
			failed = append(failed, sub.ID())
		}
	}

	if len(failed) == 0 {
		return
	}

	b.mu.Lock()
	for _, id := range failed {
		if cur, ok := b.channels[env.channel]; ok {
			delete(cur, id)
		}
		if b.member[id] == env.channel {
			delete(b.member, id)
		}
	}
	b.mu.Unlock()
}

func marshalMessage(msgType string, data any) ([]byte, error) {
	return json.Marshal(Message{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
