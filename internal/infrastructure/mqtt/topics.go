package mqtt

import "fmt"

// Topic prefixes for the adbfleet message bus.
//
// All topics use the flat scheme: adbfleet/{category}/...
const (
	// TopicPrefix is the base for all adbfleet topics.
	TopicPrefix = "adbfleet"
)

// Topics provides builders for adbfleet MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	statusTopic := topics.DeviceStatus("R58M12ABCDE")
//	// Returns: "adbfleet/device/R58M12ABCDE/status"
type Topics struct{}

// SystemStatus returns the controller status topic.
// Online/offline payloads and the LWT are published here, retained.
//
// Example: adbfleet/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefix)
}

// DeviceStatus returns the per-device status topic.
// Registry snapshots are published here, retained, on every state change.
//
// Example: adbfleet/device/R58M12ABCDE/status
func (Topics) DeviceStatus(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/status", TopicPrefix, deviceID)
}

// DeviceCommand returns the per-device command injection topic.
// External producers publish command requests here.
//
// Example: adbfleet/device/R58M12ABCDE/command
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/command", TopicPrefix, deviceID)
}

// CommandResult returns the topic for terminal command outcomes.
//
// Example: adbfleet/command/01HXYZ.../result
func (Topics) CommandResult(commandID string) string {
	return fmt.Sprintf("%s/command/%s/result", TopicPrefix, commandID)
}

// Alert returns the topic for alerts at a given level.
//
// Example: adbfleet/alert/critical
func (Topics) Alert(level string) string {
	return fmt.Sprintf("%s/alert/%s", TopicPrefix, level)
}

// AllDeviceCommands returns a pattern matching command requests for all devices.
//
// Pattern: adbfleet/device/+/command
func (Topics) AllDeviceCommands() string {
	return fmt.Sprintf("%s/device/+/command", TopicPrefix)
}

// AllDeviceStatuses returns a pattern matching status updates for all devices.
//
// Pattern: adbfleet/device/+/status
func (Topics) AllDeviceStatuses() string {
	return fmt.Sprintf("%s/device/+/status", TopicPrefix)
}

// AllAlerts returns a pattern matching alerts at all levels.
//
// Pattern: adbfleet/alert/+
func (Topics) AllAlerts() string {
	return fmt.Sprintf("%s/alert/+", TopicPrefix)
}

// AllTopics returns a pattern matching the entire adbfleet hierarchy.
// Use with caution - this receives ALL traffic.
//
// Pattern: adbfleet/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
