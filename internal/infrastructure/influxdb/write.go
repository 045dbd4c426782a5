package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteDeviceMetric writes a single device measurement.
//
// This is the primary method for recording device telemetry such as
// battery level or simulation iteration counters. The write is
// non-blocking; data is batched and sent asynchronously.
//
// Example:
//
//	client.WriteDeviceMetric("R58M12ABCDE", "battery_percent", 87)
//	client.WriteDeviceMetric("R58M12ABCDE", "iteration", 42)
func (c *Client) WriteDeviceMetric(deviceID string, measurement string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_metrics",
		map[string]string{
			"device_id":   deviceID,
			"measurement": measurement,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteDeviceStatus records a device status transition.
//
// The status string is stored as a field so transitions can be graphed
// over time (online, offline, busy, error).
func (c *Client) WriteDeviceStatus(deviceID string, status string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_status",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"status": status,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteCommandDuration records how long a command took to reach a
// terminal state, including retries.
//
// Parameters:
//   - deviceID: Device the command ran against
//   - commandType: start, stop, pause, resume, status or shell
//   - success: whether the command completed
//   - duration: wall time from first attempt to terminal state
//   - attempts: number of attempts consumed
func (c *Client) WriteCommandDuration(deviceID, commandType string, success bool, duration time.Duration, attempts int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"command_execution",
		map[string]string{
			"device_id": deviceID,
			"type":      commandType,
		},
		map[string]interface{}{
			"duration_ms": float64(duration.Milliseconds()),
			"success":     success,
			"attempts":    attempts,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteQueueDepth records the number of pending commands for a device.
// Sampled on enqueue and after each drain pass.
func (c *Client) WriteQueueDepth(deviceID string, depth int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"queue_depth",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"depth": depth,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
