// Package command implements the orchestration core: a per-device
// priority queue, an executor with bounded retries and per-type
// attempt timeouts, and the service layer tying them to presets and
// durable history.
//
// Concurrency contract:
//   - At most one command runs per device at any instant. The
//     per-device drain mutex is the sole mutual-exclusion mechanism
//     for a device's command stream.
//   - Drains for different devices run fully in parallel.
//   - Enqueue is safe to call while a drain is in flight.
//
// Failure model: a failed or timed-out attempt is converted into a
// failed Result, never raised across the queue boundary. Only after
// retry exhaustion is a single alert emitted and the command marked
// failed for the caller to observe.
package command
