// Package broadcast implements channel-grouped pub-sub for live
// subscribers (WebSocket clients).
//
// All producers enqueue onto one single-writer queue; a single
// delivery goroutine serializes each message once and sweeps a
// point-in-time copy of the target channel's subscriber set. Failed
// subscribers are pruned after the sweep, never mid-iteration, so
// pruning a subscriber that already disconnected is harmless.
//
// Because one consumer drains one queue, subscribers observe messages
// in global enqueue order.
package broadcast
