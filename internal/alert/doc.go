// Package alert implements the notification pipeline: a single
// consumer goroutine fans each alert out to registered delivery
// handlers (log, email, webhook, MQTT, live pub-sub, SQLite history).
//
// Design notes:
//   - Send never returns an error. Alerting is a side channel; a
//     degraded pipeline must not fail command execution.
//   - One consumer goroutine owns dispatch, so handlers see alerts
//     strictly in enqueue order and need no internal locking for
//     ordering.
//   - Handler failures are logged and isolated. One broken webhook
//     does not stop email delivery.
//   - History is a bounded in-memory ring (oldest evicted); the
//     SQLite sink is the durable audit trail.
package alert
