// Package device tracks the managed fleet.
//
// The Registry is the single source of truth for device state. It
// reconciles itself against the automation channel on a fixed cadence:
// new serials are added, state changes are applied, and serials missing
// from a successful listing are removed. A failed listing never mutates
// the registry.
//
// Change events (added, status changed, removed) are delivered to an
// optional Notifier after the registry lock is released, so notifier
// implementations may take their own locks freely.
//
// Reads return deep copies. The executor reports command outcomes back
// through SetRunning and SetIteration.
//
// The Monitor complements the registry's reachability scans with
// periodic metric polls: battery level for every reachable device
// (recorded via SetBattery) and app process liveness for devices with
// an active simulation. Anomaly transitions are delivered once per
// occurrence through MonitorEvents.
package device
