// Package adb is the automation channel: everything that talks to devices
// goes through it.
//
// The Controller issues adb invocations through a Runner and parses their
// output. Steps are the unit of work the command executor runs: raw shell
// commands, broadcast intents to the controlled app, and shared-preference
// rewrites applied before launch.
//
// Expected failures (non-zero exit, device-side errors) are Result values,
// not Go errors. Go errors are reserved for the channel itself being
// unusable (binary missing, server unreachable, context expired).
//
// ServerManager optionally supervises a long-lived `adb server nodaemon`
// subprocess for deployments where the controller owns the server
// lifecycle.
package adb
