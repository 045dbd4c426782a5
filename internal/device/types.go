package device

import "time"

// Status is the lifecycle state of a device in the registry.
type Status string

const (
	// StatusOnline - device attached and ready for commands.
	StatusOnline Status = "online"

	// StatusOffline - device known but not reachable.
	StatusOffline Status = "offline"

	// StatusBusy - a command is currently executing on the device.
	StatusBusy Status = "busy"

	// StatusError - device attached but unusable (e.g. unauthorized).
	StatusError Status = "error"
)

// Device is one managed device. Reads from the registry return copies;
// mutating a returned Device never affects registry state.
type Device struct {
	// ID is the adb serial, unique across the fleet.
	ID string `json:"id"`

	// Model as reported by `adb devices -l`, may be empty.
	Model string `json:"model,omitempty"`

	Status   Status    `json:"status"`
	LastSeen time.Time `json:"last_seen"`

	// Running indicates the controlled app's simulation is active.
	Running bool `json:"running"`

	// CurrentIteration is the last iteration counter reported by the app,
	// nil when unknown.
	CurrentIteration *int `json:"current_iteration,omitempty"`

	// LastCommandStatus is the outcome of the most recent command
	// ("completed", "failed"), nil before any command ran.
	LastCommandStatus *string `json:"last_command_status,omitempty"`

	// Battery percentage from the last status query, nil when unknown.
	Battery *int `json:"battery,omitempty"`
}

// DeepCopy returns an independent copy of the device, including pointer
// fields.
func (d Device) DeepCopy() Device {
	c := d
	if d.CurrentIteration != nil {
		v := *d.CurrentIteration
		c.CurrentIteration = &v
	}
	if d.LastCommandStatus != nil {
		v := *d.LastCommandStatus
		c.LastCommandStatus = &v
	}
	if d.Battery != nil {
		v := *d.Battery
		c.Battery = &v
	}
	return c
}

// ToMap returns the broadcast-friendly map shape of the device.
func (d Device) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"id":        d.ID,
		"status":    string(d.Status),
		"last_seen": d.LastSeen.UTC().Format(time.RFC3339),
		"running":   d.Running,
	}
	if d.Model != "" {
		m["model"] = d.Model
	}
	if d.CurrentIteration != nil {
		m["current_iteration"] = *d.CurrentIteration
	}
	if d.LastCommandStatus != nil {
		m["last_command_status"] = *d.LastCommandStatus
	}
	if d.Battery != nil {
		m["battery"] = *d.Battery
	}
	return m
}

// Stats summarizes the registry by status.
type Stats struct {
	Total   int `json:"total"`
	Online  int `json:"online"`
	Offline int `json:"offline"`
	Busy    int `json:"busy"`
	Error   int `json:"error"`
}
