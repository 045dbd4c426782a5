package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fleetworks/adbfleet-core/internal/command"
	"github.com/fleetworks/adbfleet-core/internal/infrastructure/logging"
	"github.com/fleetworks/adbfleet-core/internal/infrastructure/mqtt"
)

// commandEnqueuer is the command-service surface the bridge drives.
type commandEnqueuer interface {
	Enqueue(ctx context.Context, deviceID string, cmdType command.Type, params map[string]any, priority int) (*command.Command, error)
	Drain(ctx context.Context, deviceID string)
}

// resultPublisher is the bus surface terminal outcomes go out on.
type resultPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// commandRequest is the JSON payload accepted on device command topics.
type commandRequest struct {
	Type     string         `json:"type"`
	Params   map[string]any `json:"params"`
	Priority int            `json:"priority"`
}

// commandBridge connects the MQTT bus to the command service: requests
// published to adbfleet/device/{id}/command are enqueued and drained,
// and every terminal command is published to its result topic. The
// bridge shares the per-device queue with the HTTP API, so bus and API
// commands serialize against each other.
type commandBridge struct {
	commands commandEnqueuer
	bus      resultPublisher
	qos      byte
	log      *logging.Logger
}

func newCommandBridge(commands commandEnqueuer, bus resultPublisher, qos byte, log *logging.Logger) *commandBridge {
	return &commandBridge{
		commands: commands,
		bus:      bus,
		qos:      qos,
		log:      log,
	}
}

// handleCommand returns the subscription handler for inbound command
// requests. Malformed requests are rejected with an error, which the
// MQTT client logs; nothing is enqueued for them.
func (b *commandBridge) handleCommand(ctx context.Context) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		deviceID, ok := deviceFromCommandTopic(topic)
		if !ok {
			return fmt.Errorf("unexpected command topic %q", topic)
		}

		var req commandRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("decoding command request for %s: %w", deviceID, err)
		}

		cmd, err := b.commands.Enqueue(ctx, deviceID, command.Type(req.Type), req.Params, req.Priority)
		if err != nil {
			return fmt.Errorf("enqueueing bus command for %s: %w", deviceID, err)
		}
		b.log.Info("bus command accepted",
			"command_id", cmd.ID, "device_id", deviceID, "type", req.Type)

		go b.commands.Drain(ctx, deviceID)
		return nil
	}
}

// publishResult pushes one terminal command outcome to its result
// topic. Results are not retained; subscribers only care about live
// outcomes, and the command history API serves the rest.
func (b *commandBridge) publishResult(cmd *command.Command) {
	payload, err := json.Marshal(map[string]any{
		"command_id":   cmd.ID,
		"device_id":    cmd.DeviceID,
		"type":         string(cmd.Type),
		"status":       string(cmd.Status),
		"output":       cmd.Output,
		"error":        cmd.Error,
		"attempts":     cmd.Attempts,
		"completed_at": cmd.CompletedAt,
	})
	if err != nil {
		b.log.Error("encoding command result", "command_id", cmd.ID, "error", err)
		return
	}

	if err := b.bus.Publish(mqtt.Topics{}.CommandResult(cmd.ID), payload, b.qos, false); err != nil {
		b.log.Warn("publishing command result", "command_id", cmd.ID, "error", err)
	}
}

// deviceFromCommandTopic extracts the device id from a topic of the
// form adbfleet/device/{id}/command.
func deviceFromCommandTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != mqtt.TopicPrefix || parts[1] != "device" || parts[3] != "command" {
		return "", false
	}
	if parts[2] == "" || strings.ContainsAny(parts[2], "+#") {
		return "", false
	}
	return parts[2], true
}
