package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fleetworks/adbfleet-core/internal/command"
)

// enqueueRequest is the body of POST /devices/{id}/commands.
type enqueueRequest struct {
	Type     string         `json:"type"`
	Params   map[string]any `json:"params,omitempty"`
	Priority int            `json:"priority"`
}

// handleEnqueueCommand accepts a command, starts an asynchronous drain
// for the device and returns 202 with the pending command. The caller
// polls GET /commands/{id} or watches the WebSocket channels for the
// outcome.
func (s *Server) handleEnqueueCommand(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")

	if _, ok := s.registry.GetDevice(deviceID); !ok {
		writeNotFound(w, "device not found: "+deviceID)
		return
	}

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	cmd, err := s.commands.Enqueue(r.Context(), deviceID, command.Type(req.Type), req.Params, req.Priority)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	// The drain outlives this request.
	go s.commands.Drain(context.WithoutCancel(r.Context()), deviceID)

	writeJSON(w, http.StatusAccepted, cmd)
}

// handleGetCommand returns a command's current record.
func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	cmd, err := s.commands.GetCommand(r.Context(), id)
	if errors.Is(err, command.ErrNotFound) {
		writeNotFound(w, "command not found: "+id)
		return
	}
	if err != nil {
		writeInternalError(w, "loading command: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

// handleListDeviceCommands returns a device's recent command history.
func (s *Server) handleListDeviceCommands(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")
	limit := queryInt(r, "limit", 20)

	commands, err := s.commands.ListRecent(r.Context(), deviceID, limit)
	if err != nil {
		writeInternalError(w, "loading command history: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"commands": commands,
		"count":    len(commands),
	})
}

// handleQueueStatus returns the device's backlog size and running command.
func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, s.commands.QueueStatus(deviceID))
}

// handleClearQueue drops the device's pending backlog.
func (s *Server) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")
	dropped := s.commands.ClearQueue(deviceID)
	writeJSON(w, http.StatusOK, map[string]any{"dropped": dropped})
}

// simulationRequest is the optional body of the start action.
type simulationRequest struct {
	Preset string         `json:"preset,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

// handleSimulationAction runs one of the service convenience verbs
// synchronously and returns the terminal result.
func (s *Server) handleSimulationAction(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")
	action := chi.URLParam(r, "action")

	if _, ok := s.registry.GetDevice(deviceID); !ok {
		writeNotFound(w, "device not found: "+deviceID)
		return
	}

	var result command.Result
	var err error

	switch action {
	case "start":
		var req simulationRequest
		if r.ContentLength > 0 {
			if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil {
				writeBadRequest(w, "invalid request body: "+decodeErr.Error())
				return
			}
		}
		result, err = s.commands.StartSimulation(r.Context(), deviceID, req.Preset, req.Params)
	case "stop":
		result, err = s.commands.StopSimulation(r.Context(), deviceID)
	case "pause":
		result, err = s.commands.Pause(r.Context(), deviceID)
	case "resume":
		result, err = s.commands.Resume(r.Context(), deviceID)
	case "status":
		result, err = s.commands.GetStatus(r.Context(), deviceID)
	default:
		writeBadRequest(w, "unknown simulation action: "+action)
		return
	}

	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}
