package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleListDevices returns the current registry snapshot.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.registry.AllDevices()

	out := make([]map[string]any, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.ToMap())
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": out,
		"count":   len(out),
	})
}

// handleGetDevice returns one device by id.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, ok := s.registry.GetDevice(id)
	if !ok {
		writeNotFound(w, "device not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, d.ToMap())
}

// handleDeviceStats returns registry counts by status.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Stats())
}

// handleScanDevices triggers an immediate reconciliation scan.
func (s *Server) handleScanDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.registry.ScanDevices(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal,
			"device scan failed: "+err.Error())
		return
	}

	out := make([]map[string]any, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.ToMap())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": out,
		"count":   len(out),
	})
}
