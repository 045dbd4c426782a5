package api

import (
	"net/http"
	"strconv"

	"github.com/fleetworks/adbfleet-core/internal/alert"
)

// handleListAlerts returns alert history, most recent first. By
// default it reads the in-memory ring; persisted=true queries the
// durable store instead. Filters: level, device_id, limit.
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var level alert.Level
	if raw := q.Get("level"); raw != "" {
		parsed, err := alert.ParseLevel(raw)
		if err != nil {
			writeBadRequest(w, "invalid level: "+raw)
			return
		}
		level = parsed
	}

	deviceID := q.Get("device_id")
	limit := queryInt(r, "limit", 50)

	if q.Get("persisted") == "true" && s.alertRepo != nil {
		alerts, err := s.alertRepo.List(r.Context(), level, deviceID, limit)
		if err != nil {
			writeInternalError(w, "loading alert history: "+err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"alerts": alerts,
			"count":  len(alerts),
		})
		return
	}

	if s.alerts == nil {
		writeJSON(w, http.StatusOK, map[string]any{"alerts": []alert.Alert{}, "count": 0})
		return
	}

	alerts := s.alerts.History(level, deviceID, limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// queryInt parses an integer query parameter, falling back to def when
// absent or malformed.
func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
