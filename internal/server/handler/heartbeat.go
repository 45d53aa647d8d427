package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/oddsbot/internal/heartbeat"
)

// MonitorControl stops and lists heartbeat monitors.
type MonitorControl interface {
	Stop(eventID string) int
	Active() []heartbeat.MonitorInfo
}

// HeartbeatHandler serves heartbeat monitor control.
type HeartbeatHandler struct {
	monitors MonitorControl
	logger   *slog.Logger
}

// NewHeartbeatHandler creates a HeartbeatHandler. monitors is nil when the
// process does not run the heartbeat manager.
func NewHeartbeatHandler(monitors MonitorControl, logger *slog.Logger) *HeartbeatHandler {
	return &HeartbeatHandler{monitors: monitors, logger: logger}
}

// Active lists running monitors.
// GET /api/heartbeat/active
func (h *HeartbeatHandler) Active(w http.ResponseWriter, r *http.Request) {
	if h.monitors == nil {
		writeJSON(w, http.StatusOK, map[string]any{"monitors": []heartbeat.MonitorInfo{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"monitors": h.monitors.Active()})
}

// Stop signals the end of a match so its monitors write their final
// snapshots and are not restarted.
// POST /api/heartbeat/{id}/stop
func (h *HeartbeatHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if h.monitors == nil {
		writeError(w, http.StatusServiceUnavailable, "heartbeat monitoring is not running in this process")
		return
	}
	id := r.PathValue("id")
	n := h.monitors.Stop(id)
	h.logger.InfoContext(r.Context(), "handler: heartbeat stop requested",
		slog.String("event_id", id),
		slog.Int("stopped", n),
	)
	writeJSON(w, http.StatusOK, map[string]any{"event_id": id, "stopped": n})
}
