package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// Trigger queues one out-of-schedule run on the scheduler loop.
type Trigger interface {
	Trigger() bool
}

// ReinvestHandler serves the manual reinvestment trigger.
type ReinvestHandler struct {
	runs    RunStatus
	trigger Trigger
	logger  *slog.Logger
}

func NewReinvestHandler(runs RunStatus, trigger Trigger, logger *slog.Logger) *ReinvestHandler {
	return &ReinvestHandler{runs: runs, trigger: trigger, logger: logger}
}

// TriggerReinvest queues a run. It answers 409 while a run is in flight or a
// manual run is already queued.
// POST /api/reinvest
func (h *ReinvestHandler) TriggerReinvest(w http.ResponseWriter, r *http.Request) {
	if h.runs.Status().InFlight {
		writeError(w, http.StatusConflict, "a run is already in flight")
		return
	}
	if !h.trigger.Trigger() {
		writeError(w, http.StatusConflict, "a run is already queued")
		return
	}

	h.logger.InfoContext(r.Context(), "manual reinvestment queued")
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}
