package handler

import (
	"net/http"
	"time"

	"github.com/yllvar/Compound-Explorer/internal/pipeline"
	"github.com/yllvar/Compound-Explorer/internal/report"
)

// RunStatus exposes the pipeline's in-flight flag and last run.
type RunStatus interface {
	Status() pipeline.Status
}

// StatusHandler serves the bot's schedule and last run.
type StatusHandler struct {
	mode     string
	account  string
	schedule string
	runs     RunStatus
	nextFire func() time.Time
}

// NewStatusHandler creates a StatusHandler. nextFire may be nil.
func NewStatusHandler(mode, account, schedule string, runs RunStatus, nextFire func() time.Time) *StatusHandler {
	return &StatusHandler{mode: mode, account: account, schedule: schedule, runs: runs, nextFire: nextFire}
}

type statusResponse struct {
	Mode     string           `json:"mode"`
	Account  string           `json:"account"`
	Schedule string           `json:"schedule"`
	NextFire *time.Time       `json:"next_fire,omitempty"`
	InFlight bool             `json:"in_flight"`
	LastRun  *report.Document `json:"last_run,omitempty"`
}

// GetStatus reports mode, schedule, in-flight flag and the last finished run.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st := h.runs.Status()
	resp := statusResponse{
		Mode:     h.mode,
		Account:  h.account,
		Schedule: h.schedule,
		InFlight: st.InFlight,
	}
	if h.nextFire != nil {
		if next := h.nextFire(); !next.IsZero() {
			resp.NextFire = &next
		}
	}
	if st.Last != nil {
		doc := report.NewDocument(*st.Last)
		resp.LastRun = &doc
	}
	writeJSON(w, http.StatusOK, resp)
}
