package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/yllvar/Compound-Explorer/internal/domain"
)

// RunsHandler serves the audit log of past runs.
type RunsHandler struct {
	audit  domain.AuditStore
	logger *slog.Logger
}

func NewRunsHandler(audit domain.AuditStore, logger *slog.Logger) *RunsHandler {
	return &RunsHandler{audit: audit, logger: logger}
}

type runEntryJSON struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	RunID     string         `json:"run_id"`
	Detail    map[string]any `json:"detail"`
	CreatedAt string         `json:"created_at"`
}

// ListRuns pages through the audit log, newest first.
// GET /api/runs?limit=&offset=&since=&until=
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list runs failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	out := make([]runEntryJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, runEntryJSON{
			ID:        e.ID,
			Event:     e.Event,
			RunID:     e.RunID,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}
