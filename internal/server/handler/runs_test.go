package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllvar/Compound-Explorer/internal/domain"
)

type recordingAudit struct {
	opts    domain.ListOpts
	entries []domain.AuditEntry
}

func (a *recordingAudit) Log(context.Context, string, string, map[string]any) error { return nil }

func (a *recordingAudit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	a.opts = opts
	return a.entries, nil
}

func TestParseListOpts(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet,
		"/api/runs?limit=900&offset=10&since=2026-03-01T00:00:00Z&until=2026-03-31T23:59:59Z", nil)
	opts := parseListOpts(r)

	assert.Equal(t, 500, opts.Limit)
	assert.Equal(t, 10, opts.Offset)
	require.NotNil(t, opts.Since)
	require.NotNil(t, opts.Until)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), opts.Since.UTC())
	assert.Equal(t, time.Date(2026, 3, 31, 23, 59, 59, 0, time.UTC), opts.Until.UTC())

	opts = parseListOpts(httptest.NewRequest(http.MethodGet, "/api/runs?until=yesterday&offset=-1", nil))
	assert.Equal(t, 50, opts.Limit)
	assert.Zero(t, opts.Offset)
	assert.Nil(t, opts.Since)
	assert.Nil(t, opts.Until)
}

func TestListRunsPassesTimeBounds(t *testing.T) {
	audit := &recordingAudit{entries: []domain.AuditEntry{{
		ID: 7, Event: "reinvest", RunID: "r-1",
		CreatedAt: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}}}
	h := NewRunsHandler(audit, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec := httptest.NewRecorder()
	h.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/api/runs?until=2026-03-11T00:00:00Z", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	require.NotNil(t, audit.opts.Until)
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), audit.opts.Until.UTC())
	assert.Nil(t, audit.opts.Since)

	var body struct {
		Runs []runEntryJSON `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	assert.Equal(t, "r-1", body.Runs[0].RunID)
	assert.Equal(t, "2026-03-10T12:00:00Z", body.Runs[0].CreatedAt)
}
