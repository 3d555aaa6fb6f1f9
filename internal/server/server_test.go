package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllvar/Compound-Explorer/internal/domain"
	"github.com/yllvar/Compound-Explorer/internal/pipeline"
	"github.com/yllvar/Compound-Explorer/internal/server/handler"
)

var account = common.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23")

type stubRuns struct{ st pipeline.Status }

func (s *stubRuns) Status() pipeline.Status { return s.st }

type stubTrigger struct{ ok bool }

func (s *stubTrigger) Trigger() bool { return s.ok }

type stubRates struct{ err error }

func (s *stubRates) Rates(context.Context, common.Address) ([]domain.PositionRate, []domain.PositionFailure, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	rates := []domain.PositionRate{{
		Position: domain.Position{
			Market:     common.HexToAddress("0x5d3a536E4D6DbD6114cc1Ead35777bAB948E3643"),
			Underlying: common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"),
			Symbol:     "cDAI",
		},
		APY: decimal.RequireFromString("2.5"),
	}}
	failures := []domain.PositionFailure{{Market: common.HexToAddress("0x01"), Err: domain.ErrReadFailed}}
	return rates, failures, nil
}

type stubLimiter struct{ allow bool }

func (s *stubLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return s.allow, nil
}

func newTestHandler(runs *stubRuns, trig *stubTrigger, rates *stubRates, limiter domain.RateLimiter, apiKey string) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHandler(Config{APIKey: apiKey}, Handlers{
		Health:    handler.NewHealthHandler(),
		Status:    handler.NewStatusHandler("run", account.Hex(), "0 0 * * *", runs, func() time.Time { return time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC) }),
		Positions: handler.NewPositionHandler(rates, account, logger),
		Reinvest:  handler.NewReinvestHandler(runs, trig, logger),
	}, limiter, logger)
}

func do(h http.Handler, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthIsPublic(t *testing.T) {
	h := newTestHandler(&stubRuns{}, &stubTrigger{}, &stubRates{}, nil, "key")
	rec := do(h, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestAuthRequired(t *testing.T) {
	h := newTestHandler(&stubRuns{}, &stubTrigger{}, &stubRates{}, nil, "key")

	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/status", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/status", map[string]string{"X-API-Key": "nope"}).Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/status", map[string]string{"Authorization": "Bearer key"}).Code)
}

func TestStatusIncludesLastRun(t *testing.T) {
	runs := &stubRuns{st: pipeline.Status{Last: &domain.PipelineRun{
		ID:      "run-1",
		Kind:    domain.RunReinvest,
		Outcome: domain.OutcomeReinvested,
		Amount:  big.NewInt(42),
	}}}
	h := newTestHandler(runs, &stubTrigger{}, &stubRates{}, nil, "")

	rec := do(h, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["in_flight"])
	assert.Equal(t, "2026-03-11T00:00:00Z", body["next_fire"])
	last := body["last_run"].(map[string]any)
	assert.Equal(t, "run-1", last["id"])
	assert.Equal(t, "42", last["amount"])
}

func TestReinvestTrigger(t *testing.T) {
	runs := &stubRuns{}
	trig := &stubTrigger{ok: true}
	h := newTestHandler(runs, trig, &stubRates{}, nil, "")

	assert.Equal(t, http.StatusAccepted, do(h, http.MethodPost, "/api/reinvest", nil).Code)

	trig.ok = false
	assert.Equal(t, http.StatusConflict, do(h, http.MethodPost, "/api/reinvest", nil).Code)

	trig.ok = true
	runs.st.InFlight = true
	rec := do(h, http.MethodPost, "/api/reinvest", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "in flight")

	assert.Equal(t, http.StatusMethodNotAllowed, do(h, http.MethodGet, "/api/reinvest", nil).Code)
}

func TestReinvestRateLimited(t *testing.T) {
	h := newTestHandler(&stubRuns{}, &stubTrigger{ok: true}, &stubRates{}, &stubLimiter{allow: false}, "")
	rec := do(h, http.MethodPost, "/api/reinvest", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestPositions(t *testing.T) {
	h := newTestHandler(&stubRuns{}, &stubTrigger{}, &stubRates{}, nil, "")
	rec := do(h, http.MethodGet, "/api/positions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"symbol":"cDAI"`)
	assert.Contains(t, rec.Body.String(), `"apy_percent":"2.5000"`)
	assert.Contains(t, rec.Body.String(), `"failures":[{"market":"0x0000000000000000000000000000000000000001"`)

	h = newTestHandler(&stubRuns{}, &stubTrigger{}, &stubRates{err: errors.New("dial")}, nil, "")
	assert.Equal(t, http.StatusBadGateway, do(h, http.MethodGet, "/api/positions", nil).Code)
}
