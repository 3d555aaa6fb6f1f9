package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yllvar/Compound-Explorer/internal/domain"
)

// RateSource lists positions with their rate estimates.
type RateSource interface {
	Rates(ctx context.Context, account common.Address) ([]domain.PositionRate, []domain.PositionFailure, error)
}

// PositionHandler serves the account's entered markets.
type PositionHandler struct {
	rates   RateSource
	account common.Address
	logger  *slog.Logger
}

func NewPositionHandler(rates RateSource, account common.Address, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{rates: rates, account: account, logger: logger}
}

type positionJSON struct {
	Market     string `json:"market"`
	Symbol     string `json:"symbol"`
	Underlying string `json:"underlying,omitempty"`
	Native     bool   `json:"native"`
	APY        string `json:"apy_percent"`
}

type failureJSON struct {
	Market string `json:"market"`
	Error  string `json:"error"`
}

type listPositionsResponse struct {
	Account   string         `json:"account"`
	Positions []positionJSON `json:"positions"`
	Failures  []failureJSON  `json:"failures"`
}

// ListPositions reads positions and rates from the chain.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	rates, failures, err := h.rates.Rates(r.Context(), h.account)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list positions failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "failed to read positions from chain")
		return
	}

	resp := listPositionsResponse{
		Account:   h.account.Hex(),
		Positions: make([]positionJSON, 0, len(rates)),
		Failures:  make([]failureJSON, 0, len(failures)),
	}
	for _, pr := range rates {
		p := positionJSON{
			Market: pr.Position.Market.Hex(),
			Symbol: pr.Position.Symbol,
			Native: pr.Position.IsNative(),
			APY:    pr.APY.StringFixed(4),
		}
		if !p.Native {
			p.Underlying = pr.Position.Underlying.Hex()
		}
		resp.Positions = append(resp.Positions, p)
	}
	for _, f := range failures {
		resp.Failures = append(resp.Failures, failureJSON{Market: f.Market.Hex(), Error: f.Err.Error()})
	}
	writeJSON(w, http.StatusOK, resp)
}
