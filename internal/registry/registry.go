// Package registry enumerates the markets an account has entered and
// estimates their annualized supply rate. Nothing is cached: every query goes
// to the chain.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/yllvar/Compound-Explorer/internal/domain"
)

// DefaultBlocksPerYear assumes 15-second blocks.
const DefaultBlocksPerYear = 2_102_400

// Listing is the result of ListPositions. Failures holds markets whose
// metadata could not be read; they are excluded from Positions.
type Listing struct {
	Positions []domain.Position
	Failures  []domain.PositionFailure
}

// Registry reads positions through a ChainGateway.
type Registry struct {
	gw            domain.ChainGateway
	comptroller   common.Address
	blocksPerYear int64
	logger        *slog.Logger
}

// New creates a Registry. blocksPerYear <= 0 selects DefaultBlocksPerYear.
func New(gw domain.ChainGateway, comptroller common.Address, blocksPerYear int64, logger *slog.Logger) *Registry {
	if blocksPerYear <= 0 {
		blocksPerYear = DefaultBlocksPerYear
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		gw:            gw,
		comptroller:   comptroller,
		blocksPerYear: blocksPerYear,
		logger:        logger.With(slog.String("component", "registry")),
	}
}

// ListPositions returns every market account has entered. Only a failure to
// read the market list itself is returned as an error; a failure on one
// market is recorded in Listing.Failures and enumeration continues.
func (r *Registry) ListPositions(ctx context.Context, account common.Address) (Listing, error) {
	res, err := r.gw.Call(ctx, domain.Contract{Kind: domain.KindComptroller, Address: r.comptroller}, "getAssetsIn", account)
	if err != nil {
		return Listing{}, fmt.Errorf("registry: list markets: %w", err)
	}
	markets, ok := res[0].([]common.Address)
	if !ok {
		return Listing{}, fmt.Errorf("registry: list markets: %w: unexpected type %T", domain.ErrReadFailed, res[0])
	}

	var out Listing
	for _, m := range markets {
		p, err := r.describe(ctx, m)
		if err != nil {
			r.logger.Warn("market metadata unavailable",
				slog.String("market", m.Hex()),
				slog.String("error", err.Error()),
			)
			out.Failures = append(out.Failures, domain.PositionFailure{Market: m, Err: err})
			continue
		}
		out.Positions = append(out.Positions, p)
	}
	return out, nil
}

func (r *Registry) describe(ctx context.Context, market common.Address) (domain.Position, error) {
	c := domain.Contract{Kind: domain.KindCToken, Address: market}

	res, err := r.gw.Call(ctx, c, "symbol")
	if err != nil {
		return domain.Position{}, err
	}
	symbol, _ := res[0].(string)

	// The native-asset market has no underlying() and reverts. Any other
	// failure is a failure of this market.
	var underlying common.Address
	res, err = r.gw.Call(ctx, c, "underlying")
	switch {
	case err == nil:
		underlying, _ = res[0].(common.Address)
	case !errors.Is(err, domain.ErrCallReverted):
		return domain.Position{}, err
	}

	return domain.Position{Market: market, Underlying: underlying, Symbol: symbol}, nil
}

// EstimateAnnualRate reads the market's per-block supply rate and annualizes
// it with AnnualizeRate.
func (r *Registry) EstimateAnnualRate(ctx context.Context, p domain.Position) (decimal.Decimal, error) {
	res, err := r.gw.Call(ctx, domain.Contract{Kind: domain.KindCToken, Address: p.Market}, "supplyRatePerBlock")
	if err != nil {
		return decimal.Zero, fmt.Errorf("registry: supply rate of %s: %w", p.Market.Hex(), err)
	}
	rate, ok := res[0].(*big.Int)
	if !ok {
		return decimal.Zero, fmt.Errorf("registry: supply rate of %s: %w: unexpected type %T", p.Market.Hex(), domain.ErrReadFailed, res[0])
	}
	return AnnualizeRate(rate, r.blocksPerYear), nil
}

// AnnualizeRate converts a 1e18-scaled per-block rate into a yearly percentage:
// rate / 1e18 * 100 * blocksPerYear. This is the simple-interest
// approximation; per-block compounding is ignored.
func AnnualizeRate(ratePerBlock *big.Int, blocksPerYear int64) decimal.Decimal {
	if ratePerBlock == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(ratePerBlock, -18).
		Mul(decimal.NewFromInt(100)).
		Mul(decimal.NewFromInt(blocksPerYear))
}

// Rates lists positions and estimates each one. Estimation failures join the
// listing failures.
func (r *Registry) Rates(ctx context.Context, account common.Address) ([]domain.PositionRate, []domain.PositionFailure, error) {
	listing, err := r.ListPositions(ctx, account)
	if err != nil {
		return nil, nil, err
	}

	failures := listing.Failures
	rates := make([]domain.PositionRate, 0, len(listing.Positions))
	for _, p := range listing.Positions {
		apy, err := r.EstimateAnnualRate(ctx, p)
		if err != nil {
			failures = append(failures, domain.PositionFailure{Market: p.Market, Err: err})
			continue
		}
		rates = append(rates, domain.PositionRate{Position: p, APY: apy})
	}
	return rates, failures, nil
}
