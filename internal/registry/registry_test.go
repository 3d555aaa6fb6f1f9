package registry

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllvar/Compound-Explorer/internal/domain"
)

var (
	comptroller = common.HexToAddress("0x3d9819210A31b4961b30EF54bE2aeD79B9c9Cd3B")
	account     = common.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23")
	cDAI        = common.HexToAddress("0x5d3a536E4D6DbD6114cc1Ead35777bAB948E3643")
	cETH        = common.HexToAddress("0x4Ddc2D193948926D02f9B1fE9e1daa0718270ED5")
	cUSDC       = common.HexToAddress("0x39AA39c021dfbaE8faC545936693aC917d5E7563")
	dai         = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
)

type callKey struct {
	addr   common.Address
	method string
}

type fakeGateway struct {
	results map[callKey][]any
	errs    map[callKey]error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{results: map[callKey][]any{}, errs: map[callKey]error{}}
}

func (f *fakeGateway) on(addr common.Address, method string, out ...any) {
	f.results[callKey{addr, method}] = out
}

func (f *fakeGateway) fail(addr common.Address, method string, err error) {
	f.errs[callKey{addr, method}] = err
}

func (f *fakeGateway) Call(_ context.Context, c domain.Contract, method string, _ ...any) ([]any, error) {
	k := callKey{c.Address, method}
	if err, ok := f.errs[k]; ok {
		return nil, err
	}
	if out, ok := f.results[k]; ok {
		return out, nil
	}
	// Unconfigured methods behave like a contract without them.
	return nil, fmt.Errorf("%w: %w: no result for %s", domain.ErrReadFailed, domain.ErrCallReverted, method)
}

func (f *fakeGateway) Send(context.Context, domain.Contract, string, ...any) (domain.TransactionOutcome, error) {
	return domain.TransactionOutcome{}, errors.New("not used")
}

func (f *fakeGateway) ToBaseUnits(context.Context, decimal.Decimal, string) (*big.Int, error) {
	return nil, errors.New("not used")
}

func TestListPositionsEmpty(t *testing.T) {
	gw := newFakeGateway()
	gw.on(comptroller, "getAssetsIn", []common.Address{})

	listing, err := New(gw, comptroller, 0, nil).ListPositions(context.Background(), account)
	require.NoError(t, err)
	assert.Empty(t, listing.Positions)
	assert.Empty(t, listing.Failures)
}

func TestListPositionsNativeMarketAndPartialFailure(t *testing.T) {
	gw := newFakeGateway()
	gw.on(comptroller, "getAssetsIn", []common.Address{cDAI, cETH, cUSDC})
	gw.on(cDAI, "symbol", "cDAI")
	gw.on(cDAI, "underlying", dai)
	gw.on(cETH, "symbol", "cETH")
	gw.fail(cUSDC, "symbol", fmt.Errorf("%w: connection reset", domain.ErrReadFailed))

	listing, err := New(gw, comptroller, 0, nil).ListPositions(context.Background(), account)
	require.NoError(t, err)

	require.Len(t, listing.Positions, 2)
	assert.Equal(t, domain.Position{Market: cDAI, Underlying: dai, Symbol: "cDAI"}, listing.Positions[0])
	assert.Equal(t, "cETH", listing.Positions[1].Symbol)
	assert.True(t, listing.Positions[1].IsNative())

	require.Len(t, listing.Failures, 1)
	assert.Equal(t, cUSDC, listing.Failures[0].Market)
	assert.ErrorIs(t, listing.Failures[0].Err, domain.ErrReadFailed)
}

func TestListPositionsUnderlyingReadFailureIsNotNative(t *testing.T) {
	gw := newFakeGateway()
	gw.on(comptroller, "getAssetsIn", []common.Address{cDAI})
	gw.on(cDAI, "symbol", "cDAI")
	gw.fail(cDAI, "underlying", fmt.Errorf("%w: dial tcp: i/o timeout", domain.ErrReadFailed))

	listing, err := New(gw, comptroller, 0, nil).ListPositions(context.Background(), account)
	require.NoError(t, err)

	assert.Empty(t, listing.Positions)
	require.Len(t, listing.Failures, 1)
	assert.Equal(t, cDAI, listing.Failures[0].Market)
	assert.ErrorIs(t, listing.Failures[0].Err, domain.ErrReadFailed)
	assert.NotErrorIs(t, listing.Failures[0].Err, domain.ErrCallReverted)
}

func TestListPositionsTopLevelFailure(t *testing.T) {
	gw := newFakeGateway()
	gw.fail(comptroller, "getAssetsIn", domain.ErrReadFailed)

	_, err := New(gw, comptroller, 0, nil).ListPositions(context.Background(), account)
	assert.ErrorIs(t, err, domain.ErrReadFailed)
}

func TestAnnualizeRate(t *testing.T) {
	// 0.000000003805175038 per block over 2,102,400 blocks is 0.8% a year.
	got := AnnualizeRate(big.NewInt(3_805_175_038), DefaultBlocksPerYear)
	assert.Equal(t, "0.8", got.Round(4).String())

	assert.True(t, AnnualizeRate(big.NewInt(0), DefaultBlocksPerYear).IsZero())
	assert.True(t, AnnualizeRate(nil, DefaultBlocksPerYear).IsZero())
}

func TestAnnualizeRateMonotonic(t *testing.T) {
	prev := AnnualizeRate(big.NewInt(0), DefaultBlocksPerYear)
	for _, r := range []int64{1, 1_000, 1_000_000, 3_805_175_038, 9_000_000_000} {
		cur := AnnualizeRate(big.NewInt(r), DefaultBlocksPerYear)
		assert.True(t, cur.GreaterThan(prev), "rate %d", r)
		prev = cur
	}
}

func TestRates(t *testing.T) {
	gw := newFakeGateway()
	gw.on(comptroller, "getAssetsIn", []common.Address{cDAI, cETH})
	gw.on(cDAI, "symbol", "cDAI")
	gw.on(cDAI, "underlying", dai)
	gw.on(cDAI, "supplyRatePerBlock", big.NewInt(3_805_175_038))
	gw.on(cETH, "symbol", "cETH")

	rates, failures, err := New(gw, comptroller, 0, nil).Rates(context.Background(), account)
	require.NoError(t, err)
	require.Len(t, rates, 1)
	assert.Equal(t, "cDAI", rates[0].Position.Symbol)
	assert.Equal(t, "0.8", rates[0].APY.Round(4).String())
	require.Len(t, failures, 1)
	assert.Equal(t, cETH, failures[0].Market)
}
