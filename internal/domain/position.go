package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Position is one market the account has entered. It is recomputed on every
// query and never persisted.
type Position struct {
	Market     common.Address // interest-bearing token contract (the market)
	Underlying common.Address // zero for the native-asset market
	Symbol     string         // interest-bearing token symbol, e.g. "cDAI"
}

// IsNative reports whether the market wraps the chain's native asset.
func (p Position) IsNative() bool {
	return p.Underlying == (common.Address{})
}

// PositionFailure attributes a read failure to the market it happened on.
type PositionFailure struct {
	Market common.Address
	Err    error
}

// PositionRate pairs a position with its annualized supply rate estimate in
// percent.
type PositionRate struct {
	Position Position
	APY      decimal.Decimal
}
