package chain

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/yllvar/Compound-Explorer/internal/domain"
)

// ToBaseUnits scales amount by 10^decimals. Amounts with more fractional
// digits than the token supports are rejected rather than truncated.
func ToBaseUnits(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("chain: %s: %w: negative", amount, domain.ErrInvalidAmount)
	}
	scaled := amount.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("chain: %s: %w: more than %d fractional digits", amount, domain.ErrInvalidAmount, decimals)
	}
	return scaled.BigInt(), nil
}

// FromBaseUnits is the inverse of ToBaseUnits, for display.
func FromBaseUnits(v *big.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -decimals)
}
