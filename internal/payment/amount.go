package payment

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// ToMinorUnits converts a decimal token amount to an exact integer in the
// token's minor unit. The chain side only ever sees these integers; floats
// never cross the boundary.
func ToMinorUnits(amount decimal.Decimal, decimals int) (*big.Int, error) {
	if amount.Sign() <= 0 {
		return nil, &ValidationError{Field: "amount", Reason: "must be positive"}
	}

	shifted := amount.Shift(int32(decimals))
	if !shifted.IsInteger() {
		return nil, &ValidationError{Field: "amount", Reason: "more fractional digits than token decimals"}
	}

	return shifted.BigInt(), nil
}

// FromMinorUnits converts a minor-unit integer back to a decimal amount.
func FromMinorUnits(units *big.Int, decimals int) decimal.Decimal {
	return decimal.NewFromBigInt(units, 0).Shift(int32(-decimals))
}
