// Package wheelz provides parsing, formatting and conversion for the
// in-game wheelz currency.
//
// Wheelz balances live off-chain as high-precision decimals (NUMERIC in
// Postgres, shopspring/decimal in memory). On-chain token amounts are
// integers in the smallest unit (1 token = 1e9 units). The Converter
// translates between the two at the configured rate.
package wheelz

import (
	"errors"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount = errors.New("wheelz: invalid amount")
	ErrNotPositive   = errors.New("wheelz: amount must be positive")
)

// TokenDecimals is the decimal precision of the on-chain token.
const TokenDecimals = 9

// Precision is the maximum number of decimal places kept for wheelz amounts.
const Precision = 6

// Parse converts a decimal string to a wheelz amount.
// Scientific notation, negative values and more than 6 decimal places
// are rejected.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, "eE+-") {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if d.Exponent() < -Precision {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// ParsePositive is Parse with a strictly-positive requirement.
func ParsePositive(s string) (decimal.Decimal, error) {
	d, err := Parse(s)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrNotPositive
	}
	return d, nil
}

// Format renders a wheelz amount with trailing zeros trimmed.
func Format(d decimal.Decimal) string {
	return d.String()
}

// Converter translates wheelz amounts to and from on-chain token units.
type Converter struct {
	rate decimal.Decimal // wheelz per 1 token
}

// NewConverter creates a converter for the given rate (wheelz per token).
// The rate must be positive.
func NewConverter(rate decimal.Decimal) (*Converter, error) {
	if !rate.IsPositive() {
		return nil, ErrInvalidAmount
	}
	return &Converter{rate: rate}, nil
}

// ToTokenUnits returns the smallest-unit token amount a buyer must pay
// for the given wheelz amount. Fractional units round up so the buyer
// never underpays.
func (c *Converter) ToTokenUnits(amount decimal.Decimal) (*big.Int, error) {
	if !amount.IsPositive() {
		return nil, ErrNotPositive
	}
	units := amount.Shift(TokenDecimals).DivRound(c.rate, 4).Ceil()
	raw := units.BigInt()
	if raw.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	return raw, nil
}

// FromTokenUnits converts a smallest-unit token amount to wheelz,
// truncated to the wheelz precision.
func (c *Converter) FromTokenUnits(units *big.Int) decimal.Decimal {
	if units == nil {
		return decimal.Zero
	}
	tokens := decimal.NewFromBigInt(units, -TokenDecimals)
	return tokens.Mul(c.rate).Truncate(Precision)
}
