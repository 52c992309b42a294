package utils

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatBigInt converts a smallest-unit integer to a human-readable decimal string,
// considering the given number of decimals. Conversion is exact.
// Example: amount=1234500000000000000, decimals=18 => "1.2345"
func FormatBigInt(amount *big.Int, decimals uint8) (string, error) {
	if amount == nil {
		return "0", nil
	}
	if decimals == 0 {
		return amount.String(), nil
	}
	// decimal.String() already trims trailing zeros and never uses exponent notation
	return decimal.NewFromBigInt(amount, -int32(decimals)).String(), nil
}

// ParseUnits is the inverse of FormatBigInt: "1.5" with 18 decimals => 1500000000000000000.
// Values with more fractional digits than decimals are rejected rather than rounded.
func ParseUnits(value string, decimals uint8) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("amount %q has more than %d fractional digits", value, decimals)
	}
	return scaled.BigInt(), nil
}
