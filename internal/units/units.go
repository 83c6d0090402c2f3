// Package units converts between display-denomination decimal strings and
// smallest-unit integers (wei-style fixed point).
package units

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Ether is the number of decimals used by EVM native currencies.
const Ether = 18

var (
	ErrEmptyAmount    = errors.New("amount is required")
	ErrInvalidAmount  = errors.New("amount is not a decimal number")
	ErrNegativeAmount = errors.New("amount must not be negative")
	ErrZeroAmount     = errors.New("amount must be greater than zero")
	ErrTooPrecise     = errors.New("amount has more fractional digits than the currency allows")
	ErrOutOfRange     = errors.New("amount does not fit in uint256")
)

// MaxUint256Bits is the width of every on-chain amount the contract accepts.
const MaxUint256Bits = 256

// ParseUnits converts a decimal string such as "1.5" into its smallest-unit
// integer for the given number of decimals. A leading '-' is accepted; sign
// policy is left to ParsePositive and ParseNonNegative.
func ParseUnits(amount string, decimals int) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, ErrEmptyAmount
	}

	negative := false
	if strings.HasPrefix(amount, "-") {
		negative = true
		amount = amount[1:]
	}

	whole, frac, _ := strings.Cut(amount, ".")
	if !isDigits(whole) || !isDigits(frac) || (whole == "" && frac == "") {
		return nil, ErrInvalidAmount
	}
	if len(frac) > decimals {
		return nil, fmt.Errorf("%w: max %d", ErrTooPrecise, decimals)
	}

	digits := strings.TrimLeft(whole+frac+strings.Repeat("0", decimals-len(frac)), "0")
	if digits == "" {
		digits = "0"
	}
	out, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, ErrInvalidAmount
	}

	if negative {
		out.Neg(out)
	}
	return out, nil
}

// ParsePositive parses an amount that must be strictly greater than zero.
func ParsePositive(amount string, decimals int) (*big.Int, error) {
	v, err := ParseNonNegative(amount, decimals)
	if err != nil {
		return nil, err
	}
	if v.Sign() == 0 {
		return nil, ErrZeroAmount
	}
	return v, nil
}

// ParseNonNegative parses an amount that may be zero but not negative and
// must fit in a uint256 once converted to smallest units.
func ParseNonNegative(amount string, decimals int) (*big.Int, error) {
	v, err := ParseUnits(amount, decimals)
	if err != nil {
		return nil, err
	}
	if v.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	if v.BitLen() > MaxUint256Bits {
		return nil, ErrOutOfRange
	}
	return v, nil
}

// FormatUnits renders a smallest-unit integer as a decimal string without
// trailing fractional zeros: 1500000000000000000 -> "1.5", 0 -> "0".
func FormatUnits(v *big.Int, decimals int) string {
	if v == nil {
		return "0"
	}

	sign := ""
	abs := new(big.Int).Set(v)
	if abs.Sign() < 0 {
		sign = "-"
		abs.Neg(abs)
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, rem := new(big.Int).QuoRem(abs, scale, new(big.Int))
	if rem.Sign() == 0 {
		return sign + whole.String()
	}

	frac := rem.String()
	frac = strings.Repeat("0", decimals-len(frac)) + frac
	frac = strings.TrimRight(frac, "0")
	return sign + whole.String() + "." + frac
}

// ToWei and FromWei are ParseUnits/FormatUnits fixed at 18 decimals.
func ToWei(amount string) (*big.Int, error) { return ParseUnits(amount, Ether) }

func FromWei(v *big.Int) string { return FormatUnits(v, Ether) }

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
