// Package decimals converts token amounts between native precisions and the
// canonical 18-decimal fixed-point unit used across reports.
package decimals

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Canonical is the number of implied decimal places in a normalized amount.
const Canonical = 18

// MaxDecimals is the largest precision a token can declare; a uint256 has 78
// decimal digits.
const MaxDecimals = 77

// ErrMalformedAmount is returned when an amount string is not a non-negative number.
var ErrMalformedAmount = errors.New("malformed amount")

var ten = big.NewInt(10)

// plainDecimal accepts unsigned digits with at most one point. Signs,
// exponents and separators are rejected before any arithmetic.
var plainDecimal = regexp.MustCompile(`^[0-9]*\.?[0-9]*$`)

// Normalize converts amount, expressed with sourceDecimals of precision, into
// canonical units. amount is either an integer in the token's smallest unit
// ("1500000") or a human-readable decimal ("1.5"); the presence of a '.'
// selects the form.
//
// Sources with more than 18 decimals are truncated toward zero; the remainder
// below 10^(sourceDecimals-18) is lost.
func Normalize(amount string, sourceDecimals int) (*big.Int, error) {
	if sourceDecimals < 0 || sourceDecimals > MaxDecimals {
		return nil, fmt.Errorf("%w: decimals %d out of range", ErrMalformedAmount, sourceDecimals)
	}
	s := strings.TrimSpace(amount)
	if s == "" {
		return nil, fmt.Errorf("%w: empty string", ErrMalformedAmount)
	}
	if !plainDecimal.MatchString(s) || s == "." {
		return nil, fmt.Errorf("%w: %q", ErrMalformedAmount, amount)
	}

	var raw *big.Int
	if strings.Contains(s, ".") {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrMalformedAmount, amount, err)
		}
		// Digits beyond the token's precision are rounded half away from zero.
		raw = d.Shift(int32(sourceDecimals)).Round(0).BigInt()
	} else {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrMalformedAmount, amount)
		}
		raw = v
	}
	return ScaleToCanonical(raw, sourceDecimals), nil
}

// ScaleToCanonical rescales raw, an integer in units of 10^-sourceDecimals,
// to canonical units. It never mutates raw.
func ScaleToCanonical(raw *big.Int, sourceDecimals int) *big.Int {
	switch {
	case sourceDecimals < Canonical:
		return new(big.Int).Mul(raw, pow10(Canonical-sourceDecimals))
	case sourceDecimals > Canonical:
		return new(big.Int).Quo(raw, pow10(sourceDecimals-Canonical))
	default:
		return new(big.Int).Set(raw)
	}
}

// MustNormalize is Normalize for compile-time constants; it panics on error.
func MustNormalize(amount string, sourceDecimals int) *big.Int {
	v, err := Normalize(amount, sourceDecimals)
	if err != nil {
		panic(err)
	}
	return v
}

// Units returns n whole tokens in canonical units.
func Units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), pow10(Canonical))
}

// Format renders a canonical amount as a human-readable decimal string
// without trailing zeros, e.g. 1500000000000000000 -> "1.5".
func Format(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -Canonical).String()
}

// FormatFixed renders a canonical amount with exactly places fractional digits.
func FormatFixed(v *big.Int, places int32) string {
	if v == nil {
		v = new(big.Int)
	}
	return decimal.NewFromBigInt(v, -Canonical).StringFixed(places)
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(ten, big.NewInt(int64(n)), nil)
}
