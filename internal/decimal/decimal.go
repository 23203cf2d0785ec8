// Package decimal normalizes upstream numeric strings into exact fixed-point
// decimals safe to persist and re-serialize without scientific notation.
package decimal

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits every normalized value carries.
const Scale = 8

// MaxTotalDigits is the minimum total-digit budget normalized values must fit.
const MaxTotalDigits = 18

// ErrInvalidNumber is returned when raw cannot be parsed as a decimal.
var ErrInvalidNumber = errors.New("decimal: invalid number")

// Zero is the value MustZero substitutes for unparseable input.
var Zero = decimal.Zero

// Normalize parses raw (plain decimal, scientific notation, or the "0E-8"
// sentinel) into an exact decimal rounded to Scale fractional digits.
//
// Normalize is idempotent: normalizing an already-normalized value returns
// the same value.
func Normalize(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, ErrInvalidNumber
	}

	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, ErrInvalidNumber
	}

	rounded := d.Round(Scale)
	if digitCount(rounded) > MaxTotalDigits {
		return decimal.Zero, ErrInvalidNumber
	}
	return rounded, nil
}

// MustZero normalizes raw and substitutes Zero on failure, returning whether
// the value had to be substituted so the caller can log a warning.
func MustZero(raw string) (decimal.Decimal, bool) {
	d, err := Normalize(raw)
	if err != nil {
		return Zero, true
	}
	return d, false
}

// digitCount returns the total number of significant digits in d, ignoring
// sign and decimal point.
func digitCount(d decimal.Decimal) int {
	s := d.Abs().String()
	count := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			count++
		}
	}
	return count
}
