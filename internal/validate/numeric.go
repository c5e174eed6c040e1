package validate

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultMax is the upper bound applied to quantities and prices.
var DefaultMax = decimal.NewFromInt(1_000_000)

// thousandsOnly matches dot-grouped integers such as 1.234.567. The
// leading group never starts with 0, so "0.500" stays a decimal.
var thousandsOnly = regexp.MustCompile(`^-?[1-9]\d{0,2}(\.\d{3})+$`)

// NumericPositive reports whether value is blank, or a number in (0, max].
//
// Blank passes on purpose: amend-style callers submit an empty field to
// keep the stored value.
func NumericPositive(value string, max decimal.Decimal) bool {
	if strings.TrimSpace(value) == "" {
		return true
	}
	n, err := ParseNumber(value)
	if err != nil {
		slog.Debug("numeric rejected", "value", value, "err", err)
		return false
	}
	if !n.IsPositive() || n.GreaterThan(max) {
		slog.Debug("numeric out of range", "value", n.String(), "max", max.String())
		return false
	}
	return true
}

// ParseNumber parses user-entered numbers. It tolerates an "R$" prefix and
// comma-decimal notation ("R$ 1.234,56"). Without a comma, a dot is a
// decimal point unless the value is dot-grouped thousands ("1.500").
func ParseNumber(value string) (decimal.Decimal, error) {
	s := strings.TrimSpace(value)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	s = strings.TrimPrefix(s, "R$")
	s = strings.ReplaceAll(s, " ", "")
	if neg {
		s = "-" + s
	}

	switch {
	case strings.Contains(s, ","):
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case thousandsOnly.MatchString(s):
		s = strings.ReplaceAll(s, ".", "")
	}

	n, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidNumber, value)
	}
	return n, nil
}

// Positive checks a typed value against (0, max].
func Positive(field string, v, max decimal.Decimal) error {
	if !v.IsPositive() || v.GreaterThan(max) {
		return fmt.Errorf("%w: %s must be > 0 and <= %s, got %s", ErrInvalidNumber, field, max.String(), v.String())
	}
	return nil
}
