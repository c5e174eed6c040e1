package validate

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/options-ledger/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestNumericPositive_EmptyAlwaysPasses(t *testing.T) {
	for _, max := range []decimal.Decimal{DefaultMax, d(1), d(0.01), decimal.Zero} {
		for _, v := range []string{"", "   ", "\t"} {
			if !NumericPositive(v, max) {
				t.Errorf("blank %q should pass with max=%s", v, max)
			}
		}
	}
}

func TestNumericPositive(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"100", true},
		{"1,50", true},
		{"1.50", true},
		{"R$ 2,00", true},
		{"R$ 1.000.000,00", true},
		{"1000000", true},
		{"1000000,01", false},
		{"0", false},
		{"0,00", false},
		{"-5", false},
		{"abc", false},
		{"1,2,3", false},
	}
	for _, tt := range tests {
		if got := NumericPositive(tt.value, DefaultMax); got != tt.want {
			t.Errorf("NumericPositive(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		value string
		want  decimal.Decimal
	}{
		{"1,50", d(1.5)},
		{"1.50", d(1.5)},
		{"R$ 1.234,56", d(1234.56)},
		{"-R$ 1.234,56", d(-1234.56)},
		{"1.500", d(1500)},
		{"1.234.567", d(1234567)},
		{"0.500", d(0.5)},
		{"-0.250", d(-0.25)},
		{" 42 ", d(42)},
	}
	for _, tt := range tests {
		got, err := ParseNumber(tt.value)
		if err != nil {
			t.Errorf("ParseNumber(%q): unexpected error: %v", tt.value, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("ParseNumber(%q) = %s, want %s", tt.value, got, tt.want)
		}
	}
}

func TestPositive(t *testing.T) {
	if err := Positive("quantity", d(10), DefaultMax); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	for _, v := range []decimal.Decimal{decimal.Zero, d(-1), d(1000001)} {
		err := Positive("quantity", v, DefaultMax)
		if !errors.Is(err, model.ErrValidation) {
			t.Errorf("expected validation error for %s, got %v", v, err)
		}
	}
}

func TestValidateDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"17/01/2025", "17/01/2025", true},
		{"17012025", "17/01/2025", true},
		{"17-01-2025", "17/01/2025", true},
		{"29/02/2024", "29/02/2024", true},
		{"29/02/2025", "", false},
		{"30/02/2025", "", false},
		{"01/13/2025", "", false},
		{"1/1/2025", "", false},
		{"", "", false},
		{"hoje", "", false},
	}
	for _, tt := range tests {
		got, err := ValidateDate(tt.in)
		if tt.ok {
			if err != nil {
				t.Errorf("ValidateDate(%q): unexpected error: %v", tt.in, err)
			} else if got != tt.want {
				t.Errorf("ValidateDate(%q) = %q, want %q", tt.in, got, tt.want)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidDate) {
			t.Errorf("ValidateDate(%q): expected ErrInvalidDate, got %v", tt.in, err)
		}
	}
}

func TestParseDate_ISO(t *testing.T) {
	got, err := ParseDate("2025-01-17")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if FormatDate(got) != "17/01/2025" {
		t.Errorf("expected 17/01/2025, got %s", FormatDate(got))
	}
}
