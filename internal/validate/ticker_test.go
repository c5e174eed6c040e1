package validate

import (
	"errors"
	"testing"
	"time"

	"github.com/atmx/options-ledger/internal/model"
)

func TestParseTicker_Valid(t *testing.T) {
	tk, err := ParseTicker(" petra280 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tk.Symbol != "PETRA280" {
		t.Errorf("expected symbol=PETRA280, got %s", tk.Symbol)
	}
	if tk.Root != "PETR" {
		t.Errorf("expected root=PETR, got %s", tk.Root)
	}
	if tk.Kind != model.Call {
		t.Errorf("expected kind=Call, got %s", tk.Kind)
	}
	if tk.Month != time.January {
		t.Errorf("expected month=January, got %s", tk.Month)
	}
	if tk.Strike != "280" {
		t.Errorf("expected strike=280, got %s", tk.Strike)
	}
	if tk.Week != StandardWeek || tk.Weekly {
		t.Errorf("expected monthly standard week, got week=%s weekly=%v", tk.Week, tk.Weekly)
	}
}

func TestParseTicker_InvalidFormat(t *testing.T) {
	tests := []string{
		"",
		"PETR4",
		"PETRA",
		"PETRAAB",
		"PETRY280",  // series beyond X
		"PET1A280",  // digit in root
		"PETRA280W", // marker without week
		"PETRA280W12",
	}
	for _, ticker := range tests {
		_, err := ParseTicker(ticker)
		if err == nil {
			t.Errorf("expected error for ticker %q", ticker)
			continue
		}
		if !errors.Is(err, model.ErrValidation) {
			t.Errorf("expected validation error for %q, got %v", ticker, err)
		}
	}
}

func TestParseTicker_PutSeries(t *testing.T) {
	tk, err := ParseTicker("BBASX35W2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tk.Kind != model.Put {
		t.Errorf("expected kind=Put, got %s", tk.Kind)
	}
	if tk.Month != time.December {
		t.Errorf("expected month=December, got %s", tk.Month)
	}
	if tk.Base != "BBASX35" {
		t.Errorf("expected base=BBASX35, got %s", tk.Base)
	}
	if tk.Week != "2" || !tk.Weekly {
		t.Errorf("expected weekly week 2, got week=%s weekly=%v", tk.Week, tk.Weekly)
	}
}

func TestValidateTicker_WeekCodes(t *testing.T) {
	tests := []struct {
		ticker string
		base   string
		week   string
	}{
		{"PETRA280", "PETRA280", "3"},
		{"PETRA280W1", "PETRA280", "1"},
		{"PETRA280W2", "PETRA280", "2"},
		{"PETRA280W3", "PETRA280", "3"},
		{"PETRA280W4", "PETRA280", "4"},
		{"PETRA280W5", "PETRA280", "5"},
		{"PETRA280W7", "PETRA280", "3"},
	}
	for _, tt := range tests {
		base, week, err := ValidateTicker(tt.ticker)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.ticker, err)
			continue
		}
		if base != tt.base || week != tt.week {
			t.Errorf("%s: expected (%s, %s), got (%s, %s)", tt.ticker, tt.base, tt.week, base, week)
		}
	}
}

func TestTickerExpiry(t *testing.T) {
	tests := []struct {
		ticker string
		year   int
		want   time.Time
	}{
		{"PETRA280", 2025, time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC)},
		{"PETRA280W1", 2025, time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)},
		{"PETRA280W5", 2025, time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)},
		// February 2025 has four Fridays: W5 falls back to the third.
		{"PETRB280W5", 2025, time.Date(2025, 2, 21, 0, 0, 0, 0, time.UTC)},
		{"PETRN280", 2025, time.Date(2025, 2, 21, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		tk, err := ParseTicker(tt.ticker)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.ticker, err)
		}
		if got := tk.Expiry(tt.year); !got.Equal(tt.want) {
			t.Errorf("%s: expected expiry %s, got %s", tt.ticker, tt.want.Format(DateLayout), got.Format(DateLayout))
		}
	}
}
