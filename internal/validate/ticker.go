// Package validate holds the input checks applied before any ledger
// mutation: option ticker syntax, calendar dates, and positive numerics.
// Nothing here touches the store.
package validate

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/atmx/options-ledger/internal/model"
)

// StandardWeek is the week code of a monthly option (third Friday).
const StandardWeek = "3"

// tickerRegex matches: {root:4 letters}{series:A-X}{strike digits}[W{week}]
// Example: PETRA280, BBASM35W2
var tickerRegex = regexp.MustCompile(`^([A-Z]{4})([A-X])([0-9]+)(?:W([0-9]))?$`)

var (
	ErrInvalidTicker = fmt.Errorf("%w: invalid option ticker", model.ErrValidation)
	ErrInvalidDate   = fmt.Errorf("%w: invalid date", model.ErrValidation)
	ErrInvalidNumber = fmt.Errorf("%w: invalid number", model.ErrValidation)
)

// Ticker is a decoded B3 option ticker.
type Ticker struct {
	Symbol string           `json:"symbol"` // full, upper-cased input
	Base   string           `json:"base"`   // symbol without the weekly marker
	Root   string           `json:"root"`   // underlying, e.g. PETR
	Series string           `json:"series"` // A-L calls, M-X puts
	Kind   model.OptionKind `json:"kind"`
	Month  time.Month       `json:"month"`
	Strike string           `json:"strike"` // strike digits as printed
	Week   string           `json:"week"`   // "1","2","4","5" or StandardWeek
	Weekly bool             `json:"weekly"`
}

// ParseTicker parses and validates an option ticker. The input is trimmed
// and upper-cased. A weekly marker other than W1, W2, W4 or W5 resolves to
// the standard monthly week.
func ParseTicker(ticker string) (*Ticker, error) {
	s := strings.ToUpper(strings.TrimSpace(ticker))
	if len(s) < 6 {
		return nil, fmt.Errorf("%w: %q is too short", ErrInvalidTicker, ticker)
	}
	m := tickerRegex.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("%w: %q (expected {ROOT}{SERIES A-X}{STRIKE}[W{n}])", ErrInvalidTicker, ticker)
	}

	t := &Ticker{
		Symbol: s,
		Base:   m[1] + m[2] + m[3],
		Root:   m[1],
		Series: m[2],
		Strike: m[3],
		Week:   StandardWeek,
		Weekly: m[4] != "",
	}
	switch m[4] {
	case "1", "2", "4", "5":
		t.Week = m[4]
	}

	idx := int(t.Series[0] - 'A')
	if idx < 12 {
		t.Kind = model.Call
		t.Month = time.Month(idx + 1)
	} else {
		t.Kind = model.Put
		t.Month = time.Month(idx - 11)
	}
	return t, nil
}

// ValidateTicker returns the ticker base and its week code.
func ValidateTicker(ticker string) (base, week string, err error) {
	t, err := ParseTicker(ticker)
	if err != nil {
		return "", "", err
	}
	return t.Base, t.Week, nil
}

// Expiry returns the expiry date of the series in the given year: the Nth
// Friday of the series month for week code N, falling back to the third
// Friday when the month has fewer Fridays.
func (t *Ticker) Expiry(year int) time.Time {
	first := time.Date(year, t.Month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(time.Friday) - int(first.Weekday()) + 7) % 7
	firstFriday := first.AddDate(0, 0, offset)

	n := int(t.Week[0] - '0')
	day := firstFriday.AddDate(0, 0, 7*(n-1))
	if day.Month() != t.Month {
		day = firstFriday.AddDate(0, 0, 14)
	}
	return day
}
