package validate

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DateLayout is the display and input layout of every ledger date.
const DateLayout = "02/01/2006"

const isoLayout = "2006-01-02"

var dateRegex = regexp.MustCompile(`^\d{2}/\d{2}/\d{4}$`)

// ValidateDate normalizes s to DD/MM/YYYY. Digits-only input such as
// "17012025" gets its separators inserted. The result must be a real
// calendar date: 30/02/2025 and 01/13/2025 are rejected.
func ValidateDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDate)
	}

	var digits strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' && digits.Len() < 8 {
			digits.WriteRune(r)
		}
	}
	if d := digits.String(); len(d) == 8 {
		s = d[:2] + "/" + d[2:4] + "/" + d[4:]
	}

	if !dateRegex.MatchString(s) {
		return "", fmt.Errorf("%w: %q (expected DD/MM/YYYY)", ErrInvalidDate, s)
	}
	if _, err := time.Parse(DateLayout, s); err != nil {
		return "", fmt.Errorf("%w: %q is not a calendar date", ErrInvalidDate, s)
	}
	return s, nil
}

// ParseDate accepts everything ValidateDate accepts plus ISO YYYY-MM-DD,
// and returns the date at UTC midnight.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(isoLayout, strings.TrimSpace(s)); err == nil {
		return t, nil
	}
	norm, err := ValidateDate(s)
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(DateLayout, norm)
}

// FormatDate renders t as DD/MM/YYYY.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}
