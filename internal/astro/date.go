// Package astro derives the deterministic attributes of a birth date: the
// tropical zodiac sign and the reduced numerology number.
package astro

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the accepted birth date shape: two-digit day, two-digit month,
// four-digit year.
const DateLayout = "02-01-2006"

// ErrInvalidDateFormat is returned when a birth date does not parse as a real
// calendar date under DateLayout.
var ErrInvalidDateFormat = errors.New("invalid date format: expected DD-MM-YYYY")

// Date is a calendar date without time of day or location.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDate parses s as DD-MM-YYYY. Surrounding whitespace is ignored.
// Impossible dates such as 31-02-1990 are rejected.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDateFormat, s)
	}
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

// String renders the date in DateLayout.
func (d Date) String() string {
	return fmt.Sprintf("%02d-%02d-%04d", d.Day, int(d.Month), d.Year)
}

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool {
	return d == Date{}
}

// Digits returns the decimal digits of the DD-MM-YYYY rendering in order.
func (d Date) Digits() []int {
	s := d.String()
	digits := make([]int, 0, len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	return digits
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
