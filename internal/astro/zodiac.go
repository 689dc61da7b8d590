package astro

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnresolvedZodiac is returned when no range of the classifier's table
// contains the date. It cannot happen with the default table.
var ErrUnresolvedZodiac = errors.New("zodiac sign could not be resolved")

// Sign is a tropical zodiac sign label.
type Sign string

// The twelve signs.
const (
	Capricorn   Sign = "Capricorn"
	Aquarius    Sign = "Aquarius"
	Pisces      Sign = "Pisces"
	Aries       Sign = "Aries"
	Taurus      Sign = "Taurus"
	Gemini      Sign = "Gemini"
	Cancer      Sign = "Cancer"
	Leo         Sign = "Leo"
	Virgo       Sign = "Virgo"
	Libra       Sign = "Libra"
	Scorpio     Sign = "Scorpio"
	Sagittarius Sign = "Sagittarius"
)

// Signs lists the twelve signs in table order.
var Signs = []Sign{
	Capricorn, Aquarius, Pisces, Aries, Taurus, Gemini,
	Cancer, Leo, Virgo, Libra, Scorpio, Sagittarius,
}

// Valid reports whether s is one of the twelve signs.
func (s Sign) Valid() bool {
	for _, known := range Signs {
		if s == known {
			return true
		}
	}
	return false
}

// Range is the span of one sign. A range either lies within one month or
// starts in StartMonth and ends in EndMonth.
type Range struct {
	Sign       Sign
	StartMonth time.Month
	StartDay   int
	EndMonth   time.Month
	EndDay     int
}

// Contains reports whether the month/day falls in r.
func (r Range) Contains(month time.Month, day int) bool {
	return (month == r.StartMonth && day >= r.StartDay) ||
		(month == r.EndMonth && day <= r.EndDay)
}

// DefaultRanges is the conventional tropical table. Capricorn wraps from
// December into January.
var DefaultRanges = []Range{
	{Capricorn, time.December, 22, time.January, 19},
	{Aquarius, time.January, 20, time.February, 18},
	{Pisces, time.February, 19, time.March, 20},
	{Aries, time.March, 21, time.April, 19},
	{Taurus, time.April, 20, time.May, 20},
	{Gemini, time.May, 21, time.June, 20},
	{Cancer, time.June, 21, time.July, 22},
	{Leo, time.July, 23, time.August, 22},
	{Virgo, time.August, 23, time.September, 22},
	{Libra, time.September, 23, time.October, 22},
	{Scorpio, time.October, 23, time.November, 21},
	{Sagittarius, time.November, 22, time.December, 21},
}

// Classifier maps dates to signs by scanning a range table in order.
type Classifier struct {
	ranges []Range
}

// NewClassifier returns a classifier over ranges. The slice is copied.
func NewClassifier(ranges []Range) *Classifier {
	cp := make([]Range, len(ranges))
	copy(cp, ranges)
	return &Classifier{ranges: cp}
}

// DefaultClassifier returns a classifier over DefaultRanges.
func DefaultClassifier() *Classifier {
	return NewClassifier(DefaultRanges)
}

// Classify returns the sign of the first range containing d.
func (c *Classifier) Classify(d Date) (Sign, error) {
	for _, r := range c.ranges {
		if r.Contains(d.Month, d.Day) {
			return r.Sign, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnresolvedZodiac, d)
}

// Classify classifies d with the default table.
func Classify(d Date) (Sign, error) {
	return defaultClassifier.Classify(d)
}

var defaultClassifier = DefaultClassifier()
