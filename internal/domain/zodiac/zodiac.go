// Package zodiac maps birth dates to sun signs.
package zodiac

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sign is one of the twelve fixed categories.
type Sign string

const (
	Aries       Sign = "aries"
	Taurus      Sign = "taurus"
	Gemini      Sign = "gemini"
	Cancer      Sign = "cancer"
	Leo         Sign = "leo"
	Virgo       Sign = "virgo"
	Libra       Sign = "libra"
	Scorpio     Sign = "scorpio"
	Sagittarius Sign = "sagittarius"
	Capricorn   Sign = "capricorn"
	Aquarius    Sign = "aquarius"
	Pisces      Sign = "pisces"
)

const (
	BirthdateLayout = "2006-01-02"
	minBirthYear    = 1900
)

// span is a closed month/day interval. Capricorn wraps the year end.
type span struct {
	sign      Sign
	fromMonth time.Month
	fromDay   int
	toMonth   time.Month
	toDay     int
}

var table = []span{
	{Aries, time.March, 21, time.April, 19},
	{Taurus, time.April, 20, time.May, 20},
	{Gemini, time.May, 21, time.June, 20},
	{Cancer, time.June, 21, time.July, 22},
	{Leo, time.July, 23, time.August, 22},
	{Virgo, time.August, 23, time.September, 22},
	{Libra, time.September, 23, time.October, 22},
	{Scorpio, time.October, 23, time.November, 21},
	{Sagittarius, time.November, 22, time.December, 21},
	{Capricorn, time.December, 22, time.January, 19},
	{Aquarius, time.January, 20, time.February, 18},
	{Pisces, time.February, 19, time.March, 20},
}

func key(m time.Month, d int) int { return int(m)*100 + d }

func (s span) contains(m time.Month, d int) bool {
	k, from, to := key(m, d), key(s.fromMonth, s.fromDay), key(s.toMonth, s.toDay)
	if from <= to {
		return k >= from && k <= to
	}
	return k >= from || k <= to
}

// Derive returns the sign for the calendar date of t.
func Derive(t time.Time) Sign {
	_, m, d := t.Date()
	for _, s := range table {
		if s.contains(m, d) {
			return s.sign
		}
	}
	// unreachable: the table partitions the year
	return Capricorn
}

// All returns the signs in table order.
func All() []Sign {
	out := make([]Sign, len(table))
	for i, s := range table {
		out[i] = s.sign
	}
	return out
}

// Title is the display form, e.g. "Gemini".
func (s Sign) Title() string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(string(s[:1])) + string(s[1:])
}

var ErrInvalidBirthdate = errors.New("invalid birthdate")

// ParseBirthdate accepts YYYY-MM-DD for a real date with a year between 1900
// and the current year.
func ParseBirthdate(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	d, err := time.Parse(BirthdateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: expected YYYY-MM-DD", ErrInvalidBirthdate)
	}
	if d.Year() < minBirthYear || d.Year() > now.Year() {
		return time.Time{}, fmt.Errorf("%w: year must be between %d and %d", ErrInvalidBirthdate, minBirthYear, now.Year())
	}
	return d, nil
}

func IsValidBirthdate(raw string, now time.Time) bool {
	_, err := ParseBirthdate(raw, now)
	return err == nil
}
