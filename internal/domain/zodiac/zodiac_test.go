package zodiac

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestDeriveBoundaries(t *testing.T) {
	tests := []struct {
		m    time.Month
		d    int
		want Sign
	}{
		{time.March, 20, Pisces},
		{time.March, 21, Aries},
		{time.April, 19, Aries},
		{time.April, 20, Taurus},
		{time.June, 15, Gemini},
		{time.June, 21, Cancer},
		{time.July, 23, Leo},
		{time.August, 23, Virgo},
		{time.September, 23, Libra},
		{time.October, 23, Scorpio},
		{time.November, 22, Sagittarius},
		{time.December, 21, Sagittarius},
		{time.December, 22, Capricorn},
		{time.December, 31, Capricorn},
		{time.January, 1, Capricorn},
		{time.January, 19, Capricorn},
		{time.January, 20, Aquarius},
		{time.February, 18, Aquarius},
		{time.February, 19, Pisces},
		{time.February, 29, Pisces},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Derive(date(2024, tt.m, tt.d)), "%s %d", tt.m, tt.d)
	}
}

func TestTablePartitionsTheYear(t *testing.T) {
	counts := map[Sign]int{}
	for d := date(2024, time.January, 1); d.Year() == 2024; d = d.AddDate(0, 0, 1) {
		matches := 0
		for _, s := range table {
			if s.contains(d.Month(), d.Day()) {
				matches++
			}
		}
		require.Equal(t, 1, matches, "date %s must fall in exactly one range", d.Format(BirthdateLayout))
		counts[Derive(d)]++
	}
	assert.Len(t, counts, 12)
	assert.ElementsMatch(t, All(), keys(counts))
}

func keys(m map[Sign]int) []Sign {
	out := make([]Sign, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestDeriveGeminiBirthday(t *testing.T) {
	d, err := ParseBirthdate("1990-06-15", date(2026, time.October, 15))
	require.NoError(t, err)
	assert.Equal(t, Gemini, Derive(d))
	assert.Equal(t, "Gemini", Gemini.Title())
}

func TestParseBirthdate(t *testing.T) {
	now := date(2026, time.October, 15)
	valid := []string{"1900-01-01", "2026-12-31", "2000-02-29", " 1985-11-03 "}
	for _, s := range valid {
		assert.True(t, IsValidBirthdate(s, now), s)
	}
	invalid := []string{"1899-12-31", "2027-01-01", "1990-02-30", "15/06/1990", "", "1990-6-15"}
	for _, s := range invalid {
		_, err := ParseBirthdate(s, now)
		assert.ErrorIs(t, err, ErrInvalidBirthdate, s)
	}
}
