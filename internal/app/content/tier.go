package content

import (
	"database/sql"
	"time"
)

// CasualCloseInterval is the minimum gap between two casual closing remarks.
const CasualCloseInterval = 72 * time.Hour

var casualCloses = []string{
	"Anyway, go make yourself a cup of something warm. You earned it.",
	"Okay, that's enough stargazing for one day. Sleep well!",
	"P.S. Tomorrow's a fresh page. See you in the morning.",
	"Honestly? You did better today than you think.",
}

// ShouldAppendCasualClose rolls against probability unless a remark was
// added within CasualCloseInterval of now.
func ShouldAppendCasualClose(last sql.NullTime, now time.Time, probability float64, picker *Picker) bool {
	if probability <= 0 {
		return false
	}
	if last.Valid && now.Sub(last.Time) < CasualCloseInterval {
		return false
	}
	return picker.Float64() < probability
}
