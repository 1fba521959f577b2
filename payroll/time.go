package payroll

import (
	"time"

	"github.com/shopspring/decimal"
)

// WorkingPrecision is the number of fractional digits kept while summing
// hours. Rounding to two places happens once per report line.
const WorkingPrecision int32 = 12

// ReportPrecision is the number of fractional digits in a finished line.
const ReportPrecision int32 = 2

var secondsPerHour = decimal.NewFromInt(3600)

// =============================================================================
// CIVIL DATES
// =============================================================================

// Date builds a civil date at UTC midnight.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DayOf truncates t to its calendar day in UTC.
func DayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

const DateLayout = "2006-01-02"

// SameDay reports whether a and b fall on the same UTC calendar day.
func SameDay(a, b time.Time) bool { return DayOf(a).Equal(DayOf(b)) }
