package billing

import (
	"fmt"
	"time"
)

// DefaultMeterCutoffDay is the day of month meters are read.
const DefaultMeterCutoffDay = 9

// Period identifies a billing year/month.
type Period struct {
	Year  int
	Month time.Month
}

// ParsePeriod parses a YYYY-MM string.
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, fmt.Errorf("billing: period must be YYYY-MM: %w", ErrInvalidInput)
	}
	return Period{Year: t.Year(), Month: t.Month()}, nil
}

// ResolvePeriod maps a settlement date to the billing period it belongs to.
// Dates on or after the cutoff day belong to their own month, earlier dates to
// the preceding month.
func ResolvePeriod(date time.Time, cutoffDay int) Period {
	if cutoffDay < 1 || cutoffDay > 31 {
		cutoffDay = DefaultMeterCutoffDay
	}
	p := Period{Year: date.Year(), Month: date.Month()}
	if date.Day() >= cutoffDay {
		return p
	}
	return p.Prev()
}

// Prev returns the preceding period.
func (p Period) Prev() Period {
	if p.Month == time.January {
		return Period{Year: p.Year - 1, Month: time.December}
	}
	return Period{Year: p.Year, Month: p.Month - 1}
}

// Next returns the following period.
func (p Period) Next() Period {
	if p.Month == time.December {
		return Period{Year: p.Year + 1, Month: time.January}
	}
	return Period{Year: p.Year, Month: p.Month + 1}
}

// Before reports whether p is strictly earlier than o.
func (p Period) Before(o Period) bool {
	if p.Year != o.Year {
		return p.Year < o.Year
	}
	return p.Month < o.Month
}

// IsZero reports whether the period is unset.
func (p Period) IsZero() bool { return p.Year == 0 && p.Month == 0 }

// Start returns the first day of the period in UTC.
func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// ReadingDate returns the meter-reading day of the period: the cutoff day of
// its month, clamped to the month's last day.
func (p Period) ReadingDate(cutoffDay int) time.Time {
	if cutoffDay < 1 || cutoffDay > 31 {
		cutoffDay = DefaultMeterCutoffDay
	}
	last := p.Next().Start().AddDate(0, 0, -1).Day()
	return time.Date(p.Year, p.Month, min(cutoffDay, last), 0, 0, 0, 0, time.UTC)
}

// String formats the period as YYYY-MM.
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}
