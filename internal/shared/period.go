package shared

import (
	"fmt"
	"regexp"
	"time"
)

// Period identifies a calendar-month accounting window ("YYYY-MM").
type Period struct {
	Year  int
	Month time.Month
}

var periodPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)

// ParsePeriod validates and parses a YYYY-MM identifier.
func ParsePeriod(s string) (Period, error) {
	if !periodPattern.MatchString(s) {
		return Period{}, fmt.Errorf("%w: period must match YYYY-MM, got %q", ErrInvalidArgument, s)
	}
	var year, month int
	if _, err := fmt.Sscanf(s, "%4d-%2d", &year, &month); err != nil {
		return Period{}, fmt.Errorf("%w: period %q", ErrInvalidArgument, s)
	}
	if month < 1 || month > 12 {
		return Period{}, fmt.Errorf("%w: period month out of range in %q", ErrInvalidArgument, s)
	}
	return Period{Year: year, Month: time.Month(month)}, nil
}

// PeriodOf returns the period containing the given instant.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

// String renders the canonical YYYY-MM identifier.
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// IsZero reports whether the period is unset.
func (p Period) IsZero() bool {
	return p.Year == 0 && p.Month == 0
}

// Previous returns the preceding calendar month.
func (p Period) Previous() Period {
	if p.Month == time.January {
		return Period{Year: p.Year - 1, Month: time.December}
	}
	return Period{Year: p.Year, Month: p.Month - 1}
}

// Bounds returns the half-open UTC interval [start, end) covered by the period.
func (p Period) Bounds() (time.Time, time.Time) {
	start := time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}
