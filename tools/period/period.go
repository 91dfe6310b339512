package period

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Period is a billing cycle identified by month and year
type Period struct {
	Month int `json:"month"`
	Year  int `json:"year"`
}

const (
	minYear = 2000
	maxYear = 2200
)

// Of returns the period containing t, evaluated in UTC
func Of(t time.Time) Period {
	t = t.UTC()
	return Period{Month: int(t.Month()), Year: t.Year()}
}

// Validate checks the month and year ranges
func (p Period) Validate() error {
	if p.Month < 1 || p.Month > 12 {
		return fmt.Errorf("month %d out of range 1..12", p.Month)
	}
	if p.Year < minYear || p.Year > maxYear {
		return fmt.Errorf("year %d out of range %d..%d", p.Year, minYear, maxYear)
	}
	return nil
}

// Start returns the first instant of the period in UTC
func (p Period) Start() time.Time {
	return time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC)
}

// Previous returns the period before p
func (p Period) Previous() Period {
	return Of(p.Start().AddDate(0, -1, 0))
}

// Next returns the period after p
func (p Period) Next() Period {
	return Of(p.Start().AddDate(0, 1, 0))
}

// Before reports whether p is earlier than o
func (p Period) Before(o Period) bool {
	if p.Year != o.Year {
		return p.Year < o.Year
	}
	return p.Month < o.Month
}

// String formats the period as MM/YYYY
func (p Period) String() string {
	return fmt.Sprintf("%02d/%04d", p.Month, p.Year)
}

// Parse accepts "MM/YYYY", "M/YYYY" and "YYYY-MM"
func Parse(s string) (Period, error) {
	s = strings.TrimSpace(s)

	var monthStr, yearStr string
	switch {
	case strings.Contains(s, "/"):
		parts := strings.SplitN(s, "/", 2)
		monthStr, yearStr = parts[0], parts[1]
	case strings.Contains(s, "-"):
		parts := strings.SplitN(s, "-", 2)
		yearStr, monthStr = parts[0], parts[1]
	default:
		return Period{}, fmt.Errorf("failed to parse period '%s': expected MM/YYYY or YYYY-MM", s)
	}

	month, err := strconv.Atoi(monthStr)
	if err != nil {
		return Period{}, fmt.Errorf("failed to parse period '%s': %w", s, err)
	}
	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return Period{}, fmt.Errorf("failed to parse period '%s': %w", s, err)
	}

	p := Period{Month: month, Year: year}
	if err := p.Validate(); err != nil {
		return Period{}, fmt.Errorf("failed to parse period '%s': %w", s, err)
	}
	return p, nil
}

// DaysBetween returns the whole days elapsed from earlier to later
func DaysBetween(earlier, later time.Time) int {
	diff := later.Sub(earlier)
	if diff < 0 {
		diff = -diff
	}
	return int(diff / (24 * time.Hour))
}

// IsWithinInterval checks whether the days between two submissions fall in [minDays, maxDays]
func IsWithinInterval(previous, current time.Time, minDays, maxDays int) bool {
	days := DaysBetween(previous, current)
	return days >= minDays && days <= maxDays
}

// DueDayReached reports whether now is on or after the reading due day of its month
func DueDayReached(now time.Time, dueDay int) bool {
	return now.UTC().Day() >= dueDay
}
