package records

import (
	"fmt"
	"strings"
	"time"
)

// Period is the target month of one job.
type Period struct {
	Year  int
	Month time.Month
}

var periodLayouts = []string{
	"January 2006",
	"Jan 2006",
	"2006-01",
	"01/2006",
	"2006/01",
	"Jan-06",
}

// ParsePeriod parses the Month cell of a job row. Operators enter months in
// several shapes; all of them resolve to a year/month pair.
func ParsePeriod(s string) (Period, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Period{}, fmt.Errorf("empty period")
	}
	for _, layout := range periodLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Period{Year: t.Year(), Month: t.Month()}, nil
		}
	}
	return Period{}, fmt.Errorf("unrecognized period %q", s)
}

func (p Period) IsZero() bool {
	return p.Year == 0 && p.Month == 0
}

// Start returns midnight UTC on the first day of the month.
func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End returns midnight UTC on the last day of the month.
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, -1)
}

// Contains reports whether t falls inside the period. The zero time never
// does.
func (p Period) Contains(t time.Time) bool {
	if t.IsZero() {
		return false
	}
	return t.Year() == p.Year && t.Month() == p.Month
}

func (p Period) String() string {
	return p.Start().Format("January 2006")
}
