package enrollment

import (
	"fmt"
	"strings"
	"time"
)

// DefaultWaitingPeriodMonths is the time between coverage start and full benefits
const DefaultWaitingPeriodMonths = 3

var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	time.RFC3339,
}

// ParseDate parses a submitted calendar date
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}

// CoverageStart returns the first day of the month after t.
// December rolls over to January of the following year.
func CoverageStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
}

// WaitingPeriodEnd returns the date full benefits apply
func WaitingPeriodEnd(coverageStart time.Time, months int) time.Time {
	if months <= 0 {
		months = DefaultWaitingPeriodMonths
	}
	return coverageStart.AddDate(0, months, 0)
}

// NextChargeDate returns the expected next charge for a periodicity
func NextChargeDate(from time.Time, p Periodicity) time.Time {
	if p == PeriodicityAnnual {
		return from.AddDate(1, 0, 0)
	}
	return from.AddDate(0, 1, 0)
}
