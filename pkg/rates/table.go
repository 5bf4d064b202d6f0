package rates

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// UnknownAge marks an age that could not be derived. It skips range matching
// and resolves straight to the fallback row.
const UnknownAge = -1

// RateRange is one age band. A nil AgeTo means the band has no upper bound.
// Rates that could not be parsed from the source are invalid NullDecimals.
type RateRange struct {
	AgeFrom   int                 `json:"ageFrom" yaml:"age_from"`
	AgeTo     *int                `json:"ageTo,omitempty" yaml:"age_to,omitempty"`
	Primary   decimal.NullDecimal `json:"primary" yaml:"-"`
	Secondary decimal.NullDecimal `json:"secondary" yaml:"-"`
}

// Contains reports whether age falls within the band
func (r RateRange) Contains(age int) bool {
	if age < r.AgeFrom {
		return false
	}
	return r.AgeTo == nil || age <= *r.AgeTo
}

// HasValidRates reports whether both rates were parsed
func (r RateRange) HasValidRates() bool {
	return r.Primary.Valid && r.Secondary.Valid
}

// Rates is the result of a lookup. Available is false when pricing data
// could not be resolved; the zero pair then means "unknown", not "free".
type Rates struct {
	Primary   decimal.Decimal `json:"primary"`
	Secondary decimal.Decimal `json:"secondary"`
	Available bool            `json:"available"`
}

// MatchKind describes how a lookup was resolved
type MatchKind string

const (
	MatchRange       MatchKind = "range"
	MatchFallback    MatchKind = "fallback"
	MatchUnavailable MatchKind = "unavailable"
)

// Match resolves age against ranges in order. The first containing band wins.
// When no band matches, the age is unknown, or the matching band carries
// invalid rates, the last band is used provided its rates are valid.
func Match(ranges []RateRange, age int) (Rates, MatchKind) {
	if len(ranges) == 0 {
		return Rates{}, MatchUnavailable
	}

	if age >= 0 {
		for _, r := range ranges {
			if !r.Contains(age) {
				continue
			}
			if r.HasValidRates() {
				return Rates{Primary: r.Primary.Decimal, Secondary: r.Secondary.Decimal, Available: true}, MatchRange
			}
			break
		}
	}

	last := ranges[len(ranges)-1]
	if !last.HasValidRates() {
		return Rates{}, MatchUnavailable
	}
	return Rates{Primary: last.Primary.Decimal, Secondary: last.Secondary.Decimal, Available: true}, MatchFallback
}

// NewRange builds a band from decimal strings. Unparseable rates stay invalid.
func NewRange(ageFrom int, ageTo *int, primary, secondary string) RateRange {
	return RateRange{
		AgeFrom:   ageFrom,
		AgeTo:     ageTo,
		Primary:   parseRate(primary),
		Secondary: parseRate(secondary),
	}
}

func parseRate(raw string) decimal.NullDecimal {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// Bound is a helper for building an upper bound
func Bound(age int) *int {
	return &age
}

// Validate checks the structural sanity of a table before it is stored
func Validate(ranges []RateRange) error {
	for i, r := range ranges {
		if r.AgeFrom < 0 {
			return fmt.Errorf("range %d: age_from must not be negative", i)
		}
		if r.AgeTo != nil && *r.AgeTo < r.AgeFrom {
			return fmt.Errorf("range %d: age_to %d is below age_from %d", i, *r.AgeTo, r.AgeFrom)
		}
	}
	return nil
}

// Source supplies the ordered bands of a rate table
type Source interface {
	Ranges(ctx context.Context) ([]RateRange, error)
}

// StaticSource serves a fixed table
type StaticSource []RateRange

// Ranges returns a copy of the table
func (s StaticSource) Ranges(ctx context.Context) ([]RateRange, error) {
	out := make([]RateRange, len(s))
	copy(out, s)
	return out, nil
}
