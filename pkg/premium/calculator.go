package premium

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/platinummonkey/oncoplus/pkg/enrollment"
	"github.com/platinummonkey/oncoplus/pkg/rates"
)

// ErrPricingUnavailable is returned when a billable amount cannot be trusted.
// The submission must not be charged.
var ErrPricingUnavailable = errors.New("pricing unavailable")

var (
	monthsPerYear  = decimal.NewFromInt(12)
	annualDiscount = decimal.RequireFromString("0.9")
)

// RateLookup resolves an age to a rate pair
type RateLookup interface {
	Lookup(ctx context.Context, age int) rates.Rates
}

// PersonQuote is the priced line for one insured person
type PersonQuote struct {
	enrollment.Quote
	Available bool `json:"available"`
}

// Household is the priced composition of one submission
type Household struct {
	Primary        PersonQuote     `json:"primary"`
	Dependents     []PersonQuote   `json:"dependents"`
	TotalPrimary   decimal.Decimal `json:"totalPrimary"`
	TotalSecondary decimal.Decimal `json:"totalSecondary"`
}

// Calculator prices households against a rate table
type Calculator struct {
	rates RateLookup
	now   func() time.Time
}

// NewCalculator creates a calculator. now defaults to time.Now.
func NewCalculator(lookup RateLookup, now func() time.Time) *Calculator {
	if now == nil {
		now = time.Now
	}
	return &Calculator{rates: lookup, now: now}
}

// ComputeAge returns completed years between birth and asOf
func ComputeAge(birth, asOf time.Time) int {
	age := asOf.Year() - birth.Year()
	if asOf.Month() < birth.Month() || (asOf.Month() == birth.Month() && asOf.Day() < birth.Day()) {
		age--
	}
	return age
}

// AgeFromBirthDate derives an age from a submitted date. Missing or
// unparseable dates yield 0 so the person still gets priced and recorded.
func AgeFromBirthDate(raw string, asOf time.Time) int {
	birth, err := enrollment.ParseDate(raw)
	if err != nil {
		return 0
	}
	age := ComputeAge(birth, asOf)
	if age < 0 {
		return 0
	}
	return age
}

// QuotePerson prices a single person
func (c *Calculator) QuotePerson(ctx context.Context, p enrollment.Person) PersonQuote {
	age := AgeFromBirthDate(p.BirthDate, c.now())
	r := c.rates.Lookup(ctx, age)
	return PersonQuote{
		Quote: enrollment.Quote{
			Age:       age,
			Primary:   r.Primary,
			Secondary: r.Secondary,
		},
		Available: r.Available,
	}
}

// ComputeHouseholdTotals prices the primary and every dependent independently
// and sums both rates. The totals are kept for record-keeping only.
func (c *Calculator) ComputeHouseholdTotals(ctx context.Context, primary enrollment.Person, dependents []enrollment.Person) Household {
	h := Household{
		Primary:    c.QuotePerson(ctx, primary),
		Dependents: make([]PersonQuote, 0, len(dependents)),
	}
	h.TotalPrimary = h.Primary.Primary
	h.TotalSecondary = h.Primary.Secondary

	for _, d := range dependents {
		q := c.QuotePerson(ctx, d)
		h.Dependents = append(h.Dependents, q)
		h.TotalPrimary = h.TotalPrimary.Add(q.Primary)
		h.TotalSecondary = h.TotalSecondary.Add(q.Secondary)
	}

	return h
}

// ComputeBillableAmount sums the secondary (charged) rate over the household.
// Annual billing charges twelve months with a 10% discount.
func (c *Calculator) ComputeBillableAmount(ctx context.Context, primary enrollment.Person, dependents []enrollment.Person, periodicity enrollment.Periodicity) (decimal.Decimal, error) {
	h := c.ComputeHouseholdTotals(ctx, primary, dependents)
	return BillableFromHousehold(h, periodicity)
}

// BillableFromHousehold applies the periodicity rule to already priced totals
func BillableFromHousehold(h Household, periodicity enrollment.Periodicity) (decimal.Decimal, error) {
	if !h.Primary.Available {
		return decimal.Zero, ErrPricingUnavailable
	}
	for _, d := range h.Dependents {
		if !d.Available {
			return decimal.Zero, ErrPricingUnavailable
		}
	}

	amount := h.TotalSecondary
	if !amount.IsPositive() {
		return decimal.Zero, ErrPricingUnavailable
	}

	if periodicity == enrollment.PeriodicityAnnual {
		amount = amount.Mul(monthsPerYear).Mul(annualDiscount)
	}
	return amount, nil
}
