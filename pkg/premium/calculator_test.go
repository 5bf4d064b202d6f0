package premium

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/oncoplus/pkg/enrollment"
	"github.com/platinummonkey/oncoplus/pkg/rates"
)

type matchLookup []rates.RateRange

func (m matchLookup) Lookup(ctx context.Context, age int) rates.Rates {
	r, _ := rates.Match(m, age)
	return r
}

func standardRates() matchLookup {
	return matchLookup{
		rates.NewRange(0, rates.Bound(17), "10", "20"),
		rates.NewRange(18, rates.Bound(64), "15", "30"),
		rates.NewRange(65, nil, "25", "40"),
	}
}

var today = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestCalculator(lookup RateLookup) *Calculator {
	return NewCalculator(lookup, func() time.Time { return today })
}

func person(birth string) enrollment.Person {
	return enrollment.Person{FirstName: "X", BirthDate: birth}
}

func TestComputeAge(t *testing.T) {
	birth := time.Date(1979, 6, 15, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 45, ComputeAge(birth, time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 44, ComputeAge(birth, time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 44, ComputeAge(birth, time.Date(2024, 5, 30, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 45, ComputeAge(birth, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)))
}

func TestComputeAge_ExactAnniversary(t *testing.T) {
	for k := 0; k <= 100; k += 7 {
		birth := today.AddDate(-k, 0, 0)
		assert.Equal(t, k, ComputeAge(birth, today))
	}
}

func TestComputeAge_Monotonic(t *testing.T) {
	birth := time.Date(2000, 2, 29, 0, 0, 0, 0, time.UTC)
	prev := ComputeAge(birth, birth)
	for d := birth; d.Before(birth.AddDate(30, 0, 0)); d = d.AddDate(0, 0, 13) {
		age := ComputeAge(birth, d)
		assert.GreaterOrEqual(t, age, prev)
		prev = age
	}
}

func TestAgeFromBirthDate(t *testing.T) {
	assert.Equal(t, 45, AgeFromBirthDate("1979-03-10", today))
	assert.Equal(t, 45, AgeFromBirthDate("10/03/1979", today))
	assert.Equal(t, 0, AgeFromBirthDate("", today))
	assert.Equal(t, 0, AgeFromBirthDate("garbage", today))
	assert.Equal(t, 0, AgeFromBirthDate("2030-01-01", today))
}

func TestComputeBillableAmount_FortyFiveMonthly(t *testing.T) {
	calc := newTestCalculator(standardRates())

	amount, err := calc.ComputeBillableAmount(context.Background(), person("1979-03-10"), nil, enrollment.PeriodicityMonthly)
	require.NoError(t, err)
	assert.True(t, amount.Equal(decimal.NewFromInt(30)), amount.String())
}

func TestComputeBillableAmount_AnnualDiscount(t *testing.T) {
	calc := newTestCalculator(standardRates())
	ctx := context.Background()

	households := [][]enrollment.Person{
		nil,
		{person("2010-01-20")},
		{person("2010-01-20"), person("1950-01-01"), person("bad date")},
	}

	for _, deps := range households {
		monthly, err := calc.ComputeBillableAmount(ctx, person("1979-03-10"), deps, enrollment.PeriodicityMonthly)
		require.NoError(t, err)
		annual, err := calc.ComputeBillableAmount(ctx, person("1979-03-10"), deps, enrollment.PeriodicityAnnual)
		require.NoError(t, err)

		expected := monthly.Mul(decimal.NewFromInt(12)).Mul(decimal.RequireFromString("0.9"))
		assert.True(t, annual.Equal(expected), "annual %s, expected %s", annual, expected)
	}
}

func TestComputeHouseholdTotals(t *testing.T) {
	calc := newTestCalculator(standardRates())

	h := calc.ComputeHouseholdTotals(context.Background(), person("1979-03-10"), []enrollment.Person{
		person("2010-01-20"),
		person("1950-01-01"),
		person("not a date"),
	})

	assert.Equal(t, 45, h.Primary.Age)
	require.Len(t, h.Dependents, 3)
	assert.Equal(t, 14, h.Dependents[0].Age)
	assert.Equal(t, 74, h.Dependents[1].Age)
	assert.Equal(t, 0, h.Dependents[2].Age)
	assert.True(t, h.Dependents[2].Secondary.Equal(decimal.NewFromInt(20)))

	assert.True(t, h.TotalPrimary.Equal(decimal.NewFromInt(15+10+25+10)))
	assert.True(t, h.TotalSecondary.Equal(decimal.NewFromInt(30+20+40+20)))
}

func TestComputeBillableAmount_PricingUnavailable(t *testing.T) {
	t.Run("empty table", func(t *testing.T) {
		calc := newTestCalculator(matchLookup{})
		_, err := calc.ComputeBillableAmount(context.Background(), person("1979-03-10"), nil, enrollment.PeriodicityMonthly)
		assert.ErrorIs(t, err, ErrPricingUnavailable)
	})

	t.Run("dependent unavailable", func(t *testing.T) {
		calc := newTestCalculator(matchLookup{
			rates.NewRange(18, nil, "15", "30"),
			rates.NewRange(0, rates.Bound(17), "10", "bad"),
		})
		_, err := calc.ComputeBillableAmount(context.Background(), person("1979-03-10"), []enrollment.Person{person("2010-01-20")}, enrollment.PeriodicityMonthly)
		assert.ErrorIs(t, err, ErrPricingUnavailable)
	})

	t.Run("zero total", func(t *testing.T) {
		calc := newTestCalculator(matchLookup{rates.NewRange(0, nil, "0", "0")})
		_, err := calc.ComputeBillableAmount(context.Background(), person("1979-03-10"), nil, enrollment.PeriodicityAnnual)
		assert.ErrorIs(t, err, ErrPricingUnavailable)
	})
}
