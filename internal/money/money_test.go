package money

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posdesk/backend/internal/store"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRoundIQDUsesDenominationOf250(t *testing.T) {
	cases := map[string]string{
		"0":      "0",
		"1":      "250",
		"250":    "250",
		"251":    "500",
		"333.33": "500",
		"1000":   "1000",
		"1000.1": "1250",
	}
	for in, want := range cases {
		assert.True(t, Round(d(in), "IQD").Equal(d(want)), "Round(%s, IQD)", in)
	}
}

func TestRoundOtherCurrenciesCeilToWholeUnits(t *testing.T) {
	assert.True(t, Round(d("10.01"), "USD").Equal(d("11")))
	assert.True(t, Round(d("10"), "usd").Equal(d("10")))
	assert.True(t, Round(d("0.2"), "EUR").Equal(d("1")))
}

func TestRoundIsIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		x := decimal.NewFromFloat(rng.Float64() * 1_000_000).Round(2)
		for _, currency := range []string{"IQD", "USD"} {
			once := Round(x, currency)
			require.True(t, Round(once, currency).Equal(once), "%s %s", currency, x)
			require.False(t, once.LessThan(x), "rounding must never go down")
		}
	}
}

func TestCollapseZeroesBalancesBelowThreshold(t *testing.T) {
	assert.True(t, Collapse(d("249"), "IQD").IsZero())
	assert.True(t, Collapse(d("250"), "IQD").Equal(d("250")))
	assert.True(t, Collapse(d("-500"), "IQD").IsZero())
	assert.True(t, Collapse(d("0.009"), "USD").IsZero())
	assert.True(t, Collapse(d("0.01"), "USD").Equal(d("1")))
}

func TestCalculateTotalsSingleDiscountedLine(t *testing.T) {
	totals, err := CalculateTotals([]Line{{Quantity: 1, UnitPrice: d("950"), Discount: d("50")}}, decimal.Zero, decimal.Zero)
	require.NoError(t, err)

	assert.True(t, totals.Subtotal.Equal(d("900")))
	assert.True(t, totals.ItemDiscounts.Equal(d("50")))
	assert.True(t, totals.Total.Equal(d("900")))
}

func TestCalculateTotalsAppliesSaleDiscountBeforeTax(t *testing.T) {
	lines := []Line{
		{Quantity: 2, UnitPrice: d("10.50"), Discount: d("0.50")},
		{Quantity: 1, UnitPrice: d("5")},
	}
	totals, err := CalculateTotals(lines, d("5"), d("10"))
	require.NoError(t, err)

	assert.True(t, totals.RawSubtotal.Equal(d("26")))
	assert.True(t, totals.Subtotal.Equal(d("25")))
	assert.True(t, totals.AfterDiscount.Equal(d("20")))
	assert.True(t, totals.Tax.Equal(d("2")))
	assert.True(t, totals.Total.Equal(d("22")))
}

func TestCalculateTotalsClampsSaleDiscountAtSubtotal(t *testing.T) {
	totals, err := CalculateTotals([]Line{{Quantity: 1, UnitPrice: d("100")}}, d("500"), d("5"))
	require.NoError(t, err)

	assert.True(t, totals.SaleDiscount.Equal(d("100")))
	assert.True(t, totals.Total.IsZero())
}

func TestCalculateTotalsRejectsInvalidInput(t *testing.T) {
	valid := []Line{{Quantity: 1, UnitPrice: d("10")}}
	cases := []struct {
		name     string
		lines    []Line
		discount decimal.Decimal
		tax      decimal.Decimal
	}{
		{"empty items", nil, decimal.Zero, decimal.Zero},
		{"zero quantity", []Line{{Quantity: 0, UnitPrice: d("10")}}, decimal.Zero, decimal.Zero},
		{"missing price", []Line{{Quantity: 1}}, decimal.Zero, decimal.Zero},
		{"negative item discount", []Line{{Quantity: 1, UnitPrice: d("10"), Discount: d("-1")}}, decimal.Zero, decimal.Zero},
		{"negative sale discount", valid, d("-1"), decimal.Zero},
		{"tax above 100", valid, decimal.Zero, d("100.5")},
		{"negative tax", valid, decimal.Zero, d("-1")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := CalculateTotals(tc.lines, tc.discount, tc.tax)
			require.Error(t, err)
			assert.True(t, errors.Is(err, store.ErrValidation), "got %v", err)
		})
	}
}

func TestCalculateDraftTotalsAllowsEmptyItems(t *testing.T) {
	totals, err := CalculateDraftTotals(nil, decimal.Zero, decimal.Zero)
	require.NoError(t, err)
	assert.True(t, totals.Total.IsZero())
}

func TestInterestIsRoundedToCurrency(t *testing.T) {
	assert.True(t, Interest(d("10000"), d("7"), "IQD").Equal(d("750")))
	assert.True(t, Interest(d("100"), d("2.5"), "USD").Equal(d("3")))
	assert.True(t, Interest(d("100"), decimal.Zero, "USD").IsZero())
}

func TestBuildScheduleAbsorbsDriftInLastInstallment(t *testing.T) {
	start := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	schedule, err := BuildSchedule(d("1000"), 3, "IQD", start)
	require.NoError(t, err)
	require.Len(t, schedule, 3)

	assert.True(t, schedule[0].DueAmount.Equal(d("500")))
	assert.True(t, schedule[1].DueAmount.Equal(d("500")))
	assert.True(t, schedule[2].DueAmount.IsZero())
	assert.Equal(t, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC), schedule[0].DueDate)
	assert.Equal(t, time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC), schedule[2].DueDate)
}

func TestBuildScheduleNeverProducesNegativeInstallments(t *testing.T) {
	schedule, err := BuildSchedule(d("250"), 3, "IQD", time.Now())
	require.NoError(t, err)

	sum := decimal.Zero
	for _, inst := range schedule {
		assert.False(t, inst.DueAmount.IsNegative())
		sum = sum.Add(inst.DueAmount)
	}
	assert.True(t, sum.Equal(d("250")))
	assert.True(t, schedule[0].DueAmount.Equal(d("250")))
}

func TestBuildScheduleSumMatchesRemaining(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 300; i++ {
		currency := "USD"
		remaining := decimal.NewFromInt(rng.Int63n(100_000) + 1)
		if i%2 == 0 {
			currency = "IQD"
			remaining = Round(decimal.NewFromInt(rng.Int63n(5_000_000)+1), currency)
		}
		count := rng.Intn(24) + 1

		schedule, err := BuildSchedule(remaining, count, currency, time.Now())
		require.NoError(t, err)
		require.Len(t, schedule, count)

		sum := decimal.Zero
		for n, inst := range schedule {
			require.Equal(t, n+1, inst.Number)
			require.True(t, Round(inst.DueAmount, currency).Equal(inst.DueAmount))
			sum = sum.Add(inst.DueAmount)
		}
		require.True(t, sum.Equal(remaining), "count=%d remaining=%s sum=%s", count, remaining, sum)
	}
}

func TestBuildScheduleRejectsBadInput(t *testing.T) {
	_, err := BuildSchedule(d("1000"), 0, "IQD", time.Now())
	assert.ErrorIs(t, err, store.ErrValidation)

	_, err = BuildSchedule(decimal.Zero, 2, "IQD", time.Now())
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestAddMonthsClampsToMonthEnd(t *testing.T) {
	jan31 := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), AddMonths(jan31, 1))
	assert.Equal(t, time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC), AddMonths(jan31, 2))
	assert.Equal(t, time.Date(2027, 1, 31, 0, 0, 0, 0, time.UTC), AddMonths(jan31, 12))
}
