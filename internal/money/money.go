// Package money holds the currency rounding policy and the pure sale arithmetic
// built on it: totals and installment schedules.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

var (
	iqdStep      = decimal.NewFromInt(250)
	minorUnit    = decimal.New(1, -2)
	hundred      = decimal.NewFromInt(100)
	rawPrecision = int32(2)
)

func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

func isIQD(currency string) bool {
	return NormalizeCurrency(currency) == "IQD"
}

// Round lifts amount to the smallest legal denomination of currency that is
// not below it: multiples of 250 for IQD, whole units otherwise.
func Round(amount decimal.Decimal, currency string) decimal.Decimal {
	if isIQD(currency) {
		return amount.Div(iqdStep).Ceil().Mul(iqdStep)
	}
	return amount.Ceil()
}

// Threshold is the smallest balance still worth collecting.
func Threshold(currency string) decimal.Decimal {
	if isIQD(currency) {
		return iqdStep
	}
	return minorUnit
}

// Collapse rounds an outstanding balance, treating anything below the
// currency threshold (and anything negative) as settled.
func Collapse(amount decimal.Decimal, currency string) decimal.Decimal {
	if amount.LessThan(Threshold(currency)) {
		return decimal.Zero
	}
	return Round(amount, currency)
}

// Raw fixes a pre-rounding figure to two decimals.
func Raw(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(rawPrecision)
}

func Min(a decimal.Decimal, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

func Max(a decimal.Decimal, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}
