package money

import (
	"fmt"

	"github.com/shopspring/decimal"

	"posdesk/backend/internal/store"
)

// Line is one priced item; Discount is per unit.
type Line struct {
	Quantity  int
	UnitPrice decimal.Decimal
	Discount  decimal.Decimal
}

// LineDiscount is the stored (whole-line) discount.
func (l Line) LineDiscount() decimal.Decimal {
	return Raw(l.Discount.Mul(decimal.NewFromInt(int64(l.Quantity))))
}

func (l Line) Subtotal() decimal.Decimal {
	gross := l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
	return Raw(gross.Sub(l.Discount.Mul(decimal.NewFromInt(int64(l.Quantity)))))
}

type Totals struct {
	RawSubtotal   decimal.Decimal
	ItemDiscounts decimal.Decimal
	// Subtotal is net of item discounts.
	Subtotal decimal.Decimal
	// SaleDiscount is the part of the requested sale discount that applied,
	// never more than Subtotal.
	SaleDiscount  decimal.Decimal
	AfterDiscount decimal.Decimal
	Tax           decimal.Decimal
	Total         decimal.Decimal
}

func CalculateTotals(lines []Line, saleDiscount decimal.Decimal, taxPct decimal.Decimal) (Totals, error) {
	if len(lines) == 0 {
		return Totals{}, store.Invalid("items", "must not be empty")
	}
	return calculate(lines, saleDiscount, taxPct)
}

// CalculateDraftTotals is CalculateTotals without the non-empty requirement.
func CalculateDraftTotals(lines []Line, saleDiscount decimal.Decimal, taxPct decimal.Decimal) (Totals, error) {
	return calculate(lines, saleDiscount, taxPct)
}

func calculate(lines []Line, saleDiscount decimal.Decimal, taxPct decimal.Decimal) (Totals, error) {
	if saleDiscount.IsNegative() {
		return Totals{}, store.Invalid("discount", "must not be negative")
	}
	if taxPct.IsNegative() || taxPct.GreaterThan(hundred) {
		return Totals{}, store.Invalid("tax", "must be between 0 and 100")
	}

	rawSubtotal := decimal.Zero
	itemDiscounts := decimal.Zero
	for i, line := range lines {
		if line.Quantity <= 0 {
			return Totals{}, store.Invalid(fmt.Sprintf("items[%d].quantity", i), "must be positive")
		}
		if !line.UnitPrice.IsPositive() {
			return Totals{}, store.Invalid(fmt.Sprintf("items[%d].unit_price", i), "must be positive")
		}
		if line.Discount.IsNegative() {
			return Totals{}, store.Invalid(fmt.Sprintf("items[%d].discount", i), "must not be negative")
		}
		if line.Discount.GreaterThan(line.UnitPrice) {
			return Totals{}, store.Invalid(fmt.Sprintf("items[%d].discount", i), "must not exceed unit price")
		}
		qty := decimal.NewFromInt(int64(line.Quantity))
		rawSubtotal = rawSubtotal.Add(line.UnitPrice.Mul(qty))
		itemDiscounts = itemDiscounts.Add(line.Discount.Mul(qty))
	}

	subtotal := Raw(rawSubtotal.Sub(itemDiscounts))
	afterDiscount := Max(decimal.Zero, subtotal.Sub(saleDiscount))
	tax := Raw(afterDiscount.Mul(taxPct).Div(hundred))

	return Totals{
		RawSubtotal:   Raw(rawSubtotal),
		ItemDiscounts: Raw(itemDiscounts),
		Subtotal:      subtotal,
		SaleDiscount:  Raw(subtotal.Sub(afterDiscount)),
		AfterDiscount: Raw(afterDiscount),
		Tax:           tax,
		Total:         Raw(afterDiscount.Add(tax)),
	}, nil
}

// Interest is the rounded surcharge for rate percent of total.
func Interest(total decimal.Decimal, rate decimal.Decimal, currency string) decimal.Decimal {
	if !rate.IsPositive() {
		return decimal.Zero
	}
	return Round(total.Mul(rate).Div(hundred), currency)
}
