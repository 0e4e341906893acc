// Package ledger applies the side effects a sale has on product stock and
// customer aggregates. Every method runs inside the caller's transaction.
package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"posdesk/backend/internal/domain"
	"posdesk/backend/internal/store"
)

// StockLine is the quantity a sale holds of one product.
type StockLine struct {
	ProductID int64
	Quantity  int
}

func LinesOf(items []domain.SaleItem) []StockLine {
	lines := make([]StockLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}

type Stock struct{}

// Consume takes quantity out of stock, refusing to go below zero.
func (Stock) Consume(ctx context.Context, tx store.Tx, lines []StockLine) error {
	for _, line := range lines {
		product, err := tx.GetProduct(ctx, line.ProductID)
		if err != nil {
			return err
		}
		if product.Stock < line.Quantity {
			return fmt.Errorf("%w: %s has %d, requested %d", store.ErrInsufficientStock, product.Name, product.Stock, line.Quantity)
		}
		if err := tx.AdjustStock(ctx, line.ProductID, -line.Quantity, true); err != nil {
			return err
		}
	}
	return nil
}

// Release puts quantity back (cancellation).
func (Stock) Release(ctx context.Context, tx store.Tx, lines []StockLine) error {
	for _, line := range lines {
		if err := tx.AdjustStock(ctx, line.ProductID, line.Quantity, false); err != nil {
			return err
		}
	}
	return nil
}

// Reclaim takes quantity out again after a restore. It mirrors Release and
// does not check availability.
func (Stock) Reclaim(ctx context.Context, tx store.Tx, lines []StockLine) error {
	for _, line := range lines {
		if err := tx.AdjustStock(ctx, line.ProductID, -line.Quantity, false); err != nil {
			return err
		}
	}
	return nil
}

type Debt struct{}

// Charge books an outstanding balance and the purchase that created it.
func (Debt) Charge(ctx context.Context, tx store.Tx, customerID *int64, debt decimal.Decimal, purchases decimal.Decimal) error {
	if customerID == nil {
		return nil
	}
	return tx.AdjustCustomerAggregates(ctx, *customerID, debt, purchases)
}

// Reverse undoes a Charge.
func (Debt) Reverse(ctx context.Context, tx store.Tx, customerID *int64, debt decimal.Decimal, purchases decimal.Decimal) error {
	if customerID == nil {
		return nil
	}
	return tx.AdjustCustomerAggregates(ctx, *customerID, debt.Neg(), purchases.Neg())
}

// Settle lowers debt by a received payment.
func (Debt) Settle(ctx context.Context, tx store.Tx, customerID *int64, amount decimal.Decimal) error {
	if customerID == nil {
		return nil
	}
	return tx.AdjustCustomerAggregates(ctx, *customerID, amount.Neg(), decimal.Zero)
}

// Reopen raises debt again after a payment is withdrawn.
func (Debt) Reopen(ctx context.Context, tx store.Tx, customerID *int64, amount decimal.Decimal) error {
	if customerID == nil {
		return nil
	}
	return tx.AdjustCustomerAggregates(ctx, *customerID, amount, decimal.Zero)
}
