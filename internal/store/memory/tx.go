package memory

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"posdesk/backend/internal/domain"
	"posdesk/backend/internal/store"
)

// memTx mutates a private copy of the state; the Store swaps it in on commit.
type memTx struct {
	st *state
}

func (t *memTx) GetSale(_ context.Context, id int64) (*domain.Sale, error) {
	sale, ok := t.st.Sales[id]
	if !ok {
		return nil, store.NotFound("sale", id)
	}
	joined := t.st.assemble(sale)
	return &joined, nil
}

func (t *memTx) LockSale(_ context.Context, id int64) (*domain.Sale, error) {
	sale, ok := t.st.Sales[id]
	if !ok {
		return nil, store.NotFound("sale", id)
	}
	return &sale, nil
}

func (t *memTx) InsertSale(_ context.Context, sale domain.Sale) (int64, error) {
	for _, existing := range t.st.Sales {
		if existing.InvoiceNumber == sale.InvoiceNumber {
			return 0, fmt.Errorf("%w: invoice %s already exists", store.ErrConflict, sale.InvoiceNumber)
		}
	}
	t.st.Seq.Sale++
	sale.ID = t.st.Seq.Sale
	t.st.Sales[sale.ID] = header(sale)
	return sale.ID, nil
}

func (t *memTx) UpdateSale(_ context.Context, sale domain.Sale) error {
	if _, ok := t.st.Sales[sale.ID]; !ok {
		return store.NotFound("sale", sale.ID)
	}
	t.st.Sales[sale.ID] = header(sale)
	return nil
}

func (t *memTx) DeleteSale(_ context.Context, id int64) error {
	if _, ok := t.st.Sales[id]; !ok {
		return store.NotFound("sale", id)
	}
	delete(t.st.Sales, id)
	return nil
}

func (t *memTx) ListSaleItems(_ context.Context, saleID int64) ([]domain.SaleItem, error) {
	return t.st.itemsOf(saleID), nil
}

func (t *memTx) InsertSaleItem(_ context.Context, item domain.SaleItem) (int64, error) {
	t.st.Seq.Item++
	item.ID = t.st.Seq.Item
	t.st.Items[item.ID] = item
	return item.ID, nil
}

func (t *memTx) DeleteSaleItems(_ context.Context, saleID int64) error {
	for id, item := range t.st.Items {
		if item.SaleID == saleID {
			delete(t.st.Items, id)
		}
	}
	return nil
}

func (t *memTx) GetPayment(_ context.Context, id int64) (*domain.Payment, error) {
	payment, ok := t.st.Payments[id]
	if !ok {
		return nil, store.NotFound("payment", id)
	}
	return &payment, nil
}

func (t *memTx) InsertPayment(_ context.Context, payment domain.Payment) (int64, error) {
	t.st.Seq.Payment++
	payment.ID = t.st.Seq.Payment
	t.st.Payments[payment.ID] = payment
	return payment.ID, nil
}

func (t *memTx) DeletePayment(_ context.Context, id int64) error {
	if _, ok := t.st.Payments[id]; !ok {
		return store.NotFound("payment", id)
	}
	delete(t.st.Payments, id)
	return nil
}

func (t *memTx) DeletePayments(_ context.Context, saleID int64) error {
	for id, payment := range t.st.Payments {
		if payment.SaleID == saleID {
			delete(t.st.Payments, id)
		}
	}
	return nil
}

func (t *memTx) ListInstallments(_ context.Context, saleID int64) ([]domain.Installment, error) {
	return t.st.installmentsOf(saleID), nil
}

func (t *memTx) InsertInstallment(_ context.Context, installment domain.Installment) (int64, error) {
	t.st.Seq.Installment++
	installment.ID = t.st.Seq.Installment
	t.st.Installments[installment.ID] = installment
	return installment.ID, nil
}

func (t *memTx) UpdateInstallment(_ context.Context, installment domain.Installment) error {
	if _, ok := t.st.Installments[installment.ID]; !ok {
		return store.NotFound("installment", installment.ID)
	}
	t.st.Installments[installment.ID] = installment
	return nil
}

func (t *memTx) DeleteInstallments(_ context.Context, saleID int64) error {
	for id, inst := range t.st.Installments {
		if inst.SaleID == saleID {
			delete(t.st.Installments, id)
		}
	}
	return nil
}

func (t *memTx) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	product, ok := t.st.Products[id]
	if !ok {
		return nil, store.NotFound("product", id)
	}
	return &product, nil
}

func (t *memTx) AdjustStock(_ context.Context, productID int64, delta int, guard bool) error {
	product, ok := t.st.Products[productID]
	if !ok {
		return store.NotFound("product", productID)
	}
	next := product.Stock + delta
	if guard && next < 0 {
		return fmt.Errorf("%w: %s has %d, requested %d", store.ErrInsufficientStock, product.Name, product.Stock, -delta)
	}
	product.Stock = next
	t.st.Products[productID] = product
	return nil
}

func (t *memTx) GetCustomer(_ context.Context, id int64) (*domain.Customer, error) {
	customer, ok := t.st.Customers[id]
	if !ok {
		return nil, store.NotFound("customer", id)
	}
	return &customer, nil
}

func (t *memTx) AdjustCustomerAggregates(_ context.Context, customerID int64, debtDelta decimal.Decimal, purchasesDelta decimal.Decimal) error {
	customer, ok := t.st.Customers[customerID]
	if !ok {
		return store.NotFound("customer", customerID)
	}
	customer.TotalDebt = decimal.Max(decimal.Zero, customer.TotalDebt.Add(debtDelta))
	customer.TotalPurchases = decimal.Max(decimal.Zero, customer.TotalPurchases.Add(purchasesDelta))
	t.st.Customers[customerID] = customer
	return nil
}

func (t *memTx) InvoiceExists(_ context.Context, invoiceNumber string) (bool, error) {
	for _, sale := range t.st.Sales {
		if sale.InvoiceNumber == invoiceNumber {
			return true, nil
		}
	}
	return false, nil
}

// header strips the joined collections before a sale is stored.
func header(sale domain.Sale) domain.Sale {
	sale.Items = nil
	sale.Payments = nil
	sale.Installments = nil
	sale.Customer = nil
	return sale
}
