package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"posdesk/backend/internal/domain"
	"posdesk/backend/internal/store"
)

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) GetSale(ctx context.Context, id int64) (*domain.Sale, error) {
	return loadSale(ctx, t.tx, id)
}

func (t *pgTx) LockSale(ctx context.Context, id int64) (*domain.Sale, error) {
	var sale domain.Sale
	err := t.tx.QueryRowContext(ctx, `
		SELECT `+saleColumns("sales")+`
		FROM sales
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(saleDest(&sale)...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("sale", id)
		}
		return nil, err
	}
	normalizeSale(&sale)
	return &sale, nil
}

func (t *pgTx) InsertSale(ctx context.Context, sale domain.Sale) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO sales (
			invoice_number, customer_id, subtotal, discount, tax_rate, tax,
			interest_rate, interest_amount, total, paid_amount, remaining_amount,
			currency, exchange_rate, payment_type, installment_count, status, notes,
			created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		RETURNING id
	`, sale.InvoiceNumber, sale.CustomerID, sale.Subtotal, sale.Discount, sale.TaxRate, sale.Tax,
		sale.InterestRate, sale.InterestAmount, sale.Total, sale.PaidAmount, sale.RemainingAmount,
		sale.Currency, sale.ExchangeRate, string(sale.PaymentType), sale.InstallmentCount, string(sale.Status), sale.Notes,
		sale.CreatedAt, sale.UpdatedAt).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: invoice %s already exists", store.ErrConflict, sale.InvoiceNumber)
		}
		return 0, err
	}
	return id, nil
}

func (t *pgTx) UpdateSale(ctx context.Context, sale domain.Sale) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE sales
		SET customer_id = $2, subtotal = $3, discount = $4, tax_rate = $5, tax = $6,
			interest_rate = $7, interest_amount = $8, total = $9, paid_amount = $10, remaining_amount = $11,
			currency = $12, exchange_rate = $13, payment_type = $14, installment_count = $15, status = $16,
			notes = $17, created_at = $18, updated_at = $19
		WHERE id = $1
	`, sale.ID, sale.CustomerID, sale.Subtotal, sale.Discount, sale.TaxRate, sale.Tax,
		sale.InterestRate, sale.InterestAmount, sale.Total, sale.PaidAmount, sale.RemainingAmount,
		sale.Currency, sale.ExchangeRate, string(sale.PaymentType), sale.InstallmentCount, string(sale.Status),
		sale.Notes, sale.CreatedAt, sale.UpdatedAt)
	return expectRow(res, err, "sale", sale.ID)
}

func (t *pgTx) DeleteSale(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, id)
	return expectRow(res, err, "sale", id)
}

func (t *pgTx) ListSaleItems(ctx context.Context, saleID int64) ([]domain.SaleItem, error) {
	return listItems(ctx, t.tx, saleID)
}

func (t *pgTx) InsertSaleItem(ctx context.Context, item domain.SaleItem) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO sale_items (sale_id, product_id, product_name, quantity, unit_price, discount, subtotal)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id
	`, item.SaleID, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice, item.Discount, item.Subtotal).Scan(&id)
	return id, err
}

func (t *pgTx) DeleteSaleItems(ctx context.Context, saleID int64) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, saleID)
	return err
}

func (t *pgTx) GetPayment(ctx context.Context, id int64) (*domain.Payment, error) {
	var p domain.Payment
	err := t.tx.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id).
		Scan(&p.ID, &p.SaleID, &p.CustomerID, &p.Amount, &p.Currency, &p.ExchangeRate, &p.Method, &p.Note, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("payment", id)
		}
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func (t *pgTx) InsertPayment(ctx context.Context, payment domain.Payment) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO payments (sale_id, customer_id, amount, currency, exchange_rate, method, note, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id
	`, payment.SaleID, payment.CustomerID, payment.Amount, payment.Currency, payment.ExchangeRate,
		payment.Method, payment.Note, payment.CreatedAt).Scan(&id)
	return id, err
}

func (t *pgTx) DeletePayment(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM payments WHERE id = $1`, id)
	return expectRow(res, err, "payment", id)
}

func (t *pgTx) DeletePayments(ctx context.Context, saleID int64) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM payments WHERE sale_id = $1`, saleID)
	return err
}

func (t *pgTx) ListInstallments(ctx context.Context, saleID int64) ([]domain.Installment, error) {
	return listInstallments(ctx, t.tx, saleID)
}

func (t *pgTx) InsertInstallment(ctx context.Context, inst domain.Installment) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO installments (
			sale_id, customer_id, installment_number, currency, due_amount, paid_amount,
			remaining_amount, due_date, paid_date, status, notes
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING id
	`, inst.SaleID, inst.CustomerID, inst.InstallmentNumber, inst.Currency, inst.DueAmount, inst.PaidAmount,
		inst.RemainingAmount, dateOnly(inst.DueDate), nullDate(inst.PaidDate), string(inst.Status), inst.Notes).Scan(&id)
	return id, err
}

func (t *pgTx) UpdateInstallment(ctx context.Context, inst domain.Installment) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE installments
		SET paid_amount = $2, remaining_amount = $3, paid_date = $4, status = $5, notes = $6
		WHERE id = $1
	`, inst.ID, inst.PaidAmount, inst.RemainingAmount, nullDate(inst.PaidDate), string(inst.Status), inst.Notes)
	return expectRow(res, err, "installment", inst.ID)
}

func (t *pgTx) DeleteInstallments(ctx context.Context, saleID int64) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM installments WHERE sale_id = $1`, saleID)
	return err
}

func (t *pgTx) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var p domain.Product
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, sku, name, price, cost_price, stock
		FROM products
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&p.ID, &p.SKU, &p.Name, &p.Price, &p.CostPrice, &p.Stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("product", id)
		}
		return nil, err
	}
	return &p, nil
}

func (t *pgTx) AdjustStock(ctx context.Context, productID int64, delta int, guard bool) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + $2, updated_at = now()
		WHERE id = $1 AND (NOT $3 OR stock + $2 >= 0)
	`, productID, delta, guard)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var stock int
	if err := t.tx.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&stock); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.NotFound("product", productID)
		}
		return err
	}
	return fmt.Errorf("%w: product %d has %d, requested %d", store.ErrInsufficientStock, productID, stock, -delta)
}

func (t *pgTx) GetCustomer(ctx context.Context, id int64) (*domain.Customer, error) {
	var c domain.Customer
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, name, phone, total_debt, total_purchases
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Phone, &c.TotalDebt, &c.TotalPurchases)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("customer", id)
		}
		return nil, err
	}
	return &c, nil
}

func (t *pgTx) AdjustCustomerAggregates(ctx context.Context, customerID int64, debtDelta decimal.Decimal, purchasesDelta decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE customers
		SET total_debt = GREATEST(0, total_debt + $2),
			total_purchases = GREATEST(0, total_purchases + $3)
		WHERE id = $1
	`, customerID, debtDelta, purchasesDelta)
	return expectRow(res, err, "customer", customerID)
}

func (t *pgTx) InvoiceExists(ctx context.Context, invoiceNumber string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM sales WHERE invoice_number = $1)`, invoiceNumber).Scan(&exists)
	return exists, err
}

func expectRow(res sql.Result, err error, entity string, id int64) error {
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.NotFound(entity, id)
	}
	return nil
}

func nullDate(val *time.Time) any {
	if val == nil {
		return nil
	}
	return dateOnly(*val)
}
