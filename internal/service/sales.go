package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"posdesk/backend/internal/domain"
	"posdesk/backend/internal/ledger"
	"posdesk/backend/internal/money"
	"posdesk/backend/internal/store"
	"posdesk/backend/internal/xid"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
	DefaultDraftAge  = 24 * time.Hour
)

func (s *Service) CreateSale(ctx context.Context, req domain.CreateSaleRequest) (*domain.Sale, error) {
	return s.create(ctx, req, false)
}

// CreateDraft stores a sale without touching stock, customer balances or
// payments. Items may be empty.
func (s *Service) CreateDraft(ctx context.Context, req domain.CreateSaleRequest) (*domain.Sale, error) {
	return s.create(ctx, req, true)
}

func (s *Service) create(ctx context.Context, req domain.CreateSaleRequest, draft bool) (*domain.Sale, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	settings, err := s.settings.Defaults(ctx)
	if err != nil {
		return nil, err
	}

	operation := "create"
	if draft {
		operation = "create_draft"
	}

	var saleID int64
	err = s.mutate(ctx, operation, 0, func(tx store.Tx) error {
		now := s.now()
		invoice, err := s.newInvoiceNumber(ctx, tx, now)
		if err != nil {
			return err
		}
		sale := domain.Sale{InvoiceNumber: invoice, CreatedAt: now}
		if err := s.settle(ctx, tx, &sale, req, settings, draft); err != nil {
			return err
		}
		saleID = sale.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "sale."+operation, "sale", strconv.FormatInt(sale.ID, 10), saleDetail(sale))
	return sale, nil
}

// CompleteDraft turns a draft into a real sale using req as the new content.
// Every field req leaves at its zero value falls back to the draft's saved
// value, so an empty request completes the draft as saved.
func (s *Service) CompleteDraft(ctx context.Context, draftID int64, req domain.CreateSaleRequest) (*domain.Sale, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	settings, err := s.settings.Defaults(ctx)
	if err != nil {
		return nil, err
	}

	err = s.mutate(ctx, "complete_draft", draftID, func(tx store.Tx) error {
		sale, err := tx.LockSale(ctx, draftID)
		if err != nil {
			return err
		}
		if sale.Status != domain.SaleStatusDraft {
			return store.Invalid("status", fmt.Sprintf("only draft sales can be completed, sale is %s", sale.Status))
		}

		if len(req.Items) == 0 {
			stored, err := tx.ListSaleItems(ctx, draftID)
			if err != nil {
				return err
			}
			req.Items = inputsFromItems(stored)
		}
		if strings.TrimSpace(req.Currency) == "" {
			req.Currency = sale.Currency
		}
		if req.CustomerID == nil {
			req.CustomerID = sale.CustomerID
		}
		if req.Notes == "" {
			req.Notes = sale.Notes
		}
		if req.PaymentType == "" {
			req.PaymentType = sale.PaymentType
		}
		if !req.ExchangeRate.IsPositive() {
			req.ExchangeRate = sale.ExchangeRate
		}
		if req.Discount.IsZero() {
			req.Discount = sale.Discount
		}
		if req.Tax.IsZero() {
			req.Tax = sale.TaxRate
		}
		if req.InterestRate.IsZero() {
			req.InterestRate = sale.InterestRate
		}
		if req.InstallmentCount == 0 {
			req.InstallmentCount = sale.InstallmentCount
		}

		if err := tx.DeleteSaleItems(ctx, draftID); err != nil {
			return err
		}
		sale.CreatedAt = s.now()
		return s.settle(ctx, tx, sale, req, settings, false)
	})
	if err != nil {
		return nil, err
	}

	sale, err := s.repo.GetSale(ctx, draftID)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "sale.complete_draft", "sale", strconv.FormatInt(sale.ID, 10), saleDetail(sale))
	return sale, nil
}

// settle computes every figure of sale from req, stores the sale with its
// items and, unless draft, applies payment, schedule, stock and customer
// effects. A sale with a zero ID is inserted, otherwise updated.
func (s *Service) settle(ctx context.Context, tx store.Tx, sale *domain.Sale, req domain.CreateSaleRequest, settings domain.CurrencySettings, draft bool) error {
	currency := money.NormalizeCurrency(req.Currency)
	if currency == "" {
		currency = money.NormalizeCurrency(settings.DefaultCurrency)
	}
	if currency == "" {
		currency = domain.CurrencyIQD
	}
	paymentType := req.PaymentType
	if paymentType == "" {
		paymentType = domain.PaymentTypeCash
	}
	if req.InterestRate.IsNegative() {
		return store.Invalid("interest_rate", "must not be negative")
	}
	if req.PaidAmount.IsNegative() {
		return store.Invalid("paid_amount", "must not be negative")
	}
	if req.ExchangeRate.IsNegative() {
		return store.Invalid("exchange_rate", "must not be negative")
	}

	lines := make([]money.Line, 0, len(req.Items))
	names := make([]string, 0, len(req.Items))
	for _, in := range req.Items {
		product, err := tx.GetProduct(ctx, in.ProductID)
		if err != nil {
			return err
		}
		unitPrice := in.UnitPrice
		if !unitPrice.IsPositive() {
			unitPrice = product.Price
		}
		lines = append(lines, money.Line{Quantity: in.Quantity, UnitPrice: unitPrice, Discount: in.Discount})
		names = append(names, product.Name)
	}

	var (
		totals money.Totals
		err    error
	)
	if draft {
		totals, err = money.CalculateDraftTotals(lines, req.Discount, req.Tax)
	} else {
		totals, err = money.CalculateTotals(lines, req.Discount, req.Tax)
	}
	if err != nil {
		return err
	}

	interest := decimal.Zero
	if paymentType.Schedules() {
		interest = money.Interest(totals.Total, req.InterestRate, currency)
	}
	finalTotal := money.Round(totals.Total.Add(interest), currency)

	paid := decimal.Zero
	if !draft {
		paid = money.Round(req.PaidAmount, currency)
	}
	remaining := money.Collapse(finalTotal.Sub(paid), currency)

	var customer *domain.Customer
	if req.CustomerID != nil {
		customer, err = tx.GetCustomer(ctx, *req.CustomerID)
		if err != nil {
			return err
		}
	}

	scheduled := !draft && remaining.IsPositive() && paymentType.Schedules()
	if !draft && paymentType == domain.PaymentTypeInstallment && remaining.IsPositive() && customer == nil {
		return store.Invalid("customer_id", "is required for installment sales with a remaining balance")
	}
	if scheduled && req.InstallmentCount < 1 {
		return store.Invalid("installment_count", "must be at least 1 when a balance is scheduled")
	}

	status := domain.SaleStatusDraft
	if !draft {
		status = domain.SettledStatus(remaining.IsZero())
	}
	if sale.ID != 0 && sale.Status != status && !sale.Status.CanTransition(status) {
		return fmt.Errorf("%w: %w", store.ErrValidation, &domain.TransitionError{From: sale.Status, To: status})
	}

	sale.CustomerID = req.CustomerID
	sale.Subtotal = totals.Subtotal
	sale.Discount = totals.SaleDiscount
	sale.TaxRate = req.Tax
	sale.Tax = totals.Tax
	sale.InterestRate = req.InterestRate
	sale.InterestAmount = interest
	sale.Total = finalTotal
	sale.PaidAmount = paid
	sale.RemainingAmount = remaining
	sale.Currency = currency
	sale.ExchangeRate = s.exchangeRate(req.ExchangeRate, currency, settings)
	sale.PaymentType = paymentType
	// Drafts keep the requested plan so completion can schedule it.
	sale.InstallmentCount = 0
	if scheduled || draft {
		sale.InstallmentCount = req.InstallmentCount
	}
	sale.Status = status
	sale.Notes = strings.TrimSpace(req.Notes)
	sale.UpdatedAt = s.now()

	if sale.ID == 0 {
		id, err := tx.InsertSale(ctx, *sale)
		if err != nil {
			return err
		}
		sale.ID = id
	} else if err := tx.UpdateSale(ctx, *sale); err != nil {
		return err
	}

	stockLines := make([]ledger.StockLine, 0, len(lines))
	for i, line := range lines {
		item := domain.SaleItem{
			SaleID:      sale.ID,
			ProductID:   req.Items[i].ProductID,
			ProductName: names[i],
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			Discount:    line.LineDiscount(),
			Subtotal:    line.Subtotal(),
		}
		if _, err := tx.InsertSaleItem(ctx, item); err != nil {
			return err
		}
		stockLines = append(stockLines, ledger.StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	if draft {
		return nil
	}

	if err := s.stock.Consume(ctx, tx, stockLines); err != nil {
		return err
	}

	if paid.IsPositive() {
		method := strings.TrimSpace(req.PaymentMethod)
		if method == "" {
			method = domain.DefaultPaymentMethod
		}
		if _, err := tx.InsertPayment(ctx, domain.Payment{
			SaleID:       sale.ID,
			CustomerID:   sale.CustomerID,
			Amount:       paid,
			Currency:     currency,
			ExchangeRate: sale.ExchangeRate,
			Method:       method,
			Note:         "initial payment",
			CreatedAt:    sale.UpdatedAt,
		}); err != nil {
			return err
		}
	}

	if scheduled {
		schedule, err := money.BuildSchedule(remaining, req.InstallmentCount, currency, sale.CreatedAt)
		if err != nil {
			return err
		}
		for _, planned := range schedule {
			inst := domain.Installment{
				SaleID:            sale.ID,
				CustomerID:        sale.CustomerID,
				InstallmentNumber: planned.Number,
				Currency:          currency,
				DueAmount:         planned.DueAmount,
				PaidAmount:        decimal.Zero,
				RemainingAmount:   planned.DueAmount,
				DueDate:           planned.DueDate,
				Status:            domain.InstallmentStatusPending,
			}
			if planned.DueAmount.IsZero() {
				inst.Status = domain.InstallmentStatusPaid
			}
			if _, err := tx.InsertInstallment(ctx, inst); err != nil {
				return err
			}
		}
	}

	if customer != nil && remaining.IsPositive() {
		if err := s.debt.Charge(ctx, tx, sale.CustomerID, remaining, finalTotal); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) exchangeRate(requested decimal.Decimal, currency string, settings domain.CurrencySettings) decimal.Decimal {
	if requested.IsPositive() {
		return requested
	}
	switch currency {
	case domain.CurrencyUSD:
		if settings.USDRate.IsPositive() {
			return settings.USDRate
		}
	case domain.CurrencyIQD:
		if settings.IQDRate.IsPositive() {
			return settings.IQDRate
		}
	}
	return decimal.NewFromInt(1)
}

func (s *Service) newInvoiceNumber(ctx context.Context, tx store.Tx, now time.Time) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		invoice := xid.Invoice(now)
		exists, err := tx.InvoiceExists(ctx, invoice)
		if err != nil {
			return "", err
		}
		if !exists {
			return invoice, nil
		}
	}
	return "", fmt.Errorf("%w: could not allocate a unique invoice number", store.ErrConflict)
}

func (s *Service) AddPayment(ctx context.Context, saleID int64, req domain.AddPaymentRequest) (*domain.Sale, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}

	var applied decimal.Decimal
	err := s.mutate(ctx, "add_payment", saleID, func(tx store.Tx) error {
		sale, err := tx.LockSale(ctx, saleID)
		if err != nil {
			return err
		}
		switch sale.Status {
		case domain.SaleStatusCancelled:
			return store.Invalid("status", "cannot add a payment to a cancelled sale")
		case domain.SaleStatusDraft:
			return store.Invalid("status", "complete the draft before taking payments")
		}
		if !sale.RemainingAmount.IsPositive() {
			return store.Invalid("amount", "sale has no remaining balance")
		}
		if !req.Amount.IsPositive() {
			return store.Invalid("amount", "must be positive")
		}

		applied = money.Min(money.Round(req.Amount, sale.Currency), money.Round(sale.RemainingAmount, sale.Currency))

		method := strings.TrimSpace(req.Method)
		if method == "" {
			method = domain.DefaultPaymentMethod
		}
		currency := money.NormalizeCurrency(req.Currency)
		if currency == "" {
			currency = sale.Currency
		}
		rate := req.ExchangeRate
		if !rate.IsPositive() {
			rate = sale.ExchangeRate
		}
		now := s.now()
		if _, err := tx.InsertPayment(ctx, domain.Payment{
			SaleID:       sale.ID,
			CustomerID:   sale.CustomerID,
			Amount:       applied,
			Currency:     currency,
			ExchangeRate: rate,
			Method:       method,
			Note:         strings.TrimSpace(req.Note),
			CreatedAt:    now,
		}); err != nil {
			return err
		}

		sale.PaidAmount = money.Round(sale.PaidAmount.Add(applied), sale.Currency)
		sale.RemainingAmount = money.Collapse(sale.RemainingAmount.Sub(applied), sale.Currency)
		next := domain.SettledStatus(sale.RemainingAmount.IsZero())
		if !sale.Status.CanTransition(next) {
			return fmt.Errorf("%w: %w", store.ErrValidation, &domain.TransitionError{From: sale.Status, To: next})
		}
		sale.Status = next
		sale.UpdatedAt = now
		if err := tx.UpdateSale(ctx, *sale); err != nil {
			return err
		}

		if err := s.debt.Settle(ctx, tx, sale.CustomerID, applied); err != nil {
			return err
		}
		return s.allocate(ctx, tx, sale.ID, applied, now)
	})
	if err != nil {
		return nil, err
	}

	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "sale.add_payment", "sale", strconv.FormatInt(saleID, 10), fmt.Sprintf("amount=%s %s", applied, sale.Currency))
	return sale, nil
}

// allocate spreads amount over open installments, lowest number first.
func (s *Service) allocate(ctx context.Context, tx store.Tx, saleID int64, amount decimal.Decimal, at time.Time) error {
	installments, err := tx.ListInstallments(ctx, saleID)
	if err != nil {
		return err
	}
	pool := amount
	for _, inst := range installments {
		if !pool.IsPositive() {
			break
		}
		if inst.Status != domain.InstallmentStatusPending {
			continue
		}
		portion := money.Min(pool, inst.RemainingAmount)
		inst.PaidAmount = inst.PaidAmount.Add(portion)
		inst.RemainingAmount = inst.RemainingAmount.Sub(portion)
		pool = pool.Sub(portion)
		if !inst.RemainingAmount.IsPositive() {
			inst.RemainingAmount = decimal.Zero
			inst.Status = domain.InstallmentStatusPaid
			paidDate := money.DateOf(at)
			inst.PaidDate = &paidDate
		}
		if err := tx.UpdateInstallment(ctx, inst); err != nil {
			return err
		}
	}
	return nil
}

// RemovePayment withdraws a payment and reopens its amount on the sale and
// the customer. Installment allocations made by the payment stay as they are.
func (s *Service) RemovePayment(ctx context.Context, saleID int64, paymentID int64) (*domain.Sale, error) {
	var (
		removed   decimal.Decimal
		allocated bool
	)
	err := s.mutate(ctx, "remove_payment", saleID, func(tx store.Tx) error {
		sale, err := tx.LockSale(ctx, saleID)
		if err != nil {
			return err
		}
		payment, err := tx.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if payment.SaleID != saleID {
			return store.NotFound("payment", paymentID)
		}
		if !sale.Status.Active() {
			return store.Invalid("status", fmt.Sprintf("payments cannot be removed from a %s sale", sale.Status))
		}

		if err := tx.DeletePayment(ctx, paymentID); err != nil {
			return err
		}
		removed = payment.Amount
		sale.RemainingAmount = money.Round(sale.RemainingAmount.Add(payment.Amount), sale.Currency)
		sale.PaidAmount = money.Max(decimal.Zero, sale.PaidAmount.Sub(payment.Amount))
		sale.Status = domain.SaleStatusPending
		sale.UpdatedAt = s.now()
		if err := tx.UpdateSale(ctx, *sale); err != nil {
			return err
		}
		if err := s.debt.Reopen(ctx, tx, sale.CustomerID, payment.Amount); err != nil {
			return err
		}

		installments, err := tx.ListInstallments(ctx, saleID)
		if err != nil {
			return err
		}
		for _, inst := range installments {
			if inst.PaidAmount.IsPositive() {
				allocated = true
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	detail := fmt.Sprintf("payment=%d amount=%s", paymentID, removed)
	if allocated {
		s.logger.Warn("payment removed from a sale with allocated installments; allocation left unchanged",
			slog.Int64("sale_id", saleID), slog.Int64("payment_id", paymentID), slog.String("amount", removed.String()))
		detail += " installment_allocation=unchanged"
	}
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "sale.remove_payment", "sale", strconv.FormatInt(saleID, 10), detail)
	return sale, nil
}

func (s *Service) CancelSale(ctx context.Context, saleID int64) (*domain.Sale, error) {
	err := s.mutate(ctx, "cancel", saleID, func(tx store.Tx) error {
		sale, err := tx.LockSale(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.Status == domain.SaleStatusCancelled {
			return store.Invalid("status", "sale is already cancelled")
		}
		if !sale.Status.CanTransition(domain.SaleStatusCancelled) {
			return fmt.Errorf("%w: %w", store.ErrValidation, &domain.TransitionError{From: sale.Status, To: domain.SaleStatusCancelled})
		}

		items, err := tx.ListSaleItems(ctx, saleID)
		if err != nil {
			return err
		}
		if err := s.stock.Release(ctx, tx, ledger.LinesOf(items)); err != nil {
			return err
		}
		if sale.RemainingAmount.IsPositive() {
			if err := s.debt.Reverse(ctx, tx, sale.CustomerID, sale.RemainingAmount, sale.Total); err != nil {
				return err
			}
		}
		if err := s.setInstallmentStatus(ctx, tx, saleID, domain.InstallmentStatusPending, domain.InstallmentStatusCancelled); err != nil {
			return err
		}

		sale.Status = domain.SaleStatusCancelled
		sale.UpdatedAt = s.now()
		return tx.UpdateSale(ctx, *sale)
	})
	if err != nil {
		return nil, err
	}

	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "sale.cancel", "sale", strconv.FormatInt(saleID, 10), saleDetail(sale))
	return sale, nil
}

// RestoreSale re-applies everything CancelSale undid.
func (s *Service) RestoreSale(ctx context.Context, saleID int64) (*domain.Sale, error) {
	err := s.mutate(ctx, "restore", saleID, func(tx store.Tx) error {
		sale, err := tx.LockSale(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.Status != domain.SaleStatusCancelled {
			return store.Invalid("status", fmt.Sprintf("only cancelled sales can be restored, sale is %s", sale.Status))
		}

		items, err := tx.ListSaleItems(ctx, saleID)
		if err != nil {
			return err
		}
		if err := s.stock.Reclaim(ctx, tx, ledger.LinesOf(items)); err != nil {
			return err
		}
		if sale.RemainingAmount.IsPositive() {
			if err := s.debt.Charge(ctx, tx, sale.CustomerID, sale.RemainingAmount, sale.Total); err != nil {
				return err
			}
		}
		if err := s.setInstallmentStatus(ctx, tx, saleID, domain.InstallmentStatusCancelled, domain.InstallmentStatusPending); err != nil {
			return err
		}

		sale.Status = domain.SettledStatus(!sale.RemainingAmount.IsPositive())
		sale.UpdatedAt = s.now()
		return tx.UpdateSale(ctx, *sale)
	})
	if err != nil {
		return nil, err
	}

	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "sale.restore", "sale", strconv.FormatInt(saleID, 10), saleDetail(sale))
	return sale, nil
}

func (s *Service) setInstallmentStatus(ctx context.Context, tx store.Tx, saleID int64, from domain.InstallmentStatus, to domain.InstallmentStatus) error {
	installments, err := tx.ListInstallments(ctx, saleID)
	if err != nil {
		return err
	}
	for _, inst := range installments {
		if inst.Status != from {
			continue
		}
		inst.Status = to
		if err := tx.UpdateInstallment(ctx, inst); err != nil {
			return err
		}
	}
	return nil
}

// RemoveSale deletes a sale and everything it owns. Stock and customer
// balances are left alone; cancel first to reverse them.
func (s *Service) RemoveSale(ctx context.Context, saleID int64) error {
	var invoice string
	err := s.mutate(ctx, "remove", saleID, func(tx store.Tx) error {
		sale, err := tx.LockSale(ctx, saleID)
		if err != nil {
			return err
		}
		invoice = sale.InvoiceNumber
		return purge(ctx, tx, saleID)
	})
	if err != nil {
		return err
	}
	s.logAudit(ctx, "sale.remove", "sale", strconv.FormatInt(saleID, 10), "invoice="+invoice)
	return nil
}

func purge(ctx context.Context, tx store.Tx, saleID int64) error {
	if err := tx.DeletePayments(ctx, saleID); err != nil {
		return err
	}
	if err := tx.DeleteInstallments(ctx, saleID); err != nil {
		return err
	}
	if err := tx.DeleteSaleItems(ctx, saleID); err != nil {
		return err
	}
	return tx.DeleteSale(ctx, saleID)
}

// DeleteOldDrafts removes drafts created more than maxAge ago and returns how
// many were deleted. A non-positive maxAge means 24 hours.
func (s *Service) DeleteOldDrafts(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = DefaultDraftAge
	}
	cutoff := s.now().Add(-maxAge)
	ids, err := s.repo.ListDraftIDsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, id := range ids {
		removed := false
		err := s.mutate(ctx, "delete_old_draft", id, func(tx store.Tx) error {
			sale, err := tx.LockSale(ctx, id)
			if err != nil {
				return err
			}
			// Completed or refreshed since the listing.
			if sale.Status != domain.SaleStatusDraft || !sale.CreatedAt.Before(cutoff) {
				return nil
			}
			removed = true
			return purge(ctx, tx, id)
		})
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return deleted, err
		}
		if removed {
			deleted++
		}
	}
	if deleted > 0 {
		s.logAudit(ctx, "sale.delete_old_drafts", "sale", "drafts", fmt.Sprintf("deleted=%d cutoff=%s", deleted, cutoff.Format(time.RFC3339)))
	}
	return deleted, nil
}

func (s *Service) GetSale(ctx context.Context, saleID int64) (*domain.Sale, error) {
	return s.repo.GetSale(ctx, saleID)
}

func (s *Service) FindSaleByInvoice(ctx context.Context, invoiceNumber string) (*domain.Sale, error) {
	invoiceNumber = strings.TrimSpace(invoiceNumber)
	if invoiceNumber == "" {
		return nil, store.Invalid("invoice_number", "is required")
	}
	return s.repo.FindSaleByInvoice(ctx, invoiceNumber)
}

func (s *Service) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, store.Invalid("status", "is not a sale status")
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	return s.repo.ListSales(ctx, filter)
}

func (s *Service) ListOverdueInstallments(ctx context.Context, limit int) ([]domain.Installment, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.repo.ListOverdueInstallments(ctx, s.now(), limit)
}

func inputsFromItems(items []domain.SaleItem) []domain.SaleItemInput {
	inputs := make([]domain.SaleItemInput, 0, len(items))
	for _, item := range items {
		perUnit := decimal.Zero
		if item.Quantity > 0 {
			perUnit = item.Discount.Div(decimal.NewFromInt(int64(item.Quantity)))
		}
		inputs = append(inputs, domain.SaleItemInput{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Discount:  perUnit,
		})
	}
	return inputs
}

func saleDetail(sale *domain.Sale) string {
	return fmt.Sprintf("invoice=%s status=%s total=%s %s remaining=%s",
		sale.InvoiceNumber, sale.Status, sale.Total, sale.Currency, sale.RemainingAmount)
}
