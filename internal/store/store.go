package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"posdesk/backend/internal/domain"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	// ErrConflict is reserved for uniqueness and concurrent-modification failures.
	ErrConflict = errors.New("conflict")

	ErrInsufficientStock = fmt.Errorf("%w: insufficient stock", ErrValidation)
)

// ValidationError names the offending field and unwraps to ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func Invalid(field string, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func NotFound(entity string, id int64) error {
	return fmt.Errorf("%w: %s %d", ErrNotFound, entity, id)
}

// Tx is the unit of work every sale transition runs in. All writes made
// through a Tx commit together or not at all.
type Tx interface {
	GetSale(ctx context.Context, id int64) (*domain.Sale, error)
	// LockSale loads the sale header and holds it against concurrent writers
	// until the transaction ends.
	LockSale(ctx context.Context, id int64) (*domain.Sale, error)
	InsertSale(ctx context.Context, sale domain.Sale) (int64, error)
	UpdateSale(ctx context.Context, sale domain.Sale) error
	DeleteSale(ctx context.Context, id int64) error

	ListSaleItems(ctx context.Context, saleID int64) ([]domain.SaleItem, error)
	InsertSaleItem(ctx context.Context, item domain.SaleItem) (int64, error)
	DeleteSaleItems(ctx context.Context, saleID int64) error

	GetPayment(ctx context.Context, id int64) (*domain.Payment, error)
	InsertPayment(ctx context.Context, payment domain.Payment) (int64, error)
	DeletePayment(ctx context.Context, id int64) error
	DeletePayments(ctx context.Context, saleID int64) error

	ListInstallments(ctx context.Context, saleID int64) ([]domain.Installment, error)
	InsertInstallment(ctx context.Context, installment domain.Installment) (int64, error)
	UpdateInstallment(ctx context.Context, installment domain.Installment) error
	DeleteInstallments(ctx context.Context, saleID int64) error

	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	// AdjustStock adds delta to the product stock. With guard set, a result
	// below zero fails with ErrInsufficientStock and nothing changes.
	AdjustStock(ctx context.Context, productID int64, delta int, guard bool) error

	GetCustomer(ctx context.Context, id int64) (*domain.Customer, error)
	// AdjustCustomerAggregates adds both deltas, flooring each aggregate at zero.
	AdjustCustomerAggregates(ctx context.Context, customerID int64, debtDelta decimal.Decimal, purchasesDelta decimal.Decimal) error

	InvoiceExists(ctx context.Context, invoiceNumber string) (bool, error)
}

type Repository interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	// Persist flushes committed state to durable storage.
	Persist(ctx context.Context) error

	GetSale(ctx context.Context, id int64) (*domain.Sale, error)
	FindSaleByInvoice(ctx context.Context, invoiceNumber string) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)
	ListReportSales(ctx context.Context, filter domain.ReportFilter) ([]domain.Sale, error)
	GetProductCosts(ctx context.Context, productIDs []int64) (map[int64]decimal.Decimal, error)
	ListOverdueInstallments(ctx context.Context, asOf time.Time, limit int) ([]domain.Installment, error)
	CountOverdueInstallments(ctx context.Context, asOf time.Time) (int, error)
	ListDraftIDsBefore(ctx context.Context, cutoff time.Time) ([]int64, error)

	ListProducts(ctx context.Context) ([]domain.Product, error)
	ListCustomers(ctx context.Context) ([]domain.Customer, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	Close() error
}
