package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type SaleStatus string

const (
	SaleStatusDraft     SaleStatus = "draft"
	SaleStatusPending   SaleStatus = "pending"
	SaleStatusCompleted SaleStatus = "completed"
	SaleStatusCancelled SaleStatus = "cancelled"
)

type PaymentType string

const (
	PaymentTypeCash        PaymentType = "cash"
	PaymentTypeInstallment PaymentType = "installment"
	PaymentTypeMixed       PaymentType = "mixed"
)

// Schedules reports whether the payment type spreads a residual balance over installments.
func (p PaymentType) Schedules() bool {
	return p == PaymentTypeInstallment || p == PaymentTypeMixed
}

type InstallmentStatus string

const (
	InstallmentStatusPending   InstallmentStatus = "pending"
	InstallmentStatusPaid      InstallmentStatus = "paid"
	InstallmentStatusCancelled InstallmentStatus = "cancelled"
)

const (
	CurrencyIQD = "IQD"
	CurrencyUSD = "USD"

	DefaultPaymentMethod = "cash"
)

type Product struct {
	ID        int64           `json:"id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	CostPrice decimal.Decimal `json:"cost_price"`
	Stock     int             `json:"stock"`
}

type Customer struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	Phone          string          `json:"phone,omitempty"`
	TotalDebt      decimal.Decimal `json:"total_debt"`
	TotalPurchases decimal.Decimal `json:"total_purchases"`
}

type Sale struct {
	ID               int64           `json:"id"`
	InvoiceNumber    string          `json:"invoice_number"`
	CustomerID       *int64          `json:"customer_id,omitempty"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	Discount         decimal.Decimal `json:"discount"`
	TaxRate          decimal.Decimal `json:"tax_rate"`
	Tax              decimal.Decimal `json:"tax"`
	InterestRate     decimal.Decimal `json:"interest_rate"`
	InterestAmount   decimal.Decimal `json:"interest_amount"`
	Total            decimal.Decimal `json:"total"`
	PaidAmount       decimal.Decimal `json:"paid_amount"`
	RemainingAmount  decimal.Decimal `json:"remaining_amount"`
	Currency         string          `json:"currency"`
	ExchangeRate     decimal.Decimal `json:"exchange_rate"`
	PaymentType      PaymentType     `json:"payment_type"`
	InstallmentCount int             `json:"installment_count"`
	Status           SaleStatus      `json:"status"`
	Notes            string          `json:"notes,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`

	Items        []SaleItem    `json:"items,omitempty"`
	Payments     []Payment     `json:"payments,omitempty"`
	Installments []Installment `json:"installments,omitempty"`
	Customer     *Customer     `json:"customer,omitempty"`
}

// SaleItem.Discount holds the line total discount (per-unit discount times quantity).
type SaleItem struct {
	ID          int64           `json:"id"`
	SaleID      int64           `json:"sale_id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Discount    decimal.Decimal `json:"discount"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

type Payment struct {
	ID           int64           `json:"id"`
	SaleID       int64           `json:"sale_id"`
	CustomerID   *int64          `json:"customer_id,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
	Method       string          `json:"method"`
	Note         string          `json:"note,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type Installment struct {
	ID                int64             `json:"id"`
	SaleID            int64             `json:"sale_id"`
	CustomerID        *int64            `json:"customer_id,omitempty"`
	InstallmentNumber int               `json:"installment_number"`
	Currency          string            `json:"currency"`
	DueAmount         decimal.Decimal   `json:"due_amount"`
	PaidAmount        decimal.Decimal   `json:"paid_amount"`
	RemainingAmount   decimal.Decimal   `json:"remaining_amount"`
	DueDate           time.Time         `json:"due_date"`
	PaidDate          *time.Time        `json:"paid_date,omitempty"`
	Status            InstallmentStatus `json:"status"`
	Notes             string            `json:"notes,omitempty"`
}

type SaleItemInput struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Quantity  int             `json:"quantity" validate:"required,gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	// Discount is per unit.
	Discount decimal.Decimal `json:"discount"`
}

type CreateSaleRequest struct {
	Items            []SaleItemInput `json:"items" validate:"dive"`
	Discount         decimal.Decimal `json:"discount"`
	Tax              decimal.Decimal `json:"tax"`
	PaymentType      PaymentType     `json:"payment_type" validate:"omitempty,oneof=cash installment mixed"`
	PaymentMethod    string          `json:"payment_method,omitempty" validate:"max=32"`
	Currency         string          `json:"currency,omitempty" validate:"omitempty,len=3,alpha"`
	ExchangeRate     decimal.Decimal `json:"exchange_rate"`
	PaidAmount       decimal.Decimal `json:"paid_amount"`
	InterestRate     decimal.Decimal `json:"interest_rate"`
	InstallmentCount int             `json:"installment_count" validate:"gte=0,lte=120"`
	CustomerID       *int64          `json:"customer_id,omitempty"`
	Notes            string          `json:"notes,omitempty" validate:"max=1000"`
}

type AddPaymentRequest struct {
	Amount       decimal.Decimal `json:"amount"`
	Method       string          `json:"method,omitempty" validate:"max=32"`
	Currency     string          `json:"currency,omitempty" validate:"omitempty,len=3,alpha"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
	Note         string          `json:"note,omitempty" validate:"max=500"`
}

type SaleFilter struct {
	Status     SaleStatus
	Currency   string
	CustomerID *int64
	From       *time.Time
	To         *time.Time
	Limit      int
}

// ReportFilter bounds are inclusive calendar dates (UTC).
type ReportFilter struct {
	StartDate *time.Time
	EndDate   *time.Time
	Currency  string
}

type CurrencySummary struct {
	Currency       string              `json:"currency"`
	SalesCount     int                 `json:"sales_count"`
	TotalSales     decimal.Decimal     `json:"total_sales"`
	TotalPaid      decimal.Decimal     `json:"total_paid"`
	TotalRemaining decimal.Decimal     `json:"total_remaining"`
	TotalDiscount  decimal.Decimal     `json:"total_discount"`
	TotalInterest  decimal.Decimal     `json:"total_interest"`
	Revenue        decimal.Decimal     `json:"revenue"`
	Profit         decimal.Decimal     `json:"profit"`
	ByPaymentType  map[PaymentType]int `json:"by_payment_type"`
	ByStatus       map[SaleStatus]int  `json:"by_status"`
}

type SalesReport struct {
	StartDate           string            `json:"start_date,omitempty"`
	EndDate             string            `json:"end_date,omitempty"`
	Currency            string            `json:"currency,omitempty"`
	Currencies          []CurrencySummary `json:"currencies"`
	OverdueInstallments int               `json:"overdue_installments"`
	GeneratedAt         time.Time         `json:"generated_at"`
}

type CurrencySettings struct {
	DefaultCurrency string          `json:"default_currency"`
	USDRate         decimal.Decimal `json:"usd_rate"`
	IQDRate         decimal.Decimal `json:"iqd_rate"`
}

type Actor struct {
	Username string
	Role     string
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
