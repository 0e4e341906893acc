package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	migrate "github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"posdesk/backend/internal/domain"
	"posdesk/backend/internal/store"
	"posdesk/backend/internal/xid"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Migrate applies the embedded schema migrations. It uses its own connection
// because the migrate driver closes the database it is given.
func Migrate(databaseURL string) (applied bool, err error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return false, err
	}

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		_ = db.Close()
		return false, fmt.Errorf("migration driver: %w", err)
	}
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		_ = driver.Close()
		return false, fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		_ = driver.Close()
		return false, fmt.Errorf("migrate: %w", err)
	}
	defer func() {
		sourceErr, dbErr := m.Close()
		if err == nil {
			err = errors.Join(sourceErr, dbErr)
		}
	}()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// WithinTx runs fn in a serializable transaction. Serialization failures are
// reported as conflicts so the caller can retry.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		return mapError(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return mapError(err)
	}
	return nil
}

// Persist is a no-op: every committed transaction is already durable.
func (s *Store) Persist(_ context.Context) error {
	return nil
}

func (s *Store) GetSale(ctx context.Context, id int64) (*domain.Sale, error) {
	return loadSale(ctx, s.db, id)
}

func (s *Store) FindSaleByInvoice(ctx context.Context, invoiceNumber string) (*domain.Sale, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM sales WHERE invoice_number = $1`, invoiceNumber).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: invoice %s", store.ErrNotFound, invoiceNumber)
		}
		return nil, err
	}
	return loadSale(ctx, s.db, id)
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	where := make([]string, 0, 5)
	args := make([]any, 0, 6)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Status != "" {
		add("s.status = $%d", string(filter.Status))
	}
	if filter.Currency != "" {
		add("s.currency = $%d", strings.ToUpper(strings.TrimSpace(filter.Currency)))
	}
	if filter.CustomerID != nil {
		add("s.customer_id = $%d", *filter.CustomerID)
	}
	if filter.From != nil {
		add("s.created_at >= $%d", filter.From.UTC())
	}
	if filter.To != nil {
		add("s.created_at < $%d", filter.To.UTC())
	}

	query := `
		SELECT ` + saleColumns("s") + `, c.id, c.name, c.phone, c.total_debt, c.total_purchases
		FROM sales s
		LEFT JOIN customers c ON c.id = s.customer_id`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY s.created_at DESC, s.id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf("\n\t\tLIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 32)
	for rows.Next() {
		var (
			sale     domain.Sale
			customer nullableCustomer
		)
		dest := append(saleDest(&sale), customer.dest()...)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		normalizeSale(&sale)
		sale.Customer = customer.value()
		sales = append(sales, sale)
	}
	return sales, rows.Err()
}

func (s *Store) ListReportSales(ctx context.Context, filter domain.ReportFilter) ([]domain.Sale, error) {
	where := []string{"status IN ('pending', 'completed')"}
	args := make([]any, 0, 3)
	if filter.Currency != "" {
		args = append(args, strings.ToUpper(strings.TrimSpace(filter.Currency)))
		where = append(where, fmt.Sprintf("currency = $%d", len(args)))
	}
	if filter.StartDate != nil {
		args = append(args, dateOnly(*filter.StartDate))
		where = append(where, fmt.Sprintf("(created_at AT TIME ZONE 'UTC')::date >= $%d::date", len(args)))
	}
	if filter.EndDate != nil {
		args = append(args, dateOnly(*filter.EndDate))
		where = append(where, fmt.Sprintf("(created_at AT TIME ZONE 'UTC')::date <= $%d::date", len(args)))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns("sales")+`
		FROM sales
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY created_at DESC, id DESC
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	index := make(map[int64]int)
	ids := make([]int64, 0, 64)
	for rows.Next() {
		var sale domain.Sale
		if err := rows.Scan(saleDest(&sale)...); err != nil {
			return nil, err
		}
		normalizeSale(&sale)
		index[sale.ID] = len(sales)
		ids = append(ids, sale.ID)
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return sales, nil
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY id
	`, ids)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()
	for itemRows.Next() {
		item, err := scanItem(itemRows)
		if err != nil {
			return nil, err
		}
		i := index[item.SaleID]
		sales[i].Items = append(sales[i].Items, item)
	}
	return sales, itemRows.Err()
}

func (s *Store) GetProductCosts(ctx context.Context, productIDs []int64) (map[int64]decimal.Decimal, error) {
	costs := make(map[int64]decimal.Decimal, len(productIDs))
	if len(productIDs) == 0 {
		return costs, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, cost_price FROM products WHERE id = ANY($1)`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id   int64
			cost decimal.Decimal
		)
		if err := rows.Scan(&id, &cost); err != nil {
			return nil, err
		}
		costs[id] = cost
	}
	return costs, rows.Err()
}

func (s *Store) ListOverdueInstallments(ctx context.Context, asOf time.Time, limit int) ([]domain.Installment, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+installmentColumns+`
		FROM installments
		WHERE status = 'pending' AND due_date <= $1::date
		ORDER BY due_date, id
		LIMIT $2
	`, dateOnly(asOf), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	installments := make([]domain.Installment, 0, limit)
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, err
		}
		installments = append(installments, inst)
	}
	return installments, rows.Err()
}

func (s *Store) CountOverdueInstallments(ctx context.Context, asOf time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM installments WHERE status = 'pending' AND due_date <= $1::date
	`, dateOnly(asOf)).Scan(&count)
	return count, err
}

func (s *Store) ListDraftIDsBefore(ctx context.Context, cutoff time.Time) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM sales WHERE status = 'draft' AND created_at < $1 ORDER BY id
	`, cutoff.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int64, 0, 8)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, name, price, cost_price, stock
		FROM products
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Price, &p.CostPrice, &p.Stock); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, total_debt, total_purchases
		FROM customers
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.TotalDebt, &c.TotalPurchases); err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadSale(ctx context.Context, q querier, id int64) (*domain.Sale, error) {
	var (
		sale     domain.Sale
		customer nullableCustomer
	)
	dest := append(saleDest(&sale), customer.dest()...)
	err := q.QueryRowContext(ctx, `
		SELECT `+saleColumns("s")+`, c.id, c.name, c.phone, c.total_debt, c.total_purchases
		FROM sales s
		LEFT JOIN customers c ON c.id = s.customer_id
		WHERE s.id = $1
	`, id).Scan(dest...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("sale", id)
		}
		return nil, err
	}
	normalizeSale(&sale)
	sale.Customer = customer.value()

	if sale.Items, err = listItems(ctx, q, id); err != nil {
		return nil, err
	}
	if sale.Payments, err = listPayments(ctx, q, id); err != nil {
		return nil, err
	}
	if sale.Installments, err = listInstallments(ctx, q, id); err != nil {
		return nil, err
	}
	return &sale, nil
}

func listItems(ctx context.Context, q querier, saleID int64) ([]domain.SaleItem, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+itemColumns+` FROM sale_items WHERE sale_id = $1 ORDER BY id`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.SaleItem, 0, 4)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func listPayments(ctx context.Context, q querier, saleID int64) ([]domain.Payment, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE sale_id = $1
		ORDER BY id
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, 4)
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(&p.ID, &p.SaleID, &p.CustomerID, &p.Amount, &p.Currency, &p.ExchangeRate, &p.Method, &p.Note, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func listInstallments(ctx context.Context, q querier, saleID int64) ([]domain.Installment, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+installmentColumns+`
		FROM installments
		WHERE sale_id = $1
		ORDER BY installment_number
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	installments := make([]domain.Installment, 0, 12)
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, err
		}
		installments = append(installments, inst)
	}
	return installments, rows.Err()
}

const (
	itemColumns        = `id, sale_id, product_id, product_name, quantity, unit_price, discount, subtotal`
	paymentColumns     = `id, sale_id, customer_id, amount, currency, exchange_rate, method, note, created_at`
	installmentColumns = `id, sale_id, customer_id, installment_number, currency, due_amount, paid_amount, remaining_amount, due_date, paid_date, status, notes`
)

func saleColumns(alias string) string {
	cols := []string{
		"id", "invoice_number", "customer_id", "subtotal", "discount", "tax_rate", "tax",
		"interest_rate", "interest_amount", "total", "paid_amount", "remaining_amount",
		"currency", "exchange_rate", "payment_type", "installment_count", "status", "notes",
		"created_at", "updated_at",
	}
	for i, col := range cols {
		cols[i] = alias + "." + col
	}
	return strings.Join(cols, ", ")
}

func saleDest(sale *domain.Sale) []any {
	return []any{
		&sale.ID, &sale.InvoiceNumber, &sale.CustomerID, &sale.Subtotal, &sale.Discount, &sale.TaxRate, &sale.Tax,
		&sale.InterestRate, &sale.InterestAmount, &sale.Total, &sale.PaidAmount, &sale.RemainingAmount,
		&sale.Currency, &sale.ExchangeRate, &sale.PaymentType, &sale.InstallmentCount, &sale.Status, &sale.Notes,
		&sale.CreatedAt, &sale.UpdatedAt,
	}
}

func normalizeSale(sale *domain.Sale) {
	sale.CreatedAt = sale.CreatedAt.UTC()
	sale.UpdatedAt = sale.UpdatedAt.UTC()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (domain.SaleItem, error) {
	var item domain.SaleItem
	err := row.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice, &item.Discount, &item.Subtotal)
	return item, err
}

func scanInstallment(row rowScanner) (domain.Installment, error) {
	var (
		inst     domain.Installment
		paidDate sql.NullTime
	)
	if err := row.Scan(&inst.ID, &inst.SaleID, &inst.CustomerID, &inst.InstallmentNumber, &inst.Currency,
		&inst.DueAmount, &inst.PaidAmount, &inst.RemainingAmount, &inst.DueDate, &paidDate, &inst.Status, &inst.Notes); err != nil {
		return inst, err
	}
	inst.DueDate = dateOnly(inst.DueDate)
	if paidDate.Valid {
		day := dateOnly(paidDate.Time)
		inst.PaidDate = &day
	}
	return inst, nil
}

// nullableCustomer receives the LEFT JOINed customer columns of a sale row.
type nullableCustomer struct {
	id        sql.NullInt64
	name      sql.NullString
	phone     sql.NullString
	debt      decimal.NullDecimal
	purchases decimal.NullDecimal
}

func (c *nullableCustomer) dest() []any {
	return []any{&c.id, &c.name, &c.phone, &c.debt, &c.purchases}
}

func (c *nullableCustomer) value() *domain.Customer {
	if !c.id.Valid {
		return nil
	}
	return &domain.Customer{
		ID:             c.id.Int64,
		Name:           c.name.String,
		Phone:          c.phone.String,
		TotalDebt:      c.debt.Decimal,
		TotalPurchases: c.purchases.Decimal,
	}
}

func dateOnly(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func mapError(err error) error {
	switch {
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	case isSerializationFailure(err):
		return fmt.Errorf("%w: concurrent update, retry: %v", store.ErrConflict, err)
	default:
		return err
	}
}
