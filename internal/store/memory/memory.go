package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"posdesk/backend/internal/domain"
	"posdesk/backend/internal/money"
	"posdesk/backend/internal/store"
	"posdesk/backend/internal/xid"
)

type sequences struct {
	Product     int64 `json:"product"`
	Customer    int64 `json:"customer"`
	Sale        int64 `json:"sale"`
	Item        int64 `json:"item"`
	Payment     int64 `json:"payment"`
	Installment int64 `json:"installment"`
}

// state is everything the store holds. Sales are kept as bare headers; the
// child collections are joined on read.
type state struct {
	Seq          sequences                    `json:"seq"`
	Products     map[int64]domain.Product     `json:"products"`
	Customers    map[int64]domain.Customer    `json:"customers"`
	Sales        map[int64]domain.Sale        `json:"sales"`
	Items        map[int64]domain.SaleItem    `json:"items"`
	Payments     map[int64]domain.Payment     `json:"payments"`
	Installments map[int64]domain.Installment `json:"installments"`
	AuditLogs    []domain.AuditLog            `json:"audit_logs"`
}

func newState() *state {
	return &state{
		Products:     make(map[int64]domain.Product),
		Customers:    make(map[int64]domain.Customer),
		Sales:        make(map[int64]domain.Sale),
		Items:        make(map[int64]domain.SaleItem),
		Payments:     make(map[int64]domain.Payment),
		Installments: make(map[int64]domain.Installment),
	}
}

func (st *state) clone() *state {
	return &state{
		Seq:          st.Seq,
		Products:     maps.Clone(st.Products),
		Customers:    maps.Clone(st.Customers),
		Sales:        maps.Clone(st.Sales),
		Items:        maps.Clone(st.Items),
		Payments:     maps.Clone(st.Payments),
		Installments: maps.Clone(st.Installments),
		AuditLogs:    slices.Clone(st.AuditLogs),
	}
}

// Store keeps the whole dataset in memory. Transactions run one at a time
// against a private copy that replaces the live state on success. When a
// snapshot path is set, Persist exports the committed state to that file.
type Store struct {
	mu           sync.RWMutex
	data         *state
	snapshotPath string
}

func New() *Store {
	return &Store{data: newState()}
}

// Open loads the snapshot at path, or seeds a fresh store when the file does
// not exist yet.
func Open(path string) (*Store, error) {
	payload, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		s := NewSeeded()
		s.snapshotPath = path
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	data := newState()
	if err := json.Unmarshal(payload, data); err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	data.Products = orEmpty(data.Products)
	data.Customers = orEmpty(data.Customers)
	data.Sales = orEmpty(data.Sales)
	data.Items = orEmpty(data.Items)
	data.Payments = orEmpty(data.Payments)
	data.Installments = orEmpty(data.Installments)
	return &Store{data: data, snapshotPath: path}, nil
}

func orEmpty[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return make(map[K]V)
	}
	return m
}

func NewSeeded() *Store {
	s := New()
	products := []domain.Product{
		{SKU: "PH-A15", Name: "Galaxy A15 128GB", Price: dec("250000"), CostPrice: dec("212500"), Stock: 12},
		{SKU: "PH-RN13", Name: "Redmi Note 13", Price: dec("310000"), CostPrice: dec("265000"), Stock: 8},
		{SKU: "TV-43", Name: "Smart TV 43in", Price: dec("475000"), CostPrice: dec("410000"), Stock: 5},
		{SKU: "AC-18", Name: "Split AC 18000 BTU", Price: dec("720000"), CostPrice: dec("615000"), Stock: 4},
		{SKU: "FR-12", Name: "Refrigerator 12ft", Price: dec("650000"), CostPrice: dec("560000"), Stock: 3},
		{SKU: "CH-USB", Name: "USB-C Charger 25W", Price: dec("15000"), CostPrice: dec("9000"), Stock: 60},
		{SKU: "CS-A15", Name: "Phone Case", Price: dec("5000"), CostPrice: dec("2250"), Stock: 100},
	}
	for _, p := range products {
		s.SeedProduct(p)
	}
	for _, c := range []domain.Customer{
		{Name: "Ahmed Karim", Phone: "07701234567"},
		{Name: "Sara Hassan", Phone: "07809876543"},
		{Name: "Walk-in Account", Phone: ""},
	} {
		s.SeedCustomer(c)
	}
	return s
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// SeedProduct inserts a catalog product outside any sale transaction.
func (s *Store) SeedProduct(p domain.Product) domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Seq.Product++
	p.ID = s.data.Seq.Product
	s.data.Products[p.ID] = p
	return p
}

func (s *Store) SeedCustomer(c domain.Customer) domain.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Seq.Customer++
	c.ID = s.data.Seq.Customer
	s.data.Customers[c.ID] = c
	return c
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	if err := fn(&memTx{st: work}); err != nil {
		return err
	}
	s.data = work
	return nil
}

func (s *Store) Persist(_ context.Context) error {
	if s.snapshotPath == "" {
		return nil
	}
	s.mu.RLock()
	payload, err := json.Marshal(s.data)
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.snapshotPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.snapshotPath)
}

func (s *Store) Close() error {
	return s.Persist(context.Background())
}

func (s *Store) GetSale(_ context.Context, id int64) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sale, ok := s.data.Sales[id]
	if !ok {
		return nil, store.NotFound("sale", id)
	}
	joined := s.data.assemble(sale)
	return &joined, nil
}

func (s *Store) FindSaleByInvoice(_ context.Context, invoiceNumber string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sale := range s.data.Sales {
		if sale.InvoiceNumber == invoiceNumber {
			joined := s.data.assemble(sale)
			return &joined, nil
		}
	}
	return nil, fmt.Errorf("%w: invoice %s", store.ErrNotFound, invoiceNumber)
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	currency := money.NormalizeCurrency(filter.Currency)
	result := make([]domain.Sale, 0, 32)
	for _, sale := range s.data.Sales {
		if filter.Status != "" && sale.Status != filter.Status {
			continue
		}
		if currency != "" && sale.Currency != currency {
			continue
		}
		if filter.CustomerID != nil && (sale.CustomerID == nil || *sale.CustomerID != *filter.CustomerID) {
			continue
		}
		if filter.From != nil && sale.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !sale.CreatedAt.Before(*filter.To) {
			continue
		}
		sale.Customer = s.data.customerOf(sale.CustomerID)
		result = append(result, sale)
	}
	slices.SortFunc(result, newestFirst)
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) ListReportSales(_ context.Context, filter domain.ReportFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	currency := money.NormalizeCurrency(filter.Currency)
	result := make([]domain.Sale, 0, 32)
	for _, sale := range s.data.Sales {
		if !sale.Status.Active() {
			continue
		}
		if currency != "" && sale.Currency != currency {
			continue
		}
		day := money.DateOf(sale.CreatedAt)
		if filter.StartDate != nil && day.Before(money.DateOf(*filter.StartDate)) {
			continue
		}
		if filter.EndDate != nil && day.After(money.DateOf(*filter.EndDate)) {
			continue
		}
		sale.Items = s.data.itemsOf(sale.ID)
		result = append(result, sale)
	}
	slices.SortFunc(result, newestFirst)
	return result, nil
}

func (s *Store) GetProductCosts(_ context.Context, productIDs []int64) (map[int64]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	costs := make(map[int64]decimal.Decimal, len(productIDs))
	for _, id := range productIDs {
		if p, ok := s.data.Products[id]; ok {
			costs[id] = p.CostPrice
		}
	}
	return costs, nil
}

func (s *Store) ListOverdueInstallments(_ context.Context, asOf time.Time, limit int) ([]domain.Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	overdue := s.data.overdue(asOf)
	if limit > 0 && len(overdue) > limit {
		overdue = overdue[:limit]
	}
	return overdue, nil
}

func (s *Store) CountOverdueInstallments(_ context.Context, asOf time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data.overdue(asOf)), nil
}

func (s *Store) ListDraftIDsBefore(_ context.Context, cutoff time.Time) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, 8)
	for id, sale := range s.data.Sales {
		if sale.Status == domain.SaleStatusDraft && sale.CreatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	products := slices.Collect(maps.Values(s.data.Products))
	slices.SortFunc(products, func(a, b domain.Product) int { return cmpInt64(a.ID, b.ID) })
	return products, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	customers := slices.Collect(maps.Values(s.data.Customers))
	slices.SortFunc(customers, func(a, b domain.Customer) int { return cmpInt64(a.ID, b.ID) })
	return customers, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.data.AuditLogs = append(s.data.AuditLogs, entry)
	s.mu.Unlock()
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, 0, limit)
	for i := len(s.data.AuditLogs) - 1; i >= 0 && len(logs) < limit; i-- {
		entry := s.data.AuditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		logs = append(logs, entry)
	}
	return logs, nil
}

func (st *state) assemble(sale domain.Sale) domain.Sale {
	sale.Items = st.itemsOf(sale.ID)
	sale.Payments = make([]domain.Payment, 0, 4)
	for _, p := range st.Payments {
		if p.SaleID == sale.ID {
			sale.Payments = append(sale.Payments, p)
		}
	}
	slices.SortFunc(sale.Payments, func(a, b domain.Payment) int { return cmpInt64(a.ID, b.ID) })
	sale.Installments = st.installmentsOf(sale.ID)
	sale.Customer = st.customerOf(sale.CustomerID)
	return sale
}

func (st *state) itemsOf(saleID int64) []domain.SaleItem {
	items := make([]domain.SaleItem, 0, 4)
	for _, item := range st.Items {
		if item.SaleID == saleID {
			items = append(items, item)
		}
	}
	slices.SortFunc(items, func(a, b domain.SaleItem) int { return cmpInt64(a.ID, b.ID) })
	return items
}

func (st *state) installmentsOf(saleID int64) []domain.Installment {
	installments := make([]domain.Installment, 0, 4)
	for _, inst := range st.Installments {
		if inst.SaleID == saleID {
			installments = append(installments, inst)
		}
	}
	slices.SortFunc(installments, func(a, b domain.Installment) int { return a.InstallmentNumber - b.InstallmentNumber })
	return installments
}

func (st *state) customerOf(id *int64) *domain.Customer {
	if id == nil {
		return nil
	}
	c, ok := st.Customers[*id]
	if !ok {
		return nil
	}
	return &c
}

func (st *state) overdue(asOf time.Time) []domain.Installment {
	today := money.DateOf(asOf)
	overdue := make([]domain.Installment, 0, 8)
	for _, inst := range st.Installments {
		if inst.Status == domain.InstallmentStatusPending && !money.DateOf(inst.DueDate).After(today) {
			overdue = append(overdue, inst)
		}
	}
	slices.SortFunc(overdue, func(a, b domain.Installment) int {
		if c := a.DueDate.Compare(b.DueDate); c != 0 {
			return c
		}
		return cmpInt64(a.ID, b.ID)
	})
	return overdue
}

func newestFirst(a, b domain.Sale) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return cmpInt64(b.ID, a.ID)
}

func cmpInt64(a int64, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
