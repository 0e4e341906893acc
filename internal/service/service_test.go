package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posdesk/backend/internal/cache"
	"posdesk/backend/internal/domain"
	"posdesk/backend/internal/money"
	"posdesk/backend/internal/store"
	"posdesk/backend/internal/store/memory"
)

var fixedNow = time.Date(2026, time.March, 10, 9, 30, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.NewSeeded()
	svc := New(repo, Options{Clock: func() time.Time { return fixedNow }})
	return svc, repo
}

func ptr[T any](v T) *T {
	return &v
}

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func stockOf(t *testing.T, svc *Service, productID int64) int {
	t.Helper()
	products, err := svc.ListProducts(context.Background())
	require.NoError(t, err)
	for _, p := range products {
		if p.ID == productID {
			return p.Stock
		}
	}
	t.Fatalf("product %d not found", productID)
	return 0
}

func customerOf(t *testing.T, svc *Service, customerID int64) domain.Customer {
	t.Helper()
	customers, err := svc.ListCustomers(context.Background())
	require.NoError(t, err)
	for _, c := range customers {
		if c.ID == customerID {
			return c
		}
	}
	t.Fatalf("customer %d not found", customerID)
	return domain.Customer{}
}

func TestCreateSaleFullyPaidCompletes(t *testing.T) {
	svc, _ := newTestService(t)

	sale, err := svc.CreateSale(context.Background(), domain.CreateSaleRequest{
		Items:      []domain.SaleItemInput{{ProductID: 1, Quantity: 1, UnitPrice: d("950"), Discount: d("50")}},
		Currency:   "usd",
		PaidAmount: d("900"),
	})
	require.NoError(t, err)

	assert.True(t, sale.Subtotal.Equal(d("900")), "subtotal %s", sale.Subtotal)
	assert.True(t, sale.Total.Equal(d("900")), "total %s", sale.Total)
	assert.True(t, sale.RemainingAmount.IsZero())
	assert.Equal(t, domain.SaleStatusCompleted, sale.Status)
	assert.Equal(t, "USD", sale.Currency)
	require.Len(t, sale.Items, 1)
	assert.True(t, sale.Items[0].Discount.Equal(d("50")))
	require.Len(t, sale.Payments, 1)
	assert.True(t, sale.Payments[0].Amount.Equal(d("900")))
	assert.Equal(t, 11, stockOf(t, svc, 1))
	assert.NotEmpty(t, sale.InvoiceNumber)
}

func TestCreateSaleTotalsHoldForRandomInput(t *testing.T) {
	svc, repo := newTestService(t)
	product := repo.SeedProduct(domain.Product{SKU: "BULK", Name: "Bulk item", Price: d("1000"), CostPrice: d("600"), Stock: 100000})
	rng := rand.New(rand.NewPCG(7, 11))

	for i := 0; i < 60; i++ {
		currency := domain.CurrencyIQD
		if i%2 == 1 {
			currency = domain.CurrencyUSD
		}
		price := decimal.NewFromInt(int64(1 + rng.IntN(5000)))
		perUnit := price.Mul(decimal.NewFromInt(int64(rng.IntN(30)))).Div(decimal.NewFromInt(100)).Round(2)
		req := domain.CreateSaleRequest{
			Items:            []domain.SaleItemInput{{ProductID: product.ID, Quantity: 1 + rng.IntN(4), UnitPrice: price, Discount: perUnit}},
			Discount:         decimal.NewFromInt(int64(rng.IntN(500))),
			Tax:              decimal.NewFromInt(int64(rng.IntN(20))),
			Currency:         currency,
			PaymentType:      domain.PaymentTypeInstallment,
			InterestRate:     decimal.NewFromInt(int64(rng.IntN(15))),
			PaidAmount:       decimal.NewFromInt(int64(rng.IntN(3000))),
			CustomerID:       ptr(int64(1)),
			InstallmentCount: 1 + rng.IntN(6),
		}

		sale, err := svc.CreateSale(context.Background(), req)
		require.NoError(t, err, "case %d", i)

		want := money.Round(sale.Subtotal.Sub(sale.Discount).Add(sale.Tax).Add(sale.InterestAmount), currency)
		assert.True(t, sale.Total.Equal(want), "case %d: total %s want %s", i, sale.Total, want)
		remaining := money.Collapse(sale.Total.Sub(sale.PaidAmount), currency)
		assert.True(t, sale.RemainingAmount.Equal(remaining), "case %d: remaining %s want %s", i, sale.RemainingAmount, remaining)

		due := decimal.Zero
		for _, inst := range sale.Installments {
			assert.False(t, inst.DueAmount.IsNegative())
			due = due.Add(inst.DueAmount)
		}
		if sale.RemainingAmount.IsPositive() {
			assert.True(t, due.Equal(sale.RemainingAmount), "case %d: schedule sums to %s, remaining %s", i, due, sale.RemainingAmount)
			assert.Equal(t, domain.SaleStatusPending, sale.Status)
		} else {
			assert.Empty(t, sale.Installments)
			assert.Equal(t, domain.SaleStatusCompleted, sale.Status)
		}
	}
}

func TestInstallmentScheduleSmallIQDBalance(t *testing.T) {
	svc, _ := newTestService(t)

	sale, err := svc.CreateSale(context.Background(), domain.CreateSaleRequest{
		Items:            []domain.SaleItemInput{{ProductID: 7, Quantity: 1, UnitPrice: d("1000")}},
		PaymentType:      domain.PaymentTypeInstallment,
		InstallmentCount: 3,
		CustomerID:       ptr(int64(2)),
	})
	require.NoError(t, err)
	require.Len(t, sale.Installments, 3)

	amounts := []string{"500", "500", "0"}
	for i, inst := range sale.Installments {
		assert.Equal(t, i+1, inst.InstallmentNumber)
		assert.True(t, inst.DueAmount.Equal(d(amounts[i])), "installment %d due %s", i+1, inst.DueAmount)
	}
	assert.Equal(t, domain.InstallmentStatusPaid, sale.Installments[2].Status)
	assert.Equal(t, time.Date(2026, time.April, 10, 0, 0, 0, 0, time.UTC), sale.Installments[0].DueDate)
	assert.Equal(t, time.Date(2026, time.June, 10, 0, 0, 0, 0, time.UTC), sale.Installments[2].DueDate)
}

func TestInstallmentSaleRequiresCustomer(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateSale(context.Background(), domain.CreateSaleRequest{
		Items:            []domain.SaleItemInput{{ProductID: 1, Quantity: 1}},
		PaymentType:      domain.PaymentTypeInstallment,
		InstallmentCount: 2,
	})
	require.ErrorIs(t, err, store.ErrValidation)

	var fieldErr *store.ValidationError
	require.True(t, errors.As(err, &fieldErr))
	assert.Equal(t, "customer_id", fieldErr.Field)
	assert.Equal(t, 12, stockOf(t, svc, 1))
}

func TestCreateSaleRejectsBadRequests(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := map[string]domain.CreateSaleRequest{
		"no items":        {},
		"zero quantity":   {Items: []domain.SaleItemInput{{ProductID: 1, Quantity: 0}}},
		"bad currency":    {Items: []domain.SaleItemInput{{ProductID: 1, Quantity: 1}}, Currency: "DOLLARS"},
		"tax over 100":    {Items: []domain.SaleItemInput{{ProductID: 1, Quantity: 1}}, Tax: d("101")},
		"discount > unit": {Items: []domain.SaleItemInput{{ProductID: 1, Quantity: 1, UnitPrice: d("10"), Discount: d("11")}}},
		"negative paid":   {Items: []domain.SaleItemInput{{ProductID: 1, Quantity: 1}}, PaidAmount: d("-1")},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CreateSale(ctx, req)
			assert.ErrorIs(t, err, store.ErrValidation)
		})
	}

	_, err := svc.CreateSale(ctx, domain.CreateSaleRequest{Items: []domain.SaleItemInput{{ProductID: 999, Quantity: 1}}})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateSaleStockGuardLeavesStockUntouched(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateSale(context.Background(), domain.CreateSaleRequest{
		Items: []domain.SaleItemInput{
			{ProductID: 1, Quantity: 2},
			{ProductID: 5, Quantity: 4},
		},
		PaidAmount: d("5000000"),
	})
	require.ErrorIs(t, err, store.ErrValidation)
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	assert.Equal(t, 12, stockOf(t, svc, 1))
	assert.Equal(t, 3, stockOf(t, svc, 5))
	sales, err := svc.ListSales(context.Background(), domain.SaleFilter{})
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func TestAddPaymentAllocatesLowestInstallmentsFirst(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sale, err := svc.CreateSale(ctx, domain.CreateSaleRequest{
		Items:            []domain.SaleItemInput{{ProductID: 1, Quantity: 1, UnitPrice: d("300000")}},
		PaymentType:      domain.PaymentTypeInstallment,
		InstallmentCount: 3,
		CustomerID:       ptr(int64(1)),
	})
	require.NoError(t, err)
	require.Len(t, sale.Installments, 3)
	assert.True(t, customerOf(t, svc, 1).TotalDebt.Equal(d("300000")))

	sale, err = svc.AddPayment(ctx, sale.ID, domain.AddPaymentRequest{Amount: d("150000")})
	require.NoError(t, err)

	paid := decimal.Zero
	for _, inst := range sale.Installments {
		paid = paid.Add(inst.PaidAmount)
	}
	assert.True(t, paid.Equal(d("150000")))
	assert.Equal(t, domain.InstallmentStatusPaid, sale.Installments[0].Status)
	require.NotNil(t, sale.Installments[0].PaidDate)
	assert.True(t, sale.Installments[1].PaidAmount.Equal(d("50000")))
	assert.Equal(t, domain.InstallmentStatusPending, sale.Installments[1].Status)
	assert.True(t, sale.Installments[2].PaidAmount.IsZero())

	assert.True(t, sale.RemainingAmount.Equal(d("150000")))
	assert.Equal(t, domain.SaleStatusPending, sale.Status)
	assert.True(t, customerOf(t, svc, 1).TotalDebt.Equal(d("150000")))

	sale, err = svc.AddPayment(ctx, sale.ID, domain.AddPaymentRequest{Amount: d("900000")})
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusCompleted, sale.Status)
	assert.True(t, sale.RemainingAmount.IsZero())
	assert.True(t, sale.PaidAmount.Equal(d("300000")), "overpayment is capped at the balance")
	for _, inst := range sale.Installments {
		assert.Equal(t, domain.InstallmentStatusPaid, inst.Status)
	}

	_, err = svc.AddPayment(ctx, sale.ID, domain.AddPaymentRequest{Amount: d("250")})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestAddPaymentSerializesConcurrentCallers(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sale, err := svc.CreateSale(ctx, domain.CreateSaleRequest{
		Items:            []domain.SaleItemInput{{ProductID: 4, Quantity: 1, UnitPrice: d("500000")}},
		PaymentType:      domain.PaymentTypeInstallment,
		InstallmentCount: 10,
		CustomerID:       ptr(int64(2)),
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AddPayment(ctx, sale.ID, domain.AddPaymentRequest{Amount: d("10000")})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := svc.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.True(t, got.PaidAmount.Equal(d("200000")), "paid %s", got.PaidAmount)
	assert.True(t, got.RemainingAmount.Equal(d("300000")), "remaining %s", got.RemainingAmount)
	assert.Len(t, got.Payments, 20)
	assert.True(t, customerOf(t, svc, 2).TotalDebt.Equal(d("300000")))
}

func TestCancelRestoreRoundTrip(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(3, 5))

	var ids []int64
	for i := 0; i < 5; i++ {
		p := repo.SeedProduct(domain.Product{SKU: fmt.Sprintf("RT-%d", i), Name: "Round trip", Price: d("12500"), CostPrice: d("9000"), Stock: 500})
		ids = append(ids, p.ID)
	}

	for round := 0; round < 20; round++ {
		var items []domain.SaleItemInput
		for _, id := range ids {
			if rng.IntN(2) == 0 {
				continue
			}
			items = append(items, domain.SaleItemInput{ProductID: id, Quantity: 1 + rng.IntN(5)})
		}
		if len(items) == 0 {
			items = append(items, domain.SaleItemInput{ProductID: ids[0], Quantity: 1})
		}

		sale, err := svc.CreateSale(ctx, domain.CreateSaleRequest{
			Items:            items,
			PaymentType:      domain.PaymentTypeMixed,
			PaidAmount:       decimal.NewFromInt(int64(rng.IntN(20000))),
			InstallmentCount: 2,
			CustomerID:       ptr(int64(1)),
		})
		require.NoError(t, err)

		beforeProducts, err := svc.ListProducts(ctx)
		require.NoError(t, err)
		beforeCustomer := customerOf(t, svc, 1)

		cancelled, err := svc.CancelSale(ctx, sale.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.SaleStatusCancelled, cancelled.Status)
		for _, inst := range cancelled.Installments {
			if inst.DueAmount.IsPositive() {
				assert.Equal(t, domain.InstallmentStatusCancelled, inst.Status)
			}
		}

		restored, err := svc.RestoreSale(ctx, sale.ID)
		require.NoError(t, err)
		assert.Equal(t, sale.Status, restored.Status)

		afterProducts, err := svc.ListProducts(ctx)
		require.NoError(t, err)
		assert.Equal(t, beforeProducts, afterProducts, "round %d", round)
		afterCustomer := customerOf(t, svc, 1)
		assert.True(t, beforeCustomer.TotalDebt.Equal(afterCustomer.TotalDebt), "round %d debt", round)
		assert.True(t, beforeCustomer.TotalPurchases.Equal(afterCustomer.TotalPurchases), "round %d purchases", round)
	}
}

func TestIllegalTransitionsAreRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sale, err := svc.CreateSale(ctx, domain.CreateSaleRequest{
		Items: []domain.SaleItemInput{{ProductID: 6, Quantity: 2}},
	})
	require.NoError(t, err)

	_, err = svc.RestoreSale(ctx, sale.ID)
	assert.ErrorIs(t, err, store.ErrValidation)

	_, err = svc.CancelSale(ctx, sale.ID)
	require.NoError(t, err)
	_, err = svc.CancelSale(ctx, sale.ID)
	assert.ErrorIs(t, err, store.ErrValidation)
	_, err = svc.AddPayment(ctx, sale.ID, domain.AddPaymentRequest{Amount: d("250")})
	assert.ErrorIs(t, err, store.ErrValidation)

	draft, err := svc.CreateDraft(ctx, domain.CreateSaleRequest{})
	require.NoError(t, err)
	_, err = svc.CancelSale(ctx, draft.ID)
	assert.ErrorIs(t, err, store.ErrValidation)
	_, err = svc.CompleteDraft(ctx, sale.ID, domain.CreateSaleRequest{})
	assert.ErrorIs(t, err, store.ErrValidation)

	_, err = svc.CancelSale(ctx, 4040)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDraftLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	draft, err := svc.CreateDraft(ctx, domain.CreateSaleRequest{
		Items:      []domain.SaleItemInput{{ProductID: 2, Quantity: 2}},
		PaidAmount: d("100000"),
		CustomerID: ptr(int64(2)),
		Notes:      "hold for pickup",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusDraft, draft.Status)
	assert.True(t, draft.PaidAmount.IsZero())
	assert.Empty(t, draft.Payments)
	assert.Equal(t, 8, stockOf(t, svc, 2))
	assert.True(t, customerOf(t, svc, 2).TotalDebt.IsZero())

	_, err = svc.AddPayment(ctx, draft.ID, domain.AddPaymentRequest{Amount: d("1000")})
	assert.ErrorIs(t, err, store.ErrValidation)

	sale, err := svc.CompleteDraft(ctx, draft.ID, domain.CreateSaleRequest{PaidAmount: d("120000")})
	require.NoError(t, err)
	assert.Equal(t, draft.ID, sale.ID)
	assert.Equal(t, draft.InvoiceNumber, sale.InvoiceNumber)
	assert.Equal(t, domain.SaleStatusPending, sale.Status)
	assert.Equal(t, "hold for pickup", sale.Notes)
	require.Len(t, sale.Items, 1)
	assert.True(t, sale.Total.Equal(d("620000")))
	assert.True(t, sale.RemainingAmount.Equal(d("500000")))
	assert.Equal(t, 6, stockOf(t, svc, 2))
	assert.True(t, customerOf(t, svc, 2).TotalDebt.Equal(d("500000")))

	_, err = svc.CompleteDraft(ctx, draft.ID, domain.CreateSaleRequest{})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestCompleteDraftWithEmptyRequestKeepsSavedFigures(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	draft, err := svc.CreateDraft(ctx, domain.CreateSaleRequest{
		Items:            []domain.SaleItemInput{{ProductID: 6, Quantity: 2}},
		Discount:         d("5000"),
		Tax:              d("10"),
		PaymentType:      domain.PaymentTypeInstallment,
		InterestRate:     d("10"),
		InstallmentCount: 4,
		CustomerID:       ptr(int64(1)),
	})
	require.NoError(t, err)
	assert.True(t, draft.Discount.Equal(d("5000")))
	assert.True(t, draft.Tax.Equal(d("2500")))
	assert.Equal(t, 4, draft.InstallmentCount)

	sale, err := svc.CompleteDraft(ctx, draft.ID, domain.CreateSaleRequest{})
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusPending, sale.Status)
	assert.True(t, sale.Discount.Equal(draft.Discount), "discount %s", sale.Discount)
	assert.True(t, sale.TaxRate.Equal(d("10")), "tax rate %s", sale.TaxRate)
	assert.True(t, sale.Tax.Equal(draft.Tax), "tax %s", sale.Tax)
	assert.True(t, sale.InterestRate.Equal(d("10")), "interest rate %s", sale.InterestRate)
	assert.True(t, sale.Total.Equal(draft.Total), "total %s, draft %s", sale.Total, draft.Total)
	assert.Equal(t, 4, sale.InstallmentCount)
	require.Len(t, sale.Installments, 4)

	due := decimal.Zero
	for _, inst := range sale.Installments {
		due = due.Add(inst.DueAmount)
	}
	assert.True(t, due.Equal(sale.RemainingAmount), "scheduled %s, remaining %s", due, sale.RemainingAmount)
}

func TestCompleteDraftWithoutItemsFails(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	draft, err := svc.CreateDraft(ctx, domain.CreateSaleRequest{})
	require.NoError(t, err)
	assert.Empty(t, draft.Items)

	_, err = svc.CompleteDraft(ctx, draft.ID, domain.CreateSaleRequest{})
	require.ErrorIs(t, err, store.ErrValidation)

	got, err := svc.GetSale(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusDraft, got.Status)
}

func TestDeleteOldDrafts(t *testing.T) {
	now := fixedNow.Add(-48 * time.Hour)
	svc := New(memory.NewSeeded(), Options{Clock: func() time.Time { return now }})
	ctx := context.Background()

	stale, err := svc.CreateDraft(ctx, domain.CreateSaleRequest{Items: []domain.SaleItemInput{{ProductID: 3, Quantity: 1}}})
	require.NoError(t, err)
	now = fixedNow
	fresh, err := svc.CreateDraft(ctx, domain.CreateSaleRequest{})
	require.NoError(t, err)

	deleted, err := svc.DeleteOldDrafts(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = svc.GetSale(ctx, stale.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = svc.GetSale(ctx, fresh.ID)
	assert.NoError(t, err)
	assert.Equal(t, 5, stockOf(t, svc, 3))
}

func TestRemovePaymentReopensBalance(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sale, err := svc.CreateSale(ctx, domain.CreateSaleRequest{
		Items:      []domain.SaleItemInput{{ProductID: 1, Quantity: 1}},
		PaidAmount: d("250000"),
		CustomerID: ptr(int64(1)),
	})
	require.NoError(t, err)
	require.Equal(t, domain.SaleStatusCompleted, sale.Status)
	require.Len(t, sale.Payments, 1)

	sale, err = svc.RemovePayment(ctx, sale.ID, sale.Payments[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusPending, sale.Status)
	assert.True(t, sale.RemainingAmount.Equal(d("250000")))
	assert.True(t, sale.PaidAmount.IsZero())
	assert.Empty(t, sale.Payments)
	assert.True(t, customerOf(t, svc, 1).TotalDebt.Equal(d("250000")))

	_, err = svc.RemovePayment(ctx, sale.ID, 9999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRemovePaymentKeepsInstallmentAllocation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sale, err := svc.CreateSale(ctx, domain.CreateSaleRequest{
		Items:            []domain.SaleItemInput{{ProductID: 1, Quantity: 1, UnitPrice: d("200000")}},
		PaymentType:      domain.PaymentTypeInstallment,
		InstallmentCount: 2,
		CustomerID:       ptr(int64(3)),
	})
	require.NoError(t, err)
	sale, err = svc.AddPayment(ctx, sale.ID, domain.AddPaymentRequest{Amount: d("100000")})
	require.NoError(t, err)
	require.Len(t, sale.Payments, 1)

	sale, err = svc.RemovePayment(ctx, sale.ID, sale.Payments[0].ID)
	require.NoError(t, err)
	assert.True(t, sale.RemainingAmount.Equal(d("200000")))
	assert.Equal(t, domain.InstallmentStatusPaid, sale.Installments[0].Status)
}

func TestRemoveSaleDeletesChildren(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sale, err := svc.CreateSale(ctx, domain.CreateSaleRequest{
		Items:            []domain.SaleItemInput{{ProductID: 1, Quantity: 1}},
		PaymentType:      domain.PaymentTypeInstallment,
		InstallmentCount: 4,
		CustomerID:       ptr(int64(1)),
	})
	require.NoError(t, err)

	require.NoError(t, svc.RemoveSale(ctx, sale.ID))
	_, err = svc.GetSale(ctx, sale.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	overdue, err := svc.ListOverdueInstallments(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, overdue)

	assert.ErrorIs(t, svc.RemoveSale(ctx, sale.ID), store.ErrNotFound)
}

func TestFindSaleByInvoice(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sale, err := svc.CreateSale(ctx, domain.CreateSaleRequest{Items: []domain.SaleItemInput{{ProductID: 7, Quantity: 3}}})
	require.NoError(t, err)

	found, err := svc.FindSaleByInvoice(ctx, " "+sale.InvoiceNumber+" ")
	require.NoError(t, err)
	assert.Equal(t, sale.ID, found.ID)

	_, err = svc.FindSaleByInvoice(ctx, "")
	assert.ErrorIs(t, err, store.ErrValidation)
	_, err = svc.FindSaleByInvoice(ctx, "INV-0-000")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMutationsWriteAuditTrail(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := WithActor(context.Background(), domain.Actor{Username: "dana", Role: "manager"})

	sale, err := svc.CreateSale(ctx, domain.CreateSaleRequest{Items: []domain.SaleItemInput{{ProductID: 6, Quantity: 1}}})
	require.NoError(t, err)
	_, err = svc.CancelSale(ctx, sale.ID)
	require.NoError(t, err)

	logs, err := svc.ListAuditLogs(ctx, "", "", 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	actions := []string{logs[0].Action, logs[1].Action}
	assert.ElementsMatch(t, []string{"sale.create", "sale.cancel"}, actions)
	assert.Equal(t, "dana", logs[0].ActorUsername)

	_, err = svc.ListAuditLogs(ctx, "10/03/2026", "", 10)
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestSalesReportAggregatesActiveSales(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateSale(ctx, domain.CreateSaleRequest{
		Items:      []domain.SaleItemInput{{ProductID: 1, Quantity: 2}},
		PaidAmount: d("500000"),
	})
	require.NoError(t, err)
	cancelled, err := svc.CreateSale(ctx, domain.CreateSaleRequest{Items: []domain.SaleItemInput{{ProductID: 6, Quantity: 1}}})
	require.NoError(t, err)
	_, err = svc.CancelSale(ctx, cancelled.ID)
	require.NoError(t, err)
	_, err = svc.CreateSale(ctx, domain.CreateSaleRequest{
		Items:    []domain.SaleItemInput{{ProductID: 7, Quantity: 1, UnitPrice: d("20")}},
		Currency: "USD",
	})
	require.NoError(t, err)

	report, err := svc.SalesReport(ctx, domain.ReportFilter{})
	require.NoError(t, err)
	require.Len(t, report.Currencies, 2)

	iqd := report.Currencies[0]
	assert.Equal(t, "IQD", iqd.Currency)
	assert.Equal(t, 1, iqd.SalesCount)
	assert.True(t, iqd.TotalSales.Equal(d("500000")))
	assert.True(t, iqd.Profit.Equal(d("75000")), "profit %s", iqd.Profit)
	assert.Equal(t, 1, iqd.ByStatus[domain.SaleStatusCompleted])

	usd := report.Currencies[1]
	assert.Equal(t, "USD", usd.Currency)
	assert.True(t, usd.TotalRemaining.Equal(d("20")))

	only, err := svc.SalesReport(ctx, domain.ReportFilter{Currency: "usd"})
	require.NoError(t, err)
	require.Len(t, only.Currencies, 1)
	assert.Equal(t, "USD", only.Currency)
}

func TestSalesReportReflectsNewSales(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.SalesReport(ctx, domain.ReportFilter{})
	require.NoError(t, err)
	assert.Empty(t, first.Currencies)

	_, err = svc.CreateSale(ctx, domain.CreateSaleRequest{Items: []domain.SaleItemInput{{ProductID: 6, Quantity: 1}}})
	require.NoError(t, err)

	second, err := svc.SalesReport(ctx, domain.ReportFilter{})
	require.NoError(t, err)
	require.Len(t, second.Currencies, 1)
	assert.Equal(t, 1, second.Currencies[0].SalesCount)
}

func TestSalesReportRejectsInvertedRange(t *testing.T) {
	svc, _ := newTestService(t)
	start := fixedNow
	end := fixedNow.AddDate(0, 0, -1)

	_, err := svc.SalesReport(context.Background(), domain.ReportFilter{StartDate: &start, EndDate: &end})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestAggregateReportFoldsDiscountAndInterestPerCurrency(t *testing.T) {
	sales := []domain.Sale{
		{
			Currency: "USD", Status: domain.SaleStatusPending, PaymentType: domain.PaymentTypeInstallment,
			Total: d("110"), PaidAmount: d("10"), RemainingAmount: d("100"), Discount: d("5"), InterestAmount: d("10"),
			Items: []domain.SaleItem{
				{ProductID: 1, Quantity: 2, UnitPrice: d("40"), Discount: d("4")},
				{ProductID: 2, Quantity: 0, UnitPrice: d("999")},
			},
		},
		{
			Currency: "USD", Status: domain.SaleStatusCancelled, Total: d("1000"),
			Items: []domain.SaleItem{{ProductID: 1, Quantity: 10, UnitPrice: d("40")}},
		},
		{
			Currency: "USD", Status: domain.SaleStatusCompleted, PaymentType: domain.PaymentTypeCash,
			Total: d("30"), PaidAmount: d("30"),
			Items: []domain.SaleItem{{ProductID: 3, Quantity: 3, UnitPrice: d("10")}},
		},
	}
	costs := map[int64]decimal.Decimal{1: d("25"), 3: d("6")}

	report := AggregateReport(sales, costs, 4, fixedNow)
	require.Len(t, report.Currencies, 1)
	usd := report.Currencies[0]

	assert.Equal(t, 2, usd.SalesCount)
	assert.True(t, usd.TotalSales.Equal(d("140")))
	assert.True(t, usd.Revenue.Equal(d("130")))
	// (80-4-50) + (30-18) - 5 + 10
	assert.True(t, usd.Profit.Equal(d("43")), "profit %s", usd.Profit)
	assert.Equal(t, 1, usd.ByPaymentType[domain.PaymentTypeInstallment])
	assert.Equal(t, 1, usd.ByPaymentType[domain.PaymentTypeCash])
	assert.Equal(t, 4, report.OverdueInstallments)
}

type countingCache struct {
	mu   sync.Mutex
	data map[string]*domain.SalesReport
	hits int
	gen  int64
}

func (c *countingCache) Get(_ context.Context, key string) (*domain.SalesReport, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	report, ok := c.data[key]
	if ok {
		c.hits++
	}
	return report, ok, nil
}

func (c *countingCache) Set(_ context.Context, key string, value *domain.SalesReport, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *countingCache) Generation(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen, nil
}

func (c *countingCache) Bump(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	return nil
}

func TestSalesReportUsesCacheUntilNextMutation(t *testing.T) {
	counting := &countingCache{data: make(map[string]*domain.SalesReport)}
	svc := New(memory.NewSeeded(), Options{ReportCache: counting, Clock: func() time.Time { return fixedNow }})
	ctx := context.Background()

	_, err := svc.SalesReport(ctx, domain.ReportFilter{})
	require.NoError(t, err)
	_, err = svc.SalesReport(ctx, domain.ReportFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, counting.hits)

	_, err = svc.CreateSale(ctx, domain.CreateSaleRequest{Items: []domain.SaleItemInput{{ProductID: 6, Quantity: 1}}})
	require.NoError(t, err)
	report, err := svc.SalesReport(ctx, domain.ReportFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, counting.hits)
	require.Len(t, report.Currencies, 1)
}

func TestListSalesFilters(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateSale(ctx, domain.CreateSaleRequest{Items: []domain.SaleItemInput{{ProductID: 6, Quantity: 1}}, PaidAmount: d("15000")})
	require.NoError(t, err)
	_, err = svc.CreateSale(ctx, domain.CreateSaleRequest{Items: []domain.SaleItemInput{{ProductID: 7, Quantity: 1}}})
	require.NoError(t, err)

	completed, err := svc.ListSales(ctx, domain.SaleFilter{Status: domain.SaleStatusCompleted})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.True(t, completed[0].Total.Equal(d("15000")))

	_, err = svc.ListSales(ctx, domain.SaleFilter{Status: "archived"})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestSalesReportCacheSharedAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	client := cache.NewRedisClient(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = client.Close() })

	repo := memory.NewSeeded()
	clock := func() time.Time { return fixedNow }
	reader := New(repo, Options{ReportCache: cache.NewRedisReportCache(client), Clock: clock})
	writer := New(repo, Options{ReportCache: cache.NewRedisReportCache(client), Clock: clock})
	ctx := context.Background()

	before, err := reader.SalesReport(ctx, domain.ReportFilter{})
	require.NoError(t, err)
	assert.Empty(t, before.Currencies)

	_, err = writer.CreateSale(ctx, domain.CreateSaleRequest{
		Items:      []domain.SaleItemInput{{ProductID: 6, Quantity: 1}},
		PaidAmount: d("15000"),
	})
	require.NoError(t, err)

	after, err := reader.SalesReport(ctx, domain.ReportFilter{})
	require.NoError(t, err)
	require.Len(t, after.Currencies, 1)
	assert.Equal(t, 1, after.Currencies[0].SalesCount)

	// A restarted process reads the generation back from the cache.
	restarted := New(repo, Options{ReportCache: cache.NewRedisReportCache(client), Clock: clock})
	again, err := restarted.SalesReport(ctx, domain.ReportFilter{})
	require.NoError(t, err)
	require.Len(t, again.Currencies, 1)
}
