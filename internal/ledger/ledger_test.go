package ledger

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posdesk/backend/internal/store"
	"posdesk/backend/internal/store/memory"
)

func stockIn(t *testing.T, repo *memory.Store, productID int64) int {
	t.Helper()
	products, err := repo.ListProducts(context.Background())
	require.NoError(t, err)
	for _, p := range products {
		if p.ID == productID {
			return p.Stock
		}
	}
	t.Fatalf("product %d missing", productID)
	return 0
}

func TestConsumeIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSeeded()
	before := stockIn(t, repo, 1)

	err := repo.WithinTx(ctx, func(tx store.Tx) error {
		return Stock{}.Consume(ctx, tx, []StockLine{
			{ProductID: 1, Quantity: 2},
			{ProductID: 5, Quantity: 99},
		})
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.ErrorIs(t, err, store.ErrValidation)
	assert.Equal(t, before, stockIn(t, repo, 1), "first line must roll back with the tx")
}

func TestReleaseThenReclaimRoundTrips(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSeeded()
	before := stockIn(t, repo, 6)
	lines := []StockLine{{ProductID: 6, Quantity: 4}}

	require.NoError(t, repo.WithinTx(ctx, func(tx store.Tx) error {
		return Stock{}.Consume(ctx, tx, lines)
	}))
	assert.Equal(t, before-4, stockIn(t, repo, 6))

	require.NoError(t, repo.WithinTx(ctx, func(tx store.Tx) error {
		return Stock{}.Release(ctx, tx, lines)
	}))
	assert.Equal(t, before, stockIn(t, repo, 6))

	require.NoError(t, repo.WithinTx(ctx, func(tx store.Tx) error {
		return Stock{}.Reclaim(ctx, tx, lines)
	}))
	assert.Equal(t, before-4, stockIn(t, repo, 6))
}

func TestDebtLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSeeded()
	customerID := int64(2)
	var debt Debt

	apply := func(fn func(tx store.Tx) error) {
		t.Helper()
		require.NoError(t, repo.WithinTx(ctx, fn))
	}
	apply(func(tx store.Tx) error {
		return debt.Charge(ctx, tx, &customerID, decimal.NewFromInt(300000), decimal.NewFromInt(500000))
	})
	apply(func(tx store.Tx) error {
		return debt.Settle(ctx, tx, &customerID, decimal.NewFromInt(100000))
	})
	apply(func(tx store.Tx) error {
		return debt.Reopen(ctx, tx, &customerID, decimal.NewFromInt(50000))
	})

	customers, err := repo.ListCustomers(ctx)
	require.NoError(t, err)
	var found bool
	for _, c := range customers {
		if c.ID == customerID {
			found = true
			assert.True(t, c.TotalDebt.Equal(decimal.NewFromInt(250000)), "debt %s", c.TotalDebt)
			assert.True(t, c.TotalPurchases.Equal(decimal.NewFromInt(500000)), "purchases %s", c.TotalPurchases)
		}
	}
	require.True(t, found)

	apply(func(tx store.Tx) error {
		return debt.Reverse(ctx, tx, &customerID, decimal.NewFromInt(900000), decimal.NewFromInt(900000))
	})
	customers, err = repo.ListCustomers(ctx)
	require.NoError(t, err)
	for _, c := range customers {
		if c.ID == customerID {
			assert.True(t, c.TotalDebt.IsZero(), "debt clamps at zero, got %s", c.TotalDebt)
			assert.True(t, c.TotalPurchases.IsZero(), "purchases clamp at zero, got %s", c.TotalPurchases)
		}
	}
}

func TestDebtIgnoresWalkInSales(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSeeded()
	err := repo.WithinTx(ctx, func(tx store.Tx) error {
		return Debt{}.Charge(ctx, tx, nil, decimal.NewFromInt(1), decimal.NewFromInt(1))
	})
	assert.NoError(t, err)
}
