package inventory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheusmosca/fulfillment-core/internal/domain"
	"github.com/matheusmosca/fulfillment-core/internal/ledger"
	"github.com/matheusmosca/fulfillment-core/internal/ledger/memory"
)

func seed(t *testing.T, s *memory.Store, stock int) *domain.Product {
	t.Helper()
	p := domain.NewProduct("widget", "", decimal.RequireFromString("10.00"), stock)
	require.NoError(t, s.Update(context.Background(), func(tx ledger.Tx) error {
		return tx.CreateProduct(context.Background(), p)
	}))
	return p
}

func stockOf(t *testing.T, s *memory.Store, productID string) int {
	t.Helper()
	var stock int
	require.NoError(t, s.View(context.Background(), func(tx ledger.ReadTx) error {
		p, err := tx.Product(context.Background(), productID)
		if err != nil {
			return err
		}
		stock = p.StockQuantity
		return nil
	}))
	return stock
}

func TestReserve(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	p := seed(t, s, 5)
	m := NewManager(nil)

	require.NoError(t, s.Update(ctx, func(tx ledger.Tx) error {
		return m.Reserve(ctx, tx, p.ID, 2)
	}))
	assert.Equal(t, 3, stockOf(t, s, p.ID))
}

func TestReserveInsufficientStock(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	p := seed(t, s, 5)
	m := NewManager(nil)

	err := s.Update(ctx, func(tx ledger.Tx) error {
		return m.Reserve(ctx, tx, p.ID, 6)
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, 5, stockOf(t, s, p.ID), "failed reservation must not change stock")
}

func TestReserveValidatesQuantity(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	p := seed(t, s, 5)
	m := NewManager(nil)

	for _, qty := range []int{0, -1} {
		err := s.Update(ctx, func(tx ledger.Tx) error {
			return m.Reserve(ctx, tx, p.ID, qty)
		})
		assert.ErrorIs(t, err, domain.ErrValidation)
	}
}

func TestReserveUnknownProduct(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	m := NewManager(nil)

	err := s.Update(ctx, func(tx ledger.Tx) error {
		return m.Reserve(ctx, tx, "missing", 1)
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReleaseIsIdempotentPerItem(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	p := seed(t, s, 3)
	m := NewManager(nil)

	item := domain.NewOrderItem("o1", p.ID, 2, p.Price)
	require.NoError(t, s.Update(ctx, func(tx ledger.Tx) error {
		if err := tx.CreateOrderItem(ctx, item); err != nil {
			return err
		}
		return m.Reserve(ctx, tx, p.ID, 2)
	}))
	require.Equal(t, 1, stockOf(t, s, p.ID))

	// first release credits the stock back and flips the marker
	require.NoError(t, s.Update(ctx, func(tx ledger.Tx) error {
		return m.Release(ctx, tx, item)
	}))
	assert.Equal(t, 3, stockOf(t, s, p.ID))
	assert.True(t, item.Reversed)

	// second release must be a no-op even when re-read from the store
	require.NoError(t, s.Update(ctx, func(tx ledger.Tx) error {
		items, err := tx.OrderItems(ctx, "o1")
		if err != nil {
			return err
		}
		return m.Release(ctx, tx, &items[0])
	}))
	assert.Equal(t, 3, stockOf(t, s, p.ID), "double release must not double-credit")
}
