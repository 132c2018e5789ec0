// Package inventory owns every mutation of product stock. Reserve and
// Release run inside an active ledger transaction so stock and order
// history can never diverge.
package inventory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/matheusmosca/fulfillment-core/internal/domain"
	"github.com/matheusmosca/fulfillment-core/internal/ledger"
)

// Manager mutates stock under the row lock taken by ProductForUpdate.
type Manager struct {
	log *zap.Logger
}

// NewManager creates a Manager.
func NewManager(log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{log: log}
}

// Reserve decrements the product's stock by quantity. It fails with
// domain.ErrInsufficientStock if the result would be negative; the
// enclosing transaction then rolls the whole operation back.
func (m *Manager) Reserve(ctx context.Context, tx ledger.Tx, productID string, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("reserve quantity %d: %w", quantity, domain.ErrValidation)
	}

	product, err := tx.ProductForUpdate(ctx, productID)
	if err != nil {
		return err
	}

	remaining := product.StockQuantity - quantity
	if remaining < 0 {
		m.log.Warn("stock reservation rejected",
			zap.String("product_id", productID),
			zap.Int("requested", quantity),
			zap.Int("available", product.StockQuantity))
		return fmt.Errorf("product %s has %d in stock, requested %d: %w",
			productID, product.StockQuantity, quantity, domain.ErrInsufficientStock)
	}

	if err := tx.SetProductStock(ctx, productID, remaining); err != nil {
		return err
	}

	m.log.Debug("stock reserved",
		zap.String("product_id", productID),
		zap.Int("quantity", quantity),
		zap.Int("remaining", remaining))
	return nil
}

// Release credits a cancelled line item's quantity back to its product.
// The item's reversed marker makes the call idempotent: a retried
// cancellation that reaches an already-released item is a no-op rather
// than a double credit.
func (m *Manager) Release(ctx context.Context, tx ledger.Tx, item *domain.OrderItem) error {
	if item.Reversed {
		m.log.Debug("release skipped, item already reversed",
			zap.String("order_item_id", item.ID))
		return nil
	}

	product, err := tx.ProductForUpdate(ctx, item.ProductID)
	if err != nil {
		return err
	}

	if err := tx.SetProductStock(ctx, item.ProductID, product.StockQuantity+item.Quantity); err != nil {
		return err
	}
	if err := tx.MarkOrderItemReversed(ctx, item.ID); err != nil {
		return err
	}
	item.Reversed = true

	m.log.Debug("stock released",
		zap.String("product_id", item.ProductID),
		zap.String("order_item_id", item.ID),
		zap.Int("quantity", item.Quantity))
	return nil
}
