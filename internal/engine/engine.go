// Package engine drives the order state machine. Placement, completion
// and cancellation each run as one ledger transaction covering stock,
// payments and the audit log, so no partial transition is ever visible.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/matheusmosca/fulfillment-core/internal/audit"
	"github.com/matheusmosca/fulfillment-core/internal/domain"
	"github.com/matheusmosca/fulfillment-core/internal/inventory"
	"github.com/matheusmosca/fulfillment-core/internal/ledger"
	"github.com/matheusmosca/fulfillment-core/internal/payment"
)

// Engine orchestrates the order lifecycle over a ledger store.
type Engine struct {
	store     ledger.Store
	inventory *inventory.Manager
	payments  *payment.Reconciler
	audit     *audit.Logger
	log       *zap.Logger
}

// New creates an Engine.
func New(store ledger.Store, inv *inventory.Manager, rec *payment.Reconciler, auditLog *audit.Logger, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		store:     store,
		inventory: inv,
		payments:  rec,
		audit:     auditLog,
		log:       log,
	}
}

// PlaceOrderResult is the outcome of a successful placement.
type PlaceOrderResult struct {
	OrderID     string
	OrderNumber int64
	TotalAmount decimal.Decimal
}

// PlaceOrder creates an order in one transaction: validates the user and
// products, snapshots each product's current price into its line item,
// reserves stock, records the primary charge and the creation audit
// entry. Any failure leaves no order, item, payment, stock change or
// audit row behind.
func (e *Engine) PlaceOrder(ctx context.Context, userID, method string, lines []domain.LineItem) (*PlaceOrderResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("empty user id: %w", domain.ErrValidation)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("order needs at least one line item: %w", domain.ErrValidation)
	}
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("quantity %d for product %s: %w", line.Quantity, line.ProductID, domain.ErrValidation)
		}
	}

	// Stable lock order keeps concurrent multi-line placements from
	// deadlocking on each other's product rows.
	sorted := append([]domain.LineItem(nil), lines...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })

	var result PlaceOrderResult
	err := e.store.Update(ctx, func(tx ledger.Tx) error {
		user, err := tx.User(ctx, userID)
		if err != nil {
			return err
		}

		orderID := uuid.New().String()
		number, err := tx.NextOrderNumber(ctx)
		if err != nil {
			return err
		}

		total := decimal.Zero
		for _, line := range sorted {
			product, err := tx.ProductForUpdate(ctx, line.ProductID)
			if err != nil {
				return err
			}
			if err := e.inventory.Reserve(ctx, tx, product.ID, line.Quantity); err != nil {
				return err
			}

			item := domain.NewOrderItem(orderID, product.ID, line.Quantity, product.Price)
			if err := tx.CreateOrderItem(ctx, item); err != nil {
				return err
			}
			total = total.Add(item.Subtotal())
		}

		order := domain.NewOrder(orderID, number, user.ID, total)
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}

		if _, err := e.payments.RecordCharge(ctx, tx, orderID, method, total); err != nil {
			return err
		}
		if err := e.audit.Append(ctx, tx, orderID, "", domain.OrderStatusPending, user.ID); err != nil {
			return err
		}

		result = PlaceOrderResult{OrderID: orderID, OrderNumber: number, TotalAmount: total}
		return nil
	})
	if err != nil {
		e.log.Warn("place order failed", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}

	e.log.Info("order placed",
		zap.String("order_id", result.OrderID),
		zap.Int64("order_number", result.OrderNumber),
		zap.String("total", result.TotalAmount.String()))
	return &result, nil
}

// CompleteOrder moves a pending order to completed and appends the audit
// entry.
func (e *Engine) CompleteOrder(ctx context.Context, orderID, actor string) error {
	err := e.store.Update(ctx, func(tx ledger.Tx) error {
		order, err := tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		from := order.Status
		if from != domain.OrderStatusPending {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, domain.OrderStatusCompleted)
		}

		if err := tx.UpdateOrderStatus(ctx, orderID, domain.OrderStatusCompleted, ""); err != nil {
			return err
		}
		return e.audit.Append(ctx, tx, orderID, from, domain.OrderStatusCompleted, actor)
	})
	if err != nil {
		return err
	}

	e.log.Info("order completed", zap.String("order_id", orderID))
	return nil
}

// CancelOrder cancels a pending or completed order in one transaction:
// every not-yet-reversed line item releases its stock, the payment chain
// is reversed to net zero (or the configured partial amount), the status
// and reason are written and the audit entry appended. Cancelling an
// already-cancelled order is an InvalidTransition, never a silent
// success. Cancellation does not depend on a payment existing: an order
// with a zero net still reverses stock and transitions.
func (e *Engine) CancelOrder(ctx context.Context, orderID, reason, actor string) error {
	err := e.store.Update(ctx, func(tx ledger.Tx) error {
		order, err := tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		from := order.Status
		if !domain.CanTransition(from, domain.OrderStatusCancelled) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, domain.OrderStatusCancelled)
		}

		items, err := tx.OrderItems(ctx, orderID)
		if err != nil {
			return err
		}
		// Stable lock order, matching PlaceOrder.
		sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
		for i := range items {
			if err := e.inventory.Release(ctx, tx, &items[i]); err != nil {
				return err
			}
		}

		if _, err := e.payments.Reverse(ctx, tx, orderID); err != nil {
			if !errors.Is(err, domain.ErrNothingToReverse) {
				return err
			}
			// Zero net is fine: cancellation is independent of payment
			// existence.
		}

		if err := tx.UpdateOrderStatus(ctx, orderID, domain.OrderStatusCancelled, reason); err != nil {
			return err
		}
		return e.audit.Append(ctx, tx, orderID, from, domain.OrderStatusCancelled, actor)
	})
	if err != nil {
		e.log.Warn("cancel order failed", zap.String("order_id", orderID), zap.Error(err))
		return err
	}

	e.log.Info("order cancelled",
		zap.String("order_id", orderID),
		zap.String("reason", reason),
		zap.String("actor", actor))
	return nil
}

// OrderView bundles an order with its items and payment chain.
type OrderView struct {
	Order    domain.Order       `json:"order"`
	Items    []domain.OrderItem `json:"items"`
	Payments []domain.Payment   `json:"payments"`
}

// GetOrder reads an order with its items and payments.
func (e *Engine) GetOrder(ctx context.Context, orderID string) (*OrderView, error) {
	var view OrderView
	err := e.store.View(ctx, func(tx ledger.ReadTx) error {
		order, err := tx.Order(ctx, orderID)
		if err != nil {
			return err
		}
		view.Order = *order
		if view.Items, err = tx.OrderItems(ctx, orderID); err != nil {
			return err
		}
		view.Payments, err = tx.Payments(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}
