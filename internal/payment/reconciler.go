// Package payment maintains each order's append-only payment chain: one
// primary charge, optionally followed by compensating reversals. Rows are
// never mutated or deleted; reconciliation is the net sum of the chain.
package payment

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/matheusmosca/fulfillment-core/internal/domain"
	"github.com/matheusmosca/fulfillment-core/internal/gateway"
	"github.com/matheusmosca/fulfillment-core/internal/ledger"
)

// Policy controls how much of an order's net payment a reversal refunds.
// The default refunds everything. A partial policy must be configured
// explicitly; it is never assumed.
type Policy struct {
	// Fraction of the net to reverse, in (0, 1]. 1 means full refund.
	Fraction decimal.Decimal
}

// FullRefund is the default policy.
func FullRefund() Policy {
	return Policy{Fraction: decimal.NewFromInt(1)}
}

// PartialRefund reverses the given fraction of the net.
func PartialRefund(fraction decimal.Decimal) Policy {
	return Policy{Fraction: fraction}
}

// Reconciler creates charge and reversal records and reports the
// externally-confirmed amounts to the payment gateway recorder.
type Reconciler struct {
	policy  Policy
	gateway gateway.Recorder
	log     *zap.Logger
}

// NewReconciler creates a Reconciler. A nil recorder disables gateway
// reporting.
func NewReconciler(policy Policy, recorder gateway.Recorder, log *zap.Logger) *Reconciler {
	if recorder == nil {
		recorder = gateway.Noop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{policy: policy, gateway: recorder, log: log}
}

// RecordCharge appends the primary Payment for an order. Amount must be
// positive.
func (r *Reconciler) RecordCharge(ctx context.Context, tx ledger.Tx, orderID, method string, amount decimal.Decimal) (*domain.Payment, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("charge amount %s: %w", amount, domain.ErrValidation)
	}

	p := domain.NewPayment(orderID, method, amount)
	if err := tx.CreatePayment(ctx, p); err != nil {
		return nil, err
	}
	if err := r.gateway.RecordCharge(ctx, orderID, method, amount); err != nil {
		return nil, fmt.Errorf("gateway charge for order %s: %w", orderID, err)
	}

	r.log.Info("charge recorded",
		zap.String("order_id", orderID),
		zap.String("amount", amount.String()))
	return p, nil
}

// Reverse appends a single compensating Payment of -net (scaled by the
// configured fraction) for the order. A chain that already nets to zero
// returns domain.ErrNothingToReverse, which callers treat as an
// idempotent no-op so retried cancellations do not double-refund.
func (r *Reconciler) Reverse(ctx context.Context, tx ledger.Tx, orderID string) (*domain.Payment, error) {
	payments, err := tx.Payments(ctx, orderID)
	if err != nil {
		return nil, err
	}

	net := domain.NetPayments(payments)
	if net.IsZero() {
		return nil, fmt.Errorf("order %s: %w", orderID, domain.ErrNothingToReverse)
	}

	refund := net.Mul(r.policy.Fraction).Neg()
	// a non-zero net implies at least one payment; reversals keep the
	// original charge's method
	method := payments[0].PaymentMethod

	p := domain.NewPayment(orderID, method, refund)
	if err := tx.CreatePayment(ctx, p); err != nil {
		return nil, err
	}
	if err := r.gateway.RecordRefund(ctx, orderID, method, refund.Abs()); err != nil {
		return nil, fmt.Errorf("gateway refund for order %s: %w", orderID, err)
	}

	r.log.Info("reversal recorded",
		zap.String("order_id", orderID),
		zap.String("net_before", net.String()),
		zap.String("refund", refund.String()))
	return p, nil
}
