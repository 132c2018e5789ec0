package domain

import "errors"

// Sentinel errors for the fulfillment core. Callers match them with
// errors.Is; every one of them aborts the enclosing ledger transaction
// with no partial effect.
var (
	// ErrNotFound signals a missing user, product or order.
	ErrNotFound = errors.New("fulfillment: not found")

	// ErrInsufficientStock signals a reservation that would drive a
	// product's stock below zero.
	ErrInsufficientStock = errors.New("fulfillment: insufficient stock")

	// ErrInvalidTransition signals an illegal order status change.
	ErrInvalidTransition = errors.New("fulfillment: invalid status transition")

	// ErrContention signals a lock wait that exceeded its bound. The
	// operation had no effect and is safe to retry with the same input.
	ErrContention = errors.New("fulfillment: contention, retry")

	// ErrNothingToReverse signals a reversal on an order whose payment
	// chain already nets to zero. It is an idempotent no-op for the
	// cancellation workflow, not a failure.
	ErrNothingToReverse = errors.New("fulfillment: nothing to reverse")

	// ErrValidation signals malformed input (quantities, amounts, ids).
	ErrValidation = errors.New("fulfillment: validation failed")
)
