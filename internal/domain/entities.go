// Package domain holds the entities and error taxonomy of the
// order-fulfillment core.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus enumerates the order state machine.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// allowedTransitions is the full transition table. Cancelled is terminal.
var allowedTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusCompleted: {OrderStatusCancelled},
	OrderStatusCancelled: {},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ActorSystem is the conventional actor for transitions not initiated by
// a user (batch jobs, operators).
const ActorSystem = "system"

// User is an identity row in the ledger. The core only ever checks its
// existence; profile mutation lives outside.
type User struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Email     string    `json:"email" db:"email"`
	Address   string    `json:"address,omitempty" db:"address"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewUser creates a User with a fresh id.
func NewUser(name, email, address string) *User {
	return &User{
		ID:        uuid.New().String(),
		Name:      name,
		Email:     email,
		Address:   address,
		CreatedAt: time.Now().UTC(),
	}
}

// Product is a catalog row. Price and stock mutate independently of any
// order that already snapshotted them.
type Product struct {
	ID            string          `json:"id" db:"id"`
	Name          string          `json:"name" db:"name"`
	Description   string          `json:"description" db:"description"`
	Price         decimal.Decimal `json:"price" db:"price"`
	StockQuantity int             `json:"stock_quantity" db:"stock_quantity"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// NewProduct creates a Product with a fresh id.
func NewProduct(name, description string, price decimal.Decimal, stock int) *Product {
	now := time.Now().UTC()
	return &Product{
		ID:            uuid.New().String(),
		Name:          name,
		Description:   description,
		Price:         price,
		StockQuantity: stock,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Order is the aggregate root of a placement. TotalAmount always equals
// the sum of its items' Quantity x PriceAtOrderTime.
type Order struct {
	ID                 string          `json:"id" db:"id"`
	OrderNumber        int64           `json:"order_number" db:"order_number"`
	UserID             string          `json:"user_id" db:"user_id"`
	OrderDate          time.Time       `json:"order_date" db:"order_date"`
	TotalAmount        decimal.Decimal `json:"total_amount" db:"total_amount"`
	Status             OrderStatus     `json:"status" db:"status"`
	CancellationReason string          `json:"cancellation_reason,omitempty" db:"cancellation_reason"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}

// NewOrder creates a pending Order.
func NewOrder(id string, number int64, userID string, total decimal.Decimal) *Order {
	now := time.Now().UTC()
	return &Order{
		ID:          id,
		OrderNumber: number,
		UserID:      userID,
		OrderDate:   now,
		TotalAmount: total,
		Status:      OrderStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// TransitionTo validates and applies a status change.
func (o *Order) TransitionTo(to OrderStatus) error {
	if !CanTransition(o.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// OrderItem is a line of an Order. PriceAtOrderTime is a snapshot of the
// product price at placement and never changes afterwards. Reversed marks
// that the item's stock has already been credited back by a cancellation.
type OrderItem struct {
	ID               string          `json:"id" db:"id"`
	OrderID          string          `json:"order_id" db:"order_id"`
	ProductID        string          `json:"product_id" db:"product_id"`
	Quantity         int             `json:"quantity" db:"quantity"`
	PriceAtOrderTime decimal.Decimal `json:"price_at_order_time" db:"price_at_order_time"`
	Reversed         bool            `json:"reversed" db:"reversed"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

// NewOrderItem snapshots price into a new line item.
func NewOrderItem(orderID, productID string, quantity int, price decimal.Decimal) *OrderItem {
	return &OrderItem{
		ID:               uuid.New().String(),
		OrderID:          orderID,
		ProductID:        productID,
		Quantity:         quantity,
		PriceAtOrderTime: price,
		CreatedAt:        time.Now().UTC(),
	}
}

// Subtotal is Quantity x PriceAtOrderTime.
func (it *OrderItem) Subtotal() decimal.Decimal {
	return it.PriceAtOrderTime.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// Payment is one link of an order's reconciliation chain: positive for
// the original charge, negative for a compensating reversal. Rows are
// append-only.
type Payment struct {
	ID            string          `json:"id" db:"id"`
	OrderID       string          `json:"order_id" db:"order_id"`
	PaymentDate   time.Time       `json:"payment_date" db:"payment_date"`
	PaymentMethod string          `json:"payment_method" db:"payment_method"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// NewPayment creates a payment record.
func NewPayment(orderID, method string, amount decimal.Decimal) *Payment {
	now := time.Now().UTC()
	return &Payment{
		ID:            uuid.New().String(),
		OrderID:       orderID,
		PaymentDate:   now,
		PaymentMethod: method,
		Amount:        amount,
		CreatedAt:     now,
	}
}

// NetPayments sums a payment chain.
func NetPayments(payments []Payment) decimal.Decimal {
	net := decimal.Zero
	for _, p := range payments {
		net = net.Add(p.Amount)
	}
	return net
}

// AuditEntry is one append-only record of an order status transition.
// FromStatus is empty on the creation entry.
type AuditEntry struct {
	ID         string      `json:"id" db:"id"`
	OrderID    string      `json:"order_id" db:"order_id"`
	FromStatus OrderStatus `json:"from_status,omitempty" db:"from_status"`
	ToStatus   OrderStatus `json:"to_status" db:"to_status"`
	Actor      string      `json:"actor" db:"actor"`
	OccurredAt time.Time   `json:"occurred_at" db:"occurred_at"`
}

// NewAuditEntry creates an audit record.
func NewAuditEntry(orderID string, from, to OrderStatus, actor string) *AuditEntry {
	return &AuditEntry{
		ID:         uuid.New().String(),
		OrderID:    orderID,
		FromStatus: from,
		ToStatus:   to,
		Actor:      actor,
		OccurredAt: time.Now().UTC(),
	}
}

// LineItem is a placement request line.
type LineItem struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,gt=0"`
}
