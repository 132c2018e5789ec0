// Package ledger defines the transactional store contract shared by the
// Postgres and in-memory drivers.
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/matheusmosca/fulfillment-core/internal/domain"
)

// DefaultLockTimeout bounds how long a transaction waits for a contended
// product or order before aborting with domain.ErrContention.
const DefaultLockTimeout = 3 * time.Second

// ReadTx is the read-only view available inside View and Update.
type ReadTx interface {
	User(ctx context.Context, id string) (*domain.User, error)
	Product(ctx context.Context, id string) (*domain.Product, error)
	Order(ctx context.Context, id string) (*domain.Order, error)
	OrderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error)
	Payments(ctx context.Context, orderID string) ([]domain.Payment, error)

	// AuditHistory returns the order's audit entries ordered by
	// occurrence time ascending.
	AuditHistory(ctx context.Context, orderID string) ([]domain.AuditEntry, error)
}

// Tx is the mutation context handed to Update closures. All writes commit
// atomically when the closure returns nil and are discarded otherwise.
type Tx interface {
	ReadTx

	// ProductForUpdate loads a product under an exclusive per-row lock
	// held until the transaction ends. Lock waits are bounded; exceeding
	// the bound returns domain.ErrContention.
	ProductForUpdate(ctx context.Context, id string) (*domain.Product, error)

	// OrderForUpdate is ProductForUpdate for orders.
	OrderForUpdate(ctx context.Context, id string) (*domain.Order, error)

	CreateUser(ctx context.Context, u *domain.User) error
	CreateProduct(ctx context.Context, p *domain.Product) error
	CreateOrder(ctx context.Context, o *domain.Order) error
	CreateOrderItem(ctx context.Context, it *domain.OrderItem) error
	CreatePayment(ctx context.Context, p *domain.Payment) error
	AppendAuditEntry(ctx context.Context, e *domain.AuditEntry) error

	// SetProductStock writes an absolute stock quantity. Callers hold the
	// product lock via ProductForUpdate; the inventory manager is the
	// only caller.
	SetProductStock(ctx context.Context, productID string, quantity int) error

	// UpdateProductPrice changes the catalog price. Existing order items
	// keep their snapshots.
	UpdateProductPrice(ctx context.Context, productID string, price decimal.Decimal) error

	// UpdateOrderStatus writes the order's status and, for cancellations,
	// the reason.
	UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus, reason string) error

	// MarkOrderItemReversed flags a line item whose stock was credited
	// back, so a retried cancellation cannot double-credit.
	MarkOrderItemReversed(ctx context.Context, itemID string) error

	// NextOrderNumber allocates the next sequential order number.
	NextOrderNumber(ctx context.Context) (int64, error)
}

// Store is a durable keyed store with closure-scoped transactions.
// Transactions touching disjoint products/orders proceed in parallel;
// transactions contending on the same row serialize or abort with
// domain.ErrContention.
type Store interface {
	// Update runs fn in a read-write transaction. It commits iff fn
	// returns nil; any error rolls back every write and is returned
	// unchanged.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(tx ReadTx) error) error
}
