// Package memory implements the ledger store over process-local maps.
// It honors the same locking contract as the Postgres driver and is the
// store the test suite and embedders run against; durability across
// restarts is the Postgres driver's property.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/matheusmosca/fulfillment-core/internal/domain"
	"github.com/matheusmosca/fulfillment-core/internal/ledger"
)

// Store is an in-memory ledger. Row-level locks live in a per-key lock
// table; transactions stage writes locally and apply them under the store
// mutex on commit, so a failed transaction leaves no trace.
type Store struct {
	mu sync.Mutex

	users        map[string]domain.User
	products     map[string]domain.Product
	orders       map[string]domain.Order
	items        map[string]domain.OrderItem
	itemsByOrder map[string][]string
	payments     map[string][]domain.Payment
	audits       map[string][]domain.AuditEntry

	orderSeq int64

	locks       *lockTable
	lockTimeout time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout bounds row-lock waits. Exceeding it aborts the
// transaction with domain.ErrContention.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		users:        make(map[string]domain.User),
		products:     make(map[string]domain.Product),
		orders:       make(map[string]domain.Order),
		items:        make(map[string]domain.OrderItem),
		itemsByOrder: make(map[string][]string),
		payments:     make(map[string][]domain.Payment),
		audits:       make(map[string][]domain.AuditEntry),
		locks:        newLockTable(),
		lockTimeout:  ledger.DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ ledger.Store = (*Store)(nil)

// Update runs fn in a read-write transaction.
func (s *Store) Update(ctx context.Context, fn func(tx ledger.Tx) error) error {
	tx := &memTx{
		store:    s,
		held:     make(map[string]struct{}),
		users:    make(map[string]domain.User),
		products: make(map[string]domain.Product),
		orders:   make(map[string]domain.Order),
		items:    make(map[string]domain.OrderItem),
	}
	defer tx.releaseLocks()

	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// View runs fn against committed state.
func (s *Store) View(ctx context.Context, fn func(tx ledger.ReadTx) error) error {
	return fn(&memTx{store: s, readOnly: true})
}

type memTx struct {
	store    *Store
	readOnly bool

	held map[string]struct{}

	// staged writes, keyed by id; slices are append-only within the tx
	users     map[string]domain.User
	products  map[string]domain.Product
	orders    map[string]domain.Order
	items     map[string]domain.OrderItem
	itemOrder []string
	payments  []domain.Payment
	audits    []domain.AuditEntry
}

func productKey(id string) string { return "product/" + id }
func orderKey(id string) string   { return "order/" + id }

func (t *memTx) lock(ctx context.Context, key string) error {
	if _, ok := t.held[key]; ok {
		return nil
	}
	if err := t.store.locks.acquire(ctx, key, t.store.lockTimeout); err != nil {
		return err
	}
	t.held[key] = struct{}{}
	return nil
}

func (t *memTx) releaseLocks() {
	for key := range t.held {
		t.store.locks.release(key)
	}
	t.held = nil
}

func (t *memTx) commit() {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, u := range t.users {
		s.users[id] = u
	}
	for id, p := range t.products {
		s.products[id] = p
	}
	for id, o := range t.orders {
		s.orders[id] = o
	}
	for _, id := range t.itemOrder {
		it := t.items[id]
		if _, exists := s.items[id]; !exists {
			s.itemsByOrder[it.OrderID] = append(s.itemsByOrder[it.OrderID], id)
		}
		s.items[id] = it
	}
	for id, it := range t.items {
		if _, exists := s.items[id]; exists {
			s.items[id] = it
		}
	}
	for _, p := range t.payments {
		s.payments[p.OrderID] = append(s.payments[p.OrderID], p)
	}
	for _, e := range t.audits {
		s.audits[e.OrderID] = append(s.audits[e.OrderID], e)
	}
}

// reads

func (t *memTx) User(_ context.Context, id string) (*domain.User, error) {
	if u, ok := t.users[id]; ok && !t.readOnly {
		return &u, nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if u, ok := t.store.users[id]; ok {
		return &u, nil
	}
	return nil, fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
}

func (t *memTx) Product(_ context.Context, id string) (*domain.Product, error) {
	if !t.readOnly {
		if p, ok := t.products[id]; ok {
			return &p, nil
		}
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if p, ok := t.store.products[id]; ok {
		return &p, nil
	}
	return nil, fmt.Errorf("product %s: %w", id, domain.ErrNotFound)
}

func (t *memTx) Order(_ context.Context, id string) (*domain.Order, error) {
	if !t.readOnly {
		if o, ok := t.orders[id]; ok {
			return &o, nil
		}
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if o, ok := t.store.orders[id]; ok {
		return &o, nil
	}
	return nil, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
}

func (t *memTx) OrderItems(_ context.Context, orderID string) ([]domain.OrderItem, error) {
	t.store.mu.Lock()
	ids := append([]string(nil), t.store.itemsByOrder[orderID]...)
	base := make([]domain.OrderItem, 0, len(ids))
	for _, id := range ids {
		base = append(base, t.store.items[id])
	}
	t.store.mu.Unlock()

	if t.readOnly {
		return base, nil
	}
	// overlay staged versions and staged creations for this order
	for i, it := range base {
		if staged, ok := t.items[it.ID]; ok {
			base[i] = staged
		}
	}
	for _, id := range t.itemOrder {
		it := t.items[id]
		if it.OrderID == orderID {
			base = append(base, it)
		}
	}
	return base, nil
}

func (t *memTx) Payments(_ context.Context, orderID string) ([]domain.Payment, error) {
	t.store.mu.Lock()
	out := append([]domain.Payment(nil), t.store.payments[orderID]...)
	t.store.mu.Unlock()

	if !t.readOnly {
		for _, p := range t.payments {
			if p.OrderID == orderID {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func (t *memTx) AuditHistory(_ context.Context, orderID string) ([]domain.AuditEntry, error) {
	t.store.mu.Lock()
	out := append([]domain.AuditEntry(nil), t.store.audits[orderID]...)
	t.store.mu.Unlock()

	if !t.readOnly {
		for _, e := range t.audits {
			if e.OrderID == orderID {
				out = append(out, e)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out, nil
}

// locked reads

func (t *memTx) ProductForUpdate(ctx context.Context, id string) (*domain.Product, error) {
	if err := t.lock(ctx, productKey(id)); err != nil {
		return nil, err
	}
	return t.Product(ctx, id)
}

func (t *memTx) OrderForUpdate(ctx context.Context, id string) (*domain.Order, error) {
	if err := t.lock(ctx, orderKey(id)); err != nil {
		return nil, err
	}
	return t.Order(ctx, id)
}

// writes

func (t *memTx) CreateUser(ctx context.Context, u *domain.User) error {
	if _, err := t.User(ctx, u.ID); err == nil {
		return fmt.Errorf("user %s already exists: %w", u.ID, domain.ErrValidation)
	}
	t.users[u.ID] = *u
	return nil
}

func (t *memTx) CreateProduct(ctx context.Context, p *domain.Product) error {
	if _, err := t.Product(ctx, p.ID); err == nil {
		return fmt.Errorf("product %s already exists: %w", p.ID, domain.ErrValidation)
	}
	t.products[p.ID] = *p
	return nil
}

func (t *memTx) CreateOrder(ctx context.Context, o *domain.Order) error {
	if _, err := t.Order(ctx, o.ID); err == nil {
		return fmt.Errorf("order %s already exists: %w", o.ID, domain.ErrValidation)
	}
	if err := t.lock(ctx, orderKey(o.ID)); err != nil {
		return err
	}
	t.orders[o.ID] = *o
	return nil
}

func (t *memTx) CreateOrderItem(_ context.Context, it *domain.OrderItem) error {
	if _, ok := t.items[it.ID]; ok {
		return fmt.Errorf("order item %s already exists: %w", it.ID, domain.ErrValidation)
	}
	t.items[it.ID] = *it
	t.itemOrder = append(t.itemOrder, it.ID)
	return nil
}

func (t *memTx) CreatePayment(_ context.Context, p *domain.Payment) error {
	t.payments = append(t.payments, *p)
	return nil
}

func (t *memTx) AppendAuditEntry(_ context.Context, e *domain.AuditEntry) error {
	t.audits = append(t.audits, *e)
	return nil
}

func (t *memTx) SetProductStock(ctx context.Context, productID string, quantity int) error {
	if quantity < 0 {
		return fmt.Errorf("stock for product %s would be %d: %w", productID, quantity, domain.ErrValidation)
	}
	p, err := t.ProductForUpdate(ctx, productID)
	if err != nil {
		return err
	}
	p.StockQuantity = quantity
	p.UpdatedAt = time.Now().UTC()
	t.products[productID] = *p
	return nil
}

func (t *memTx) UpdateProductPrice(ctx context.Context, productID string, price decimal.Decimal) error {
	p, err := t.ProductForUpdate(ctx, productID)
	if err != nil {
		return err
	}
	p.Price = price
	p.UpdatedAt = time.Now().UTC()
	t.products[productID] = *p
	return nil
}

func (t *memTx) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus, reason string) error {
	o, err := t.OrderForUpdate(ctx, orderID)
	if err != nil {
		return err
	}
	o.Status = status
	if reason != "" {
		o.CancellationReason = reason
	}
	o.UpdatedAt = time.Now().UTC()
	t.orders[orderID] = *o
	return nil
}

func (t *memTx) MarkOrderItemReversed(ctx context.Context, itemID string) error {
	if it, ok := t.items[itemID]; ok {
		it.Reversed = true
		t.items[itemID] = it
		return nil
	}
	t.store.mu.Lock()
	it, ok := t.store.items[itemID]
	t.store.mu.Unlock()
	if !ok {
		return fmt.Errorf("order item %s: %w", itemID, domain.ErrNotFound)
	}
	it.Reversed = true
	t.items[itemID] = it
	return nil
}

func (t *memTx) NextOrderNumber(_ context.Context) (int64, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.orderSeq++
	return t.store.orderSeq, nil
}
