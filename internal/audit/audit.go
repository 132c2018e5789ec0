// Package audit records order status transitions as an append-only log.
// Entries only ever exist inside the transaction that performed the
// transition they record.
package audit

import (
	"context"
	"iter"

	"go.uber.org/zap"

	"github.com/matheusmosca/fulfillment-core/internal/domain"
	"github.com/matheusmosca/fulfillment-core/internal/ledger"
)

// Logger appends and reads audit entries.
type Logger struct {
	store ledger.Store
	log   *zap.Logger
}

// NewLogger creates a Logger. The store is only used by the read path;
// Append always rides the caller's transaction.
func NewLogger(store ledger.Store, log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{store: store, log: log}
}

// Append records a transition inside the caller's transaction. fromStatus
// is empty for the creation entry.
func (l *Logger) Append(ctx context.Context, tx ledger.Tx, orderID string, from, to domain.OrderStatus, actor string) error {
	entry := domain.NewAuditEntry(orderID, from, to, actor)
	if err := tx.AppendAuditEntry(ctx, entry); err != nil {
		return err
	}
	l.log.Debug("audit entry appended",
		zap.String("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor", actor))
	return nil
}

// History returns the order's entries ordered by occurrence time
// ascending. The sequence is restartable: each range re-reads the store,
// so a second pass observes entries committed in between.
func (l *Logger) History(ctx context.Context, orderID string) iter.Seq2[domain.AuditEntry, error] {
	return func(yield func(domain.AuditEntry, error) bool) {
		var entries []domain.AuditEntry
		err := l.store.View(ctx, func(tx ledger.ReadTx) error {
			var err error
			entries, err = tx.AuditHistory(ctx, orderID)
			return err
		})
		if err != nil {
			yield(domain.AuditEntry{}, err)
			return
		}
		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
	}
}
