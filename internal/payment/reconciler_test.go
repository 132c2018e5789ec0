package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/matheusmosca/fulfillment-core/internal/domain"
	"github.com/matheusmosca/fulfillment-core/internal/ledger"
	"github.com/matheusmosca/fulfillment-core/internal/ledger/memory"
)

// MockRecorder mocks the gateway recorder.
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) RecordCharge(ctx context.Context, orderID, method string, amount decimal.Decimal) error {
	args := m.Called(ctx, orderID, method, amount)
	return args.Error(0)
}

func (m *MockRecorder) RecordRefund(ctx context.Context, orderID, method string, amount decimal.Decimal) error {
	args := m.Called(ctx, orderID, method, amount)
	return args.Error(0)
}

func netOf(t *testing.T, s *memory.Store, orderID string) decimal.Decimal {
	t.Helper()
	var net decimal.Decimal
	require.NoError(t, s.View(context.Background(), func(tx ledger.ReadTx) error {
		payments, err := tx.Payments(context.Background(), orderID)
		if err != nil {
			return err
		}
		net = domain.NetPayments(payments)
		return nil
	}))
	return net
}

func TestRecordCharge(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	r := NewReconciler(FullRefund(), nil, nil)

	require.NoError(t, s.Update(ctx, func(tx ledger.Tx) error {
		p, err := r.RecordCharge(ctx, tx, "o1", "card", decimal.RequireFromString("20.00"))
		require.NoError(t, err)
		assert.Equal(t, "card", p.PaymentMethod)
		return nil
	}))
	assert.True(t, netOf(t, s, "o1").Equal(decimal.RequireFromString("20.00")))
}

func TestRecordChargeRejectsNonPositive(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	r := NewReconciler(FullRefund(), nil, nil)

	for _, amount := range []string{"0", "-5.00"} {
		err := s.Update(ctx, func(tx ledger.Tx) error {
			_, err := r.RecordCharge(ctx, tx, "o1", "card", decimal.RequireFromString(amount))
			return err
		})
		assert.ErrorIs(t, err, domain.ErrValidation)
	}
}

func TestReverseNetsToZero(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	r := NewReconciler(FullRefund(), nil, nil)

	require.NoError(t, s.Update(ctx, func(tx ledger.Tx) error {
		_, err := r.RecordCharge(ctx, tx, "o1", "card", decimal.RequireFromString("20.00"))
		return err
	}))
	require.NoError(t, s.Update(ctx, func(tx ledger.Tx) error {
		rev, err := r.Reverse(ctx, tx, "o1")
		require.NoError(t, err)
		assert.True(t, rev.Amount.Equal(decimal.RequireFromString("-20.00")))
		assert.Equal(t, "card", rev.PaymentMethod, "reversal keeps the charge's method")
		return nil
	}))
	assert.True(t, netOf(t, s, "o1").IsZero())

	// the original charge row is untouched, the chain has two links
	require.NoError(t, s.View(ctx, func(tx ledger.ReadTx) error {
		payments, err := tx.Payments(ctx, "o1")
		require.NoError(t, err)
		require.Len(t, payments, 2)
		assert.True(t, payments[0].Amount.IsPositive())
		assert.True(t, payments[1].Amount.IsNegative())
		return nil
	}))
}

func TestReverseTwiceIsNothingToReverse(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	r := NewReconciler(FullRefund(), nil, nil)

	require.NoError(t, s.Update(ctx, func(tx ledger.Tx) error {
		_, err := r.RecordCharge(ctx, tx, "o1", "card", decimal.RequireFromString("20.00"))
		return err
	}))
	require.NoError(t, s.Update(ctx, func(tx ledger.Tx) error {
		_, err := r.Reverse(ctx, tx, "o1")
		return err
	}))

	err := s.Update(ctx, func(tx ledger.Tx) error {
		_, err := r.Reverse(ctx, tx, "o1")
		return err
	})
	require.ErrorIs(t, err, domain.ErrNothingToReverse)
	assert.True(t, netOf(t, s, "o1").IsZero(), "second reverse must not add a payment")
}

func TestReverseOnEmptyChain(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	r := NewReconciler(FullRefund(), nil, nil)

	err := s.Update(ctx, func(tx ledger.Tx) error {
		_, err := r.Reverse(ctx, tx, "never-charged")
		return err
	})
	assert.ErrorIs(t, err, domain.ErrNothingToReverse)
}

func TestPartialRefundPolicy(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	r := NewReconciler(PartialRefund(decimal.RequireFromString("0.5")), nil, nil)

	require.NoError(t, s.Update(ctx, func(tx ledger.Tx) error {
		_, err := r.RecordCharge(ctx, tx, "o1", "card", decimal.RequireFromString("20.00"))
		return err
	}))
	require.NoError(t, s.Update(ctx, func(tx ledger.Tx) error {
		rev, err := r.Reverse(ctx, tx, "o1")
		require.NoError(t, err)
		assert.True(t, rev.Amount.Equal(decimal.RequireFromString("-10.00")))
		return nil
	}))
	assert.True(t, netOf(t, s, "o1").Equal(decimal.RequireFromString("10.00")))
}

func TestGatewayFailureAbortsCharge(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	recorder := new(MockRecorder)
	recorder.On("RecordCharge", mock.Anything, "o1", "card", mock.Anything).
		Return(errors.New("gateway down"))
	r := NewReconciler(FullRefund(), recorder, nil)

	err := s.Update(ctx, func(tx ledger.Tx) error {
		_, err := r.RecordCharge(ctx, tx, "o1", "card", decimal.RequireFromString("20.00"))
		return err
	})
	require.Error(t, err)
	assert.True(t, netOf(t, s, "o1").IsZero(), "unconfirmed charge must not commit")
	recorder.AssertExpectations(t)
}

func TestGatewayReceivesRefundAmount(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	recorder := new(MockRecorder)
	recorder.On("RecordCharge", mock.Anything, "o1", "card", mock.Anything).Return(nil)
	recorder.On("RecordRefund", mock.Anything, "o1", "card", mock.MatchedBy(func(amount decimal.Decimal) bool {
		return amount.Equal(decimal.RequireFromString("20.00"))
	})).Return(nil)
	r := NewReconciler(FullRefund(), recorder, nil)

	require.NoError(t, s.Update(ctx, func(tx ledger.Tx) error {
		if _, err := r.RecordCharge(ctx, tx, "o1", "card", decimal.RequireFromString("20.00")); err != nil {
			return err
		}
		_, err := r.Reverse(ctx, tx, "o1")
		return err
	}))
	recorder.AssertExpectations(t)
}
