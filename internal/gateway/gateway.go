// Package gateway abstracts the external payment gateway. The core only
// ever reports externally-confirmed charge and refund amounts; the
// gateway's own protocol stays outside.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// Recorder records confirmed charge and refund amounts with the gateway.
// A failure aborts the enclosing ledger transaction: an unconfirmed
// amount must never commit.
type Recorder interface {
	RecordCharge(ctx context.Context, orderID, method string, amount decimal.Decimal) error
	RecordRefund(ctx context.Context, orderID, method string, amount decimal.Decimal) error
}

// Noop is the recorder for embedded and test use.
type Noop struct{}

func (Noop) RecordCharge(context.Context, string, string, decimal.Decimal) error { return nil }
func (Noop) RecordRefund(context.Context, string, string, decimal.Decimal) error { return nil }

// HTTPRecorder reports amounts to a gateway over HTTP.
type HTTPRecorder struct {
	client *resty.Client
}

// NewHTTPRecorder creates a recorder against baseURL.
func NewHTTPRecorder(baseURL string) *HTTPRecorder {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2)
	return &HTTPRecorder{client: client}
}

type recordRequest struct {
	OrderID string `json:"order_id"`
	Method  string `json:"method"`
	Amount  string `json:"amount"`
}

func (r *HTTPRecorder) post(ctx context.Context, path, orderID, method string, amount decimal.Decimal) error {
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(recordRequest{OrderID: orderID, Method: method, Amount: amount.String()}).
		Post(path)
	if err != nil {
		return fmt.Errorf("gateway %s: %w", path, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("gateway %s: unexpected status %d", path, resp.StatusCode())
	}
	return nil
}

func (r *HTTPRecorder) RecordCharge(ctx context.Context, orderID, method string, amount decimal.Decimal) error {
	return r.post(ctx, "/api/charges", orderID, method, amount)
}

func (r *HTTPRecorder) RecordRefund(ctx context.Context, orderID, method string, amount decimal.Decimal) error {
	return r.post(ctx, "/api/refunds", orderID, method, amount)
}
