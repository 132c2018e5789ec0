package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/matheusmosca/fulfillment-core/internal/audit"
	"github.com/matheusmosca/fulfillment-core/internal/domain"
	"github.com/matheusmosca/fulfillment-core/internal/engine"
	"github.com/matheusmosca/fulfillment-core/internal/inventory"
	"github.com/matheusmosca/fulfillment-core/internal/ledger"
	"github.com/matheusmosca/fulfillment-core/internal/ledger/memory"
	"github.com/matheusmosca/fulfillment-core/internal/payment"
)

type testServer struct {
	router  *gin.Engine
	user    *domain.User
	product *domain.Product
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.New()
	auditor := audit.NewLogger(store, nil)
	eng := engine.New(store,
		inventory.NewManager(nil),
		payment.NewReconciler(payment.FullRefund(), nil, nil),
		auditor,
		nil)

	handler := NewOrderHandler(eng, auditor, otel.Tracer("test"))
	router := gin.New()
	handler.Register(router)

	ts := &testServer{
		router:  router,
		user:    domain.NewUser("Alice", "alice@example.com", ""),
		product: domain.NewProduct("widget", "", decimal.RequireFromString("10.00"), 5),
	}
	ctx := context.Background()
	require.NoError(t, store.Update(ctx, func(tx ledger.Tx) error {
		if err := tx.CreateUser(ctx, ts.user); err != nil {
			return err
		}
		return tx.CreateProduct(ctx, ts.product)
	}))
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) placeOrder(t *testing.T, qty int) string {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/orders", PlaceOrderRequest{
		UserID:        ts.user.ID,
		PaymentMethod: "card",
		Items:         []domain.LineItem{{ProductID: ts.product.ID, Quantity: qty}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		OrderID string `json:"order_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.OrderID
}

func TestPlaceOrderEndpoint(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/orders", PlaceOrderRequest{
		UserID:        ts.user.ID,
		PaymentMethod: "card",
		Items:         []domain.LineItem{{ProductID: ts.product.ID, Quantity: 2}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		OrderID     string          `json:"order_id"`
		OrderNumber int64           `json:"order_number"`
		TotalAmount decimal.Decimal `json:"total_amount"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.OrderID)
	assert.EqualValues(t, 1, resp.OrderNumber)
	assert.True(t, resp.TotalAmount.Equal(decimal.RequireFromString("20.00")))
}

func TestPlaceOrderEndpointBadRequest(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/orders", gin.H{"user_id": ts.user.ID})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPlaceOrderEndpointInsufficientStock(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/orders", PlaceOrderRequest{
		UserID:        ts.user.ID,
		PaymentMethod: "card",
		Items:         []domain.LineItem{{ProductID: ts.product.ID, Quantity: 99}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestPlaceOrderEndpointUnknownUser(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/orders", PlaceOrderRequest{
		UserID:        "ghost",
		PaymentMethod: "card",
		Items:         []domain.LineItem{{ProductID: ts.product.ID, Quantity: 1}},
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelOrderEndpoint(t *testing.T) {
	ts := newTestServer(t)
	orderID := ts.placeOrder(t, 2)

	w := ts.do(t, http.MethodPost, fmt.Sprintf("/api/orders/%s/cancel", orderID), CancelOrderRequest{
		Reason: "changed mind",
		Actor:  ts.user.ID,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// re-cancel conflicts
	w = ts.do(t, http.MethodPost, fmt.Sprintf("/api/orders/%s/cancel", orderID), CancelOrderRequest{
		Reason: "again",
		Actor:  ts.user.ID,
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCompleteOrderEndpoint(t *testing.T) {
	ts := newTestServer(t)
	orderID := ts.placeOrder(t, 1)

	w := ts.do(t, http.MethodPost, fmt.Sprintf("/api/orders/%s/complete", orderID), CompleteOrderRequest{
		Actor: domain.ActorSystem,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodGet, fmt.Sprintf("/api/orders/%s", orderID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view engine.OrderView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, domain.OrderStatusCompleted, view.Order.Status)
}

func TestOrderHistoryEndpoint(t *testing.T) {
	ts := newTestServer(t)
	orderID := ts.placeOrder(t, 1)

	w := ts.do(t, http.MethodPost, fmt.Sprintf("/api/orders/%s/cancel", orderID), CancelOrderRequest{
		Reason: "changed mind",
		Actor:  ts.user.ID,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, fmt.Sprintf("/api/orders/%s/history", orderID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		History []domain.AuditEntry `json:"history"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.History, 2)
	assert.Equal(t, domain.OrderStatusPending, resp.History[0].ToStatus)
	assert.Equal(t, domain.OrderStatusCancelled, resp.History[1].ToStatus)

	w = ts.do(t, http.MethodGet, "/api/orders/missing/history", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
