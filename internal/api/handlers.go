// Package api exposes the fulfillment core over HTTP. It is thin glue:
// request binding, tracing and error-to-status mapping around the engine.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/matheusmosca/fulfillment-core/internal/audit"
	"github.com/matheusmosca/fulfillment-core/internal/domain"
	"github.com/matheusmosca/fulfillment-core/internal/engine"
)

// OrderEngine is the engine surface the handlers need.
type OrderEngine interface {
	PlaceOrder(ctx context.Context, userID, method string, lines []domain.LineItem) (*engine.PlaceOrderResult, error)
	CompleteOrder(ctx context.Context, orderID, actor string) error
	CancelOrder(ctx context.Context, orderID, reason, actor string) error
	GetOrder(ctx context.Context, orderID string) (*engine.OrderView, error)
}

// PlaceOrderRequest is the placement payload.
type PlaceOrderRequest struct {
	UserID        string            `json:"user_id" binding:"required"`
	PaymentMethod string            `json:"payment_method" binding:"required"`
	Items         []domain.LineItem `json:"items" binding:"required,min=1,dive"`
}

// CancelOrderRequest is the cancellation payload.
type CancelOrderRequest struct {
	Reason string `json:"reason" binding:"required"`
	Actor  string `json:"actor" binding:"required"`
}

// CompleteOrderRequest is the completion payload.
type CompleteOrderRequest struct {
	Actor string `json:"actor" binding:"required"`
}

// OrderHandler holds the HTTP handlers.
type OrderHandler struct {
	engine  OrderEngine
	auditor *audit.Logger
	tracer  trace.Tracer
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(eng OrderEngine, auditor *audit.Logger, tracer trace.Tracer) *OrderHandler {
	return &OrderHandler{engine: eng, auditor: auditor, tracer: tracer}
}

// Register wires the routes onto the router.
func (h *OrderHandler) Register(r gin.IRouter) {
	r.GET("/health", h.HealthCheck)
	r.POST("/api/orders", h.PlaceOrder)
	r.POST("/api/orders/:id/complete", h.CompleteOrder)
	r.POST("/api/orders/:id/cancel", h.CancelOrder)
	r.GET("/api/orders/:id", h.GetOrder)
	r.GET("/api/orders/:id/history", h.GetOrderHistory)
}

// statusFor maps the core error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrContention):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, span trace.Span, err error) {
	span.RecordError(err)
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// PlaceOrder handles POST /api/orders.
func (h *OrderHandler) PlaceOrder(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "place_order")
	defer span.End()

	var req PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.String("user_id", req.UserID),
		attribute.Int("line_items", len(req.Items)),
	)

	res, err := h.engine.PlaceOrder(ctx, req.UserID, req.PaymentMethod, req.Items)
	if err != nil {
		abortWithError(c, span, err)
		return
	}

	span.SetAttributes(attribute.String("order_id", res.OrderID))
	c.JSON(http.StatusCreated, gin.H{
		"order_id":     res.OrderID,
		"order_number": res.OrderNumber,
		"total_amount": res.TotalAmount,
	})
}

// CompleteOrder handles POST /api/orders/:id/complete.
func (h *OrderHandler) CompleteOrder(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "complete_order")
	defer span.End()

	orderID := c.Param("id")
	span.SetAttributes(attribute.String("order_id", orderID))

	var req CompleteOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.engine.CompleteOrder(ctx, orderID, req.Actor); err != nil {
		abortWithError(c, span, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order_id": orderID,
		"status":   domain.OrderStatusCompleted,
	})
}

// CancelOrder handles POST /api/orders/:id/cancel.
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "cancel_order")
	defer span.End()

	orderID := c.Param("id")
	span.SetAttributes(attribute.String("order_id", orderID))

	var req CancelOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(attribute.String("actor", req.Actor))

	if err := h.engine.CancelOrder(ctx, orderID, req.Reason, req.Actor); err != nil {
		abortWithError(c, span, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order_id": orderID,
		"status":   domain.OrderStatusCancelled,
	})
}

// GetOrder handles GET /api/orders/:id.
func (h *OrderHandler) GetOrder(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "get_order")
	defer span.End()

	orderID := c.Param("id")
	span.SetAttributes(attribute.String("order_id", orderID))

	view, err := h.engine.GetOrder(ctx, orderID)
	if err != nil {
		abortWithError(c, span, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetOrderHistory handles GET /api/orders/:id/history.
func (h *OrderHandler) GetOrderHistory(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "get_order_history")
	defer span.End()

	orderID := c.Param("id")
	span.SetAttributes(attribute.String("order_id", orderID))

	// the order must exist; an empty history on a real order is valid
	if _, err := h.engine.GetOrder(ctx, orderID); err != nil {
		abortWithError(c, span, err)
		return
	}

	entries := make([]domain.AuditEntry, 0)
	for entry, err := range h.auditor.History(ctx, orderID) {
		if err != nil {
			abortWithError(c, span, err)
			return
		}
		entries = append(entries, entry)
	}
	c.JSON(http.StatusOK, gin.H{
		"order_id": orderID,
		"history":  entries,
	})
}

// HealthCheck handles GET /health.
func (h *OrderHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "fulfillment-core",
	})
}
