package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type OrderService interface {
	PlaceOrder(ctx context.Context, req service.PlaceOrderRequest) (*domain.Order, error)
	GetOrder(ctx context.Context, userID int64, orderID uuid.UUID) (*domain.Order, error)
	GetStatus(ctx context.Context, userID int64, orderID uuid.UUID) (*service.StatusView, error)
	ListOrders(ctx context.Context, userID int64) ([]*domain.Order, error)
	Cancel(ctx context.Context, userID int64, orderID uuid.UUID) (*domain.Order, error)
	ConfirmPayment(ctx context.Context, userID int64, orderID uuid.UUID, transactionRef string) (*domain.Order, error)
	Ship(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	Deliver(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	Refund(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
}

type OrdersHandler struct {
	orders  OrderService
	timeout time.Duration
}

func NewOrdersHandler(orders OrderService, timeout time.Duration) *OrdersHandler {
	return &OrdersHandler{
		orders:  orders,
		timeout: timeout,
	}
}

type PlaceOrderRequestDTO struct {
	ShippingAddressID int64  `json:"shippingAddressId"`
	BillingAddressID  int64  `json:"billingAddressId,omitempty"`
	ShippingMethod    string `json:"shippingMethod"`
	PaymentMethod     string `json:"paymentMethod"`
	Notes             string `json:"notes,omitempty"`
}

type ConfirmPaymentRequestDTO struct {
	TransactionID string `json:"transactionId,omitempty"`
}

// POST /api/v1/orders
func (h *OrdersHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == 0 {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	var req PlaceOrderRequestDTO
	if !decodeJSON(w, r, &req, false) {
		return
	}

	order, err := h.orders.PlaceOrder(ctx, service.PlaceOrderRequest{
		UserID:            userID,
		ShippingAddressID: req.ShippingAddressID,
		BillingAddressID:  req.BillingAddressID,
		ShippingMethod:    req.ShippingMethod,
		PaymentMethod:     req.PaymentMethod,
		Notes:             req.Notes,
		IdempotencyKey:    r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		handleServiceError(ctx, w, err)
		return
	}

	respondJSON(w, http.StatusCreated, PlacedOrderDTO{
		OrderID:     order.ID.String(),
		OrderNumber: order.OrderNumber,
		TotalAmount: money(order.TotalAmount),
		Status:      order.Status.String(),
	})
}

// GET /api/v1/orders
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == 0 {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	orders, err := h.orders.ListOrders(ctx, userID)
	if err != nil {
		handleServiceError(ctx, w, err)
		return
	}

	dtos := make([]OrderResponseDTO, 0, len(orders))
	for _, o := range orders {
		dtos = append(dtos, convertOrder(o))
	}

	respondJSON(w, http.StatusOK, dtos)
}

// GET /api/v1/orders/{order_id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == 0 {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, userID, orderID)
	if err != nil {
		handleServiceError(ctx, w, err)
		return
	}

	respondJSON(w, http.StatusOK, convertOrder(order))
}

// GET /api/v1/orders/{order_id}/status
func (h *OrdersHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == 0 {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	view, err := h.orders.GetStatus(ctx, userID, orderID)
	if err != nil {
		handleServiceError(ctx, w, err)
		return
	}

	respondJSON(w, http.StatusOK, OrderStatusDTO{
		OrderStatus:   view.Status.String(),
		PaymentStatus: view.PaymentStatus.String(),
		LastUpdated:   view.UpdatedAt,
	})
}

// POST /api/v1/orders/{order_id}/cancel
func (h *OrdersHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == 0 {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	order, err := h.orders.Cancel(ctx, userID, orderID)
	if err != nil {
		handleServiceError(ctx, w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": order.Status.String()})
}

// POST /api/v1/orders/{order_id}/confirm-payment
func (h *OrdersHandler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == 0 {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	var req ConfirmPaymentRequestDTO
	if !decodeJSON(w, r, &req, true) {
		return
	}

	order, err := h.orders.ConfirmPayment(ctx, userID, orderID, req.TransactionID)
	if err != nil {
		handleServiceError(ctx, w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status":        order.Status.String(),
		"paymentStatus": order.PaymentStatus.String(),
	})
}

// POST /api/v1/admin/orders/{order_id}/ship
func (h *OrdersHandler) Ship(w http.ResponseWriter, r *http.Request) {
	h.adminTransition(w, r, h.orders.Ship)
}

// POST /api/v1/admin/orders/{order_id}/deliver
func (h *OrdersHandler) Deliver(w http.ResponseWriter, r *http.Request) {
	h.adminTransition(w, r, h.orders.Deliver)
}

// POST /api/v1/admin/orders/{order_id}/refund
func (h *OrdersHandler) Refund(w http.ResponseWriter, r *http.Request) {
	h.adminTransition(w, r, h.orders.Refund)
}

func (h *OrdersHandler) adminTransition(w http.ResponseWriter, r *http.Request, apply func(context.Context, uuid.UUID) (*domain.Order, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	order, err := apply(ctx, orderID)
	if err != nil {
		handleServiceError(ctx, w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": order.Status.String()})
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	orderID, err := uuid.Parse(chi.URLParam(r, "order_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", "order_id must be a UUID")
		return uuid.Nil, false
	}
	return orderID, true
}
