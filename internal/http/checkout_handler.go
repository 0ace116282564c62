package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/service"
)

type CheckoutService interface {
	Summary(ctx context.Context, userID int64) (*service.CheckoutSummary, error)
}

type CheckoutHandler struct {
	checkout CheckoutService
	timeout  time.Duration
}

func NewCheckoutHandler(checkout CheckoutService, timeout time.Duration) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: checkout,
		timeout:  timeout,
	}
}

// GET /api/v1/cart/checkout-summary
func (h *CheckoutHandler) Summary(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == 0 {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	summary, err := h.checkout.Summary(ctx, userID)
	if err != nil {
		handleServiceError(ctx, w, err)
		return
	}

	addresses := summary.Addresses
	if addresses == nil {
		addresses = []domain.Address{}
	}
	respondJSON(w, http.StatusOK, CheckoutSummaryDTO{
		Items:           convertCartLines(summary.Cart.Lines),
		Totals:          convertTotals(summary.Cart.Totals),
		Addresses:       addresses,
		PaymentMethods:  summary.PaymentMethods,
		ShippingMethods: summary.ShippingMethods,
	})
}
