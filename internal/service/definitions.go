package service

import (
	"context"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

const (
	MinItemQuantity = 1
	MaxItemQuantity = 99
	MaxNotesLength  = 1000
)

// SettingsSource supplies pricing settings. Implementations may cache.
type SettingsSource interface {
	Get(ctx context.Context) (domain.Settings, error)
}

// Notifier delivers lifecycle notifications. Delivery is best effort:
// callers log failures and carry on.
type Notifier interface {
	Emit(ctx context.Context, userID int64, eventType string, payload any) error
}

// CheckoutOptions are the shipping and payment methods offered at checkout.
type CheckoutOptions struct {
	ShippingMethods []string
	PaymentMethods  []string
}
