package service

import (
	"context"

	"github.com/fjod/go_cart/storefront/internal/domain"
	r "github.com/fjod/go_cart/storefront/internal/repository"
)

// CheckoutSummary is the pre-order quote shown to the user.
type CheckoutSummary struct {
	Cart            *domain.CartSummary
	Addresses       []domain.Address
	ShippingMethods []string
	PaymentMethods  []string
}

type CheckoutService struct {
	store   r.Queries
	cart    *CartService
	options CheckoutOptions
}

func NewCheckoutService(store r.Queries, cart *CartService, options CheckoutOptions) *CheckoutService {
	return &CheckoutService{
		store:   store,
		cart:    cart,
		options: options,
	}
}

// Summary quotes the cart for checkout. It fails with ErrEmptyCart for an
// empty cart and with an *InsufficientStockError naming every short line.
// Totals are computed exactly as PlaceOrder computes them.
func (s *CheckoutService) Summary(ctx context.Context, userID int64) (*CheckoutSummary, error) {
	cart, err := s.cart.GetSummary(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(cart.Lines) == 0 {
		return nil, ErrEmptyCart
	}
	if shortfalls := cart.Shortfalls(); len(shortfalls) > 0 {
		return nil, &InsufficientStockError{Items: shortfalls}
	}

	addresses, err := s.store.ListAddresses(ctx, userID)
	if err != nil {
		return nil, translate(err)
	}

	return &CheckoutSummary{
		Cart:            cart,
		Addresses:       addresses,
		ShippingMethods: s.options.ShippingMethods,
		PaymentMethods:  s.options.PaymentMethods,
	}, nil
}
