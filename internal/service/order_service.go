package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/pricing"
	r "github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PlaceOrderRequest struct {
	UserID            int64
	ShippingAddressID int64
	// BillingAddressID defaults to the shipping address when zero.
	BillingAddressID int64
	ShippingMethod   string
	PaymentMethod    string
	Notes            string
	IdempotencyKey   string
}

type OrderService struct {
	store      r.Store
	settings   SettingsSource
	notifier   Notifier
	reconciler StockReconciler
	options    CheckoutOptions

	now            func() time.Time
	newOrderNumber func(time.Time) string
}

func NewOrderService(store r.Store, settings SettingsSource, notifier Notifier, options CheckoutOptions) *OrderService {
	return &OrderService{
		store:          store,
		settings:       settings,
		notifier:       notifier,
		options:        options,
		now:            time.Now,
		newOrderNumber: newOrderNumber,
	}
}

func (s *OrderService) validate(req PlaceOrderRequest) error {
	if req.ShippingAddressID <= 0 {
		return validationError("shipping address id must be positive")
	}
	if req.BillingAddressID < 0 {
		return validationError("billing address id must be positive")
	}
	if !slices.Contains(s.options.ShippingMethods, req.ShippingMethod) {
		return validationError("unsupported shipping method %q", req.ShippingMethod)
	}
	if !slices.Contains(s.options.PaymentMethods, req.PaymentMethod) {
		return validationError("unsupported payment method %q", req.PaymentMethod)
	}
	if utf8.RuneCountInString(req.Notes) > MaxNotesLength {
		return validationError("notes must be at most %d characters", MaxNotesLength)
	}
	return nil
}

// PlaceOrder turns the user's cart into an order. Stock checks, the order
// insert, stock decrements and the cart clear commit together or not at
// all. A repeated idempotency key returns the order it created.
func (s *OrderService) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*domain.Order, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.store.GetOrderByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, r.ErrOrderNotFound) {
			return nil, err
		}
	}

	settings, err := s.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	var order *domain.Order
	for attempt := 1; attempt <= maxOrderNumberAttempts; attempt++ {
		order, err = s.placeOnce(ctx, req, settings)
		if !errors.Is(err, r.ErrDuplicateOrderNumber) {
			break
		}
		slog.WarnContext(ctx, "order number collision, retrying", "attempt", attempt)
	}
	if errors.Is(err, r.ErrDuplicateIdempotencyKey) {
		// a concurrent request with the same key won
		existing, err := s.store.GetOrderByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey)
		return existing, translate(err)
	}
	if errors.Is(err, ErrEmptyCart) && req.IdempotencyKey != "" {
		// a concurrent request with the same key may have consumed the cart
		existing, lookupErr := s.store.GetOrderByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey)
		if lookupErr == nil {
			return existing, nil
		}
	}
	if err != nil {
		return nil, translate(err)
	}

	slog.InfoContext(ctx, "order placed",
		"order_id", order.ID, "order_number", order.OrderNumber, "user_id", order.UserID,
		"total", order.TotalAmount.StringFixed(2))
	s.emit(ctx, order, domain.EventOrderCreated)
	return order, nil
}

func (s *OrderService) placeOnce(ctx context.Context, req PlaceOrderRequest, settings domain.Settings) (*domain.Order, error) {
	var order *domain.Order
	err := s.store.WithTx(ctx, func(tx r.Tx) error {
		cartLines, err := tx.LockCartLines(ctx, req.UserID)
		if err != nil {
			return err
		}
		if len(cartLines) == 0 {
			return ErrEmptyCart
		}

		ids := make([]int64, len(cartLines))
		for i, l := range cartLines {
			ids[i] = l.ProductID
		}
		products, err := tx.LockProducts(ctx, ids)
		if err != nil {
			return err
		}

		var shortfalls []domain.StockShortfall
		for _, l := range cartLines {
			p, ok := products[l.ProductID]
			switch {
			case !ok || !p.IsActive:
				shortfalls = append(shortfalls, domain.StockShortfall{ProductID: l.ProductID, Requested: l.Quantity})
			case !p.CanSupply(l.Quantity):
				shortfalls = append(shortfalls, domain.StockShortfall{ProductID: l.ProductID, Requested: l.Quantity, Available: p.Available()})
			}
		}
		if len(shortfalls) > 0 {
			return &InsufficientStockError{Items: shortfalls}
		}

		shipping, err := tx.GetAddress(ctx, req.UserID, req.ShippingAddressID)
		if err != nil {
			return err
		}
		billing := shipping
		if req.BillingAddressID != 0 && req.BillingAddressID != req.ShippingAddressID {
			if billing, err = tx.GetAddress(ctx, req.UserID, req.BillingAddressID); err != nil {
				return err
			}
		}

		totals := pricing.ComputeTotals(pricing.LinesFromCart(cartLines), settings)
		order = &domain.Order{
			ID:              uuid.New(),
			OrderNumber:     s.newOrderNumber(s.now()),
			UserID:          req.UserID,
			Status:          domain.OrderStatusPending,
			PaymentStatus:   domain.PaymentStatusPending,
			Subtotal:        totals.Subtotal,
			TaxAmount:       totals.Tax,
			ShippingAmount:  totals.Shipping,
			TotalAmount:     totals.Total,
			Currency:        settings.Currency,
			ShippingAddress: *shipping,
			BillingAddress:  *billing,
			ShippingMethod:  req.ShippingMethod,
			PaymentMethod:   req.PaymentMethod,
			Notes:           optional(req.Notes),
			IdempotencyKey:  optional(req.IdempotencyKey),
			Lines:           make([]domain.OrderLine, len(cartLines)),
		}
		for i, l := range cartLines {
			p := products[l.ProductID]
			order.Lines[i] = domain.OrderLine{
				ProductID:   l.ProductID,
				ProductName: p.Name,
				SKU:         p.SKU,
				Quantity:    l.Quantity,
				UnitPrice:   l.UnitPrice,
				LineTotal:   pricing.Money(l.LineTotal()),
				Options:     l.Options,
			}
		}

		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		for _, l := range order.Lines {
			if err := tx.AdjustStock(ctx, l.ProductID, -l.Quantity); err != nil {
				return err
			}
		}
		_, err = tx.ClearCart(ctx, req.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// orderEvent is the notification payload for order lifecycle events.
type orderEvent struct {
	OrderID       uuid.UUID       `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	UserID        int64           `json:"user_id"`
	Status        string          `json:"status"`
	PaymentStatus string          `json:"payment_status"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Currency      string          `json:"currency"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// AggregateID keys every event of one order to the same partition.
func (e orderEvent) AggregateID() string {
	return e.OrderID.String()
}

// emit notifies after commit. Failures are logged and never surface to the
// caller.
func (s *OrderService) emit(ctx context.Context, order *domain.Order, eventType string) {
	if s.notifier == nil {
		return
	}
	payload := orderEvent{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		Status:        order.Status.String(),
		PaymentStatus: order.PaymentStatus.String(),
		TotalAmount:   order.TotalAmount,
		Currency:      order.Currency,
		OccurredAt:    s.now(),
	}
	if err := s.notifier.Emit(ctx, order.UserID, eventType, payload); err != nil {
		slog.ErrorContext(ctx, "failed to emit notification",
			"event_type", eventType, "order_id", order.ID, "error", err)
	}
}
