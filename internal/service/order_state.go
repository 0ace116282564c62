package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	r "github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/google/uuid"
)

// StatusView is the lightweight status answer for an order.
type StatusView struct {
	OrderID       uuid.UUID
	Status        domain.OrderStatus
	PaymentStatus domain.PaymentStatus
	UpdatedAt     time.Time
}

// lockOwned loads and locks an order, hiding orders of other users.
func lockOwned(ctx context.Context, tx r.Tx, userID int64, orderID uuid.UUID) (*domain.Order, error) {
	order, err := tx.LockOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, r.ErrOrderNotFound
	}
	return order, nil
}

// ConfirmPayment records a successful payment and moves a pending order to
// processing. transactionRef may be empty, in which case one is generated.
func (s *OrderService) ConfirmPayment(ctx context.Context, userID int64, orderID uuid.UUID, transactionRef string) (*domain.Order, error) {
	var order *domain.Order
	err := s.store.WithTx(ctx, func(tx r.Tx) error {
		o, err := lockOwned(ctx, tx, userID, orderID)
		if err != nil {
			return err
		}
		if o.PaymentStatus == domain.PaymentStatusPaid {
			return ErrAlreadyPaid
		}
		if o.Status == domain.OrderStatusCancelled || o.Status == domain.OrderStatusRefunded {
			return fmt.Errorf("%w: cannot pay a %s order", ErrInvalidState, o.Status)
		}

		if transactionRef == "" {
			transactionRef = newTransactionID()
		}
		now := s.now()
		o.PaymentStatus = domain.PaymentStatusPaid
		o.PaidAt = &now
		o.TransactionID = &transactionRef
		if o.Status == domain.OrderStatusPending {
			o.Status = domain.OrderStatusProcessing
		}
		if err := tx.UpdateOrderState(ctx, o); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}

	slog.InfoContext(ctx, "payment confirmed", "order_id", order.ID, "transaction_id", *order.TransactionID)
	s.emit(ctx, order, domain.EventPaymentConfirmed)
	return order, nil
}

// Cancel cancels a pending or processing order and restores its stock in
// the same transaction.
func (s *OrderService) Cancel(ctx context.Context, userID int64, orderID uuid.UUID) (*domain.Order, error) {
	var order *domain.Order
	err := s.store.WithTx(ctx, func(tx r.Tx) error {
		o, err := lockOwned(ctx, tx, userID, orderID)
		if err != nil {
			return err
		}
		if !o.Status.Cancellable() {
			return fmt.Errorf("%w: cannot cancel a %s order", ErrInvalidState, o.Status)
		}

		now := s.now()
		o.Status = domain.OrderStatusCancelled
		o.CancelledAt = &now
		if err := s.reconciler.Restore(ctx, tx, o); err != nil {
			return err
		}
		if err := tx.UpdateOrderState(ctx, o); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}

	slog.InfoContext(ctx, "order cancelled", "order_id", order.ID)
	s.emit(ctx, order, domain.EventOrderCancelled)
	return order, nil
}

func (s *OrderService) Ship(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return s.advance(ctx, orderID, domain.OrderStatusShipped, domain.EventOrderShipped, func(o *domain.Order, t time.Time) {
		o.ShippedAt = &t
	})
}

func (s *OrderService) Deliver(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return s.advance(ctx, orderID, domain.OrderStatusDelivered, domain.EventOrderDelivered, func(o *domain.Order, t time.Time) {
		o.DeliveredAt = &t
	})
}

func (s *OrderService) Refund(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return s.advance(ctx, orderID, domain.OrderStatusRefunded, domain.EventOrderRefunded, func(o *domain.Order, t time.Time) {
		o.RefundedAt = &t
	})
}

// advance applies an administrative status change. Inventory is not
// touched.
func (s *OrderService) advance(ctx context.Context, orderID uuid.UUID, to domain.OrderStatus, event string, stamp func(*domain.Order, time.Time)) (*domain.Order, error) {
	var order *domain.Order
	err := s.store.WithTx(ctx, func(tx r.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status.IsTerminal() {
			return fmt.Errorf("%w: order is %s and can no longer change", ErrInvalidState, o.Status)
		}
		if !domain.CanTransitionTo(o.Status, to) {
			return fmt.Errorf("%w: cannot move order from %s to %s", ErrInvalidState, o.Status, to)
		}
		o.Status = to
		stamp(o, s.now())
		if err := tx.UpdateOrderState(ctx, o); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}

	slog.InfoContext(ctx, "order status changed", "order_id", order.ID, "status", to)
	s.emit(ctx, order, event)
	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, userID int64, orderID uuid.UUID) (*domain.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, translate(err)
	}
	if order.UserID != userID {
		return nil, translate(r.ErrOrderNotFound)
	}
	return order, nil
}

func (s *OrderService) GetStatus(ctx context.Context, userID int64, orderID uuid.UUID) (*StatusView, error) {
	order, err := s.GetOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	return &StatusView{
		OrderID:       order.ID,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		UpdatedAt:     order.UpdatedAt,
	}, nil
}

func (s *OrderService) ListOrders(ctx context.Context, userID int64) ([]*domain.Order, error) {
	orders, err := s.store.ListOrders(ctx, userID)
	if err != nil {
		return nil, translate(err)
	}
	return orders, nil
}
