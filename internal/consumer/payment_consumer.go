package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/service"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const DefaultTopic = "payment-events"

// PaymentEvent is published by the payment provider integration once a
// charge settles.
type PaymentEvent struct {
	OrderID       string `json:"order_id"`
	UserID        int64  `json:"user_id"`
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

const paymentSucceeded = "succeeded"

const (
	defaultRetryDelay = time.Second
	maxRetryDelay     = 30 * time.Second
)

type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, userID int64, orderID uuid.UUID, transactionRef string) (*domain.Order, error)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// PaymentConsumer confirms orders from payment provider events. An offset
// is committed only once its event has been applied or rejected for good.
type PaymentConsumer struct {
	orders     PaymentConfirmer
	reader     messageReader
	retryDelay time.Duration
}

func NewPaymentConsumer(orders PaymentConfirmer, topic, groupID string, brokers ...string) *PaymentConsumer {
	if topic == "" {
		topic = DefaultTopic
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
	return &PaymentConsumer{orders: orders, reader: reader, retryDelay: defaultRetryDelay}
}

func (c *PaymentConsumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.processMessage(ctx)
	}
}

func (c *PaymentConsumer) Close() {
	if err := c.reader.Close(); err != nil {
		slog.Error("error closing kafka reader", "error", err)
	}
}

func (c *PaymentConsumer) processMessage(ctx context.Context) {
	m, err := c.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		slog.ErrorContext(ctx, "error reading payment event", "error", err)
		return
	}

	delay := c.retryDelay
	for {
		err := c.apply(ctx, m)
		if err == nil {
			break
		}
		slog.ErrorContext(ctx, "failed to confirm payment, will retry",
			"offset", m.Offset, "retry_in", delay, "error", err)
		select {
		case <-ctx.Done():
			// left uncommitted so the group redelivers it
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, maxRetryDelay)
	}

	if err := c.reader.CommitMessages(ctx, m); err != nil {
		slog.ErrorContext(ctx, "error committing payment event", "offset", m.Offset, "error", err)
	}
}

// apply returns an error only for failures worth retrying. Events that can
// never be applied are logged and reported as handled.
func (c *PaymentConsumer) apply(ctx context.Context, m kafka.Message) error {
	var event PaymentEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		slog.WarnContext(ctx, "error parsing payment event", "offset", m.Offset, "error", err)
		return nil
	}
	if event.Status != paymentSucceeded {
		slog.InfoContext(ctx, "ignoring payment event", "order_id", event.OrderID, "status", event.Status)
		return nil
	}

	orderID, err := uuid.Parse(event.OrderID)
	if err != nil {
		slog.WarnContext(ctx, "invalid order_id in payment event", "order_id", event.OrderID, "error", err)
		return nil
	}

	_, err = c.orders.ConfirmPayment(ctx, event.UserID, orderID, event.TransactionID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, service.ErrAlreadyPaid):
		slog.InfoContext(ctx, "payment already recorded, skipping", "order_id", orderID)
		return nil
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrInvalidState):
		slog.WarnContext(ctx, "cannot apply payment event", "order_id", orderID, "error", err)
		return nil
	default:
		return err
	}
}
