package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order is the immutable point-in-time contract created from a cart. Only
// the status fields, transaction id and lifecycle timestamps change after
// insert.
type Order struct {
	ID              uuid.UUID
	OrderNumber     string
	UserID          int64
	Status          OrderStatus
	PaymentStatus   PaymentStatus
	Subtotal        decimal.Decimal
	TaxAmount       decimal.Decimal
	ShippingAmount  decimal.Decimal
	TotalAmount     decimal.Decimal
	Currency        string
	ShippingAddress Address
	BillingAddress  Address
	ShippingMethod  string
	PaymentMethod   string
	TransactionID   *string
	Notes           *string
	IdempotencyKey  *string
	Lines           []OrderLine
	CreatedAt       time.Time
	UpdatedAt       time.Time
	PaidAt          *time.Time
	ShippedAt       *time.Time
	CancelledAt     *time.Time
	RefundedAt      *time.Time
	DeliveredAt     *time.Time
}

// OrderLine captures a product as it was when the order was placed.
type OrderLine struct {
	ID          int64
	OrderID     uuid.UUID
	ProductID   int64
	ProductName string
	SKU         string
	Quantity    int
	UnitPrice   decimal.Decimal
	LineTotal   decimal.Decimal
	Options     map[string]any
}

// LinesSubtotal sums the recorded line totals.
func (o *Order) LinesSubtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range o.Lines {
		sum = sum.Add(l.LineTotal)
	}
	return sum
}

// Notification event types emitted by the order lifecycle.
const (
	EventOrderCreated     = "order_created"
	EventPaymentConfirmed = "payment_confirmed"
	EventOrderCancelled   = "order_cancelled"
	EventOrderShipped     = "order_shipped"
	EventOrderDelivered   = "order_delivered"
	EventOrderRefunded    = "order_refunded"
)
