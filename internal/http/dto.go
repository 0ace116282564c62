package http

import (
	"encoding/json"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/shopspring/decimal"
)

// money renders an amount as a JSON number with two decimals.
func money(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

type CartItemDTO struct {
	ID         int64          `json:"id"`
	ProductID  int64          `json:"productId"`
	Name       string         `json:"name"`
	SKU        string         `json:"sku"`
	Quantity   int            `json:"quantity"`
	UnitPrice  json.Number    `json:"unitPrice"`
	LineTotal  json.Number    `json:"lineTotal"`
	Options    map[string]any `json:"options,omitempty"`
	OutOfStock bool           `json:"outOfStock"`
	// Available is nil for products without stock tracking.
	Available *int `json:"available,omitempty"`
}

type TotalsDTO struct {
	Subtotal  json.Number `json:"subtotal"`
	Tax       json.Number `json:"tax"`
	Shipping  json.Number `json:"shipping"`
	Total     json.Number `json:"total"`
	ItemCount int         `json:"itemCount"`
	Currency  string      `json:"currency,omitempty"`
}

type CartResponseDTO struct {
	Items   []CartItemDTO `json:"items"`
	Summary TotalsDTO     `json:"summary"`
}

type CheckoutSummaryDTO struct {
	Items           []CartItemDTO    `json:"items"`
	Totals          TotalsDTO        `json:"totals"`
	Addresses       []domain.Address `json:"addresses"`
	PaymentMethods  []string         `json:"paymentMethods"`
	ShippingMethods []string         `json:"shippingMethods"`
}

type CartCountDTO struct {
	CartCount int `json:"cartCount"`
}

type OrderItemDTO struct {
	ProductID   int64          `json:"productId"`
	ProductName string         `json:"productName"`
	SKU         string         `json:"sku"`
	Quantity    int            `json:"quantity"`
	UnitPrice   json.Number    `json:"unitPrice"`
	LineTotal   json.Number    `json:"lineTotal"`
	Options     map[string]any `json:"options,omitempty"`
}

type OrderResponseDTO struct {
	ID              string         `json:"id"`
	OrderNumber     string         `json:"orderNumber"`
	Status          string         `json:"status"`
	PaymentStatus   string         `json:"paymentStatus"`
	Subtotal        json.Number    `json:"subtotal"`
	TaxAmount       json.Number    `json:"taxAmount"`
	ShippingAmount  json.Number    `json:"shippingAmount"`
	TotalAmount     json.Number    `json:"totalAmount"`
	Currency        string         `json:"currency"`
	ShippingAddress domain.Address `json:"shippingAddress"`
	BillingAddress  domain.Address `json:"billingAddress"`
	ShippingMethod  string         `json:"shippingMethod"`
	PaymentMethod   string         `json:"paymentMethod"`
	TransactionID   *string        `json:"transactionId,omitempty"`
	Notes           *string        `json:"notes,omitempty"`
	Items           []OrderItemDTO `json:"items"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
	PaidAt          *time.Time     `json:"paidAt,omitempty"`
	ShippedAt       *time.Time     `json:"shippedAt,omitempty"`
	DeliveredAt     *time.Time     `json:"deliveredAt,omitempty"`
	CancelledAt     *time.Time     `json:"cancelledAt,omitempty"`
	RefundedAt      *time.Time     `json:"refundedAt,omitempty"`
}

type PlacedOrderDTO struct {
	OrderID     string      `json:"orderId"`
	OrderNumber string      `json:"orderNumber"`
	TotalAmount json.Number `json:"totalAmount"`
	Status      string      `json:"status"`
}

type OrderStatusDTO struct {
	OrderStatus   string    `json:"orderStatus"`
	PaymentStatus string    `json:"paymentStatus"`
	LastUpdated   time.Time `json:"lastUpdated"`
}

func convertCartLines(lines []domain.CartLine) []CartItemDTO {
	items := make([]CartItemDTO, 0, len(lines))
	for _, l := range lines {
		item := CartItemDTO{
			ID:         l.ID,
			ProductID:  l.ProductID,
			Name:       l.Product.Name,
			SKU:        l.Product.SKU,
			Quantity:   l.Quantity,
			UnitPrice:  money(l.UnitPrice),
			LineTotal:  money(l.LineTotal()),
			Options:    l.Options,
			OutOfStock: l.OutOfStock(),
		}
		if l.Product.Tracked() {
			available := l.Product.Available()
			item.Available = &available
		}
		items = append(items, item)
	}
	return items
}

func convertTotals(t domain.Totals) TotalsDTO {
	return TotalsDTO{
		Subtotal:  money(t.Subtotal),
		Tax:       money(t.Tax),
		Shipping:  money(t.Shipping),
		Total:     money(t.Total),
		ItemCount: t.ItemCount,
		Currency:  t.Currency,
	}
}

func convertOrder(o *domain.Order) OrderResponseDTO {
	items := make([]OrderItemDTO, 0, len(o.Lines))
	for _, l := range o.Lines {
		items = append(items, OrderItemDTO{
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			SKU:         l.SKU,
			Quantity:    l.Quantity,
			UnitPrice:   money(l.UnitPrice),
			LineTotal:   money(l.LineTotal),
			Options:     l.Options,
		})
	}

	return OrderResponseDTO{
		ID:              o.ID.String(),
		OrderNumber:     o.OrderNumber,
		Status:          o.Status.String(),
		PaymentStatus:   o.PaymentStatus.String(),
		Subtotal:        money(o.Subtotal),
		TaxAmount:       money(o.TaxAmount),
		ShippingAmount:  money(o.ShippingAmount),
		TotalAmount:     money(o.TotalAmount),
		Currency:        o.Currency,
		ShippingAddress: o.ShippingAddress,
		BillingAddress:  o.BillingAddress,
		ShippingMethod:  o.ShippingMethod,
		PaymentMethod:   o.PaymentMethod,
		TransactionID:   o.TransactionID,
		Notes:           o.Notes,
		Items:           items,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		PaidAt:          o.PaidAt,
		ShippedAt:       o.ShippedAt,
		DeliveredAt:     o.DeliveredAt,
		CancelledAt:     o.CancelledAt,
		RefundedAt:      o.RefundedAt,
	}
}
