// Package pricing computes checkout totals. It is shared by the cart
// preview and order placement, so the amount shown is the amount charged.
package pricing

import (
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/shopspring/decimal"
)

const moneyPlaces = 2

// Line is the minimal input needed to price one cart or order line.
type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

// LinesFromCart adapts cart lines using their captured unit price.
func LinesFromCart(lines []domain.CartLine) []Line {
	out := make([]Line, len(lines))
	for i, l := range lines {
		out[i] = Line{UnitPrice: l.UnitPrice, Quantity: l.Quantity}
	}
	return out
}

// ComputeTotals prices lines under the given settings. The subtotal is
// accumulated exactly and rounded once; tax is derived from the rounded
// subtotal. An empty set of lines costs nothing, shipping included.
func ComputeTotals(lines []Line, s domain.Settings) domain.Totals {
	sum := decimal.Zero
	count := 0
	for _, l := range lines {
		sum = sum.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
		count += l.Quantity
	}
	subtotal := sum.Round(moneyPlaces)
	tax := subtotal.Mul(s.TaxRate).Round(moneyPlaces)

	shipping := decimal.Zero
	if len(lines) > 0 && subtotal.LessThan(s.FreeShippingThreshold) {
		shipping = s.FlatShippingCost.Round(moneyPlaces)
	}

	return domain.Totals{
		Subtotal:  subtotal,
		Tax:       tax,
		Shipping:  shipping,
		Total:     subtotal.Add(tax).Add(shipping),
		ItemCount: count,
		Currency:  s.Currency,
	}
}

// Money rounds an amount to cents.
func Money(d decimal.Decimal) decimal.Decimal {
	return d.Round(moneyPlaces)
}
