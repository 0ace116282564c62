package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartLine is one (user, product) entry of the basket. UnitPrice is the
// price captured when the product was first added.
type CartLine struct {
	ID        int64
	UserID    int64
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
	Options   map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time

	// Product is the live catalog row joined on read.
	Product Product
}

// LineTotal is the unrounded quantity × unit price.
func (l CartLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// OutOfStock reports whether current catalog state cannot cover the line.
func (l CartLine) OutOfStock() bool {
	return !l.Product.IsActive || !l.Product.CanSupply(l.Quantity)
}

// Shortfall returns the stock shortfall for the line, if any.
func (l CartLine) Shortfall() (StockShortfall, bool) {
	if !l.OutOfStock() {
		return StockShortfall{}, false
	}
	available := 0
	if l.Product.IsActive && l.Product.StockQuantity != nil {
		available = *l.Product.StockQuantity
	}
	return StockShortfall{
		ProductID: l.ProductID,
		Requested: l.Quantity,
		Available: available,
	}, true
}

// CartSummary is the read-only view of a cart with computed totals.
type CartSummary struct {
	UserID int64
	Lines  []CartLine
	Totals Totals
}

// Shortfalls lists every line that current stock cannot cover.
func (s CartSummary) Shortfalls() []StockShortfall {
	var out []StockShortfall
	for _, l := range s.Lines {
		if sf, ok := l.Shortfall(); ok {
			out = append(out, sf)
		}
	}
	return out
}
