package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the catalog view this service reads. StockQuantity is nil when
// inventory is not tracked for the product.
type Product struct {
	ID            int64
	SKU           string
	Name          string
	Price         decimal.Decimal
	StockQuantity *int
	SalesCount    int
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Tracked reports whether stock is limited for this product.
func (p Product) Tracked() bool {
	return p.StockQuantity != nil
}

// CanSupply reports whether quantity units can be taken from stock.
func (p Product) CanSupply(quantity int) bool {
	return p.StockQuantity == nil || *p.StockQuantity >= quantity
}

// Available returns tracked stock, or -1 for untracked products.
func (p Product) Available() int {
	if p.StockQuantity == nil {
		return -1
	}
	return *p.StockQuantity
}

// StockShortfall describes one product that cannot cover the requested quantity.
type StockShortfall struct {
	ProductID int64 `json:"productId"`
	Requested int   `json:"requested"`
	Available int   `json:"available"`
}
