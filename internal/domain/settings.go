package domain

import "github.com/shopspring/decimal"

// Settings holds the pricing knobs used by checkout.
type Settings struct {
	TaxRate               decimal.Decimal `json:"tax_rate"`
	FreeShippingThreshold decimal.Decimal `json:"free_shipping_threshold"`
	FlatShippingCost      decimal.Decimal `json:"flat_shipping_cost"`
	Currency              string          `json:"currency"`
}

// Settings keys as stored in the settings table.
const (
	SettingTaxRate               = "tax_rate"
	SettingFreeShippingThreshold = "free_shipping_threshold"
	SettingFlatShippingCost      = "flat_shipping_cost"
	SettingCurrency              = "currency"
)

// Totals is the checkout breakdown. All amounts are rounded to 2 decimals.
type Totals struct {
	Subtotal  decimal.Decimal
	Tax       decimal.Decimal
	Shipping  decimal.Decimal
	Total     decimal.Decimal
	ItemCount int
	Currency  string
}
