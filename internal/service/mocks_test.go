package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/repository/memory"
	"github.com/shopspring/decimal"
)

type mockSettings struct {
	mu       sync.Mutex
	settings domain.Settings
	err      error
	calls    int
}

func (m *mockSettings) Get(context.Context) (domain.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.settings, m.err
}

type emitted struct {
	UserID    int64
	EventType string
	Payload   any
}

type mockNotifier struct {
	mu     sync.Mutex
	events []emitted
	err    error
}

func (m *mockNotifier) Emit(_ context.Context, userID int64, eventType string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, emitted{userID, eventType, payload})
	return m.err
}

func (m *mockNotifier) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.EventType
	}
	return out
}

var testOptions = CheckoutOptions{
	ShippingMethods: []string{"standard", "express"},
	PaymentMethods:  []string{"card"},
}

const (
	testUser    int64 = 1
	otherUser   int64 = 2
	testAddress int64 = 10
)

type fixture struct {
	store    *memory.MemoryStore
	settings *mockSettings
	notifier *mockNotifier
	cart     *CartService
	checkout *CheckoutService
	orders   *OrderService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	store.PutAddress(domain.Address{ID: testAddress, UserID: testUser, FullName: "Jane Doe", Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US"})
	store.PutAddress(domain.Address{ID: testAddress + 1, UserID: otherUser, FullName: "John Roe", Line1: "2 Side St", City: "Shelbyville", PostalCode: "54321", Country: "US"})

	settings := &mockSettings{settings: domain.Settings{
		TaxRate:               decimal.RequireFromString("0.16"),
		FreeShippingThreshold: decimal.NewFromInt(100),
		FlatShippingCost:      decimal.RequireFromString("5.99"),
		Currency:              "USD",
	}}
	notifier := &mockNotifier{}
	cart := NewCartService(store, settings)
	orders := NewOrderService(store, settings, notifier, testOptions)
	orders.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	return &fixture{
		store:    store,
		settings: settings,
		notifier: notifier,
		cart:     cart,
		checkout: NewCheckoutService(store, cart, testOptions),
		orders:   orders,
	}
}

func (f *fixture) product(id int64, price string, stock *int) {
	f.store.PutProduct(domain.Product{
		ID:            id,
		SKU:           fmt.Sprintf("SKU-%d", id),
		Name:          fmt.Sprintf("Product %d", id),
		Price:         decimal.RequireFromString(price),
		StockQuantity: stock,
		IsActive:      true,
	})
}

func (f *fixture) stockOf(t *testing.T, id int64) *int {
	t.Helper()
	p, err := f.store.GetProduct(context.Background(), id)
	if err != nil {
		t.Fatalf("get product %d: %v", id, err)
	}
	return p.StockQuantity
}

func (f *fixture) placeRequest() PlaceOrderRequest {
	return PlaceOrderRequest{
		UserID:            testUser,
		ShippingAddressID: testAddress,
		ShippingMethod:    "standard",
		PaymentMethod:     "card",
	}
}

func qty(v int) *int { return &v }
