package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	r "github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaceOrder_ScenarioA(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product(1, "10.00", qty(5))

	_, err := f.cart.AddItem(ctx, testUser, 1, 2, nil)
	require.NoError(t, err)

	order, err := f.orders.PlaceOrder(ctx, f.placeRequest())
	require.NoError(t, err)

	assert.Equal(t, 3, *f.stockOf(t, 1))
	assert.Equal(t, "20.00", order.Subtotal.StringFixed(2))
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, domain.PaymentStatusPending, order.PaymentStatus)
	assert.Equal(t, "USD", order.Currency)
	require.Len(t, order.Lines, 1)
	assert.Equal(t, "SKU-1", order.Lines[0].SKU)
	assert.Equal(t, "Product 1", order.Lines[0].ProductName)
	assert.Equal(t, "Springfield", order.ShippingAddress.City)
	assert.Equal(t, order.ShippingAddress, order.BillingAddress)

	lines, err := f.store.ListCartLines(ctx, testUser)
	require.NoError(t, err)
	assert.Empty(t, lines, "cart is cleared")

	p, err := f.store.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, p.SalesCount)

	assert.Equal(t, []string{domain.EventOrderCreated}, f.notifier.types())
}

func TestPlaceOrder_ScenarioB_InsufficientStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product(1, "10.00", qty(5))

	_, err := f.cart.AddItem(ctx, testUser, 1, 2, nil)
	require.NoError(t, err)
	f.product(1, "10.00", qty(1))

	_, err = f.orders.PlaceOrder(ctx, f.placeRequest())
	var stockErr *InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, []domain.StockShortfall{{ProductID: 1, Requested: 2, Available: 1}}, stockErr.Items)

	assert.Equal(t, 1, *f.stockOf(t, 1))
	lines, err := f.store.ListCartLines(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, 2, lines[0].Quantity)

	orders, err := f.store.ListOrders(ctx, testUser)
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Empty(t, f.notifier.types())
}

func TestPlaceOrder_ReportsEveryShortLine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product(1, "10.00", qty(5))
	f.product(2, "10.00", qty(5))
	f.product(3, "10.00", nil)

	for _, id := range []int64{1, 2, 3} {
		_, err := f.cart.AddItem(ctx, testUser, id, 2, nil)
		require.NoError(t, err)
	}
	f.product(1, "10.00", qty(0))
	f.store.PutProduct(domain.Product{ID: 2, IsActive: false, StockQuantity: qty(5)})

	_, err := f.orders.PlaceOrder(ctx, f.placeRequest())
	var stockErr *InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, []domain.StockShortfall{
		{ProductID: 1, Requested: 2, Available: 0},
		{ProductID: 2, Requested: 2, Available: 0},
	}, stockErr.Items)
}

func TestPlaceOrder_EmptyCart(t *testing.T) {
	f := newFixture(t)

	_, err := f.orders.PlaceOrder(context.Background(), f.placeRequest())
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestPlaceOrder_AddressMustBelongToUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product(1, "10.00", qty(5))
	_, err := f.cart.AddItem(ctx, testUser, 1, 1, nil)
	require.NoError(t, err)

	req := f.placeRequest()
	req.ShippingAddressID = testAddress + 1
	_, err = f.orders.PlaceOrder(ctx, req)
	assert.ErrorIs(t, err, ErrNotFound)

	req = f.placeRequest()
	req.BillingAddressID = testAddress + 1
	_, err = f.orders.PlaceOrder(ctx, req)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 5, *f.stockOf(t, 1), "nothing committed")
}

func TestPlaceOrder_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]func(*PlaceOrderRequest){
		"missing address":  func(req *PlaceOrderRequest) { req.ShippingAddressID = 0 },
		"shipping method":  func(req *PlaceOrderRequest) { req.ShippingMethod = "teleport" },
		"payment method":   func(req *PlaceOrderRequest) { req.PaymentMethod = "iou" },
		"notes too long":   func(req *PlaceOrderRequest) { req.Notes = strings.Repeat("x", MaxNotesLength+1) },
		"too many runes":   func(req *PlaceOrderRequest) { req.Notes = strings.Repeat("é", MaxNotesLength+1) },
		"negative billing": func(req *PlaceOrderRequest) { req.BillingAddressID = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := f.placeRequest()
			mutate(&req)
			_, err := f.orders.PlaceOrder(ctx, req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestPlaceOrder_PreviewEqualsCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product(1, "33.33", qty(10))
	f.product(2, "0.99", nil)

	_, err := f.cart.AddItem(ctx, testUser, 1, 3, nil)
	require.NoError(t, err)
	_, err = f.cart.AddItem(ctx, testUser, 2, 7, nil)
	require.NoError(t, err)

	preview, err := f.checkout.Summary(ctx, testUser)
	require.NoError(t, err)

	order, err := f.orders.PlaceOrder(ctx, f.placeRequest())
	require.NoError(t, err)

	totals := preview.Cart.Totals
	assert.True(t, totals.Subtotal.Equal(order.Subtotal))
	assert.True(t, totals.Tax.Equal(order.TaxAmount))
	assert.True(t, totals.Shipping.Equal(order.ShippingAmount))
	assert.True(t, totals.Total.Equal(order.TotalAmount))
	assert.True(t, order.LinesSubtotal().Equal(order.Subtotal))
	assert.Equal(t, "106.92", order.Subtotal.StringFixed(2))
}

func TestPlaceOrder_ReReadsSettings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product(1, "50.00", nil)
	_, err := f.cart.AddItem(ctx, testUser, 1, 1, nil)
	require.NoError(t, err)

	_, err = f.checkout.Summary(ctx, testUser)
	require.NoError(t, err)
	f.settings.settings.TaxRate = decimal.RequireFromString("0.20")

	order, err := f.orders.PlaceOrder(ctx, f.placeRequest())
	require.NoError(t, err)
	assert.Equal(t, "10.00", order.TaxAmount.StringFixed(2))
}

func TestPlaceOrder_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product(1, "10.00", qty(5))
	_, err := f.cart.AddItem(ctx, testUser, 1, 1, nil)
	require.NoError(t, err)

	req := f.placeRequest()
	req.IdempotencyKey = "abc"
	first, err := f.orders.PlaceOrder(ctx, req)
	require.NoError(t, err)

	second, err := f.orders.PlaceOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 4, *f.stockOf(t, 1))
	assert.Len(t, f.notifier.types(), 1)
}

func TestPlaceOrder_NotesCountCharacters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product(1, "10.00", nil)
	_, err := f.cart.AddItem(ctx, testUser, 1, 1, nil)
	require.NoError(t, err)

	req := f.placeRequest()
	req.Notes = strings.Repeat("é", MaxNotesLength)
	order, err := f.orders.PlaceOrder(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, order.Notes)
	assert.Equal(t, req.Notes, *order.Notes)
}

// lateKeyStore hides idempotency keys from the first lookup, the way a
// concurrent request that has not committed yet would.
type lateKeyStore struct {
	r.Store
	mu      sync.Mutex
	lookups int
}

func (s *lateKeyStore) GetOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*domain.Order, error) {
	s.mu.Lock()
	s.lookups++
	first := s.lookups == 1
	s.mu.Unlock()
	if first {
		return nil, r.ErrOrderNotFound
	}
	return s.Store.GetOrderByIdempotencyKey(ctx, userID, key)
}

func TestPlaceOrder_IdempotentWhenCartAlreadyConsumed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product(1, "10.00", qty(5))
	_, err := f.cart.AddItem(ctx, testUser, 1, 1, nil)
	require.NoError(t, err)

	req := f.placeRequest()
	req.IdempotencyKey = "race"
	first, err := f.orders.PlaceOrder(ctx, req)
	require.NoError(t, err)

	late := &lateKeyStore{Store: f.store}
	racer := NewOrderService(late, f.settings, f.notifier, testOptions)
	second, err := racer.PlaceOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, late.lookups)
	assert.Equal(t, 4, *f.stockOf(t, 1))

	req.IdempotencyKey = "other"
	_, err = racer.PlaceOrder(ctx, req)
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestPlaceOrder_RetriesOrderNumberCollision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product(1, "10.00", nil)

	_, err := f.cart.AddItem(ctx, testUser, 1, 1, nil)
	require.NoError(t, err)
	f.orders.newOrderNumber = func(time.Time) string { return "ORD-FIXED" }
	_, err = f.orders.PlaceOrder(ctx, f.placeRequest())
	require.NoError(t, err)

	_, err = f.cart.AddItem(ctx, testUser, 1, 1, nil)
	require.NoError(t, err)

	calls := 0
	f.orders.newOrderNumber = func(time.Time) string {
		calls++
		if calls < 3 {
			return "ORD-FIXED"
		}
		return "ORD-FRESH"
	}
	order, err := f.orders.PlaceOrder(ctx, f.placeRequest())
	require.NoError(t, err)
	assert.Equal(t, "ORD-FRESH", order.OrderNumber)
	assert.Equal(t, 3, calls)

	_, err = f.cart.AddItem(ctx, testUser, 1, 1, nil)
	require.NoError(t, err)
	f.orders.newOrderNumber = func(time.Time) string { return "ORD-FIXED" }
	_, err = f.orders.PlaceOrder(ctx, f.placeRequest())
	assert.ErrorIs(t, err, r.ErrDuplicateOrderNumber)
}

func TestPlaceOrder_NotifierFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product(1, "10.00", qty(5))
	f.notifier.err = errors.New("smtp down")

	_, err := f.cart.AddItem(ctx, testUser, 1, 1, nil)
	require.NoError(t, err)

	order, err := f.orders.PlaceOrder(ctx, f.placeRequest())
	require.NoError(t, err)
	assert.NotNil(t, order)
	assert.Equal(t, 4, *f.stockOf(t, 1))
}

func TestPlaceOrder_ConcurrentLastUnit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product(1, "10.00", qty(1))

	const buyers = 5
	for i := 0; i < buyers; i++ {
		userID := int64(100 + i)
		f.store.PutAddress(domain.Address{ID: userID, UserID: userID, FullName: "Buyer"})
		_, err := f.cart.AddItem(ctx, userID, 1, 1, nil)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	errs := make([]error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userID := int64(100 + i)
			_, errs[i] = f.orders.PlaceOrder(ctx, PlaceOrderRequest{
				UserID:            userID,
				ShippingAddressID: userID,
				ShippingMethod:    "standard",
				PaymentMethod:     "card",
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrInsufficientStock)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 0, *f.stockOf(t, 1))
}

func TestOrderNumberFormat(t *testing.T) {
	n := newOrderNumber(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	assert.Regexp(t, regexp.MustCompile(`^ORD-20240102030405-[0-9A-F]{8}$`), n)
	assert.NotEqual(t, n, newOrderNumber(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))
}

func placeOne(t *testing.T, f *fixture, productID int64, quantity int) *domain.Order {
	t.Helper()
	ctx := context.Background()
	_, err := f.cart.AddItem(ctx, testUser, productID, quantity, nil)
	require.NoError(t, err)
	order, err := f.orders.PlaceOrder(ctx, f.placeRequest())
	require.NoError(t, err)
	return order
}

func TestCancel_ScenarioC(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product(1, "10.00", qty(5))

	order := placeOne(t, f, 1, 3)
	assert.Equal(t, 2, *f.stockOf(t, 1))

	cancelled, err := f.orders.Cancel(ctx, testUser, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)
	assert.Equal(t, 5, *f.stockOf(t, 1))

	_, err = f.orders.Cancel(ctx, testUser, order.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, 5, *f.stockOf(t, 1), "stock restored once")

	p, err := f.store.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, p.SalesCount)

	assert.Equal(t, []string{domain.EventOrderCreated, domain.EventOrderCancelled}, f.notifier.types())
}

func TestCancel_UntrackedStockUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product(1, "10.00", nil)

	order := placeOne(t, f, 1, 3)
	_, err := f.orders.Cancel(ctx, testUser, order.ID)
	require.NoError(t, err)
	assert.Nil(t, f.stockOf(t, 1))
}

func TestCancel_ProcessingAllowedShippedRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product(1, "10.00", qty(10))

	processing := placeOne(t, f, 1, 1)
	_, err := f.orders.ConfirmPayment(ctx, testUser, processing.ID, "")
	require.NoError(t, err)
	_, err = f.orders.Cancel(ctx, testUser, processing.ID)
	require.NoError(t, err)

	shipped := placeOne(t, f, 1, 1)
	_, err = f.orders.ConfirmPayment(ctx, testUser, shipped.ID, "")
	require.NoError(t, err)
	_, err = f.orders.Ship(ctx, shipped.ID)
	require.NoError(t, err)
	_, err = f.orders.Cancel(ctx, testUser, shipped.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	assert.Equal(t, 9, *f.stockOf(t, 1))
}

func TestCancel_OtherUsersOrderIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product(1, "10.00", qty(5))
	order := placeOne(t, f, 1, 1)

	_, err := f.orders.Cancel(ctx, otherUser, order.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.orders.Cancel(ctx, testUser, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConfirmPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product(1, "10.00", qty(5))
	order := placeOne(t, f, 1, 1)

	paid, err := f.orders.ConfirmPayment(ctx, testUser, order.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, paid.PaymentStatus)
	assert.Equal(t, domain.OrderStatusProcessing, paid.Status)
	require.NotNil(t, paid.TransactionID)
	assert.True(t, strings.HasPrefix(*paid.TransactionID, "TXN-"))
	assert.NotNil(t, paid.PaidAt)
}

func TestConfirmPayment_ScenarioE_AlreadyPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product(1, "10.00", qty(5))
	order := placeOne(t, f, 1, 1)

	_, err := f.orders.ConfirmPayment(ctx, testUser, order.ID, "ref-1")
	require.NoError(t, err)
	before, err := f.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)

	_, err = f.orders.ConfirmPayment(ctx, testUser, order.ID, "ref-2")
	assert.ErrorIs(t, err, ErrAlreadyPaid)

	after, err := f.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, "ref-1", *after.TransactionID)
}

func TestConfirmPayment_CancelledOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product(1, "10.00", qty(5))
	order := placeOne(t, f, 1, 1)

	_, err := f.orders.Cancel(ctx, testUser, order.ID)
	require.NoError(t, err)

	_, err = f.orders.ConfirmPayment(ctx, testUser, order.ID, "")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestAdminTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product(1, "10.00", qty(5))
	order := placeOne(t, f, 1, 2)

	_, err := f.orders.Ship(ctx, order.ID)
	assert.ErrorIs(t, err, ErrInvalidState, "pending orders cannot ship")

	_, err = f.orders.ConfirmPayment(ctx, testUser, order.ID, "")
	require.NoError(t, err)

	shipped, err := f.orders.Ship(ctx, order.ID)
	require.NoError(t, err)
	assert.NotNil(t, shipped.ShippedAt)

	delivered, err := f.orders.Deliver(ctx, order.ID)
	require.NoError(t, err)
	assert.NotNil(t, delivered.DeliveredAt)

	refunded, err := f.orders.Refund(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRefunded, refunded.Status)
	assert.NotNil(t, refunded.RefundedAt)
	assert.Equal(t, 3, *f.stockOf(t, 1), "refunds do not restock")

	_, err = f.orders.Refund(ctx, order.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.ErrorContains(t, err, "can no longer change")

	assert.Equal(t, []string{
		domain.EventOrderCreated,
		domain.EventPaymentConfirmed,
		domain.EventOrderShipped,
		domain.EventOrderDelivered,
		domain.EventOrderRefunded,
	}, f.notifier.types())
}

func TestGetStatusAndList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.product(1, "10.00", nil)
	first := placeOne(t, f, 1, 1)
	second := placeOne(t, f, 1, 1)

	status, err := f.orders.GetStatus(ctx, testUser, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, status.Status)
	assert.Equal(t, domain.PaymentStatusPending, status.PaymentStatus)

	_, err = f.orders.GetStatus(ctx, otherUser, first.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	orders, err := f.orders.ListOrders(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, second.ID, orders[0].ID)

	orders, err = f.orders.ListOrders(ctx, otherUser)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCheckoutSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.checkout.Summary(ctx, testUser)
	assert.ErrorIs(t, err, ErrEmptyCart)

	f.product(1, "75.00", qty(3))
	_, err = f.cart.AddItem(ctx, testUser, 1, 2, nil)
	require.NoError(t, err)

	summary, err := f.checkout.Summary(ctx, testUser)
	require.NoError(t, err)
	assert.Len(t, summary.Addresses, 1)
	assert.Equal(t, testOptions.ShippingMethods, summary.ShippingMethods)
	assert.Equal(t, testOptions.PaymentMethods, summary.PaymentMethods)
	// scenario D
	assert.Equal(t, "150.00", summary.Cart.Totals.Subtotal.StringFixed(2))
	assert.Equal(t, "24.00", summary.Cart.Totals.Tax.StringFixed(2))
	assert.Equal(t, "0.00", summary.Cart.Totals.Shipping.StringFixed(2))
	assert.Equal(t, "174.00", summary.Cart.Totals.Total.StringFixed(2))

	f.product(1, "75.00", qty(1))
	_, err = f.checkout.Summary(ctx, testUser)
	var stockErr *InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, []domain.StockShortfall{{ProductID: 1, Requested: 2, Available: 1}}, stockErr.Items)
}
