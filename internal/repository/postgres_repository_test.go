package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDB(t *testing.T) (*Repository, func()) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)

	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	creds := &Credentials{
		Host:              host,
		Port:              port.Int(),
		User:              "testuser",
		Password:          "testpass",
		DBName:            "testdb",
		MigrationsDirPath: "./migrations",
	}

	repo, err := NewRepository(creds)
	require.NoError(t, err)

	err = repo.RunMigrations(creds)
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}

	return repo, cleanup
}

func seedProduct(t *testing.T, repo *Repository, sku string, price string, stock *int) int64 {
	var id int64
	err := repo.db.QueryRow(
		`INSERT INTO products (sku, name, price, stock_quantity) VALUES ($1, $2, $3, $4) RETURNING id`,
		sku, "Product "+sku, price, stock,
	).Scan(&id)
	require.NoError(t, err)
	return id
}

func seedAddress(t *testing.T, repo *Repository, userID int64) int64 {
	var id int64
	err := repo.db.QueryRow(
		`INSERT INTO addresses (user_id, full_name, line1, city, postal_code, country)
		 VALUES ($1, 'Jane Doe', '1 Main St', 'Springfield', '12345', 'US') RETURNING id`,
		userID,
	).Scan(&id)
	require.NoError(t, err)
	return id
}

func intPtr(v int) *int { return &v }

func addLine(t *testing.T, repo *Repository, userID, productID int64, qty int, price string) *domain.CartLine {
	line := &domain.CartLine{
		UserID:    userID,
		ProductID: productID,
		Quantity:  qty,
		UnitPrice: decimal.RequireFromString(price),
		Options:   map[string]any{"color": "red"},
	}
	err := repo.WithTx(context.Background(), func(tx Tx) error {
		return tx.InsertCartLine(context.Background(), line)
	})
	require.NoError(t, err)
	return line
}

func newOrder(userID int64, number string) *domain.Order {
	addr := domain.Address{FullName: "Jane Doe", Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US"}
	return &domain.Order{
		ID:              uuid.New(),
		OrderNumber:     number,
		UserID:          userID,
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusPending,
		Subtotal:        decimal.RequireFromString("20.00"),
		TaxAmount:       decimal.RequireFromString("2.00"),
		ShippingAmount:  decimal.Zero,
		TotalAmount:     decimal.RequireFromString("22.00"),
		Currency:        "USD",
		ShippingAddress: addr,
		BillingAddress:  addr,
		ShippingMethod:  "standard",
		PaymentMethod:   "card",
	}
}

func TestGetProduct_NotFound(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := repo.GetProduct(context.Background(), 999)
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestGetProduct_UntrackedStock(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	id := seedProduct(t, repo, "SKU-U", "9.99", nil)

	p, err := repo.GetProduct(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, p.StockQuantity)
	assert.True(t, p.IsActive)
	assert.Equal(t, "9.99", p.Price.StringFixed(2))
}

func TestCartLines_InsertListAndCount(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	p1 := seedProduct(t, repo, "SKU-1", "10.00", intPtr(5))
	p2 := seedProduct(t, repo, "SKU-2", "2.50", nil)

	l1 := addLine(t, repo, 1, p1, 2, "10.00")
	addLine(t, repo, 1, p2, 3, "2.50")
	addLine(t, repo, 2, p1, 1, "10.00")

	lines, err := repo.ListCartLines(ctx, 1)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, l1.ID, lines[0].ID)
	assert.Equal(t, "red", lines[0].Options["color"])
	assert.Equal(t, 5, *lines[0].Product.StockQuantity)

	count, err := repo.CountCartItems(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	count, err = repo.CountCartItems(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestCartLine_OwnershipScoped(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	p1 := seedProduct(t, repo, "SKU-1", "10.00", nil)
	line := addLine(t, repo, 1, p1, 1, "10.00")

	_, err := repo.GetCartLine(ctx, 2, line.ID)
	assert.ErrorIs(t, err, ErrCartLineNotFound)

	err = repo.WithTx(ctx, func(tx Tx) error {
		return tx.UpdateCartLineQuantity(ctx, 2, line.ID, 5)
	})
	assert.ErrorIs(t, err, ErrCartLineNotFound)

	err = repo.WithTx(ctx, func(tx Tx) error {
		return tx.DeleteCartLine(ctx, 2, line.ID)
	})
	assert.ErrorIs(t, err, ErrCartLineNotFound)

	got, err := repo.GetCartLine(ctx, 1, line.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Quantity)
}

func TestClearCart(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	p1 := seedProduct(t, repo, "SKU-1", "1.00", nil)
	p2 := seedProduct(t, repo, "SKU-2", "1.00", nil)
	addLine(t, repo, 1, p1, 1, "1.00")
	addLine(t, repo, 1, p2, 1, "1.00")

	var removed int64
	err := repo.WithTx(ctx, func(tx Tx) error {
		var err error
		removed, err = tx.ClearCart(ctx, 1)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	lines, err := repo.ListCartLines(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	p1 := seedProduct(t, repo, "SKU-1", "1.00", intPtr(3))
	boom := errors.New("boom")

	err := repo.WithTx(ctx, func(tx Tx) error {
		if err := tx.AdjustStock(ctx, p1, -2); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	p, err := repo.GetProduct(ctx, p1)
	require.NoError(t, err)
	assert.Equal(t, 3, *p.StockQuantity)
	assert.Equal(t, 0, p.SalesCount)
}

func TestAdjustStock(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	tracked := seedProduct(t, repo, "SKU-T", "1.00", intPtr(3))
	untracked := seedProduct(t, repo, "SKU-U", "1.00", nil)

	err := repo.WithTx(ctx, func(tx Tx) error {
		if err := tx.AdjustStock(ctx, tracked, -3); err != nil {
			return err
		}
		return tx.AdjustStock(ctx, untracked, -100)
	})
	require.NoError(t, err)

	p, err := repo.GetProduct(ctx, tracked)
	require.NoError(t, err)
	assert.Equal(t, 0, *p.StockQuantity)
	assert.Equal(t, 3, p.SalesCount)

	u, err := repo.GetProduct(ctx, untracked)
	require.NoError(t, err)
	assert.Nil(t, u.StockQuantity)
	assert.Equal(t, 100, u.SalesCount)

	err = repo.WithTx(ctx, func(tx Tx) error {
		return tx.AdjustStock(ctx, tracked, -1)
	})
	assert.ErrorIs(t, err, ErrStockConflict)

	err = repo.WithTx(ctx, func(tx Tx) error {
		return tx.AdjustStock(ctx, 9999, -1)
	})
	assert.ErrorIs(t, err, ErrProductNotFound)

	// restoring more than was sold floors the sales counter at zero
	err = repo.WithTx(ctx, func(tx Tx) error {
		return tx.AdjustStock(ctx, tracked, 5)
	})
	require.NoError(t, err)
	p, err = repo.GetProduct(ctx, tracked)
	require.NoError(t, err)
	assert.Equal(t, 5, *p.StockQuantity)
	assert.Equal(t, 0, p.SalesCount)
}

func TestLockProducts_SkipsMissing(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	p1 := seedProduct(t, repo, "SKU-1", "1.00", intPtr(1))
	p2 := seedProduct(t, repo, "SKU-2", "1.00", nil)

	err := repo.WithTx(ctx, func(tx Tx) error {
		products, err := tx.LockProducts(ctx, []int64{p2, 12345, p1})
		require.NoError(t, err)
		assert.Len(t, products, 2)
		assert.Contains(t, products, p1)
		assert.Contains(t, products, p2)
		return nil
	})
	require.NoError(t, err)
}

func TestInsertOrder_RoundTrip(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	p1 := seedProduct(t, repo, "SKU-1", "10.00", nil)
	key := "idem-1"
	order := newOrder(1, "ORD-1")
	order.IdempotencyKey = &key
	order.Lines = []domain.OrderLine{{
		ProductID:   p1,
		ProductName: "Product SKU-1",
		SKU:         "SKU-1",
		Quantity:    2,
		UnitPrice:   decimal.RequireFromString("10.00"),
		LineTotal:   decimal.RequireFromString("20.00"),
	}}

	err := repo.WithTx(ctx, func(tx Tx) error {
		return tx.InsertOrder(ctx, order)
	})
	require.NoError(t, err)
	assert.NotZero(t, order.Lines[0].ID)

	got, err := repo.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "ORD-1", got.OrderNumber)
	assert.Equal(t, domain.OrderStatusPending, got.Status)
	assert.Equal(t, "22.00", got.TotalAmount.StringFixed(2))
	assert.Equal(t, "Springfield", got.ShippingAddress.City)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, "20.00", got.Lines[0].LineTotal.StringFixed(2))
	assert.Nil(t, got.PaidAt)
	assert.Nil(t, got.TransactionID)

	byKey, err := repo.GetOrderByIdempotencyKey(ctx, 1, key)
	require.NoError(t, err)
	assert.Equal(t, order.ID, byKey.ID)

	_, err = repo.GetOrderByIdempotencyKey(ctx, 2, key)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestInsertOrder_Duplicates(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	key := "idem-1"
	first := newOrder(1, "ORD-1")
	first.IdempotencyKey = &key
	require.NoError(t, repo.WithTx(ctx, func(tx Tx) error { return tx.InsertOrder(ctx, first) }))

	sameNumber := newOrder(1, "ORD-1")
	err := repo.WithTx(ctx, func(tx Tx) error { return tx.InsertOrder(ctx, sameNumber) })
	assert.ErrorIs(t, err, ErrDuplicateOrderNumber)

	sameKey := newOrder(1, "ORD-2")
	sameKey.IdempotencyKey = &key
	err = repo.WithTx(ctx, func(tx Tx) error { return tx.InsertOrder(ctx, sameKey) })
	assert.ErrorIs(t, err, ErrDuplicateIdempotencyKey)

	otherUser := newOrder(2, "ORD-3")
	otherUser.IdempotencyKey = &key
	err = repo.WithTx(ctx, func(tx Tx) error { return tx.InsertOrder(ctx, otherUser) })
	assert.NoError(t, err)
}

func TestUpdateOrderState(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	order := newOrder(1, "ORD-1")
	require.NoError(t, repo.WithTx(ctx, func(tx Tx) error { return tx.InsertOrder(ctx, order) }))

	err := repo.WithTx(ctx, func(tx Tx) error {
		locked, err := tx.LockOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		now := time.Now()
		txn := "TXN-1"
		locked.Status = domain.OrderStatusProcessing
		locked.PaymentStatus = domain.PaymentStatusPaid
		locked.TransactionID = &txn
		locked.PaidAt = &now
		// monetary fields are never written back
		locked.TotalAmount = decimal.NewFromInt(1)
		return tx.UpdateOrderState(ctx, locked)
	})
	require.NoError(t, err)

	got, err := repo.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusProcessing, got.Status)
	assert.Equal(t, domain.PaymentStatusPaid, got.PaymentStatus)
	require.NotNil(t, got.TransactionID)
	assert.Equal(t, "TXN-1", *got.TransactionID)
	assert.NotNil(t, got.PaidAt)
	assert.Equal(t, "22.00", got.TotalAmount.StringFixed(2))

	_, err = repo.GetOrder(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestListOrders_NewestFirst(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	for _, n := range []string{"ORD-A", "ORD-B"} {
		o := newOrder(1, n)
		require.NoError(t, repo.WithTx(ctx, func(tx Tx) error { return tx.InsertOrder(ctx, o) }))
		time.Sleep(10 * time.Millisecond)
	}

	orders, err := repo.ListOrders(ctx, 1)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "ORD-B", orders[0].OrderNumber)

	orders, err = repo.ListOrders(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestAddresses(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	id := seedAddress(t, repo, 1)

	a, err := repo.GetAddress(ctx, 1, id)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", a.FullName)

	_, err = repo.GetAddress(ctx, 2, id)
	assert.ErrorIs(t, err, ErrAddressNotFound)

	list, err := repo.ListAddresses(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSettings_LoadAndSave(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	settings, err := repo.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Empty(t, settings)

	require.NoError(t, repo.SaveSetting(ctx, domain.SettingTaxRate, "0.16"))
	require.NoError(t, repo.SaveSetting(ctx, domain.SettingTaxRate, "0.2"))

	settings, err = repo.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{domain.SettingTaxRate: "0.2"}, settings)
}

func TestOutbox_Lifecycle(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	event := &OutboxEvent{UserID: 1, AggregateID: "order-1", EventType: domain.EventOrderCreated, Payload: []byte(`{"a":1}`)}
	require.NoError(t, repo.InsertOutboxEvent(ctx, event))
	assert.NotZero(t, event.ID)

	events, err := repo.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventOrderCreated, events[0].EventType)
	assert.JSONEq(t, `{"a":1}`, string(events[0].Payload))

	require.NoError(t, repo.MarkEventAsProcessed(ctx, event.ID))

	events, err = repo.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)

	deleted, err := repo.DeleteProcessedEvents(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestConcurrentLastUnit(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	productID := seedProduct(t, repo, "SKU-LAST", "5.00", intPtr(1))

	const buyers = 5
	var wg sync.WaitGroup
	results := make([]error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = repo.WithTx(ctx, func(tx Tx) error {
				products, err := tx.LockProducts(ctx, []int64{productID})
				if err != nil {
					return err
				}
				if !products[productID].CanSupply(1) {
					return ErrStockConflict
				}
				return tx.AdjustStock(ctx, productID, -1)
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrStockConflict)
	}
	assert.Equal(t, 1, succeeded)

	p, err := repo.GetProduct(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 0, *p.StockQuantity)
}
