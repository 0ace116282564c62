package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrProductNotFound         = errors.New("product not found")
	ErrCartLineNotFound        = errors.New("cart line not found")
	ErrDuplicateCartLine       = errors.New("cart already has a line for this product")
	ErrAddressNotFound         = errors.New("address not found")
	ErrOrderNotFound           = errors.New("order not found")
	ErrDuplicateOrderNumber    = errors.New("order number already exists")
	ErrDuplicateIdempotencyKey = errors.New("order for this idempotency key already exists")
	ErrStockConflict           = errors.New("stock changed concurrently")
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	SSLMode           string
	MigrationsDirPath string
}

// Queries are the reads available both inside and outside a transaction.
type Queries interface {
	GetProduct(ctx context.Context, productID int64) (*domain.Product, error)
	// ListCartLines returns the user's lines joined with live catalog data,
	// oldest first.
	ListCartLines(ctx context.Context, userID int64) ([]domain.CartLine, error)
	GetCartLine(ctx context.Context, userID, lineID int64) (*domain.CartLine, error)
	CountCartItems(ctx context.Context, userID int64) (int, error)
	GetAddress(ctx context.Context, userID, addressID int64) (*domain.Address, error)
	ListAddresses(ctx context.Context, userID int64) ([]domain.Address, error)
	// GetOrder loads an order with its lines regardless of owner.
	GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*domain.Order, error)
	ListOrders(ctx context.Context, userID int64) ([]*domain.Order, error)
}

// Tx is a unit of work. Everything done through a Tx commits or rolls back
// together. Lock* methods hold row locks until the end of the transaction.
type Tx interface {
	Queries

	LockCartLines(ctx context.Context, userID int64) ([]domain.CartLine, error)
	// LockProducts locks the given products in ascending id order. Missing
	// ids are absent from the result.
	LockProducts(ctx context.Context, productIDs []int64) (map[int64]domain.Product, error)
	LockOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)

	InsertCartLine(ctx context.Context, line *domain.CartLine) error
	UpdateCartLineQuantity(ctx context.Context, userID, lineID int64, quantity int) error
	DeleteCartLine(ctx context.Context, userID, lineID int64) error
	ClearCart(ctx context.Context, userID int64) (int64, error)

	// InsertOrder writes the order row and all of its lines.
	InsertOrder(ctx context.Context, order *domain.Order) error
	// UpdateOrderState persists status, payment status, transaction id and
	// lifecycle timestamps. Monetary fields and snapshots are never written.
	UpdateOrderState(ctx context.Context, order *domain.Order) error

	// AdjustStock applies delta to tracked stock and -delta to the sales
	// counter. A negative delta fails with ErrStockConflict when stock would
	// drop below zero. Untracked stock is left as is.
	AdjustStock(ctx context.Context, productID int64, delta int) error
}

// Store is the transactional storage used by the order core.
type Store interface {
	Queries
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// SettingsReader loads raw settings rows keyed by name.
type SettingsReader interface {
	LoadSettings(ctx context.Context) (map[string]string, error)
}

type SettingsWriter interface {
	SaveSetting(ctx context.Context, key, value string) error
}

type OutboxEvent struct {
	ID          int64
	UserID      int64
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// OutboxRepository stores notification events until they are published.
type OutboxRepository interface {
	InsertOutboxEvent(ctx context.Context, event *OutboxEvent) error
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
	DeleteProcessedEvents(ctx context.Context, before time.Time) (int64, error)
}
