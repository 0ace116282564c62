package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// pgTx implements Tx on top of a *sql.Tx.
type pgTx struct {
	*queries
}

var _ Tx = (*pgTx)(nil)

func (t *pgTx) LockCartLines(ctx context.Context, userID int64) ([]domain.CartLine, error) {
	return t.cartLines(ctx, selectCartLines+` FOR UPDATE OF c`, userID)
}

func (t *pgTx) LockProducts(ctx context.Context, productIDs []int64) (map[int64]domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products p WHERE p.id = ANY($1) ORDER BY p.id FOR UPDATE`

	ids := append([]int64(nil), productIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	rows, err := t.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("lock products: %w", err)
	}
	defer rows.Close()

	products := make(map[int64]domain.Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products[p.ID] = *p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return products, nil
}

func (t *pgTx) LockOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`
	return t.orderWithLines(ctx, query, orderID)
}

func (t *pgTx) InsertCartLine(ctx context.Context, line *domain.CartLine) error {
	optionsJSON, err := marshalOptions(line.Options)
	if err != nil {
		return err
	}

	query := `INSERT INTO cart_items (user_id, product_id, quantity, unit_price, options, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
	          RETURNING id, created_at, updated_at`

	err = t.db.QueryRowContext(ctx, query,
		line.UserID,
		line.ProductID,
		line.Quantity,
		line.UnitPrice,
		optionsJSON,
	).Scan(&line.ID, &line.CreatedAt, &line.UpdatedAt)
	if err != nil {
		if constraint, ok := uniqueConstraint(err); ok && constraint == "cart_items_user_product_key" {
			return ErrDuplicateCartLine
		}
		return fmt.Errorf("insert cart line: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateCartLineQuantity(ctx context.Context, userID, lineID int64, quantity int) error {
	query := `UPDATE cart_items SET quantity = $3, updated_at = NOW() WHERE user_id = $1 AND id = $2`

	res, err := t.db.ExecContext(ctx, query, userID, lineID, quantity)
	if err != nil {
		return fmt.Errorf("update cart line quantity: %w", err)
	}
	return expectOneRow(res, ErrCartLineNotFound)
}

func (t *pgTx) DeleteCartLine(ctx context.Context, userID, lineID int64) error {
	query := `DELETE FROM cart_items WHERE user_id = $1 AND id = $2`

	res, err := t.db.ExecContext(ctx, query, userID, lineID)
	if err != nil {
		return fmt.Errorf("delete cart line: %w", err)
	}
	return expectOneRow(res, ErrCartLineNotFound)
}

func (t *pgTx) ClearCart(ctx context.Context, userID int64) (int64, error) {
	res, err := t.db.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("clear cart: %w", err)
	}
	return rowsAffected(res)
}

func (t *pgTx) InsertOrder(ctx context.Context, order *domain.Order) error {
	shippingJSON, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshal shipping address: %w", err)
	}
	billingJSON, err := json.Marshal(order.BillingAddress)
	if err != nil {
		return fmt.Errorf("marshal billing address: %w", err)
	}

	query := `INSERT INTO orders (id, order_number, user_id, status, payment_status,
	              subtotal, tax_amount, shipping_amount, total_amount, currency,
	              shipping_address, billing_address, shipping_method, payment_method,
	              transaction_id, notes, idempotency_key, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NOW(), NOW())
	          RETURNING created_at, updated_at`

	err = t.db.QueryRowContext(ctx, query,
		order.ID,
		order.OrderNumber,
		order.UserID,
		order.Status,
		order.PaymentStatus,
		order.Subtotal,
		order.TaxAmount,
		order.ShippingAmount,
		order.TotalAmount,
		order.Currency,
		shippingJSON,
		billingJSON,
		order.ShippingMethod,
		order.PaymentMethod,
		order.TransactionID,
		order.Notes,
		order.IdempotencyKey,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if constraint, ok := uniqueConstraint(err); ok {
			switch constraint {
			case "orders_order_number_key":
				return ErrDuplicateOrderNumber
			case "orders_user_idempotency_key":
				return ErrDuplicateIdempotencyKey
			}
		}
		return fmt.Errorf("insert order: %w", err)
	}

	lineQuery := `INSERT INTO order_items (order_id, product_id, product_name, sku, quantity, unit_price, line_total, options)
	              VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	              RETURNING id`

	for i := range order.Lines {
		line := &order.Lines[i]
		line.OrderID = order.ID
		optionsJSON, err := marshalOptions(line.Options)
		if err != nil {
			return err
		}
		err = t.db.QueryRowContext(ctx, lineQuery,
			line.OrderID,
			line.ProductID,
			line.ProductName,
			line.SKU,
			line.Quantity,
			line.UnitPrice,
			line.LineTotal,
			optionsJSON,
		).Scan(&line.ID)
		if err != nil {
			return fmt.Errorf("insert order line: %w", err)
		}
	}
	return nil
}

func (t *pgTx) UpdateOrderState(ctx context.Context, order *domain.Order) error {
	query := `UPDATE orders
	          SET status = $2, payment_status = $3, transaction_id = $4,
	              paid_at = $5, shipped_at = $6, cancelled_at = $7, refunded_at = $8, delivered_at = $9,
	              updated_at = NOW()
	          WHERE id = $1
	          RETURNING updated_at`

	err := t.db.QueryRowContext(ctx, query,
		order.ID,
		order.Status,
		order.PaymentStatus,
		order.TransactionID,
		order.PaidAt,
		order.ShippedAt,
		order.CancelledAt,
		order.RefundedAt,
		order.DeliveredAt,
	).Scan(&order.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrOrderNotFound
	}
	if err != nil {
		return fmt.Errorf("update order state: %w", err)
	}
	return nil
}

func (t *pgTx) AdjustStock(ctx context.Context, productID int64, delta int) error {
	query := `UPDATE products
	          SET stock_quantity = stock_quantity + $2,
	              sales_count = GREATEST(sales_count - $2, 0),
	              updated_at = NOW()
	          WHERE id = $1 AND (stock_quantity IS NULL OR stock_quantity + $2 >= 0)`

	res, err := t.db.ExecContext(ctx, query, productID, delta)
	if err != nil {
		return fmt.Errorf("adjust stock: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists bool
	if err := t.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); err != nil {
		return fmt.Errorf("check product exists: %w", err)
	}
	if !exists {
		return ErrProductNotFound
	}
	return ErrStockConflict
}

func expectOneRow(res sql.Result, notFound error) error {
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
