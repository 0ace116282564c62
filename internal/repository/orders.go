package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const orderColumns = `id, order_number, user_id, status, payment_status,
	subtotal, tax_amount, shipping_amount, total_amount, currency,
	shipping_address, billing_address, shipping_method, payment_method,
	transaction_id, notes, idempotency_key,
	created_at, updated_at, paid_at, shipped_at, cancelled_at, refunded_at, delivered_at`

const orderLineColumns = `id, order_id, product_id, product_name, sku, quantity, unit_price, line_total, options`

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullStringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	var shippingJSON, billingJSON []byte
	var transactionID, notes, idempotencyKey sql.NullString
	var paidAt, shippedAt, cancelledAt, refundedAt, deliveredAt sql.NullTime

	err := row.Scan(
		&o.ID,
		&o.OrderNumber,
		&o.UserID,
		&o.Status,
		&o.PaymentStatus,
		&o.Subtotal,
		&o.TaxAmount,
		&o.ShippingAmount,
		&o.TotalAmount,
		&o.Currency,
		&shippingJSON,
		&billingJSON,
		&o.ShippingMethod,
		&o.PaymentMethod,
		&transactionID,
		&notes,
		&idempotencyKey,
		&o.CreatedAt,
		&o.UpdatedAt,
		&paidAt,
		&shippedAt,
		&cancelledAt,
		&refundedAt,
		&deliveredAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(shippingJSON, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("unmarshal shipping address: %w", err)
	}
	if err := json.Unmarshal(billingJSON, &o.BillingAddress); err != nil {
		return nil, fmt.Errorf("unmarshal billing address: %w", err)
	}
	o.TransactionID = nullStringPtr(transactionID)
	o.Notes = nullStringPtr(notes)
	o.IdempotencyKey = nullStringPtr(idempotencyKey)
	o.PaidAt = nullTimePtr(paidAt)
	o.ShippedAt = nullTimePtr(shippedAt)
	o.CancelledAt = nullTimePtr(cancelledAt)
	o.RefundedAt = nullTimePtr(refundedAt)
	o.DeliveredAt = nullTimePtr(deliveredAt)
	return &o, nil
}

func scanOrderLine(row rowScanner) (*domain.OrderLine, error) {
	var l domain.OrderLine
	var optionsJSON []byte
	err := row.Scan(
		&l.ID,
		&l.OrderID,
		&l.ProductID,
		&l.ProductName,
		&l.SKU,
		&l.Quantity,
		&l.UnitPrice,
		&l.LineTotal,
		&optionsJSON,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalOptions(optionsJSON, &l.Options); err != nil {
		return nil, err
	}
	return &l, nil
}

func (q *queries) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return q.orderWithLines(ctx, query, orderID)
}

func (q *queries) GetOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 AND idempotency_key = $2`
	return q.orderWithLines(ctx, query, userID, key)
}

func (q *queries) orderWithLines(ctx context.Context, query string, args ...any) (*domain.Order, error) {
	order, err := scanOrder(q.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	lines, err := q.orderLines(ctx, []uuid.UUID{order.ID})
	if err != nil {
		return nil, err
	}
	order.Lines = lines[order.ID]
	return order, nil
}

func (q *queries) ListOrders(ctx context.Context, userID int64) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id`

	rows, err := q.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query orders by user id: %w", err)
	}
	defer rows.Close()

	var orders []*domain.Order
	var ids []uuid.UUID
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	lines, err := q.orderLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		o.Lines = lines[o.ID]
	}
	return orders, nil
}

func (q *queries) orderLines(ctx context.Context, orderIDs []uuid.UUID) (map[uuid.UUID][]domain.OrderLine, error) {
	query := `SELECT ` + orderLineColumns + ` FROM order_items WHERE order_id = ANY($1::uuid[]) ORDER BY id`

	ids := make([]string, len(orderIDs))
	for i, id := range orderIDs {
		ids[i] = id.String()
	}

	rows, err := q.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query order lines: %w", err)
	}
	defer rows.Close()

	lines := make(map[uuid.UUID][]domain.OrderLine, len(orderIDs))
	for rows.Next() {
		l, err := scanOrderLine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		lines[l.OrderID] = append(lines[l.OrderID], *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return lines, nil
}
