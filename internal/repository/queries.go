package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

type queries struct {
	db dbtx
}

type rowScanner interface {
	Scan(dest ...any) error
}

const productColumns = `p.id, p.sku, p.name, p.price, p.stock_quantity, p.sales_count, p.is_active, p.created_at, p.updated_at`

const cartLineColumns = `c.id, c.user_id, c.product_id, c.quantity, c.unit_price, c.options, c.created_at, c.updated_at, ` + productColumns

const selectCartLines = `SELECT ` + cartLineColumns + `
	FROM cart_items c
	JOIN products p ON p.id = c.product_id
	WHERE c.user_id = $1
	ORDER BY c.created_at, c.id`

const addressColumns = `id, user_id, full_name, line1, line2, city, state, postal_code, country, phone`

func productDest(p *domain.Product, stock *sql.NullInt64) []any {
	return []any{
		&p.ID,
		&p.SKU,
		&p.Name,
		&p.Price,
		stock,
		&p.SalesCount,
		&p.IsActive,
		&p.CreatedAt,
		&p.UpdatedAt,
	}
}

func applyStock(p *domain.Product, stock sql.NullInt64) {
	if stock.Valid {
		v := int(stock.Int64)
		p.StockQuantity = &v
	} else {
		p.StockQuantity = nil
	}
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	var stock sql.NullInt64
	if err := row.Scan(productDest(&p, &stock)...); err != nil {
		return nil, err
	}
	applyStock(&p, stock)
	return &p, nil
}

func scanCartLine(row rowScanner) (*domain.CartLine, error) {
	var l domain.CartLine
	var optionsJSON []byte
	var stock sql.NullInt64
	dest := []any{
		&l.ID,
		&l.UserID,
		&l.ProductID,
		&l.Quantity,
		&l.UnitPrice,
		&optionsJSON,
		&l.CreatedAt,
		&l.UpdatedAt,
	}
	dest = append(dest, productDest(&l.Product, &stock)...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	applyStock(&l.Product, stock)
	if err := unmarshalOptions(optionsJSON, &l.Options); err != nil {
		return nil, err
	}
	return &l, nil
}

func scanAddress(row rowScanner) (*domain.Address, error) {
	var a domain.Address
	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.FullName,
		&a.Line1,
		&a.Line2,
		&a.City,
		&a.State,
		&a.PostalCode,
		&a.Country,
		&a.Phone,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func marshalOptions(options map[string]any) ([]byte, error) {
	if options == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(options)
	if err != nil {
		return nil, fmt.Errorf("marshal options: %w", err)
	}
	return b, nil
}

func unmarshalOptions(data []byte, dst *map[string]any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("unmarshal options: %w", err)
	}
	return nil
}

func (q *queries) GetProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products p WHERE p.id = $1`

	p, err := scanProduct(q.db.QueryRowContext(ctx, query, productID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query product by id: %w", err)
	}
	return p, nil
}

func (q *queries) ListCartLines(ctx context.Context, userID int64) ([]domain.CartLine, error) {
	return q.cartLines(ctx, selectCartLines, userID)
}

func (q *queries) cartLines(ctx context.Context, query string, userID int64) ([]domain.CartLine, error) {
	rows, err := q.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query cart lines: %w", err)
	}
	defer rows.Close()

	var lines []domain.CartLine
	for rows.Next() {
		l, err := scanCartLine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return lines, nil
}

func (q *queries) GetCartLine(ctx context.Context, userID, lineID int64) (*domain.CartLine, error) {
	query := `SELECT ` + cartLineColumns + `
		FROM cart_items c
		JOIN products p ON p.id = c.product_id
		WHERE c.user_id = $1 AND c.id = $2`

	l, err := scanCartLine(q.db.QueryRowContext(ctx, query, userID, lineID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCartLineNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query cart line: %w", err)
	}
	return l, nil
}

func (q *queries) CountCartItems(ctx context.Context, userID int64) (int, error) {
	query := `SELECT COALESCE(SUM(quantity), 0) FROM cart_items WHERE user_id = $1`

	var count int
	if err := q.db.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count cart items: %w", err)
	}
	return count, nil
}

func (q *queries) GetAddress(ctx context.Context, userID, addressID int64) (*domain.Address, error) {
	query := `SELECT ` + addressColumns + ` FROM addresses WHERE id = $1 AND user_id = $2`

	a, err := scanAddress(q.db.QueryRowContext(ctx, query, addressID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAddressNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query address: %w", err)
	}
	return a, nil
}

func (q *queries) ListAddresses(ctx context.Context, userID int64) ([]domain.Address, error) {
	query := `SELECT ` + addressColumns + ` FROM addresses WHERE user_id = $1 ORDER BY id`

	rows, err := q.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query addresses: %w", err)
	}
	defer rows.Close()

	var addresses []domain.Address
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, fmt.Errorf("scan address: %w", err)
		}
		addresses = append(addresses, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return addresses, nil
}
