package memory

import (
	"context"
	"sort"

	"github.com/fjod/go_cart/storefront/internal/domain"
	r "github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/google/uuid"
)

type memTx struct {
	view
}

var _ r.Tx = (*memTx)(nil)

func (t *memTx) LockCartLines(ctx context.Context, userID int64) ([]domain.CartLine, error) {
	return t.ListCartLines(ctx, userID)
}

func (t *memTx) LockProducts(_ context.Context, productIDs []int64) (map[int64]domain.Product, error) {
	ids := append([]int64(nil), productIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	products := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := t.st.products[id]; ok {
			products[id] = copyProduct(p)
		}
	}
	return products, nil
}

func (t *memTx) LockOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	return t.GetOrder(ctx, orderID)
}

func (t *memTx) InsertCartLine(_ context.Context, line *domain.CartLine) error {
	for _, l := range t.st.cartLines {
		if l.UserID == line.UserID && l.ProductID == line.ProductID {
			return r.ErrDuplicateCartLine
		}
	}
	if _, ok := t.st.products[line.ProductID]; !ok {
		return r.ErrProductNotFound
	}

	t.st.nextLineID++
	now := t.now()
	line.ID = t.st.nextLineID
	line.CreatedAt = now
	line.UpdatedAt = now

	stored := *line
	stored.Product = domain.Product{}
	t.st.cartLines[line.ID] = stored
	return nil
}

func (t *memTx) UpdateCartLineQuantity(_ context.Context, userID, lineID int64, quantity int) error {
	l, ok := t.st.cartLines[lineID]
	if !ok || l.UserID != userID {
		return r.ErrCartLineNotFound
	}
	l.Quantity = quantity
	l.UpdatedAt = t.now()
	t.st.cartLines[lineID] = l
	return nil
}

func (t *memTx) DeleteCartLine(_ context.Context, userID, lineID int64) error {
	l, ok := t.st.cartLines[lineID]
	if !ok || l.UserID != userID {
		return r.ErrCartLineNotFound
	}
	delete(t.st.cartLines, lineID)
	return nil
}

func (t *memTx) ClearCart(_ context.Context, userID int64) (int64, error) {
	var removed int64
	for id, l := range t.st.cartLines {
		if l.UserID == userID {
			delete(t.st.cartLines, id)
			removed++
		}
	}
	return removed, nil
}

func (t *memTx) InsertOrder(_ context.Context, order *domain.Order) error {
	for _, o := range t.st.orders {
		if o.OrderNumber == order.OrderNumber {
			return r.ErrDuplicateOrderNumber
		}
		if order.IdempotencyKey != nil && o.IdempotencyKey != nil &&
			o.UserID == order.UserID && *o.IdempotencyKey == *order.IdempotencyKey {
			return r.ErrDuplicateIdempotencyKey
		}
	}

	now := t.now()
	order.CreatedAt = now
	order.UpdatedAt = now
	for i := range order.Lines {
		t.st.nextItemID++
		order.Lines[i].ID = t.st.nextItemID
		order.Lines[i].OrderID = order.ID
	}

	stored := *order
	stored.Lines = append([]domain.OrderLine(nil), order.Lines...)
	t.st.orders[order.ID] = stored
	t.st.orderSeq = append(t.st.orderSeq, order.ID)
	return nil
}

func (t *memTx) UpdateOrderState(_ context.Context, order *domain.Order) error {
	stored, ok := t.st.orders[order.ID]
	if !ok {
		return r.ErrOrderNotFound
	}
	stored.Status = order.Status
	stored.PaymentStatus = order.PaymentStatus
	stored.TransactionID = order.TransactionID
	stored.PaidAt = order.PaidAt
	stored.ShippedAt = order.ShippedAt
	stored.CancelledAt = order.CancelledAt
	stored.RefundedAt = order.RefundedAt
	stored.DeliveredAt = order.DeliveredAt
	stored.UpdatedAt = t.now()
	order.UpdatedAt = stored.UpdatedAt
	t.st.orders[order.ID] = stored
	return nil
}

func (t *memTx) AdjustStock(_ context.Context, productID int64, delta int) error {
	p, ok := t.st.products[productID]
	if !ok {
		return r.ErrProductNotFound
	}
	if p.StockQuantity != nil {
		next := *p.StockQuantity + delta
		if next < 0 {
			return r.ErrStockConflict
		}
		p.StockQuantity = &next
	}
	p.SalesCount = max(p.SalesCount-delta, 0)
	p.UpdatedAt = t.now()
	t.st.products[productID] = p
	return nil
}
