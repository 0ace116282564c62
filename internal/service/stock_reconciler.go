package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fjod/go_cart/storefront/internal/domain"
	r "github.com/fjod/go_cart/storefront/internal/repository"
)

// StockReconciler returns the stock an order consumed. It works from the
// order's line snapshot only and runs inside the caller's transaction.
type StockReconciler struct{}

func (StockReconciler) Restore(ctx context.Context, tx r.Tx, order *domain.Order) error {
	if len(order.Lines) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(order.Lines))
	for _, l := range order.Lines {
		ids = append(ids, l.ProductID)
	}
	// same lock order as order placement
	if _, err := tx.LockProducts(ctx, ids); err != nil {
		return fmt.Errorf("lock products for restore: %w", err)
	}

	for _, l := range order.Lines {
		err := tx.AdjustStock(ctx, l.ProductID, l.Quantity)
		if errors.Is(err, r.ErrProductNotFound) {
			slog.WarnContext(ctx, "product gone, stock not restored",
				"order_id", order.ID, "product_id", l.ProductID, "quantity", l.Quantity)
			continue
		}
		if err != nil {
			return fmt.Errorf("restore stock for product %d: %w", l.ProductID, err)
		}
	}
	return nil
}
