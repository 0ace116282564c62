package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/pricing"
	r "github.com/fjod/go_cart/storefront/internal/repository"
)

type CartService struct {
	store    r.Store
	settings SettingsSource
}

func NewCartService(store r.Store, settings SettingsSource) *CartService {
	return &CartService{
		store:    store,
		settings: settings,
	}
}

func validateQuantity(quantity int) error {
	if quantity < MinItemQuantity || quantity > MaxItemQuantity {
		return validationError("quantity must be between %d and %d", MinItemQuantity, MaxItemQuantity)
	}
	return nil
}

// AddItem adds quantity units of a product to the user's cart, merging into
// an existing line for the same product. It returns the cart's total unit
// count.
func (s *CartService) AddItem(ctx context.Context, userID, productID int64, quantity int, options map[string]any) (int, error) {
	if productID <= 0 {
		return 0, validationError("product id must be positive")
	}
	if err := validateQuantity(quantity); err != nil {
		return 0, err
	}

	var count int
	add := func(tx r.Tx) error {
		lines, err := tx.LockCartLines(ctx, userID)
		if err != nil {
			return err
		}
		products, err := tx.LockProducts(ctx, []int64{productID})
		if err != nil {
			return err
		}
		product, ok := products[productID]
		if !ok || !product.IsActive {
			return fmt.Errorf("%w: product %d", ErrNotFound, productID)
		}

		var existing *domain.CartLine
		for i := range lines {
			if lines[i].ProductID == productID {
				existing = &lines[i]
				break
			}
		}

		requested := quantity
		if existing != nil {
			requested += existing.Quantity
		}
		if !product.CanSupply(requested) {
			return &InsufficientStockError{Items: []domain.StockShortfall{{
				ProductID: productID,
				Requested: requested,
				Available: product.Available(),
			}}}
		}

		if existing != nil {
			err = tx.UpdateCartLineQuantity(ctx, userID, existing.ID, requested)
		} else {
			err = tx.InsertCartLine(ctx, &domain.CartLine{
				UserID:    userID,
				ProductID: productID,
				Quantity:  quantity,
				UnitPrice: product.Price,
				Options:   options,
			})
		}
		if err != nil {
			return err
		}

		count, err = tx.CountCartItems(ctx, userID)
		return err
	}

	err := s.store.WithTx(ctx, add)
	if errors.Is(err, r.ErrDuplicateCartLine) {
		// a concurrent add created the line first; merge into it
		err = s.store.WithTx(ctx, add)
	}
	if err != nil {
		slog.WarnContext(ctx, "add cart item failed", "user_id", userID, "product_id", productID, "error", err)
		return 0, translate(err)
	}
	return count, nil
}

// UpdateItem sets the quantity of one of the user's cart lines.
func (s *CartService) UpdateItem(ctx context.Context, userID, lineID int64, quantity int) (int, error) {
	if err := validateQuantity(quantity); err != nil {
		return 0, err
	}

	var count int
	err := s.store.WithTx(ctx, func(tx r.Tx) error {
		lines, err := tx.LockCartLines(ctx, userID)
		if err != nil {
			return err
		}
		var line *domain.CartLine
		for i := range lines {
			if lines[i].ID == lineID {
				line = &lines[i]
				break
			}
		}
		if line == nil {
			return r.ErrCartLineNotFound
		}

		products, err := tx.LockProducts(ctx, []int64{line.ProductID})
		if err != nil {
			return err
		}
		product, ok := products[line.ProductID]
		if !ok {
			return r.ErrProductNotFound
		}
		if !product.CanSupply(quantity) {
			return &InsufficientStockError{Items: []domain.StockShortfall{{
				ProductID: line.ProductID,
				Requested: quantity,
				Available: product.Available(),
			}}}
		}

		if err := tx.UpdateCartLineQuantity(ctx, userID, lineID, quantity); err != nil {
			return err
		}
		count, err = tx.CountCartItems(ctx, userID)
		return err
	})
	if err != nil {
		return 0, translate(err)
	}
	return count, nil
}

func (s *CartService) RemoveItem(ctx context.Context, userID, lineID int64) (int, error) {
	var count int
	err := s.store.WithTx(ctx, func(tx r.Tx) error {
		if err := tx.DeleteCartLine(ctx, userID, lineID); err != nil {
			return err
		}
		var err error
		count, err = tx.CountCartItems(ctx, userID)
		return err
	})
	if err != nil {
		return 0, translate(err)
	}
	return count, nil
}

// Clear empties the cart. Clearing an empty cart succeeds.
func (s *CartService) Clear(ctx context.Context, userID int64) error {
	err := s.store.WithTx(ctx, func(tx r.Tx) error {
		_, err := tx.ClearCart(ctx, userID)
		return err
	})
	return translate(err)
}

// GetSummary returns the cart with live stock flags and totals priced
// under the current settings.
func (s *CartService) GetSummary(ctx context.Context, userID int64) (*domain.CartSummary, error) {
	lines, err := s.store.ListCartLines(ctx, userID)
	if err != nil {
		return nil, translate(err)
	}
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	return &domain.CartSummary{
		UserID: userID,
		Lines:  lines,
		Totals: pricing.ComputeTotals(pricing.LinesFromCart(lines), settings),
	}, nil
}
