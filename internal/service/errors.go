package service

import (
	"errors"
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/domain"
	r "github.com/fjod/go_cart/storefront/internal/repository"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrEmptyCart         = errors.New("cart is empty")
	ErrInvalidState      = errors.New("invalid order state")
	ErrAlreadyPaid       = errors.New("order is already paid")
	ErrValidation        = errors.New("validation error")
)

// InsufficientStockError lists every product the current stock cannot cover.
type InsufficientStockError struct {
	Items []domain.StockShortfall
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("%s for %d item(s)", ErrInsufficientStock, len(e.Items))
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// translate maps repository sentinels onto service errors.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, r.ErrProductNotFound),
		errors.Is(err, r.ErrCartLineNotFound),
		errors.Is(err, r.ErrAddressNotFound),
		errors.Is(err, r.ErrOrderNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, r.ErrStockConflict):
		return fmt.Errorf("%w: %w", ErrInsufficientStock, err)
	default:
		return err
	}
}
