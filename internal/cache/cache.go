package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

type SettingsCache interface {
	Get(ctx context.Context) (*domain.Settings, error)
	Set(ctx context.Context, settings *domain.Settings) error
	Delete(ctx context.Context) error
}

var ErrCacheMiss = errors.New("cache miss")
