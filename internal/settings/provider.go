// Package settings resolves pricing settings from the settings table,
// falling back to configured defaults, with a shared cache in front.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjod/go_cart/storefront/internal/cache"
	"github.com/fjod/go_cart/storefront/internal/domain"
	r "github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

var (
	ErrUnknownSetting = errors.New("unknown setting")
	ErrInvalidSetting = errors.New("invalid setting value")
	ErrReadOnly       = errors.New("settings store is read-only")
)

var knownKeys = map[string]bool{
	domain.SettingTaxRate:               true,
	domain.SettingFreeShippingThreshold: true,
	domain.SettingFlatShippingCost:      true,
	domain.SettingCurrency:              true,
}

type Provider struct {
	repo     r.SettingsReader
	cache    cache.SettingsCache
	defaults domain.Settings
	sfg      singleflight.Group
}

// NewProvider builds a provider. cache may be nil, in which case every
// call reads the database.
func NewProvider(repo r.SettingsReader, cache cache.SettingsCache, defaults domain.Settings) *Provider {
	return &Provider{
		repo:     repo,
		cache:    cache,
		defaults: defaults,
	}
}

func (p *Provider) Get(ctx context.Context) (domain.Settings, error) {
	v, err, _ := p.sfg.Do("settings", func() (interface{}, error) {
		if p.cache != nil {
			cached, err := p.cache.Get(ctx)
			if err == nil {
				return *cached, nil
			}
			if !errors.Is(err, cache.ErrCacheMiss) {
				slog.WarnContext(ctx, "settings cache get failed", "error", err)
			}
		}

		rows, err := p.repo.LoadSettings(ctx)
		if err != nil {
			return nil, fmt.Errorf("load settings: %w", err)
		}
		settings, err := Merge(p.defaults, rows)
		if err != nil {
			return nil, err
		}

		if p.cache != nil {
			go func() {
				setCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if errSet := p.cache.Set(setCtx, &settings); errSet != nil {
					slog.Warn("settings cache set failed", "error", errSet)
				}
			}()
		}
		return settings, nil
	})
	if err != nil {
		return domain.Settings{}, err
	}
	return v.(domain.Settings), nil
}

// Invalidate drops the cached settings so the next Get reads the database.
func (p *Provider) Invalidate(ctx context.Context) error {
	if p.cache == nil {
		return nil
	}
	return p.cache.Delete(ctx)
}

// Update stores one setting and drops the cache so the next Get sees it.
func (p *Provider) Update(ctx context.Context, key, value string) (domain.Settings, error) {
	if !knownKeys[key] {
		return domain.Settings{}, fmt.Errorf("%w: %s", ErrUnknownSetting, key)
	}
	if _, err := Merge(p.defaults, map[string]string{key: value}); err != nil {
		return domain.Settings{}, fmt.Errorf("%w: %w", ErrInvalidSetting, err)
	}
	w, ok := p.repo.(r.SettingsWriter)
	if !ok {
		return domain.Settings{}, ErrReadOnly
	}
	if err := w.SaveSetting(ctx, key, value); err != nil {
		return domain.Settings{}, fmt.Errorf("save setting %s: %w", key, err)
	}

	if err := p.Invalidate(ctx); err != nil {
		slog.WarnContext(ctx, "settings cache invalidate failed", "error", err)
	}
	p.sfg.Forget("settings")
	slog.InfoContext(ctx, "setting updated", "key", key, "value", value)
	return p.Get(ctx)
}

// Merge overlays raw settings rows on defaults. Unknown keys are ignored.
func Merge(defaults domain.Settings, rows map[string]string) (domain.Settings, error) {
	s := defaults
	for key, target := range map[string]*decimal.Decimal{
		domain.SettingTaxRate:               &s.TaxRate,
		domain.SettingFreeShippingThreshold: &s.FreeShippingThreshold,
		domain.SettingFlatShippingCost:      &s.FlatShippingCost,
	} {
		raw, ok := rows[key]
		if !ok || raw == "" {
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return domain.Settings{}, fmt.Errorf("setting %s: %w", key, err)
		}
		if d.IsNegative() {
			return domain.Settings{}, fmt.Errorf("setting %s must not be negative", key)
		}
		*target = d
	}
	if c := rows[domain.SettingCurrency]; c != "" {
		s.Currency = c
	}
	return s, nil
}
