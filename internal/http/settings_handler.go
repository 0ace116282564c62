package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/settings"
	"github.com/go-chi/chi/v5"
)

type SettingsAdmin interface {
	Get(ctx context.Context) (domain.Settings, error)
	Update(ctx context.Context, key, value string) (domain.Settings, error)
}

type SettingsHandler struct {
	settings SettingsAdmin
	timeout  time.Duration
}

func NewSettingsHandler(s SettingsAdmin, timeout time.Duration) *SettingsHandler {
	return &SettingsHandler{
		settings: s,
		timeout:  timeout,
	}
}

type SettingsDTO struct {
	TaxRate               string `json:"taxRate"`
	FreeShippingThreshold string `json:"freeShippingThreshold"`
	FlatShippingCost      string `json:"flatShippingCost"`
	Currency              string `json:"currency"`
}

type UpdateSettingRequestDTO struct {
	Value string `json:"value"`
}

func convertSettings(s domain.Settings) SettingsDTO {
	return SettingsDTO{
		TaxRate:               s.TaxRate.String(),
		FreeShippingThreshold: s.FreeShippingThreshold.StringFixed(2),
		FlatShippingCost:      s.FlatShippingCost.StringFixed(2),
		Currency:              s.Currency,
	}
}

// GET /api/v1/admin/settings
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s, err := h.settings.Get(ctx)
	if err != nil {
		handleServiceError(ctx, w, err)
		return
	}
	respondJSON(w, http.StatusOK, convertSettings(s))
}

// PUT /api/v1/admin/settings/{key}
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req UpdateSettingRequestDTO
	if !decodeJSON(w, r, &req, false) {
		return
	}

	s, err := h.settings.Update(ctx, chi.URLParam(r, "key"), req.Value)
	switch {
	case errors.Is(err, settings.ErrUnknownSetting):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, settings.ErrInvalidSetting):
		respondError(w, http.StatusBadRequest, "validation_error", err.Error())
	case err != nil:
		handleServiceError(ctx, w, err)
	default:
		respondJSON(w, http.StatusOK, convertSettings(s))
	}
}
