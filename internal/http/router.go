package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterConfig struct {
	Cart           *CartHandler
	Checkout       *CheckoutHandler
	Orders         *OrdersHandler
	Settings       *SettingsHandler
	AdminToken     string
	RequestTimeout time.Duration
	// Health is checked by GET /health. Optional.
	Health Pinger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Get("/health", healthHandler(cfg.Health))

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware)

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", cfg.Cart.GetCart)
				r.Delete("/", cfg.Cart.ClearCart)
				r.Post("/items", cfg.Cart.AddItem)
				r.Put("/items/{line_id}", cfg.Cart.UpdateQuantity)
				r.Delete("/items/{line_id}", cfg.Cart.RemoveItem)
				r.Get("/checkout-summary", cfg.Checkout.Summary)
			})

			r.Route("/orders", func(r chi.Router) {
				r.Get("/", cfg.Orders.ListOrders)
				r.Post("/", cfg.Orders.PlaceOrder)
				r.Get("/{order_id}", cfg.Orders.GetOrder)
				r.Get("/{order_id}/status", cfg.Orders.GetStatus)
				r.Post("/{order_id}/cancel", cfg.Orders.Cancel)
				r.Post("/{order_id}/confirm-payment", cfg.Orders.ConfirmPayment)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(AdminMiddleware(cfg.AdminToken))

			r.Route("/orders/{order_id}", func(r chi.Router) {
				r.Post("/ship", cfg.Orders.Ship)
				r.Post("/deliver", cfg.Orders.Deliver)
				r.Post("/refund", cfg.Orders.Refund)
			})

			if cfg.Settings != nil {
				r.Get("/settings", cfg.Settings.Get)
				r.Put("/settings/{key}", cfg.Settings.Update)
			}
		})
	})

	return otelhttp.NewHandler(r, "storefront-http")
}

func healthHandler(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
