package http

import (
	"net/http"

	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterConfig struct {
	JWTSecret    []byte
	MaxBodyBytes int64
	Log          *logrus.Entry
}

type Handlers struct {
	Cart     *CartHandler
	Checkout *CheckoutHandler
	Orders   *OrdersHandler
	Stream   *StreamHandler
}

// NewRouter mounts every route. The stream route sits outside the compressing
// group because it hijacks the connection and lives past any request timeout.
func NewRouter(h Handlers, m *metrics.Metrics, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)
	r.Use(MetricsMiddleware(m))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", m.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(SessionMiddleware(cfg.JWTSecret, cfg.Log))

		r.Get("/cart/stream", h.Stream.Stream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Compress(5))
			if cfg.MaxBodyBytes > 0 {
				r.Use(middleware.RequestSize(cfg.MaxBodyBytes))
			}

			r.Get("/cart", h.Cart.GetCart)
			r.Post("/cart/items", h.Cart.AddItem)
			r.Post("/cart/items/{record_id}/adjust", h.Cart.AdjustItem)
			r.Put("/cart/items/{record_id}", h.Cart.UpdateQuantity)
			r.Delete("/cart/items/{record_id}", h.Cart.RemoveItem)

			r.Post("/checkout", h.Checkout.Checkout)

			r.Put("/orders/{order_id}/items", h.Orders.UpdateItem)
			r.Delete("/orders/{order_id}/items", h.Orders.DeleteItem)
		})
	})

	return otelhttp.NewHandler(r, "storefront")
}
