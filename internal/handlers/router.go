package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/safar/storefront/internal/config"
	"github.com/safar/storefront/internal/middleware"
)

type CheckoutAPI interface {
	CheckoutService
	CouponService
}

type Services struct {
	Checkout CheckoutAPI
	Catalog  CatalogService
	Orders   OrderReader
	Webhooks EventVerifier
	DB       Pinger
}

type RouterConfig struct {
	Auth             config.AuthConfig
	AllowedOrigins   []string
	RequestTimeout   time.Duration
	ShowErrorDetails bool
}

func NewRouter(svc Services, cfg RouterConfig, log *slog.Logger) http.Handler {
	rs := responder{log: log, details: cfg.ShowErrorDetails}

	health := NewHealthHandler(svc.DB, rs)
	payments := NewPaymentHandler(svc.Checkout, svc.Webhooks, rs)
	products := NewProductHandler(svc.Catalog, rs)
	coupons := NewCouponHandler(svc.Checkout, rs)
	orders := NewOrderHandler(svc.Orders, rs)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log))
	r.Use(chimiddleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "api_key", middleware.HeaderUserID, middleware.HeaderUserRole},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", health.ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		// Stripe signs webhooks itself and sends no api key or identity.
		r.Post("/payments/webhook", payments.Webhook)

		r.Group(func(r chi.Router) {
			r.Use(middleware.APIKeyAuth(cfg.Auth))
			r.Use(middleware.Identify)

			r.Get("/products/featured", products.Featured)
			r.Get("/products/recommendations", products.Recommendations)
			r.Get("/products/category/{category}", products.ByCategory)
			r.Get("/products/{id}", products.GetProduct)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin)
				r.Get("/products", products.ListProducts)
				r.Post("/products", products.CreateProduct)
				r.Patch("/products/{id}", products.ToggleFeatured)
				r.Delete("/products/{id}", products.DeleteProduct)
			})

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireUser)
				r.Post("/payments/create-checkout-session", payments.CreateCheckoutSession)
				r.Post("/payments/create-checkout-success", payments.CheckoutSuccess)
				r.Get("/coupons", coupons.GetCoupon)
				r.Post("/coupons/validate", coupons.ValidateCoupon)
				r.Get("/orders", orders.ListOrders)
				r.Get("/orders/{id}", orders.GetOrder)
			})
		})
	})

	return r
}
