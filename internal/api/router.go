package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pesaflow/mpesa-backend/internal/api/handlers"
	"github.com/pesaflow/mpesa-backend/internal/config"
	"github.com/pesaflow/mpesa-backend/internal/middleware"
)

func NewRouter(cfg config.Config, authMW *middleware.AuthMiddleware, payments *handlers.PaymentsHandler, authH *handlers.AuthHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recover, middleware.RateLimit(cfg.RateRPS), middleware.HTTPMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	// health & metrics
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", authH.Register)
		r.Post("/auth/login", authH.Login)
		r.Post("/auth/refresh", authH.Refresh)

		// payment surface: stkpush is the payment form's endpoint, the
		// callback is hit by the gateway itself.
		r.Post("/payments/stkpush", payments.STKPush)
		r.Post("/payments/callback", payments.Callback)

		r.Route("/dashboard", func(r chi.Router) {
			r.Use(authMW.Auth)
			r.Get("/transactions", payments.Transactions)
			r.Get("/stats", payments.Stats)
			r.Post("/reset", payments.Reset)
		})
	})

	return r
}
