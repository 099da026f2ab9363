package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/frahmantamala/payment-reconciliation/internal/payment"
	"github.com/frahmantamala/payment-reconciliation/internal/transport/middleware"
	"github.com/frahmantamala/payment-reconciliation/internal/transport/swagger"
)

// RegisterAllRoutes wires the HTTP surface: the public payment API,
// the pay-link redirect, the gateway webhook, and the JWT-protected
// operational endpoints.
func RegisterAllRoutes(
	router *chi.Mux,
	db *sql.DB,
	paymentHandler *payment.Handler,
	webhookHandler *payment.WebhookHandler,
	jwtSecret string,
	logger *slog.Logger,
) {
	healthHandler := NewHealthHandler(db)

	// Apply global middleware
	router.Use(middleware.CORS)
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	// Serve OpenAPI spec at root (outside API prefix)
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	// Swagger UI route at root
	router.Handle("/swagger/*", swagger.Handler())

	// Prometheus scrape endpoint
	router.Handle("/metrics", promhttp.Handler())

	// Gateway notifications live outside the API prefix so the webhook
	// URL registered at the gateway survives API version bumps.
	if webhookHandler != nil {
		router.Post("/webhooks/gateway", webhookHandler.HandleNotification)
	}

	// Pay link visited by the payer's browser
	if paymentHandler != nil {
		router.Get("/pay/{id}", paymentHandler.Checkout)
	}

	// Mount API under /api/v1 to match OpenAPI basePath
	router.Route("/api/v1", func(r chi.Router) {
		// Health check routes
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		if paymentHandler == nil {
			return
		}

		r.Post("/payments", paymentHandler.CreatePayment)
		r.Get("/payments/{id}", paymentHandler.GetPayment)

		// Operational endpoints require an operator token
		r.Group(func(pr chi.Router) {
			pr.Use(middleware.JWTAuth(jwtSecret, logger))

			pr.Post("/tenants/{tenantID}/sync", paymentHandler.SyncTenant)
			pr.Get("/monitors", paymentHandler.ListMonitors)
			pr.Post("/payments/{id}/monitor", paymentHandler.StartMonitor)
			pr.Delete("/payments/{id}/monitor", paymentHandler.StopMonitor)
		})
	})
}
