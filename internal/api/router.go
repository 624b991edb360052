/**
 * @description
 * This file sets up the chi router for the access service, wiring middleware
 * and routes. The webhook endpoint sits outside bearer auth (it authenticates
 * via signature), operator endpoints behind the internal key, and user
 * endpoints behind JWT auth.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: HTTP router.
 * - github.com/go-chi/cors: CORS middleware.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig carries the router's auth and CORS settings.
type RouterConfig struct {
	JWKSURL        string
	InternalAPIKey string
	AllowedOrigins []string
}

// NewRouter creates the service router.
func NewRouter(handler *Handler, webhook *WebhookHandler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Method(http.MethodPost, "/webhooks/stripe", webhook)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(cfg.JWKSURL))
			r.Post("/checkout/complete", handler.handleCompleteCheckout)
			r.Get("/access/{productID}", handler.handleAccessQuery)
			r.Get("/purchases", handler.handleListPurchases)
		})

		r.Group(func(r chi.Router) {
			r.Use(InternalAPIKeyMiddleware(cfg.InternalAPIKey))
			r.Post("/admin/sync", handler.handleRunSync)
			r.Put("/admin/catalog/mappings", handler.handleUpsertMapping)
		})
	})

	return r
}
