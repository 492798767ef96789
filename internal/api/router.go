/**
 * @description
 * This file sets up the HTTP router for the wallet-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for the mobile client.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// WalletRoutes creates and returns a new router for the wallet service.
func WalletRoutes(h *WalletHandlers, jwtSecret []byte) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Public endpoints used before a session exists.
	r.Post("/accounts", h.CreateAccountHandler)
	r.Post("/login", h.LoginHandler)
	r.Get("/accounts/exists", h.AccountExistsHandler)

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret))

		r.Get("/me", h.MeHandler)
		r.Put("/me/security", h.UpdateSecurityHandler)
		r.Post("/me/xp", h.AwardXPHandler)

		r.Get("/transactions", h.ListTransactionsHandler)
		r.Post("/transactions", h.RecordTransactionHandler)

		r.Get("/loans", h.ListLoansHandler)
		r.Post("/loans", h.ApplyLoanHandler)

		r.Get("/policies", h.ListPoliciesHandler)
		r.Post("/policies", h.PurchaseInsuranceHandler)

		r.Get("/merchant/stats", h.MerchantStatsHandler)
	})

	return r
}
