/**
 * @description
 * This file sets up the HTTP router for the treasury-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
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

// TreasuryRoutes creates and returns the router for the treasury service.
func TreasuryRoutes(h *TreasuryHandlers, jwtSecret, internalAPIKey string, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Payment gateway webhook: service-to-service, guarded by the internal
	// API key rather than user auth.
	r.Group(func(r chi.Router) {
		r.Use(InternalKeyMiddleware(internalAPIKey))
		r.Post("/payments/webhook", h.PaymentWebhookHandler)
	})

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret))

		r.Post("/security/pin", h.CreateTransactionPINHandler)
		r.Post("/security/pin/reset", h.ResetTransactionPINHandler)

		r.Route("/groups/{groupID}", func(r chi.Router) {
			r.Get("/balance", h.GetGroupBalanceHandler)
			r.Get("/ledger", h.ListGroupLedgerHandler)
			r.Get("/withdrawals", h.ListGroupWithdrawalsHandler)
			r.Post("/withdrawals", h.RequestWithdrawalHandler)
		})

		r.Route("/withdrawals/{withdrawalID}", func(r chi.Router) {
			r.Get("/", h.GetWithdrawalHandler)
			r.Post("/approve", h.ApproveWithdrawalHandler)
			r.Post("/reject", h.RejectWithdrawalHandler)
			r.Post("/execute", h.ExecuteWithdrawalHandler)
		})
	})

	return r
}
