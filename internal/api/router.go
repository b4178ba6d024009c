/**
 * @description
 * This file sets up the HTTP router for the banking core. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies
 * the authentication and authorization middleware.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Mark777g/CajeroVortexFinal/internal/app"
)

// Routes creates and returns the service router. metricsHandler serves the
// Prometheus scrape endpoint and may be nil to disable it.
func Routes(h *Handlers, issuer *TokenIssuer, authz *app.Authorizer, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	// Session endpoints stay open: they mint the tokens everything else needs.
	r.Post("/auth/register", h.RegisterHandler)
	r.Post("/auth/login", h.LoginHandler)

	// Terminals redeem with the code as the only credential.
	r.Post("/withdrawal-codes/redeem", h.RedeemWithdrawalCodeHandler)

	// Group routes that require authentication and a matching permission.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(issuer))
		r.Use(RequirePermission(authz))

		r.Get("/accounts/{ownerID}/balance", h.BalanceHandler)
		r.Post("/accounts/{ownerID}/deposits", h.DepositHandler)
		r.Post("/accounts/{ownerID}/withdrawals", h.WithdrawHandler)
		r.Post("/accounts/{ownerID}/withdrawal-codes", h.RequestWithdrawalCodeHandler)

		r.Post("/transfers", h.TransferHandler)
		r.Get("/transactions", h.ListTransactionsHandler)

		r.Get("/cards", h.ListCardsHandler)
		r.Post("/cards", h.RegisterCardHandler)
		r.Post("/cards/validate", h.ValidateCardHandler)
		r.Post("/cards/{number}/block", h.BlockCardHandler)
		r.Post("/cards/{number}/unblock", h.UnblockCardHandler)
	})

	return r
}
