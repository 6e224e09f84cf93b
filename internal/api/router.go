/**
 * @description
 * This file sets up the HTTP router for the agentpay-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies the
 * session and role middleware.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS for the admin back office.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/transfa/agentpay-service/internal/domain"
)

// NewRouter creates and returns the router for the agentpay service.
func NewRouter(h *Handlers, auth Authenticator, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"https://*", "http://*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Device-Info"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Post("/register", h.RegisterHandler)
	r.Post("/login", h.LoginHandler)

	// Group routes that require a current session.
	r.Group(func(r chi.Router) {
		r.Use(SessionAuthMiddleware(auth))

		r.Post("/logout", h.LogoutHandler)

		r.Get("/profile", h.GetProfileHandler)
		r.Put("/profile", h.UpdateProfileHandler)
		r.Delete("/profile", h.DeleteProfileHandler)

		r.Get("/agents", h.ListAgentsHandler)

		r.Group(func(r chi.Router) {
			r.Use(RequireRoles("admin", domain.RoleAdmin))
			r.Get("/users", h.ListUsersHandler)
			r.Delete("/users/{id}", h.DeleteUserHandler)
			r.Post("/agents", h.CreateAgentHandler)
			r.Get("/payments", h.ListAllPaymentsHandler)
			r.Get("/payments/summary", h.PaymentSummaryHandler)
		})

		r.Group(func(r chi.Router) {
			r.Use(RequireRoles("client payments", domain.RoleClient))
			r.Post("/payments", h.SubmitPaymentHandler)
			r.Get("/payments/user", h.ListUserPaymentsHandler)
		})

		r.With(RequireRoles("agent payments", domain.RoleAgent)).Get("/payments/agent", h.ListAgentPaymentsHandler)
	})

	return r
}
