package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rapportd/rapport/pkg/config"
	"github.com/rapportd/rapport/pkg/metrics"
	"github.com/rapportd/rapport/pkg/session"
)

// NewRouter creates and configures the chi router with all middleware and routes.
//
// The router is configured with:
//   - Request ID middleware for request tracking
//   - Real IP extraction for proper client identification
//   - Custom request logging using the internal logger
//   - Panic recovery to prevent server crashes
//   - Request timeout to prevent hung requests
//
// Routes:
//   - GET /health - Liveness probe
//   - POST /api/v1/session - Log in and establish a session
//   - GET /api/v1/session - Inspect the current session
//   - POST /api/v1/session/refresh - Reissue the session ticket
//   - DELETE /api/v1/session - Log out (clear the session cookie)
func NewRouter(cfg config.ServerConfig, policy *session.Policy, m *metrics.AuthMetrics) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	// Health route - no session required
	r.Get("/health", healthHandler)

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	sessionHandler := NewSessionHandler(policy, cfg.CookieName, cfg.CookiePath, m)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/session", func(r chi.Router) {
			// Login carries its credential in the body, not a ticket
			r.Post("/", sessionHandler.Login)

			// Everything else is evaluated against the presented ticket
			r.Group(func(r chi.Router) {
				r.Use(sessionContext(policy, cfg.CookieName, m))

				r.Delete("/", sessionHandler.Logout)

				r.Group(func(r chi.Router) {
					r.Use(requireSession)
					r.Get("/", sessionHandler.Current)
					r.Post("/refresh", sessionHandler.Refresh)
				})
			})
		})
	})

	return r
}
