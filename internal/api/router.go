package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/postlinehq/postline/internal/config"
	"github.com/postlinehq/postline/internal/engine"
	"github.com/postlinehq/postline/internal/events"
	"github.com/postlinehq/postline/internal/store"
)

// NewRouter creates a new HTTP router
func NewRouter(cfg *config.Config, users *store.Users, eng *engine.Engine, hub *events.Hub) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(SecurityHeadersMiddleware(cfg))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Brute-force protection on the credential endpoints.
	authLimiter := NewRateLimiter(rate.Limit(1), 5)
	authLimiter.StartCleanup()

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Auth routes
		r.Group(func(r chi.Router) {
			r.Use(StrictRateLimitMiddleware(authLimiter))
			r.Post("/auth/login", HandleLogin(users, cfg))
			r.Post("/auth/setup", HandleSetup(users, cfg))
		})
		r.Post("/auth/logout", HandleLogout())
		r.Get("/auth/status", HandleGetSetupStatus(users))

		// OAuth callback is hit by the provider redirect; the state payload,
		// not a bearer token, identifies the user.
		r.Get("/oauth/callback/{provider}", HandleOAuthCallback(eng, cfg))

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(cfg.JWTSecret, users))

			// User routes
			r.Get("/user/me", HandleGetCurrentUser())

			// Provider and connection routes
			r.Get("/providers", HandleGetProviders())
			r.Get("/connections", HandleListConnections(eng))
			r.Get("/connections/{provider}", HandleGetConnectionStatus(eng))
			r.Post("/connections/{provider}/refresh", HandleRefreshConnection(eng))
			r.Delete("/connections/{provider}", HandleDisconnect(eng))
			r.Get("/oauth/{provider}/authorize", HandleOAuthAuthorize(eng))
		})
	})

	// WebSocket endpoint
	r.Get("/ws", hub.HandleWebSocket)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return r
}
