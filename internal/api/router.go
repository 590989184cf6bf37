/**
 * @description
 * This file sets up the HTTP router for the peer-network-service. Customer routes are
 * authenticated with bearer tokens; /internal routes are for back-office tooling and other
 * services.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: Router and standard middleware.
 * - github.com/go-chi/cors: CORS handling for browser clients.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig carries the settings the router needs from the service configuration.
type RouterConfig struct {
	AllowedOrigins []string
	JWTSigningKey  string
	InternalAPIKey string
	// Instrument wraps every request, typically with the Prometheus middleware. Optional.
	Instrument func(http.Handler) http.Handler
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// PeerNetworkRoutes creates and returns the router for the peer network service.
func PeerNetworkRoutes(h *Handlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	if cfg.Instrument != nil {
		r.Use(cfg.Instrument)
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSigningKey))

		r.Post("/groups", h.CreateGroupHandler)
		r.Get("/groups", h.ListMyGroupsHandler)
		r.Get("/groups/{groupID}", h.GetGroupHandler)
		r.Post("/groups/{groupID}/members", h.AddGroupMemberHandler)

		r.Get("/matches", h.FindMatchesHandler)

		r.Post("/transfers", h.ProcessTransferHandler)
		r.Get("/transfers", h.ListTransfersHandler)
		r.Get("/transfers/{transactionID}", h.GetTransferHandler)

		r.Get("/dashboard", h.DashboardHandler)
		r.Get("/network/ties", h.NetworkTiesHandler)
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(cfg.InternalAPIKey))

		r.Get("/reviews", h.ListPendingReviewsHandler)
		r.Post("/reviews/{transactionID}/approve", h.ApproveReviewHandler)
		r.Post("/reviews/{transactionID}/cancel", h.CancelReviewHandler)

		r.Post("/groups/auto-form", h.AutoFormGroupsHandler)
		r.Post("/relationships/archive", h.ArchiveRelationshipHandler)
		r.Get("/circuits", h.CircuitStatusHandler)
	})

	return r
}
