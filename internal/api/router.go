package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/iconidentify/streamrelay/internal/api/handler"
	mw "github.com/iconidentify/streamrelay/internal/api/middleware"
)

// NewRouter creates the HTTP router with all routes configured. There is
// no router-level timeout: streams legitimately run for minutes and are
// bounded by the server write timeout and the stall timeout instead.
func NewRouter(
	streamHandler *handler.StreamHandler,
	linkHandler *handler.LinkHandler,
	healthHandler *handler.HealthHandler,
	apiKey string,
) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CleanPath) // Normalize paths (e.g., //stream -> /stream)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	r.Use(mw.CORS)

	// Health endpoints (no auth)
	r.Get("/health", healthHandler.Live)
	r.Get("/ready", healthHandler.Ready)

	// Token-gated streaming: the token itself is the capability, so no
	// API key here.
	r.Get("/stream", streamHandler.Stream)
	r.Get("/download", streamHandler.Download)

	// API v1 (authenticated, operator-facing)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(apiKey))

		r.Post("/links", linkHandler.Issue)
		r.Get("/stats", healthHandler.Stats)
	})

	return r
}
