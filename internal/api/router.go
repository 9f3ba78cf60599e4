package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	cors := newCORSPolicy(s.cfg.CORS.AllowedOrigins, s.cfg.CORS.AllowedMethods, s.cfg.CORS.AllowedHeaders)
	r.Use(withRequestID, s.accessLog, s.recoverPanics, cors.handler)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Get("/state", s.handleGetState)
		r.Post("/pause", s.handleTogglePause)

		r.Route("/filters", func(r chi.Router) {
			r.Get("/", s.handleGetFilters)
			r.Put("/", s.handleReplaceFilters)
			r.Patch("/", s.handlePatchFilters)
		})

		r.Get("/history/{id}", s.handleGetHistory)
		r.Post("/utilities/{id}/refresh", s.handleRefreshUtility)
		r.Post("/reload", s.handleReload)

		r.Route("/sources", func(r chi.Router) {
			r.Get("/", s.handleListSources)
			r.Put("/active", s.handleSelectSource)
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
