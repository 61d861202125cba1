package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires HTTP routes to the server's handlers.
func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestID)
	r.Use(accessLog)
	r.Use(cors)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", s.handleHealth)
		api.Get("/policies", s.handlePolicies)
		api.Group(func(up chi.Router) {
			up.Use(s.rateLimit)
			up.Post("/parse", s.handleParse)
			up.Post("/batch", s.handleBatch)
		})
	})
	r.Get("/artifacts", s.handleArtifactList)
	r.Get("/artifacts/{id}", s.handleArtifactDownload)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.opts.Registry, promhttp.HandlerOpts{}))
	return r
}
