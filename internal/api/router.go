package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.instrument)
	r.Use(s.corsMiddleware())
	r.Use(limitBody)

	// Hub wire protocol
	r.Get("/uplink", s.handleUplink)
	r.Post("/downlink", s.handleDownlink)
	r.Post("/event", s.handleEvent)

	// Prometheus scrape endpoint
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/objects", func(r chi.Router) {
			r.Get("/", s.handleListObjects)
			r.Get("/{name}", s.handleGetObject)
			r.Post("/{name}/events", s.handleObjectEvent)
		})

		r.Route("/peers", func(r chi.Router) {
			r.Get("/", s.handleListPeers)
			r.Get("/{name}", s.handleGetPeer)
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}
