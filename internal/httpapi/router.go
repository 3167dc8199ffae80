// Package httpapi wires the chi router: process health, the read-only
// workflow-history surface, and the gateway's WebSocket endpoint.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/gluk-w/claworc/sshgate/internal/gateway"
)

// NewRouter builds the process's top-level HTTP handler.
func NewRouter(gw *gateway.Gateway) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/health", HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/history", ListHistory)
	})

	r.Get("/ws/v1/stub", gw.ServeHTTP)

	return r
}
