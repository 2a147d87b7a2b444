package authserver

import (
	"database/sql"

	"github.com/go-chi/chi/v5"
)

// Server bundles the identity endpoints, the auth middleware and metrics.
type Server struct {
	DB      *sql.DB
	metrics *Metrics
}

// New creates a Server with the provided DB (may be nil for stateless mode).
func New(db *sql.DB) *Server {
	return &Server{
		DB:      db,
		metrics: &Metrics{},
	}
}

// Metrics exposes the live counters so the backend can export them.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Mount registers the identity routes on r.
func (s *Server) Mount(r chi.Router) {
	r.Post("/auth/anonymous", s.anonymousHandler())
	r.Get("/auth/healthz", s.healthHandler())
}
