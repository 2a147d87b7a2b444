// Package backend composes the identity, real-time store and object store
// services behind one HTTP router.
package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chat-app/internal/authserver"
	"chat-app/internal/objectstore"
	"chat-app/internal/realtime"
)

// Options configures a Server.
type Options struct {
	// DB enables user persistence when non-nil.
	DB        *sql.DB
	DataDir   string
	PublicURL string
	// RequestLog enables the httplog request logger in front of the router.
	RequestLog bool
}

type Server struct {
	db          *sql.DB
	auth        *authserver.Server
	collections *realtime.Collections
	rooms       *realtime.Server
	blobs       *objectstore.Store
	objects     *objectstore.Server
	requestLog  bool

	requests atomic.Uint64
}

func New(opts Options) (*Server, error) {
	if opts.DataDir == "" {
		return nil, errors.New("backend: data dir required")
	}
	collections, err := realtime.OpenCollections(filepath.Join(opts.DataDir, "rooms.db"))
	if err != nil {
		return nil, fmt.Errorf("backend: open rooms: %w", err)
	}
	blobs, err := objectstore.Open(filepath.Join(opts.DataDir, "objects.db"), filepath.Join(opts.DataDir, "blobs"))
	if err != nil {
		_ = collections.Close()
		return nil, fmt.Errorf("backend: open objects: %w", err)
	}
	return &Server{
		db:          opts.DB,
		auth:        authserver.New(opts.DB),
		collections: collections,
		rooms:       realtime.NewServer(collections, realtime.NewHub()),
		blobs:       blobs,
		objects:     objectstore.NewServer(blobs, opts.PublicURL),
		requestLog:  opts.RequestLog,
	}, nil
}

func (s *Server) Close() error {
	return errors.Join(s.collections.Close(), s.blobs.Close())
}

// Handler returns the composed router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(s.accessLog())

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry(), promhttp.HandlerOpts{}))
	s.auth.Mount(r)
	auth := s.auth.Authenticated()
	s.rooms.Mount(r, auth)
	s.objects.Mount(r, auth)

	if !s.requestLog {
		return r
	}
	logger := httplog.NewLogger("chat-backend", httplog.Options{JSON: false})
	return httplog.RequestLogger(logger)(r)
}

// handleHealth is the connectivity probe used by clients. It reports the
// local stores only; user persistence has its own /auth/healthz.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.collections.Ping(); err != nil {
		log.Printf("health: %v", err)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Printf("chat backend running at %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
