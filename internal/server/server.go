// Package server exposes notes and their live pipelines over HTTP.
//
// Routes:
//
//	POST   /v1/notes                  create a note
//	GET    /v1/notes                  list notes, most recently updated first
//	GET    /v1/notes/{id}             fetch one note
//	DELETE /v1/notes/{id}             delete a note and stop its session
//	POST   /v1/notes/{id}/transcript  feed the full transcript so far
//	POST   /v1/notes/{id}/retry       re-submit the text of a failed batch
//	POST   /v1/notes/{id}/reset       clear transcript and context
//	GET    /v1/notes/{id}/stream      websocket: transcript in, events out
//	GET    /healthz, /readyz          health checks
//	GET    /metrics                   Prometheus metrics
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/MrWong99/notestream/internal/health"
	"github.com/MrWong99/notestream/internal/notestore"
	"github.com/MrWong99/notestream/internal/observe"
	"github.com/MrWong99/notestream/internal/session"
)

// shutdownTimeout bounds graceful shutdown once the run context ends.
const shutdownTimeout = 10 * time.Second

// Options holds the dependencies of a [Server].
type Options struct {
	Store    notestore.Store
	Sessions *session.Manager

	// Health serves /healthz and /readyz. Optional.
	Health *health.Handler

	// Metrics instruments every request. Optional; /metrics is served
	// regardless.
	Metrics *observe.Metrics

	// OriginPatterns lists the hosts allowed to open the websocket stream
	// from a browser, in addition to same-origin requests.
	OriginPatterns []string

	Logger *slog.Logger
}

// Server is the HTTP surface of the service.
type Server struct {
	store    notestore.Store
	sessions *session.Manager
	origins  []string
	log      *slog.Logger
	handler  http.Handler
}

// New creates a Server and registers its routes.
func New(opts Options) *Server {
	s := &Server{
		store:    opts.Store,
		sessions: opts.Sessions,
		origins:  opts.OriginPatterns,
		log:      opts.Logger,
	}
	if s.log == nil {
		s.log = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/notes", s.handleCreate)
	mux.HandleFunc("GET /v1/notes", s.handleList)
	mux.HandleFunc("GET /v1/notes/{id}", s.handleGet)
	mux.HandleFunc("DELETE /v1/notes/{id}", s.handleDelete)
	mux.HandleFunc("POST /v1/notes/{id}/transcript", s.handleTranscript)
	mux.HandleFunc("POST /v1/notes/{id}/retry", s.handleRetry)
	mux.HandleFunc("POST /v1/notes/{id}/reset", s.handleReset)
	mux.HandleFunc("GET /v1/notes/{id}/stream", s.handleStream)
	mux.Handle("GET /metrics", observe.MetricsHandler())
	if opts.Health != nil {
		opts.Health.Register(mux)
	}

	s.handler = mux
	if opts.Metrics != nil {
		s.handler = observe.Middleware(opts.Metrics)(mux)
	}
	return s
}

// Handler returns the root handler, including instrumentation.
func (s *Server) Handler() http.Handler { return s.handler }

// Run listens on addr and serves until ctx ends.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", ln.Addr().String())
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("http server forced to shut down", "err", err)
		_ = srv.Close()
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("http server stopped")
	return nil
}
