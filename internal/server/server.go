package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ahmethakanbesel/candle-backfill/internal/imports"
)

// Server serves the read-only imports API.
type Server struct {
	srv *http.Server
}

// Option configures a Server.
type Option func(*http.Server)

// WithWriteTimeout bounds how long a response may take to write. Large CSV
// candle exports are the slowest responses.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *http.Server) { s.WriteTimeout = d }
}

// WithReadTimeout bounds how long reading a request may take.
func WithReadTimeout(d time.Duration) Option {
	return func(s *http.Server) { s.ReadTimeout = d }
}

// New creates a server listening on port. Requests inherit baseCtx, so
// cancelling it aborts in-flight candle queries.
func New(baseCtx context.Context, port string, importSvc *imports.Service, opts ...Option) *Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           newMux(importSvc),
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
	for _, opt := range opts {
		opt(srv)
	}
	return &Server{srv: srv}
}

// Addr is the address the server listens on.
func (s *Server) Addr() string { return s.srv.Addr }

func (s *Server) Start() error {
	slog.Info("api: listening", "addr", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("api: shutting down")
	return s.srv.Shutdown(ctx)
}
