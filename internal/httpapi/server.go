package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/binderlab/binder_core/internal/config"
)

// Server wraps the inspection HTTP server lifecycle.
type Server struct {
	srv *http.Server
}

// NewServer creates a server bound to the configured address.
func NewServer(cfg config.ServerConfig, handler http.Handler) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.srv.Addr }

// Start serves until Shutdown. Returns http.ErrServerClosed on clean exit.
func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
