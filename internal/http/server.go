package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/netutil"
)

// ServerOptions configure the control API listener.
type ServerOptions struct {
	Addr    string
	Handler http.Handler
	// MaxConns caps concurrent connections via netutil.LimitListener.
	// Zero means unlimited.
	MaxConns int
	Logger   *slog.Logger
}

// Server owns the HTTP listener lifecycle.
type Server struct {
	srv      *http.Server
	maxConns int
	logger   *slog.Logger
}

// NewServer builds a Server. It does not listen until Start.
func NewServer(opts ServerOptions) *Server {
	addr := opts.Addr
	if addr == "" {
		addr = ":8080"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		srv: &http.Server{
			Addr:        addr,
			Handler:     opts.Handler,
			ReadTimeout: 30 * time.Second,
			// No WriteTimeout: the SSE endpoint holds connections open.
			IdleTimeout: 120 * time.Second,
		},
		maxConns: opts.MaxConns,
		logger:   logger,
	}
}

// Start binds the listener and serves until Shutdown or a listener error.
// It blocks; run it on its own goroutine or under an errgroup.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	if s.maxConns > 0 {
		s.logger.Info("limiting HTTP connections", "max_conns", s.maxConns)
		ln = netutil.LimitListener(ln, s.maxConns)
	}

	s.logger.Info("starting HTTP server", "addr", s.srv.Addr)
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests with a timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		// Long-lived SSE connections never drain; close them hard.
		s.logger.Warn("graceful shutdown timed out, closing connections", "error", err)
		return s.srv.Close()
	}

	s.logger.Info("HTTP server stopped")
	return nil
}
