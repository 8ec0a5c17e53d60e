// Package httpx provides the HTTP server, JSON responses and middleware used
// by the voltfleet API.
package httpx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Server is an HTTP server bound to its listener at construction, so an
// address conflict is reported before any goroutine starts.
//
// Request contexts derive from a base context that Shutdown cancels. Handlers
// that outlive the normal request cycle, such as hijacked view streams, watch
// r.Context() and end with the server.
type Server struct {
	srv    *http.Server
	lis    net.Listener
	logger *slog.Logger
	cancel context.CancelFunc
}

// Listen binds addr and prepares a server for handler. WriteTimeout is left
// unset so that long-lived view streams are not cut off.
func Listen(addr string, handler http.Handler, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("http listen %s: %w", addr, err)
	}

	base, cancel := context.WithCancel(context.Background())
	return &Server{
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			IdleTimeout:       60 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return base },
			ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		},
		lis:    lis,
		logger: logger,
		cancel: cancel,
	}, nil
}

// Addr is the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	return s.lis.Addr().String()
}

// Serve blocks until the server is shut down. A clean shutdown returns nil.
func (s *Server) Serve() error {
	s.logger.Info("http server listening", "addr", s.Addr())
	if err := s.srv.Serve(s.lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections, ends open streams and waits for
// in-flight requests until ctx expires. Connections still open at that point
// are closed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	err := s.srv.Shutdown(ctx)
	if err != nil {
		s.logger.Warn("http shutdown incomplete, closing connections", "error", err)
		if cerr := s.srv.Close(); cerr != nil {
			return errors.Join(err, cerr)
		}
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}
