// Package api exposes the daemon's control surface to local UIs over
// HTTP/JSON on the loopback interface, plus a Server-Sent Events stream for
// daemon signals. The listener never binds a routable address; trust comes
// from the loopback boundary.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/olafkfreund/cconnect/internal/logger"
	"github.com/olafkfreund/cconnect/pkg/config"
)

// Server is the local RPC HTTP server.
//
// The server is created in a stopped state. Call Start() to begin serving
// requests. It supports graceful shutdown with a bounded timeout.
type Server struct {
	server       *http.Server
	backend      Backend
	bus          *Bus
	cfg          config.RPCConfig
	listener     net.Listener
	shutdownOnce sync.Once
}

// NewServer creates a new RPC server bound to 127.0.0.1.
//
// The bus carries daemon signals to SSE subscribers; the backend serves
// every other route. Neither may be nil.
func NewServer(cfg config.RPCConfig, backend Backend, bus *Bus) *Server {
	s := &Server{
		backend: backend,
		bus:     bus,
		cfg:     cfg,
	}

	s.server = &http.Server{
		Addr:        fmt.Sprintf("127.0.0.1:%d", cfg.Port),
		Handler:     s.newRouter(),
		ReadTimeout: cfg.ReadTimeout,
		// WriteTimeout would kill the SSE stream; per-route timeouts
		// cover the JSON handlers instead.
		IdleTimeout: 120 * time.Second,
	}

	return s
}

// Start starts the RPC server and blocks until the context is cancelled or
// the server fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("RPC listener failed: %w", err)
	}
	s.listener = ln

	errChan := make(chan error, 1)
	go func() {
		logger.Info("RPC server listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Debug("RPC server shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("RPC server failed: %w", err)
	}
}

// Stop initiates graceful shutdown. Safe to call multiple times.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		// Closing the bus ends open SSE streams so Shutdown can drain.
		s.bus.Close()

		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("RPC server shutdown error: %w", err)
			logger.Error("RPC server shutdown error", logger.KeyError, err)
		} else {
			logger.Info("RPC server stopped")
		}
	})
	return shutdownErr
}

// Addr returns the bound listener address, or empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
