// Package api serves scans over HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"tracescan/internal/history"
	"tracescan/internal/scan"
)

// Server represents the HTTP API server
type Server struct {
	router  *http.ServeMux
	server  *http.Server
	addr    string
	logger  *slog.Logger
	scanner *scan.Scanner
	history *history.Store
	started time.Time
}

// NewServer creates a server. store may be nil, in which case history
// endpoints report that the archive is disabled.
func NewServer(addr string, scanner *scan.Scanner, store *history.Store, logger *slog.Logger) *Server {
	s := &Server{
		addr:    addr,
		logger:  logger,
		scanner: scanner,
		history: store,
		router:  http.NewServeMux(),
		started: time.Now(),
	}

	s.registerRoutes()

	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.applyMiddleware(s.router),
		ReadTimeout: 15 * time.Second,
		// scans are synchronous and may take a while on large corpora
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("Starting HTTP server", "addr", ln.Addr().String())
	if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	s.logger.Info("Server shut down successfully")
	return nil
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.server.Handler.ServeHTTP(w, r)
}

// applyMiddleware wraps the handler; the last one applied runs first.
func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	handler = RecoveryMiddleware(s.logger)(handler)
	handler = LoggingMiddleware(s.logger)(handler)
	handler = RequestIDMiddleware()(handler)
	return handler
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.handleHealth)
	s.router.HandleFunc("/modes", s.handleModes)
	s.router.HandleFunc("/scan", s.handleScan)
	s.router.HandleFunc("/related/", s.handleRelated) // GET /related/:id
	s.router.HandleFunc("/history", s.handleHistory)
	s.router.HandleFunc("/", s.handleRoot)
}
