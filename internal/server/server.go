package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"swarmenc/internal/config"
	"swarmenc/internal/project"
)

// Server exposes the coordinator HTTP API: job fetch, finished-job upload,
// claim cancellation, grain tables, status, and project submission.
type Server struct {
	cfg      *config.Config
	registry *project.Registry
	logger   *slog.Logger

	listener net.Listener
	server   *http.Server
}

// New constructs the API server around a registry.
func New(cfg *config.Config, registry *project.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		cfg:      cfg,
		registry: registry,
		logger:   logger,
	}

	router := chi.NewRouter()
	router.Get("/api/get_job/{exclusions}", s.handleGetJob)
	router.Get("/api/get_grain/{projectid}/{scene}", s.handleGetGrain)
	router.Get("/api/status", s.handleStatus)
	router.Post("/api/add_project", s.handleAddProject)
	router.Post("/finish_job", s.handleFinishJob)
	router.Post("/cancel_job", s.handleCancelJob)

	s.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		// Large segment downloads and uploads rule out tight read/write
		// timeouts here.
		IdleTimeout: 60 * time.Second,
	}
	return s
}

// Handler returns the route tree, used directly by tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start begins serving on the configured bind address.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Server.Bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", slog.String("error", err.Error()))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", slog.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the bound address, or empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down.
func (s *Server) Stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}
