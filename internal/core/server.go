// Package core is the HTTP chassis of the intake API. It builds the chi
// router and applies the cross-cutting middleware (panic recovery, request
// IDs, logging, CORS, bearer auth) before requests reach the handlers in
// internal/api/handlers.
package core

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tasseo/internal/config"
)

// Server holds the router and the dependencies shared by all routes.
type Server struct {
	Config        *config.Config
	Logger        *slog.Logger
	Validator     *Validator
	Metrics       MetricsCollector
	Authenticator Authenticator
	HealthProbes  []HealthProbe

	// V1RouteRegistrars mount handler routes under /v1. They are filled by
	// the composition root so core does not import the handler package.
	V1RouteRegistrars []func(chi.Router)

	// PublicPaths bypass bearer authentication. Routes that carry their own
	// credential, such as the Telegram webhook secret, belong here.
	PublicPaths map[string]bool

	closers []func() error
	router  *chi.Mux
}

// NewServer creates a Server. Routes are mounted separately by MountRoutes
// so tests can register their own.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	if logger == nil {
		return nil, errors.New("logger must not be nil")
	}
	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		PublicPaths: map[string]bool{
			"/health": true,
		},
		router: chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers a resource to release in Shutdown.
func (s *Server) OnShutdown(fn func() error) {
	s.closers = append(s.closers, fn)
}

// Shutdown releases registered resources in reverse order.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.Logger.ErrorContext(ctx, "error releasing server resource", "error", err)
			errs = append(errs, err)
		}
	}
	s.Logger.InfoContext(ctx, "server shutdown complete")
	return errors.Join(errs...)
}
