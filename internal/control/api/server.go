// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the local control API over the session manager.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/uplink/internal/control/middleware"
	"github.com/ManuGH/uplink/internal/domain/upload/archive"
	"github.com/ManuGH/uplink/internal/domain/upload/coordinator"
	"github.com/ManuGH/uplink/internal/domain/upload/manager"
	"github.com/ManuGH/uplink/internal/log"
)

// Uploads is the part of the session manager the API drives.
type Uploads interface {
	Begin(ctx context.Context, src coordinator.Source) (string, error)
	Get(id string) (manager.Snapshot, error)
	List() []manager.Snapshot
	Cancel(id string) error
	Retry(id string) error
	Ack(ctx context.Context, id string) (archive.Record, error)
	Archived(ctx context.Context, id string) (archive.Record, error)
	OnUpdate(id string, fn func(manager.Snapshot)) (func(), error)
}

// Config wires the control API.
type Config struct {
	Uploads Uploads
	// RateLimit caps submissions per minute per client; zero disables it.
	RateLimit      int
	AllowedOrigins []string
	TracingService string
	// KeepAlive is the interval of comment lines on idle event streams.
	KeepAlive time.Duration
	// Readiness serves /readyz when set.
	Readiness http.Handler
}

// Server is the control API.
type Server struct {
	uploads   Uploads
	keepAlive time.Duration
	logger    zerolog.Logger
	handler   http.Handler
}

// New builds the router.
func New(cfg Config) *Server {
	s := &Server{
		uploads:   cfg.Uploads,
		keepAlive: cfg.KeepAlive,
		logger:    log.WithComponent("control"),
	}
	if s.keepAlive <= 0 {
		s.keepAlive = 15 * time.Second
	}

	r := middleware.NewRouter(middleware.StackConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		EnableMetrics:  true,
		TracingService: cfg.TracingService,
	})
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	if cfg.Readiness != nil {
		r.Method(http.MethodGet, "/readyz", cfg.Readiness)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/uploads", func(r chi.Router) {
			r.Get("/", s.handleList)
			submit := r
			if cfg.RateLimit > 0 {
				submit = r.With(middleware.SubmissionRateLimit(cfg.RateLimit))
			}
			submit.Post("/", s.handleSubmit)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGet)
				r.Delete("/", s.handleCancel)
				r.Get("/events", s.handleEvents)
				r.Post("/retry", s.handleRetry)
				r.Post("/ack", s.handleAck)
			})
		})
		r.Get("/archive/{id}", s.handleArchived)
	})

	s.handler = r
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Serve runs the API on ln until ctx is cancelled, then shuts down
// gracefully. Open event streams end when their request context does.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	s.logger.Info().
		Str(log.FieldEvent, "control.listening").
		Str("addr", ln.Addr().String()).
		Msg("control API listening")

	select {
	case err := <-errCh:
		return fmt.Errorf("control API: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("control API shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("control API: %w", err)
	}
	return nil
}
