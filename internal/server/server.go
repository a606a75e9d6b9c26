// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package server exposes threaded contexts to a browser page over HTTP.
//
// Each session is one threaded context. The page drives the host polling
// surface directly: it submits source, polls the state, answers callouts
// with /response and resets the context when a run finishes.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/aplane-algo/jsvm/internal/modules"
)

// Config holds the listener settings.
type Config struct {
	Addr        string
	MaxSessions int
}

// Server is the HTTP host for sessions.
type Server struct {
	router   *chi.Mux
	config   Config
	logger   *slog.Logger
	sessions *Sessions
}

// New creates a server. registry may be nil.
func New(cfg Config, registry *modules.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		router:   chi.NewRouter(),
		config:   cfg,
		logger:   logger,
		sessions: NewSessions(cfg.MaxSessions, registry, logger),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(requestLogger(s.logger))

	h := &handler{sessions: s.sessions}

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.router.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Delete("/", h.handleDelete)

			r.Post("/exec", h.handleExec)
			r.Get("/request", h.handleReadRequest)
			r.Post("/response", h.handleWriteResponse)
			r.Post("/terminate", h.handleTerminate)
			r.Post("/reset", h.handleReset)
			r.Get("/output", h.handleOutput)

			r.Post("/eval", h.handleEval)
			r.Get("/globals/{name}", h.handleGlobal)
			r.Post("/modules", h.handleAddModule)
			r.Post("/repl", h.handleREPL)
		})
	})
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Sessions returns the session table.
func (s *Server) Sessions() *Sessions {
	return s.sessions
}

// Run serves until ctx is cancelled, then shuts down gracefully and closes
// every session.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	defer s.sessions.CloseAll()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.config.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
