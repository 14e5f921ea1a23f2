// Copyright (c) 2025, the tinytorrent panel contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tinytorrent/panel/internal/api/handlers"
	"github.com/tinytorrent/panel/internal/config"
	"github.com/tinytorrent/panel/internal/engine"
	"github.com/tinytorrent/panel/internal/jobs"
	"github.com/tinytorrent/panel/internal/notifications"
	"github.com/tinytorrent/panel/internal/submission"
)

type Server struct {
	server  *http.Server
	logger  zerolog.Logger
	config  *config.AppConfig
	version string

	orchestrator *submission.Orchestrator
	poller       *jobs.Poller
	pending      *submission.PendingDeletes
	engineClient *engine.Client
	hub          *notifications.Hub
	registry     *prometheus.Registry
}

type Dependencies struct {
	Config       *config.AppConfig
	Version      string
	Orchestrator *submission.Orchestrator
	Poller       *jobs.Poller
	Pending      *submission.PendingDeletes
	EngineClient *engine.Client
	Hub          *notifications.Hub
	Registry     *prometheus.Registry
}

func NewServer(deps *Dependencies) *Server {
	return &Server{
		server: &http.Server{
			ReadHeaderTimeout: time.Second * 15,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      0, // websocket endpoint streams indefinitely
			IdleTimeout:       180 * time.Second,
		},
		logger:       log.Logger.With().Str("module", "api").Logger(),
		config:       deps.Config,
		version:      deps.Version,
		orchestrator: deps.Orchestrator,
		poller:       deps.Poller,
		pending:      deps.Pending,
		engineClient: deps.EngineClient,
		hub:          deps.Hub,
		registry:     deps.Registry,
	}
}

func (s *Server) ListenAndServe() error {
	return s.open(nil)
}

// ListenAndServeReady behaves like ListenAndServe but signals once the
// listener is active.
func (s *Server) ListenAndServeReady(ready chan<- struct{}) error {
	return s.open(ready)
}

func (s *Server) open(ready chan<- struct{}) error {
	addr := fmt.Sprintf("%s:%d", s.config.Config.Host, s.config.Config.Port)

	var lastErr error
	for _, proto := range []string{"tcp", "tcp4", "tcp6"} {
		err := s.tryToServe(addr, proto, ready)
		if err == nil {
			return nil
		}

		if errors.Is(err, http.ErrServerClosed) {
			return err
		}

		s.logger.Error().Err(err).Str("addr", addr).Str("proto", proto).Msg("Failed to start server")
		lastErr = err
	}

	return lastErr
}

func (s *Server) tryToServe(addr, protocol string, ready chan<- struct{}) error {
	listener, err := net.Listen(protocol, addr)
	if err != nil {
		return err
	}

	host := listener.Addr().String()
	if strings.HasPrefix(host, "0.0.0.0:") || strings.HasPrefix(host, "[::]:") {
		host = strings.Replace(host, "0.0.0.0:", "localhost:", 1)
		host = strings.Replace(host, "[::]:", "localhost:", 1)
	}

	s.logger.Info().
		Str("protocol", protocol).
		Str("addr", listener.Addr().String()).
		Str("base_url", s.config.Config.BaseURL).
		Msgf("Starting API server - Open: http://%s%s", host, s.config.Config.BaseURL)

	s.server.Handler = s.Handler()

	if ready != nil {
		select {
		case ready <- struct{}{}:
		default:
		}
	}

	return s.server.Serve(listener)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) Handler() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	compressor, err := httpcompression.DefaultAdapter(
		httpcompression.MinSize(1024),
		httpcompression.GzipCompressionLevel(2),
		httpcompression.Prefer(httpcompression.PreferServer),
	)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create HTTP compression adapter")
	} else {
		r.Use(compressor)
	}

	corsMiddleware := cors.New(cors.Options{
		AllowCredentials: true,
		AllowedMethods:   []string{"HEAD", "OPTIONS", "GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowOriginFunc:  func(origin string) bool { return true },
		MaxAge:           300,
	})
	r.Use(corsMiddleware.Handler)

	healthHandler := handlers.NewHealthHandler()
	torrentsHandler := handlers.NewTorrentsHandler(s.orchestrator, s.engineClient, s.config.Config)
	jobsHandler := handlers.NewJobsHandler(s.poller, s.pending, s.engineClient)

	apiRouter := chi.NewRouter()
	apiRouter.Route("/torrents", func(r chi.Router) {
		r.Post("/", torrentsHandler.AddTorrent)
		r.Post("/stage", torrentsHandler.StageTorrent)
		r.Post("/finalize", torrentsHandler.FinalizeTorrent)
		r.Post("/cancel-stage", torrentsHandler.CancelStage)
	})
	apiRouter.Route("/submission", func(r chi.Router) {
		r.Post("/retry", torrentsHandler.RetrySubmission)
		r.Post("/refresh", torrentsHandler.RefreshSubmission)
	})
	apiRouter.Route("/jobs", func(r chi.Router) {
		r.Get("/", jobsHandler.ListJobs)
		r.Post("/refresh", jobsHandler.RefreshJobs)
		r.Delete("/{jobID}", jobsHandler.DeleteJob)
	})
	apiRouter.Get("/events", s.hub.ServeWS)

	baseURL := s.config.Config.BaseURL
	if baseURL == "" {
		baseURL = "/"
	}

	r.Get("/health", healthHandler.HandleHealth)
	r.Get("/healthz/readiness", healthHandler.HandleReady)
	r.Get("/healthz/liveness", healthHandler.HandleLiveness)

	if s.config.Config.MetricsEnabled && s.registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	r.Mount(baseURL+"api", apiRouter)

	return r
}
