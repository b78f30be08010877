/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/cattv/internal/api"
	"github.com/friendsincode/cattv/internal/config"
	"github.com/friendsincode/cattv/internal/db"
	"github.com/friendsincode/cattv/internal/display"
	"github.com/friendsincode/cattv/internal/events"
	"github.com/friendsincode/cattv/internal/history"
	"github.com/friendsincode/cattv/internal/playback"
	"github.com/friendsincode/cattv/internal/player"
	"github.com/friendsincode/cattv/internal/provider"
	"github.com/friendsincode/cattv/internal/rotation"
	"github.com/friendsincode/cattv/internal/store"
	"github.com/friendsincode/cattv/internal/telemetry"
)

// Server bundles the control surface and the playback loop.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db         *gorm.DB
	store      *store.Store
	bus        *events.Bus
	recorder   *history.Recorder
	player     *player.Supervisor
	controller *playback.Controller
	api        *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New wires every component and starts the playback loop.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("cattv-api"))
	router.Use(telemetry.MetricsMiddleware)
	router.Use(timeoutExceptUpgrades(30 * time.Second))

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		bus:    events.NewBus(),
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'; base-uri 'self'")

		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

// timeoutExceptUpgrades applies a request timeout to everything but the
// long-lived status stream.
func timeoutExceptUpgrades(d time.Duration) func(http.Handler) http.Handler {
	timeout := middleware.Timeout(d)
	return func(next http.Handler) http.Handler {
		limited := timeout(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}

func (s *Server) initDependencies() error {
	ctx := context.Background()

	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	s.DeferClose(func() error { return db.Close(database) })
	if err := db.RegisterCallbacks(database); err != nil {
		return fmt.Errorf("register db callbacks: %w", err)
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database
	s.store = store.New(database, s.logger)

	if n, err := s.store.CloseDanglingPlaybackLogs(ctx, time.Now().UTC()); err != nil {
		s.logger.Warn().Err(err).Msg("failed to close dangling playback entries")
	} else if n > 0 {
		s.logger.Info().Int64("entries", n).Msg("closed playback entries left open by a previous run")
	}

	if s.cfg.SeedDefaults {
		seeded, err := s.store.SeedDefaults(ctx)
		if err != nil {
			return fmt.Errorf("seed defaults: %w", err)
		}
		if seeded {
			s.logger.Info().Msg("installed default schedules and channels")
		}
	}

	client, closeProvider := provider.NewFromConfig(ctx, s.cfg, s.logger)
	s.DeferClose(closeProvider)
	selector := rotation.New(client, s.cfg.ProviderTimeout, nil, s.logger)

	backend, err := player.NewBackend(s.cfg.PlayerBackend, s.cfg.PlayerBin, s.cfg.AudioOutput)
	if err != nil {
		return err
	}
	if !player.Available(backend) {
		bin, _ := backend.Command("")
		s.logger.Warn().Str("backend", backend.Name()).Str("bin", bin).Msg("player binary not found in PATH, launches will fail")
	}
	resolver := provider.NewYTDLPClient(s.cfg.YTDLPBin, 1, nil)
	s.player = player.NewSupervisor(backend, resolver, player.Options{
		StartupGrace: s.cfg.StartupGrace,
		StopGrace:    s.cfg.StopGrace,
	}, s.logger)

	s.recorder = history.NewRecorder(s.store, s.bus, history.DefaultRecentSize, s.logger)

	s.controller = playback.New(playback.Deps{
		Catalog:  s.store,
		Selector: selector,
		Player:   s.player,
		Recorder: s.recorder,
		Display:  display.New(s.cfg.DisplayControl, s.logger),
		Bus:      s.bus,
	}, playback.Options{
		TickInterval:           s.cfg.TickInterval,
		TickBudget:             s.cfg.TickBudget,
		MaxConsecutiveFailures: s.cfg.MaxConsecutiveFailures,
		FailureWindow:          s.cfg.FailureWindow,
		BackoffInitial:         s.cfg.BackoffInitial,
		BackoffMax:             s.cfg.BackoffMax,
		BackoffJitter:          backoff.DefaultRandomizationFactor,
		RotationInterval:       s.cfg.RotationInterval,
	}, s.logger)

	s.api = api.New(s.controller, s.store, s.recorder, s.bus, s.logger)
	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Controller exposes the playback loop.
func (s *Server) Controller() *playback.Controller {
	return s.controller
}

// Close stops the playback loop, then releases owned resources in reverse
// order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.controller.Run(ctx); err != nil {
			s.logger.Error().Err(err).Msg("playback loop exited")
		}
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			db.UpdateConnectionMetrics(s.db)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.api.Routes(s.router)
}
