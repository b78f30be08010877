/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api is the HTTP control surface: status, manual commands, history
// and schedule/channel editing.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/cattv/internal/events"
	"github.com/friendsincode/cattv/internal/models"
	"github.com/friendsincode/cattv/internal/playback"
	"github.com/friendsincode/cattv/internal/player"
	"github.com/friendsincode/cattv/internal/store"
	"github.com/friendsincode/cattv/internal/telemetry"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	statusHistoryLimit  = 10
)

// Controller is the playback loop as seen by the API.
type Controller interface {
	Snapshot(ctx context.Context, historyLimit int) playback.Snapshot
	ForcePlay() error
	PlayTarget(t player.Target) error
	ForceStop() error
	Reload() error
	SetDisplay(on bool) error
}

// Catalog is the schedule and channel store.
type Catalog interface {
	Ping(ctx context.Context) error

	Schedules(ctx context.Context) ([]models.Schedule, error)
	Schedule(ctx context.Context, id uint) (models.Schedule, error)
	CreateSchedule(ctx context.Context, sched *models.Schedule) error
	UpdateSchedule(ctx context.Context, sched *models.Schedule) error
	DeleteSchedule(ctx context.Context, id uint) error

	Channels(ctx context.Context) ([]models.Channel, error)
	Channel(ctx context.Context, id uint) (models.Channel, error)
	CreateChannel(ctx context.Context, ch *models.Channel) error
	UpdateChannel(ctx context.Context, ch *models.Channel) error
	DeleteChannel(ctx context.Context, id uint) error
}

// History serves recent playback history.
type History interface {
	Recent(ctx context.Context, limit int) []models.PlaybackLog
}

// API exposes HTTP handlers.
type API struct {
	controller Controller
	catalog    Catalog
	history    History
	bus        *events.Bus
	logger     zerolog.Logger
}

// New creates the API router wrapper.
func New(controller Controller, catalog Catalog, history History, bus *events.Bus, logger zerolog.Logger) *API {
	return &API{
		controller: controller,
		catalog:    catalog,
		history:    history,
		bus:        bus,
		logger:     logger.With().Str("component", "api").Logger(),
	}
}

// Routes registers the HTTP routes.
func (a *API) Routes(r chi.Router) {
	r.Get("/healthz", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", a.handleStatus)
		r.Get("/ws", a.handleStatusStream)
		r.Get("/history", a.handleHistory)

		r.Post("/play", a.handleCommand(playback.CommandPlay))
		r.Post("/stop", a.handleCommand(playback.CommandStop))
		r.Post("/reload", a.handleCommand(playback.CommandReload))
		r.Post("/display/{state}", a.handleDisplay)

		r.Route("/schedules", func(r chi.Router) {
			r.Get("/", a.handleSchedulesList)
			r.Post("/", a.handleSchedulesCreate)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.handleSchedulesGet)
				r.Put("/", a.handleSchedulesUpdate)
				r.Delete("/", a.handleSchedulesDelete)
			})
		})

		r.Route("/channels", func(r chi.Router) {
			r.Get("/", a.handleChannelsList)
			r.Post("/", a.handleChannelsCreate)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.handleChannelsGet)
				r.Put("/", a.handleChannelsUpdate)
				r.Delete("/", a.handleChannelsDelete)
			})
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.catalog.Ping(r.Context()); err != nil {
		a.logger.Warn().Err(err).Msg("health check: database unreachable")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// reload asks the loop to re-read the catalog after a mutation. The write
// already succeeded, so a full queue is only logged.
func (a *API) reload() {
	if err := a.controller.Reload(); err != nil {
		a.logger.Warn().Err(err).Msg("catalog reload not queued")
	}
}

// writeStoreError maps store errors to HTTP responses.
func (a *API) writeStoreError(w http.ResponseWriter, err error, op string) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "validation_error",
			"field":   verr.Field,
			"message": verr.Error(),
		})
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	default:
		a.logger.Error().Err(err).Str("op", op).Msg("store operation failed")
		writeError(w, http.StatusInternalServerError, "db_error")
	}
}

func parseID(r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
