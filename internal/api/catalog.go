/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"time"

	"github.com/friendsincode/cattv/internal/models"
	"github.com/friendsincode/cattv/internal/provider"
	"github.com/friendsincode/cattv/internal/schedule"
)

// scheduleResponse renders minutes as "HH:MM" and days as a list.
type scheduleResponse struct {
	ID              uint      `json:"id"`
	Name            string    `json:"name"`
	StartTime       string    `json:"start_time"`
	EndTime         string    `json:"end_time"`
	DaysOfWeek      []int     `json:"days_of_week"`
	IsActive        bool      `json:"is_active"`
	CrossesMidnight bool      `json:"crosses_midnight"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type scheduleRequest struct {
	Name       string `json:"name"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	DaysOfWeek []int  `json:"days_of_week"`
	IsActive   *bool  `json:"is_active"`
}

func toScheduleResponse(s models.Schedule) scheduleResponse {
	days, _ := s.Days()
	if days == nil {
		days = []int{}
	}
	return scheduleResponse{
		ID:              s.ID,
		Name:            s.Name,
		StartTime:       schedule.FormatClock(s.StartMinute),
		EndTime:         schedule.FormatClock(s.EndMinute),
		DaysOfWeek:      days,
		IsActive:        s.IsActive,
		CrossesMidnight: s.CrossesMidnight(),
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

// toModel converts the request. Clock strings are checked here; the rest is
// validated by the store.
func (req scheduleRequest) toModel(id uint) (models.Schedule, error) {
	start, err := schedule.ParseClock(req.StartTime)
	if err != nil {
		return models.Schedule{}, &models.ValidationError{Entity: "schedule", Field: "start_time", Reason: err.Error()}
	}
	end, err := schedule.ParseClock(req.EndTime)
	if err != nil {
		return models.Schedule{}, &models.ValidationError{Entity: "schedule", Field: "end_time", Reason: err.Error()}
	}

	days := models.AllDays
	if req.DaysOfWeek != nil {
		days = models.FormatDays(req.DaysOfWeek)
	}

	return models.Schedule{
		ID:          id,
		Name:        req.Name,
		StartMinute: start,
		EndMinute:   end,
		DaysOfWeek:  days,
		IsActive:    req.IsActive == nil || *req.IsActive,
	}, nil
}

func (a *API) handleSchedulesList(w http.ResponseWriter, r *http.Request) {
	schedules, err := a.catalog.Schedules(r.Context())
	if err != nil {
		a.writeStoreError(w, err, "list_schedules")
		return
	}
	out := make([]scheduleResponse, 0, len(schedules))
	for _, s := range schedules {
		out = append(out, toScheduleResponse(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleSchedulesGet(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return
	}
	sched, err := a.catalog.Schedule(r.Context(), id)
	if err != nil {
		a.writeStoreError(w, err, "get_schedule")
		return
	}
	writeJSON(w, http.StatusOK, toScheduleResponse(sched))
}

func (a *API) handleSchedulesCreate(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	sched, err := req.toModel(0)
	if err != nil {
		a.writeStoreError(w, err, "create_schedule")
		return
	}
	if err := a.catalog.CreateSchedule(r.Context(), &sched); err != nil {
		a.writeStoreError(w, err, "create_schedule")
		return
	}

	a.logger.Info().Uint("schedule_id", sched.ID).Str("name", sched.Name).Msg("schedule created")
	a.reload()
	writeJSON(w, http.StatusCreated, toScheduleResponse(sched))
}

func (a *API) handleSchedulesUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return
	}
	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	sched, err := req.toModel(id)
	if err != nil {
		a.writeStoreError(w, err, "update_schedule")
		return
	}
	if err := a.catalog.UpdateSchedule(r.Context(), &sched); err != nil {
		a.writeStoreError(w, err, "update_schedule")
		return
	}

	a.logger.Info().Uint("schedule_id", sched.ID).Msg("schedule updated")
	a.reload()
	writeJSON(w, http.StatusOK, toScheduleResponse(sched))
}

func (a *API) handleSchedulesDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return
	}
	if err := a.catalog.DeleteSchedule(r.Context(), id); err != nil {
		a.writeStoreError(w, err, "delete_schedule")
		return
	}

	a.logger.Info().Uint("schedule_id", id).Msg("schedule deleted")
	a.reload()
	w.WriteHeader(http.StatusNoContent)
}

type channelResponse struct {
	ID         uint      `json:"id"`
	Name       string    `json:"name"`
	Source     string    `json:"source"`
	SourceKind string    `json:"source_kind"`
	Enabled    bool      `json:"enabled"`
	Position   int       `json:"position"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type channelRequest struct {
	Name     string `json:"name"`
	Source   string `json:"source"`
	Enabled  *bool  `json:"enabled"`
	Position int    `json:"position"`
}

func toChannelResponse(c models.Channel) channelResponse {
	return channelResponse{
		ID:         c.ID,
		Name:       c.Name,
		Source:     c.Source,
		SourceKind: provider.ParseSource(c.Source).Kind.String(),
		Enabled:    c.Enabled,
		Position:   c.Position,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

func (req channelRequest) toModel(id uint) models.Channel {
	return models.Channel{
		ID:       id,
		Name:     req.Name,
		Source:   req.Source,
		Enabled:  req.Enabled == nil || *req.Enabled,
		Position: req.Position,
	}
}

func (a *API) handleChannelsList(w http.ResponseWriter, r *http.Request) {
	channels, err := a.catalog.Channels(r.Context())
	if err != nil {
		a.writeStoreError(w, err, "list_channels")
		return
	}
	out := make([]channelResponse, 0, len(channels))
	for _, c := range channels {
		out = append(out, toChannelResponse(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleChannelsGet(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return
	}
	ch, err := a.catalog.Channel(r.Context(), id)
	if err != nil {
		a.writeStoreError(w, err, "get_channel")
		return
	}
	writeJSON(w, http.StatusOK, toChannelResponse(ch))
}

func (a *API) handleChannelsCreate(w http.ResponseWriter, r *http.Request) {
	var req channelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	ch := req.toModel(0)
	if err := a.catalog.CreateChannel(r.Context(), &ch); err != nil {
		a.writeStoreError(w, err, "create_channel")
		return
	}

	a.logger.Info().Uint("channel_id", ch.ID).Str("name", ch.Name).Msg("channel created")
	a.reload()
	writeJSON(w, http.StatusCreated, toChannelResponse(ch))
}

func (a *API) handleChannelsUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return
	}
	var req channelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	ch := req.toModel(id)
	if err := a.catalog.UpdateChannel(r.Context(), &ch); err != nil {
		a.writeStoreError(w, err, "update_channel")
		return
	}

	a.logger.Info().Uint("channel_id", ch.ID).Msg("channel updated")
	a.reload()
	writeJSON(w, http.StatusOK, toChannelResponse(ch))
}

func (a *API) handleChannelsDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return
	}
	if err := a.catalog.DeleteChannel(r.Context(), id); err != nil {
		a.writeStoreError(w, err, "delete_channel")
		return
	}

	a.logger.Info().Uint("channel_id", id).Msg("channel deleted")
	a.reload()
	w.WriteHeader(http.StatusNoContent)
}
