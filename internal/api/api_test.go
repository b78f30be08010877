/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/cattv/internal/db"
	"github.com/friendsincode/cattv/internal/events"
	"github.com/friendsincode/cattv/internal/models"
	"github.com/friendsincode/cattv/internal/playback"
	"github.com/friendsincode/cattv/internal/player"
	"github.com/friendsincode/cattv/internal/rotation"
	"github.com/friendsincode/cattv/internal/store"
)

type fakeController struct {
	mu       sync.Mutex
	commands []playback.Command
	targets  []player.Target
	full     bool
	snap     playback.Snapshot
}

func (f *fakeController) Snapshot(ctx context.Context, historyLimit int) playback.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeController) queue(cmd playback.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return playback.ErrCommandQueueFull
	}
	f.commands = append(f.commands, cmd)
	return nil
}

func (f *fakeController) ForcePlay() error { return f.queue(playback.CommandPlay) }
func (f *fakeController) ForceStop() error { return f.queue(playback.CommandStop) }
func (f *fakeController) Reload() error    { return f.queue(playback.CommandReload) }

func (f *fakeController) PlayTarget(t player.Target) error {
	if err := f.queue(playback.CommandPlay); err != nil {
		return err
	}
	f.mu.Lock()
	f.targets = append(f.targets, t)
	f.mu.Unlock()
	return nil
}

func (f *fakeController) SetDisplay(on bool) error {
	if on {
		return f.queue(playback.CommandDisplayOn)
	}
	return f.queue(playback.CommandDisplayOff)
}

func (f *fakeController) Commands() []playback.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]playback.Command(nil), f.commands...)
}

type fakeHistory struct {
	entries []models.PlaybackLog
	limit   int
}

func (f *fakeHistory) Recent(ctx context.Context, limit int) []models.PlaybackLog {
	f.limit = limit
	if limit < len(f.entries) {
		return f.entries[:limit]
	}
	return f.entries
}

type testEnv struct {
	router     http.Handler
	controller *fakeController
	history    *fakeHistory
	store      *store.Store
	bus        *events.Bus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := database.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.Migrate(database))

	env := &testEnv{
		controller: &fakeController{snap: playback.Snapshot{State: playback.StatePlaying, Current: &rotation.Candidate{VideoID: "abc", Title: "Birds"}}},
		history:    &fakeHistory{},
		store:      store.New(database, zerolog.Nop()),
		bus:        events.NewBus(),
	}
	a := New(env.controller, env.store, env.history, env.bus, zerolog.Nop())
	r := chi.NewRouter()
	a.Routes(r)
	env.router = r
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cattv_")
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "playing", body["state"])
	assert.Equal(t, "abc", body["current"].(map[string]any)["video_id"])
}

func TestCommands(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/api/play", "/api/stop", "/api/reload"} {
		rec := env.do(t, http.MethodPost, path, "")
		assert.Equal(t, http.StatusAccepted, rec.Code, path)
	}
	assert.Equal(t, []playback.Command{playback.CommandPlay, playback.CommandStop, playback.CommandReload}, env.controller.Commands())

	env.controller.full = true
	rec := env.do(t, http.MethodPost, "/api/play", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "command_queue_full")
}

func TestPlaySpecificVideo(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/play", `{"url":"https://www.youtube.com/watch?v=xbs7FT7dXYc","title":"Aquarium"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, env.controller.targets, 1)
	assert.Equal(t, player.Target{URL: "https://www.youtube.com/watch?v=xbs7FT7dXYc", Title: "Aquarium"}, env.controller.targets[0])

	rec = env.do(t, http.MethodPost, "/api/play", `{"url":"file:///etc/passwd"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_url")

	rec = env.do(t, http.MethodPost, "/api/play", `{"bogus":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/play", `{}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, env.controller.targets, 1)
	assert.Equal(t, []playback.Command{playback.CommandPlay, playback.CommandPlay}, env.controller.Commands())
}

func TestDisplayCommands(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/display/off", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/display/on", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "display_on")
	assert.Equal(t, []playback.Command{playback.CommandDisplayOff, playback.CommandDisplayOn}, env.controller.Commands())

	rec = env.do(t, http.MethodPost, "/api/display/dim", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.controller.full = true
	rec = env.do(t, http.MethodPost, "/api/display/on", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHistoryLimit(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now().UTC()
	env.history.entries = []models.PlaybackLog{
		{ID: "b", VideoTitle: "Fish", StartedAt: now, Status: models.PlaybackPlaying},
		{ID: "a", VideoTitle: "Birds", StartedAt: now.Add(-time.Hour), Status: models.PlaybackCompleted},
	}

	rec := env.do(t, http.MethodGet, "/api/history?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var out []models.PlaybackLog
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "b", out[0].ID)

	env.do(t, http.MethodGet, "/api/history", "")
	assert.Equal(t, defaultHistoryLimit, env.history.limit)

	env.do(t, http.MethodGet, "/api/history?limit=100000", "")
	assert.Equal(t, maxHistoryLimit, env.history.limit)

	rec = env.do(t, http.MethodGet, "/api/history?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScheduleCRUD(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/schedules", `{"name":"Night","start_time":"22:00","end_time":"02:00","days_of_week":[6,5]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created scheduleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "22:00", created.StartTime)
	assert.Equal(t, "02:00", created.EndTime)
	assert.Equal(t, []int{5, 6}, created.DaysOfWeek)
	assert.True(t, created.IsActive)
	assert.True(t, created.CrossesMidnight)

	rec = env.do(t, http.MethodPut, "/api/schedules/1", `{"name":"Night","start_time":"21:30","end_time":"02:00","is_active":false}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated scheduleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "21:30", updated.StartTime)
	assert.False(t, updated.IsActive)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6}, updated.DaysOfWeek)

	rec = env.do(t, http.MethodGet, "/api/schedules", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []scheduleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = env.do(t, http.MethodDelete, "/api/schedules/1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/schedules/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, []playback.Command{playback.CommandReload, playback.CommandReload, playback.CommandReload}, env.controller.Commands())
}

func TestScheduleValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"bad clock", `{"name":"x","start_time":"25:00","end_time":"02:00"}`, "start_time"},
		{"bad end", `{"name":"x","start_time":"01:00","end_time":"nope"}`, "end_time"},
		{"empty name", `{"name":" ","start_time":"01:00","end_time":"02:00"}`, "name"},
		{"bad day", `{"name":"x","start_time":"01:00","end_time":"02:00","days_of_week":[9]}`, "days_of_week"},
		{"no days", `{"name":"x","start_time":"01:00","end_time":"02:00","days_of_week":[]}`, "days_of_week"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/schedules", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "validation_error", body["error"])
			assert.Equal(t, tt.field, body["field"])
		})
	}

	rec := env.do(t, http.MethodPost, "/api/schedules", `{"name":"x","start":"01:00"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_request")

	rec = env.do(t, http.MethodPut, "/api/schedules/42", `{"name":"x","start_time":"01:00","end_time":"02:00"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/schedules/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, env.controller.Commands())
}

func TestChannelCRUD(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/channels", `{"name":"Paul Dinning","source":"@pauldinning","position":2}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created channelResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "handle", created.SourceKind)
	assert.True(t, created.Enabled)
	assert.Equal(t, 2, created.Position)

	rec = env.do(t, http.MethodPut, "/api/channels/1", `{"name":"Birds","source":"birds for cats","enabled":false}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated channelResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "search", updated.SourceKind)
	assert.False(t, updated.Enabled)

	rec = env.do(t, http.MethodPost, "/api/channels", `{"name":"Empty","source":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/channels", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []channelResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = env.do(t, http.MethodDelete, "/api/channels/1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodDelete, "/api/channels/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusStream(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws", nil)
	require.NoError(t, err)
	defer conn.Close(ws.StatusNormalClosure, "")

	read := func() map[string]any {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var msg map[string]any
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	}

	first := read()
	assert.Equal(t, "status", first["type"])

	// Subscriptions are registered before the first snapshot is written.
	env.bus.Publish(events.EventStateChange, events.Payload{"from": "idle", "to": "starting"})

	msg := read()
	assert.Equal(t, "state_change", msg["type"])
	assert.Equal(t, "starting", msg["payload"].(map[string]any)["to"])
	assert.Equal(t, "status", read()["type"])
}
