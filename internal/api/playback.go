/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/cattv/internal/events"
	"github.com/friendsincode/cattv/internal/playback"
	"github.com/friendsincode/cattv/internal/player"
	"github.com/friendsincode/cattv/internal/telemetry"
)

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.controller.Snapshot(r.Context(), statusHistoryLimit))
}

// playRequest optionally names a specific video for /api/play.
type playRequest struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

func (a *API) handleCommand(cmd playback.Command) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		switch cmd {
		case playback.CommandPlay:
			var req playRequest
			if decodeErr := decodeJSON(r, &req); decodeErr != nil && !errors.Is(decodeErr, io.EOF) {
				writeError(w, http.StatusBadRequest, "invalid_request")
				return
			}
			if req.URL == "" {
				err = a.controller.ForcePlay()
				break
			}
			if u, parseErr := url.Parse(req.URL); parseErr != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				writeError(w, http.StatusBadRequest, "invalid_url")
				return
			}
			err = a.controller.PlayTarget(player.Target{URL: req.URL, Title: req.Title})
		case playback.CommandStop:
			err = a.controller.ForceStop()
		case playback.CommandReload:
			err = a.controller.Reload()
		}
		if errors.Is(err, playback.ErrCommandQueueFull) {
			writeError(w, http.StatusServiceUnavailable, "command_queue_full")
			return
		}
		if err != nil {
			a.logger.Error().Err(err).Str("command", string(cmd)).Msg("command failed")
			writeError(w, http.StatusInternalServerError, "command_failed")
			return
		}

		a.logger.Info().Str("command", string(cmd)).Str("remote", r.RemoteAddr).Msg("command queued")
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "command": string(cmd)})
	}
}

func (a *API) handleDisplay(w http.ResponseWriter, r *http.Request) {
	var on bool
	switch chi.URLParam(r, "state") {
	case "on":
		on = true
	case "off":
	default:
		writeError(w, http.StatusBadRequest, "invalid_display_state")
		return
	}

	if err := a.controller.SetDisplay(on); err != nil {
		if errors.Is(err, playback.ErrCommandQueueFull) {
			writeError(w, http.StatusServiceUnavailable, "command_queue_full")
			return
		}
		a.logger.Error().Err(err).Bool("on", on).Msg("display command failed")
		writeError(w, http.StatusInternalServerError, "command_failed")
		return
	}

	cmd := playback.CommandDisplayOff
	if on {
		cmd = playback.CommandDisplayOn
	}
	a.logger.Info().Str("command", string(cmd)).Str("remote", r.RemoteAddr).Msg("command queued")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "command": string(cmd)})
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	writeJSON(w, http.StatusOK, a.history.Recent(r.Context(), limit))
}

var streamEvents = []events.EventType{
	events.EventStateChange,
	events.EventNowPlaying,
	events.EventHistory,
	events.EventCatalog,
	events.EventDisplay,
}

// handleStatusStream pushes every playback event followed by a fresh
// snapshot over a websocket.
func (a *API) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	// The client never sends; CloseRead cancels ctx when it goes away.
	ctx := conn.CloseRead(r.Context())

	merged := make(chan streamMessage, 16)
	for _, eventType := range streamEvents {
		sub := a.bus.Subscribe(eventType)
		defer a.bus.Unsubscribe(eventType, sub)
		go forward(ctx, eventType, sub, merged)
	}

	if err := a.writeMessage(ctx, conn, "status", a.controller.Snapshot(ctx, statusHistoryLimit)); err != nil {
		return
	}

	ping := time.NewTicker(15 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "")
			return
		case <-ping.C:
			if err := a.writeMessage(ctx, conn, "ping", nil); err != nil {
				return
			}
		case msg := <-merged:
			if err := a.writeMessage(ctx, conn, string(msg.eventType), msg.payload); err != nil {
				return
			}
			if err := a.writeMessage(ctx, conn, "status", a.controller.Snapshot(ctx, statusHistoryLimit)); err != nil {
				return
			}
		}
	}
}

type streamMessage struct {
	eventType events.EventType
	payload   events.Payload
}

func forward(ctx context.Context, eventType events.EventType, sub events.Subscriber, out chan<- streamMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			select {
			case out <- streamMessage{eventType: eventType, payload: payload}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (a *API) writeMessage(ctx context.Context, conn *ws.Conn, msgType string, payload any) error {
	data, err := json.Marshal(map[string]any{
		"type":    msgType,
		"payload": payload,
	})
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Write(writeCtx, ws.MessageText, data); err != nil {
		if ctx.Err() == nil {
			a.logger.Debug().Err(err).Msg("websocket write failed")
		}
		return err
	}
	return nil
}
