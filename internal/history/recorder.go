/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package history records playback sessions. Store failures are logged and
// counted but never returned, so playback control is not blocked by them.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/cattv/internal/events"
	"github.com/friendsincode/cattv/internal/models"
	"github.com/friendsincode/cattv/internal/rotation"
	"github.com/friendsincode/cattv/internal/telemetry"
)

// DefaultRecentSize is the number of entries kept in memory.
const DefaultRecentSize = 50

// Store persists playback logs.
type Store interface {
	CreatePlaybackLog(ctx context.Context, entry *models.PlaybackLog) error
	ClosePlaybackLog(ctx context.Context, id string, status models.PlaybackStatus, endedAt time.Time, reason string) error
	RecentPlaybackLogs(ctx context.Context, limit int) ([]models.PlaybackLog, error)
}

// Recorder appends playback sessions and tracks the open one.
type Recorder struct {
	store  Store
	bus    *events.Bus
	logger zerolog.Logger
	size   int

	mu     sync.RWMutex
	open   *models.PlaybackLog
	recent []models.PlaybackLog // oldest first
}

// NewRecorder creates a recorder. bus may be nil.
func NewRecorder(store Store, bus *events.Bus, size int, logger zerolog.Logger) *Recorder {
	if size <= 0 {
		size = DefaultRecentSize
	}
	return &Recorder{
		store:  store,
		bus:    bus,
		size:   size,
		logger: logger.With().Str("component", "history").Logger(),
		recent: make([]models.PlaybackLog, 0, size),
	}
}

// RecordStart opens an entry for c. A still-open entry is closed as skipped.
func (r *Recorder) RecordStart(ctx context.Context, c rotation.Candidate, at time.Time) models.PlaybackLog {
	if prev, ok := r.Open(); ok {
		r.logger.Debug().Str("entry_id", prev.ID).Msg("closing dangling entry")
		r.RecordEnd(ctx, models.PlaybackSkipped, at, "")
	}

	entry := models.PlaybackLog{
		ID:         uuid.NewString(),
		ChannelID:  c.ChannelID,
		VideoID:    c.VideoID,
		VideoTitle: c.Title,
		StartedAt:  at,
		Status:     models.PlaybackPlaying,
	}

	r.mu.Lock()
	open := entry
	r.open = &open
	r.push(entry)
	r.mu.Unlock()

	if err := r.store.CreatePlaybackLog(ctx, &entry); err != nil {
		r.writeFailed(err, "create", entry.ID)
	}
	r.publish(entry)
	return entry
}

// RecordEnd closes the open entry. It is a no-op when nothing is open.
func (r *Recorder) RecordEnd(ctx context.Context, status models.PlaybackStatus, at time.Time, reason string) {
	r.mu.Lock()
	if r.open == nil {
		r.mu.Unlock()
		return
	}
	entry := *r.open
	r.open = nil
	entry.EndedAt = &at
	entry.Status = status
	entry.ErrorMessage = truncate(reason, 1000)
	r.replace(entry)
	r.mu.Unlock()

	if err := r.store.ClosePlaybackLog(ctx, entry.ID, status, at, entry.ErrorMessage); err != nil {
		r.writeFailed(err, "close", entry.ID)
	}
	r.publish(entry)
}

// RecordFailure appends an already closed failed entry. c is nil when no
// candidate was found at all.
func (r *Recorder) RecordFailure(ctx context.Context, c *rotation.Candidate, reason string, at time.Time) models.PlaybackLog {
	entry := models.PlaybackLog{
		ID:           uuid.NewString(),
		StartedAt:    at,
		EndedAt:      &at,
		Status:       models.PlaybackFailed,
		ErrorMessage: truncate(reason, 1000),
	}
	if c != nil {
		entry.ChannelID = c.ChannelID
		entry.VideoID = c.VideoID
		entry.VideoTitle = c.Title
	}

	r.mu.Lock()
	r.push(entry)
	r.mu.Unlock()

	if err := r.store.CreatePlaybackLog(ctx, &entry); err != nil {
		r.writeFailed(err, "create", entry.ID)
	}
	r.publish(entry)
	return entry
}

// Open returns the in-progress entry.
func (r *Recorder) Open() (models.PlaybackLog, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.open == nil {
		return models.PlaybackLog{}, false
	}
	return *r.open, true
}

// Recent returns up to limit entries, newest first. The store is preferred;
// the in-memory ring answers when the store is unavailable.
func (r *Recorder) Recent(ctx context.Context, limit int) []models.PlaybackLog {
	if limit <= 0 {
		limit = r.size
	}
	entries, err := r.store.RecentPlaybackLogs(ctx, limit)
	if err == nil {
		return entries
	}
	r.logger.Warn().Err(err).Msg("history store unavailable, serving in-memory entries")
	return r.Memory(limit)
}

// Memory returns up to limit in-memory entries, newest first.
func (r *Recorder) Memory(limit int) []models.PlaybackLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 || limit > len(r.recent) {
		limit = len(r.recent)
	}
	out := make([]models.PlaybackLog, 0, limit)
	for i := len(r.recent) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.recent[i])
	}
	return out
}

func (r *Recorder) push(entry models.PlaybackLog) {
	if len(r.recent) == r.size {
		copy(r.recent, r.recent[1:])
		r.recent = r.recent[:len(r.recent)-1]
	}
	r.recent = append(r.recent, entry)
}

func (r *Recorder) replace(entry models.PlaybackLog) {
	for i := len(r.recent) - 1; i >= 0; i-- {
		if r.recent[i].ID == entry.ID {
			r.recent[i] = entry
			return
		}
	}
	r.push(entry)
}

func (r *Recorder) writeFailed(err error, op, id string) {
	telemetry.HistoryWriteErrorsTotal.Inc()
	r.logger.Error().Err(err).Str("op", op).Str("entry_id", id).Msg("history write failed")
}

func (r *Recorder) publish(entry models.PlaybackLog) {
	if r.bus == nil {
		return
	}
	payload := events.Payload{
		"id":          entry.ID,
		"channel_id":  entry.ChannelID,
		"video_id":    entry.VideoID,
		"video_title": entry.VideoTitle,
		"started_at":  entry.StartedAt,
		"status":      string(entry.Status),
	}
	if entry.EndedAt != nil {
		payload["ended_at"] = *entry.EndedAt
	}
	if entry.ErrorMessage != "" {
		payload["error"] = entry.ErrorMessage
	}
	r.bus.Publish(events.EventHistory, payload)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
