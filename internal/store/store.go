/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store is the gorm-backed catalog of schedules, channels and
// playback history.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/cattv/internal/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Store wraps a gorm handle.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// New creates a store.
func New(db *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{db: db, logger: logger.With().Str("component", "store").Logger()}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Schedules returns every schedule in id order.
func (s *Store) Schedules(ctx context.Context) ([]models.Schedule, error) {
	var out []models.Schedule
	if err := s.db.WithContext(ctx).Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return out, nil
}

// Schedule returns one schedule.
func (s *Store) Schedule(ctx context.Context, id uint) (models.Schedule, error) {
	var out models.Schedule
	if err := s.db.WithContext(ctx).First(&out, id).Error; err != nil {
		return out, notFound(err, "schedule", id)
	}
	return out, nil
}

// CreateSchedule validates and inserts sched.
func (s *Store) CreateSchedule(ctx context.Context, sched *models.Schedule) error {
	if err := normalizeSchedule(sched); err != nil {
		return err
	}
	sched.ID = 0
	if err := s.db.WithContext(ctx).Create(sched).Error; err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	return nil
}

// UpdateSchedule validates and overwrites the editable fields of sched.
func (s *Store) UpdateSchedule(ctx context.Context, sched *models.Schedule) error {
	if err := normalizeSchedule(sched); err != nil {
		return err
	}
	if _, err := s.Schedule(ctx, sched.ID); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Model(&models.Schedule{ID: sched.ID}).
		Select("name", "start_minute", "end_minute", "days_of_week", "is_active").
		Updates(sched).Error
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	updated, err := s.Schedule(ctx, sched.ID)
	if err != nil {
		return err
	}
	*sched = updated
	return nil
}

// DeleteSchedule removes a schedule.
func (s *Store) DeleteSchedule(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.Schedule{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete schedule: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("schedule %d: %w", id, ErrNotFound)
	}
	return nil
}

// Channels returns every channel in rotation order.
func (s *Store) Channels(ctx context.Context) ([]models.Channel, error) {
	var out []models.Channel
	if err := s.db.WithContext(ctx).Order("position").Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	return out, nil
}

// EnabledChannels returns enabled channels in rotation order.
func (s *Store) EnabledChannels(ctx context.Context) ([]models.Channel, error) {
	var out []models.Channel
	err := s.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("position").Order("id").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list enabled channels: %w", err)
	}
	return out, nil
}

// Channel returns one channel.
func (s *Store) Channel(ctx context.Context, id uint) (models.Channel, error) {
	var out models.Channel
	if err := s.db.WithContext(ctx).First(&out, id).Error; err != nil {
		return out, notFound(err, "channel", id)
	}
	return out, nil
}

// CreateChannel validates and inserts ch.
func (s *Store) CreateChannel(ctx context.Context, ch *models.Channel) error {
	if err := ch.Validate(); err != nil {
		return err
	}
	ch.ID = 0
	if err := s.db.WithContext(ctx).Create(ch).Error; err != nil {
		return fmt.Errorf("create channel: %w", err)
	}
	return nil
}

// UpdateChannel validates and overwrites the editable fields of ch.
func (s *Store) UpdateChannel(ctx context.Context, ch *models.Channel) error {
	if err := ch.Validate(); err != nil {
		return err
	}
	if _, err := s.Channel(ctx, ch.ID); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Model(&models.Channel{ID: ch.ID}).
		Select("name", "source", "enabled", "position").
		Updates(ch).Error
	if err != nil {
		return fmt.Errorf("update channel: %w", err)
	}
	updated, err := s.Channel(ctx, ch.ID)
	if err != nil {
		return err
	}
	*ch = updated
	return nil
}

// DeleteChannel removes a channel.
func (s *Store) DeleteChannel(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.Channel{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete channel: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("channel %d: %w", id, ErrNotFound)
	}
	return nil
}

// CreatePlaybackLog appends a history entry.
func (s *Store) CreatePlaybackLog(ctx context.Context, entry *models.PlaybackLog) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("create playback log: %w", err)
	}
	return nil
}

// ClosePlaybackLog sets the outcome of an open entry.
func (s *Store) ClosePlaybackLog(ctx context.Context, id string, status models.PlaybackStatus, endedAt time.Time, reason string) error {
	res := s.db.WithContext(ctx).Model(&models.PlaybackLog{}).
		Where("id = ? AND ended_at IS NULL", id).
		Updates(map[string]any{
			"status":        status,
			"ended_at":      endedAt,
			"error_message": reason,
		})
	if res.Error != nil {
		return fmt.Errorf("close playback log: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("open playback log %s: %w", id, ErrNotFound)
	}
	return nil
}

// RecentPlaybackLogs returns the newest entries first.
func (s *Store) RecentPlaybackLogs(ctx context.Context, limit int) ([]models.PlaybackLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []models.PlaybackLog
	err := s.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list playback logs: %w", err)
	}
	return out, nil
}

// CloseDanglingPlaybackLogs marks entries left open by a previous run.
func (s *Store) CloseDanglingPlaybackLogs(ctx context.Context, at time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.PlaybackLog{}).
		Where("ended_at IS NULL").
		Updates(map[string]any{
			"status":        models.PlaybackFailed,
			"ended_at":      at,
			"error_message": "interrupted by restart",
		})
	if res.Error != nil {
		return 0, fmt.Errorf("close dangling playback logs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func normalizeSchedule(sched *models.Schedule) error {
	if err := sched.Validate(); err != nil {
		return err
	}
	days, _ := models.ParseDays(sched.DaysOfWeek)
	sched.DaysOfWeek = models.FormatDays(days)
	return nil
}

func notFound(err error, entity string, id uint) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %d: %w", entity, id, ErrNotFound)
	}
	return fmt.Errorf("get %s: %w", entity, err)
}
