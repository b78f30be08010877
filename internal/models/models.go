/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// MinutesPerDay bounds StartMinute and EndMinute.
const MinutesPerDay = 24 * 60

// AllDays is the day set used when a schedule runs every day.
const AllDays = "0,1,2,3,4,5,6"

// Schedule is a daily play window. Days use Monday=0 through Sunday=6.
// A schedule whose start equals its end covers the whole day.
type Schedule struct {
	ID          uint   `gorm:"primaryKey"`
	Name        string `gorm:"type:varchar(100);not null"`
	StartMinute int    `gorm:"not null"`
	EndMinute   int    `gorm:"not null"`
	DaysOfWeek  string `gorm:"type:varchar(20);default:'0,1,2,3,4,5,6'"`
	IsActive    bool   `gorm:"not null;index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Days parses DaysOfWeek into a sorted, de-duplicated list.
func (s Schedule) Days() ([]int, error) {
	return ParseDays(s.DaysOfWeek)
}

// ActiveOn reports whether the schedule covers the given weekday (Monday=0).
// Malformed day sets never match.
func (s Schedule) ActiveOn(day int) bool {
	days, err := s.Days()
	if err != nil {
		return false
	}
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}

// CrossesMidnight reports whether the window wraps into the following day.
func (s Schedule) CrossesMidnight() bool {
	return s.StartMinute > s.EndMinute
}

// Validate checks the schedule before it is written.
func (s Schedule) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return &ValidationError{Entity: "schedule", Field: "name", Reason: "must not be empty"}
	}
	if s.StartMinute < 0 || s.StartMinute >= MinutesPerDay {
		return &ValidationError{Entity: "schedule", Field: "start_time", Reason: "must be between 00:00 and 23:59"}
	}
	if s.EndMinute < 0 || s.EndMinute >= MinutesPerDay {
		return &ValidationError{Entity: "schedule", Field: "end_time", Reason: "must be between 00:00 and 23:59"}
	}
	if _, err := ParseDays(s.DaysOfWeek); err != nil {
		return &ValidationError{Entity: "schedule", Field: "days_of_week", Reason: err.Error()}
	}
	return nil
}

// ParseDays parses a comma separated day set such as "0,1,2".
func ParseDays(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("must contain at least one day")
	}

	seen := make(map[int]struct{}, 7)
	days := make([]int, 0, 7)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		day, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid day %q", part)
		}
		if day < 0 || day > 6 {
			return nil, fmt.Errorf("day %d out of range 0-6", day)
		}
		if _, dup := seen[day]; dup {
			continue
		}
		seen[day] = struct{}{}
		days = append(days, day)
	}
	sort.Ints(days)
	return days, nil
}

// FormatDays renders a day list in the stored representation.
func FormatDays(days []int) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

// Channel is a content source in the rotation: a search query or a fixed
// YouTube channel (UC id, @handle or channel URL).
type Channel struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"type:varchar(200);not null"`
	Source    string `gorm:"type:varchar(500);not null"`
	Enabled   bool   `gorm:"not null;index"`
	Position  int    `gorm:"default:0;index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the channel before it is written.
func (c Channel) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return &ValidationError{Entity: "channel", Field: "name", Reason: "must not be empty"}
	}
	if strings.TrimSpace(c.Source) == "" {
		return &ValidationError{Entity: "channel", Field: "source", Reason: "must not be empty"}
	}
	if len(c.Source) > 500 {
		return &ValidationError{Entity: "channel", Field: "source", Reason: "must be at most 500 characters"}
	}
	return nil
}

// PlaybackStatus enumerates history entry outcomes.
type PlaybackStatus string

const (
	PlaybackPlaying   PlaybackStatus = "playing"   // Entry still open
	PlaybackCompleted PlaybackStatus = "completed" // Ended by schedule or the video finished
	PlaybackFailed    PlaybackStatus = "failed"    // Player crashed or nothing could be played
	PlaybackSkipped   PlaybackStatus = "skipped"   // Replaced by rotation or a manual command
)

// PlaybackLog is an append-only record of one playback session.
type PlaybackLog struct {
	ID           string    `gorm:"type:varchar(36);primaryKey"`
	ChannelID    uint      `gorm:"index"`
	VideoID      string    `gorm:"type:varchar(64)"`
	VideoTitle   string    `gorm:"type:varchar(500)"`
	StartedAt    time.Time `gorm:"index"`
	EndedAt      *time.Time
	Status       PlaybackStatus `gorm:"type:varchar(16);index"`
	ErrorMessage string         `gorm:"type:varchar(1000)"`
}

// Open reports whether the entry is still in progress.
func (p PlaybackLog) Open() bool {
	return p.EndedAt == nil
}
