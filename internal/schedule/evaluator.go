/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package schedule decides whether playback should be active at a point in time.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/friendsincode/cattv/internal/models"
)

// ShouldPlay reports whether any active schedule covers now. The first
// matching schedule, in input order, is returned alongside the result.
// It has no side effects.
func ShouldPlay(now time.Time, schedules []models.Schedule) (bool, *models.Schedule) {
	day := Weekday(now)
	minute := MinuteOfDay(now)

	for i := range schedules {
		s := &schedules[i]
		if !s.IsActive || !s.ActiveOn(day) {
			continue
		}
		if InWindow(s.StartMinute, s.EndMinute, minute) {
			return true, s
		}
	}
	return false, nil
}

// InWindow reports whether minute falls inside [start, end). Windows with
// start > end wrap past midnight; start == end covers the full day.
func InWindow(start, end, minute int) bool {
	switch {
	case start == end:
		return true
	case start < end:
		return start <= minute && minute < end
	default:
		return minute >= start || minute < end
	}
}

// Weekday converts t to Monday=0 ... Sunday=6.
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// MinuteOfDay returns the minutes elapsed since midnight in t's location.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// ParseClock parses "HH:MM" into a minute of day.
func ParseClock(raw string) (int, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", raw)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", raw)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", raw)
	}
	return h*60 + m, nil
}

// FormatClock renders a minute of day as "HH:MM".
func FormatClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}
