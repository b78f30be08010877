/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/friendsincode/cattv/internal/models"
	"github.com/friendsincode/cattv/internal/schedule"
)

//go:embed defaults.yaml
var defaultSeed []byte

// SeedFile is the YAML document accepted by Seed.
type SeedFile struct {
	Schedules []SeedSchedule `yaml:"schedules"`
	Channels  []SeedChannel  `yaml:"channels"`
}

// SeedSchedule uses "HH:MM" clock strings. Days default to every day.
type SeedSchedule struct {
	Name   string `yaml:"name"`
	Start  string `yaml:"start"`
	End    string `yaml:"end"`
	Days   []int  `yaml:"days"`
	Active *bool  `yaml:"active"`
}

// SeedChannel entries keep file order as rotation order unless Position is set.
type SeedChannel struct {
	Name     string `yaml:"name"`
	Source   string `yaml:"source"`
	Enabled  *bool  `yaml:"enabled"`
	Position *int   `yaml:"position"`
}

// SeedResult counts inserted rows.
type SeedResult struct {
	Schedules int
	Channels  int
}

// ParseSeed decodes and validates a seed document.
func ParseSeed(data []byte) ([]models.Schedule, []models.Channel, error) {
	var doc SeedFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("decode seed: %w", err)
	}

	schedules := make([]models.Schedule, 0, len(doc.Schedules))
	for i, s := range doc.Schedules {
		start, err := schedule.ParseClock(s.Start)
		if err != nil {
			return nil, nil, fmt.Errorf("schedule %d (%s): %w", i, s.Name, err)
		}
		end, err := schedule.ParseClock(s.End)
		if err != nil {
			return nil, nil, fmt.Errorf("schedule %d (%s): %w", i, s.Name, err)
		}
		days := models.AllDays
		if len(s.Days) > 0 {
			days = models.FormatDays(s.Days)
		}
		sched := models.Schedule{
			Name:        s.Name,
			StartMinute: start,
			EndMinute:   end,
			DaysOfWeek:  days,
			IsActive:    s.Active == nil || *s.Active,
		}
		if err := normalizeSchedule(&sched); err != nil {
			return nil, nil, fmt.Errorf("schedule %d: %w", i, err)
		}
		schedules = append(schedules, sched)
	}

	channels := make([]models.Channel, 0, len(doc.Channels))
	for i, c := range doc.Channels {
		ch := models.Channel{
			Name:     c.Name,
			Source:   c.Source,
			Enabled:  c.Enabled == nil || *c.Enabled,
			Position: i,
		}
		if c.Position != nil {
			ch.Position = *c.Position
		}
		if err := ch.Validate(); err != nil {
			return nil, nil, fmt.Errorf("channel %d: %w", i, err)
		}
		channels = append(channels, ch)
	}

	return schedules, channels, nil
}

// Seed imports a seed document in one transaction. Entries whose name
// already exists are skipped, so seeding twice is harmless.
func (s *Store) Seed(ctx context.Context, data []byte) (SeedResult, error) {
	schedules, channels, err := ParseSeed(data)
	if err != nil {
		return SeedResult{}, err
	}

	var res SeedResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range schedules {
			var n int64
			if err := tx.Model(&models.Schedule{}).Where("name = ?", schedules[i].Name).Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				continue
			}
			if err := tx.Create(&schedules[i]).Error; err != nil {
				return fmt.Errorf("insert schedule %s: %w", schedules[i].Name, err)
			}
			res.Schedules++
		}
		for i := range channels {
			var n int64
			if err := tx.Model(&models.Channel{}).Where("name = ?", channels[i].Name).Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				continue
			}
			if err := tx.Create(&channels[i]).Error; err != nil {
				return fmt.Errorf("insert channel %s: %w", channels[i].Name, err)
			}
			res.Channels++
		}
		return nil
	})
	if err != nil {
		return SeedResult{}, fmt.Errorf("seed: %w", err)
	}

	s.logger.Info().Int("schedules", res.Schedules).Int("channels", res.Channels).Msg("seed imported")
	return res, nil
}

// SeedDefaults installs the built-in schedules and channels when the catalog
// is empty. It reports whether anything was inserted.
func (s *Store) SeedDefaults(ctx context.Context) (bool, error) {
	var schedules, channels int64
	if err := s.db.WithContext(ctx).Model(&models.Schedule{}).Count(&schedules).Error; err != nil {
		return false, fmt.Errorf("count schedules: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&models.Channel{}).Count(&channels).Error; err != nil {
		return false, fmt.Errorf("count channels: %w", err)
	}
	if schedules > 0 || channels > 0 {
		return false, nil
	}

	res, err := s.Seed(ctx, defaultSeed)
	if err != nil {
		return false, err
	}
	return res.Schedules+res.Channels > 0, nil
}
