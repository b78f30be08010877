/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package rotation picks the next video by walking enabled channels in
// round-robin order, falling back across channels within one call.
package rotation

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/cattv/internal/models"
	"github.com/friendsincode/cattv/internal/provider"
	"github.com/friendsincode/cattv/internal/telemetry"
)

// ErrExhausted is returned when no enabled channel yielded a candidate.
var ErrExhausted = errors.New("rotation: all channels exhausted")

// Candidate is a chosen video and the channel it came from.
type Candidate struct {
	VideoID     string `json:"video_id"`
	Title       string `json:"title"`
	ChannelID   uint   `json:"channel_id"`
	ChannelName string `json:"channel_name"`
	URL         string `json:"url"`
}

// Selector holds the enabled channel list and the rotation cursor. It is not
// safe for concurrent use.
type Selector struct {
	provider provider.Client
	timeout  time.Duration
	rng      *rand.Rand
	logger   zerolog.Logger

	channels []models.Channel
	cursor   int
	resume   *interruption
}

// interruption marks where a fallback chain stopped when its context ended.
type interruption struct {
	next  int // index of the channel to query first
	tried int // channels already tried in the chain
}

// New creates a selector. A nil rng is seeded from the clock.
func New(p provider.Client, timeout time.Duration, rng *rand.Rand, logger zerolog.Logger) *Selector {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Selector{
		provider: p,
		timeout:  timeout,
		rng:      rng,
		logger:   logger.With().Str("component", "rotation").Logger(),
	}
}

// SetChannels replaces the enabled channel list. The cursor stays on the
// same channel when it is still present.
func (s *Selector) SetChannels(channels []models.Channel) {
	var currentID uint
	hadCurrent := len(s.channels) > 0
	if hadCurrent {
		currentID = s.channels[s.cursor].ID
	}

	if !sameChannels(s.channels, channels) {
		s.resume = nil
	}
	s.channels = append([]models.Channel(nil), channels...)

	if len(s.channels) == 0 {
		s.cursor = 0
		return
	}
	if hadCurrent {
		for i, ch := range s.channels {
			if ch.ID == currentID {
				s.cursor = i
				return
			}
		}
	}
	if s.cursor >= len(s.channels) {
		s.cursor = 0
	}
}

// Channels returns a copy of the current list.
func (s *Selector) Channels() []models.Channel {
	return append([]models.Channel(nil), s.channels...)
}

// Cursor returns the index of the channel tried first by the next Select.
func (s *Selector) Cursor() int {
	return s.cursor
}

// Select queries channels starting at the cursor and returns a random video
// from the first channel with results. Failures fall through to the next
// channel without moving the cursor; on success the cursor moves past the
// channel that answered.
//
// When ctx ends mid-chain the position is kept and the next call continues
// the same chain, retrying the interrupted channel, so a chain never queries
// more than len(channels) channels to completion before ErrExhausted.
func (s *Selector) Select(ctx context.Context) (Candidate, error) {
	n := len(s.channels)
	if n == 0 {
		telemetry.SelectionsTotal.WithLabelValues("exhausted").Inc()
		return Candidate{}, ErrExhausted
	}

	start, tried := s.cursor, 0
	if s.resume != nil {
		start, tried = s.resume.next, s.resume.tried
		s.resume = nil
	}

	for k := 0; tried < n; k, tried = k+1, tried+1 {
		idx := (start + k) % n
		if err := ctx.Err(); err != nil {
			s.resume = &interruption{next: idx, tried: tried}
			return Candidate{}, err
		}

		ch := s.channels[idx]

		videos, err := s.search(ctx, ch.Source)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				s.resume = &interruption{next: idx, tried: tried}
				s.logger.Warn().Err(err).Uint("channel_id", ch.ID).Str("channel", ch.Name).Msg("selection interrupted, resuming at this channel")
				return Candidate{}, ctxErr
			}
			s.logger.Warn().Err(err).Uint("channel_id", ch.ID).Str("channel", ch.Name).Msg("channel search failed, trying next")
			continue
		}
		if len(videos) == 0 {
			s.logger.Info().Uint("channel_id", ch.ID).Str("channel", ch.Name).Msg("channel returned no videos, trying next")
			continue
		}

		v := videos[s.rng.Intn(len(videos))]
		s.cursor = (idx + 1) % n

		result := "ok"
		if tried > 0 {
			result = "fallback"
		}
		telemetry.SelectionsTotal.WithLabelValues(result).Inc()

		return Candidate{
			VideoID:     v.ID,
			Title:       v.Title,
			ChannelID:   ch.ID,
			ChannelName: ch.Name,
			URL:         v.WatchURL(),
		}, nil
	}

	telemetry.SelectionsTotal.WithLabelValues("exhausted").Inc()
	return Candidate{}, ErrExhausted
}

func sameChannels(a, b []models.Channel) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}

func (s *Selector) search(ctx context.Context, source string) ([]provider.Video, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.provider.Search(ctx, source)
}
