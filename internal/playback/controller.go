/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playback runs the schedule-driven state machine that decides when
// the player runs and what it shows.
package playback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/friendsincode/cattv/internal/display"
	"github.com/friendsincode/cattv/internal/events"
	"github.com/friendsincode/cattv/internal/models"
	"github.com/friendsincode/cattv/internal/player"
	"github.com/friendsincode/cattv/internal/provider"
	"github.com/friendsincode/cattv/internal/rotation"
	"github.com/friendsincode/cattv/internal/schedule"
	"github.com/friendsincode/cattv/internal/telemetry"
)

const tracerName = "cattv/playback"

// ErrCommandQueueFull is returned when the loop is not draining commands.
var ErrCommandQueueFull = errors.New("playback command queue is full")

// Command is a manual instruction queued to the loop.
type Command string

const (
	CommandPlay       Command = "play"
	CommandStop       Command = "stop"
	CommandReload     Command = "reload"
	CommandDisplayOn  Command = "display_on"
	CommandDisplayOff Command = "display_off"
)

// request is a queued command. target is set for a manual play of a
// specific video.
type request struct {
	cmd    Command
	target *rotation.Candidate
}

// Override is a manual decision that replaces the schedule evaluation until
// the schedule itself changes its answer.
type Override string

const (
	OverrideNone Override = ""
	OverridePlay Override = "play"
	OverrideStop Override = "stop"
)

// Catalog supplies schedules and the enabled channel list.
type Catalog interface {
	Schedules(ctx context.Context) ([]models.Schedule, error)
	EnabledChannels(ctx context.Context) ([]models.Channel, error)
}

// Selector picks the next video.
type Selector interface {
	SetChannels(channels []models.Channel)
	Select(ctx context.Context) (rotation.Candidate, error)
}

// Player runs the external player process.
type Player interface {
	Start(ctx context.Context, t player.Target) error
	Stop() error
	IsAlive() bool
	LastExit() (player.Exit, bool)
}

// Recorder writes playback history.
type Recorder interface {
	RecordStart(ctx context.Context, c rotation.Candidate, at time.Time) models.PlaybackLog
	RecordEnd(ctx context.Context, status models.PlaybackStatus, at time.Time, reason string)
	RecordFailure(ctx context.Context, c *rotation.Candidate, reason string, at time.Time) models.PlaybackLog
	Recent(ctx context.Context, limit int) []models.PlaybackLog
}

// Deps are the collaborators of the controller. Display and Bus are optional.
type Deps struct {
	Catalog  Catalog
	Selector Selector
	Player   Player
	Recorder Recorder
	Display  display.Controller
	Bus      *events.Bus
}

// Options tune the loop. Zero values fall back to defaults.
type Options struct {
	TickInterval           time.Duration
	TickBudget             time.Duration // 0 leaves ticks unbounded
	MaxConsecutiveFailures int
	FailureWindow          time.Duration
	BackoffInitial         time.Duration
	BackoffMax             time.Duration
	BackoffJitter          float64       // randomization factor, 0 for fixed delays
	RotationInterval       time.Duration // 0 disables rotation
	CommandBuffer          int
	Now                    func() time.Time
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = 30 * time.Second
	}
	if o.MaxConsecutiveFailures <= 0 {
		o.MaxConsecutiveFailures = 3
	}
	if o.FailureWindow <= 0 {
		o.FailureWindow = 5 * time.Minute
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 30 * time.Second
	}
	if o.BackoffMax < o.BackoffInitial {
		o.BackoffMax = 10 * o.BackoffInitial
	}
	if o.CommandBuffer <= 0 {
		o.CommandBuffer = 16
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// MatchedSchedule is the schedule that justified playing.
type MatchedSchedule struct {
	ID    uint   `json:"id"`
	Name  string `json:"name"`
	Start string `json:"start_time"`
	End   string `json:"end_time"`
}

// Snapshot is a read-only copy of the session for the control surface.
type Snapshot struct {
	State           State                `json:"state"`
	ShouldPlay      bool                 `json:"should_play"`
	Override        Override             `json:"override,omitempty"`
	Current         *rotation.Candidate  `json:"current,omitempty"`
	StartedAt       *time.Time           `json:"started_at,omitempty"`
	MatchedSchedule *MatchedSchedule     `json:"matched_schedule,omitempty"`
	LastError       string               `json:"last_error,omitempty"`
	Failures        int                  `json:"consecutive_failures"`
	RetryAt         *time.Time           `json:"retry_at,omitempty"`
	Channels        int                  `json:"enabled_channels"`
	Display         display.Status       `json:"display"`
	History         []models.PlaybackLog `json:"history,omitempty"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// Controller owns the playback session. All session and rotation state is
// mutated by the loop goroutine only; readers use Snapshot.
type Controller struct {
	catalog  Catalog
	selector Selector
	player   Player
	recorder Recorder
	display  display.Controller
	bus      *events.Bus
	opts     Options
	logger   zerolog.Logger

	commands chan request
	cancel   atomic.Bool

	state        State
	schedules    []models.Schedule
	channels     int
	loaded       bool
	stale        bool
	shouldPlay   bool
	matched      *models.Schedule
	override     Override
	overrideBase bool
	current      *rotation.Candidate
	manual       *rotation.Candidate
	startedAt    time.Time
	failures     []time.Time
	backoff      *backoff.ExponentialBackOff
	retryAt      time.Time
	lastError    string

	mu   sync.RWMutex
	snap Snapshot
}

// New creates a controller in the idle state.
func New(deps Deps, opts Options, logger zerolog.Logger) *Controller {
	opts = opts.withDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.BackoffInitial
	b.MaxInterval = opts.BackoffMax
	b.Multiplier = 2
	b.RandomizationFactor = opts.BackoffJitter
	b.MaxElapsedTime = 0
	b.Reset()

	disp := deps.Display
	if disp == nil {
		disp = display.Noop{}
	}

	c := &Controller{
		catalog:  deps.Catalog,
		selector: deps.Selector,
		player:   deps.Player,
		recorder: deps.Recorder,
		display:  disp,
		bus:      deps.Bus,
		opts:     opts,
		logger:   logger.With().Str("component", "playback").Logger(),
		commands: make(chan request, opts.CommandBuffer),
		state:    StateIdle,
		backoff:  b,
	}
	telemetry.SetPlaybackState(string(StateIdle), stateNames())
	c.sync(opts.Now())
	return c
}

// Run ticks until ctx is cancelled, then stops the player and closes any
// open history entry.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info().Dur("interval", c.opts.TickInterval).Msg("playback loop started")

	ticker := time.NewTicker(c.opts.TickInterval)
	defer ticker.Stop()

	c.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case <-ticker.C:
			c.Tick(ctx)
		case req := <-c.commands:
			c.process(ctx, req)
			c.Tick(ctx)
		}
	}
}

// ForcePlay starts playback regardless of the schedule.
func (c *Controller) ForcePlay() error {
	return c.enqueue(request{cmd: CommandPlay})
}

// PlayTarget behaves like ForcePlay but plays t instead of asking the
// selector. A video already playing is replaced. Rotation resumes with the
// next selection.
func (c *Controller) PlayTarget(t player.Target) error {
	title := t.Title
	if title == "" {
		title = t.URL
	}
	return c.enqueue(request{cmd: CommandPlay, target: &rotation.Candidate{
		VideoID:     provider.VideoIDFromURL(t.URL),
		Title:       title,
		ChannelName: "manual",
		URL:         t.URL,
	}})
}

// SetDisplay powers the display on or off through the loop.
func (c *Controller) SetDisplay(on bool) error {
	if on {
		return c.enqueue(request{cmd: CommandDisplayOn})
	}
	return c.enqueue(request{cmd: CommandDisplayOff})
}

// ForceStop stops playback regardless of the schedule. A start attempt
// already in flight is abandoned before the player is launched.
func (c *Controller) ForceStop() error {
	c.cancel.Store(true)
	if err := c.enqueue(request{cmd: CommandStop}); err != nil {
		c.cancel.Store(false)
		return err
	}
	return nil
}

// Reload marks the cached schedules and channels stale.
func (c *Controller) Reload() error {
	return c.enqueue(request{cmd: CommandReload})
}

func (c *Controller) enqueue(req request) error {
	select {
	case c.commands <- req:
		telemetry.CommandsTotal.WithLabelValues(string(req.cmd)).Inc()
		return nil
	default:
		c.logger.Warn().Str("command", string(req.cmd)).Msg("command queue full")
		return ErrCommandQueueFull
	}
}

// Snapshot returns the session state with up to historyLimit recent history
// entries.
func (c *Controller) Snapshot(ctx context.Context, historyLimit int) Snapshot {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()

	snap.Display = c.display.Status()
	if historyLimit > 0 {
		snap.History = c.recorder.Recent(ctx, historyLimit)
	}
	return snap
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.State
}

// Tick evaluates the schedule once and drives the state machine.
func (c *Controller) Tick(ctx context.Context) {
	started := time.Now()
	defer func() {
		telemetry.TicksTotal.Inc()
		telemetry.TickDuration.Observe(time.Since(started).Seconds())
	}()

	ctx, span := telemetry.StartSpan(ctx, tracerName, "playback.tick")
	defer span.End()

	if c.opts.TickBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.TickBudget)
		defer cancel()
	}

	now := c.opts.Now()
	c.refresh(ctx)
	play := c.evaluate(now)
	c.step(ctx, now, play)

	telemetry.AddSpanAttributes(span, map[string]any{
		"playback.state":       string(c.state),
		"playback.should_play": play,
	})
	c.sync(now)
}

func (c *Controller) process(ctx context.Context, req request) {
	now := c.opts.Now()
	cmd := req.cmd

	switch cmd {
	case CommandPlay, CommandStop:
		c.refresh(ctx)
		natural, _ := schedule.ShouldPlay(now, c.schedules)
		c.overrideBase = natural
		c.cancel.Store(false)
		c.manual = nil
		if cmd == CommandPlay {
			c.override = OverridePlay
			c.manual = req.target
			c.resetFailures()
			c.retryAt = time.Time{}
			c.backoff.Reset()
		} else {
			c.override = OverrideStop
		}
	case CommandReload:
		c.stale = true
	case CommandDisplayOn, CommandDisplayOff:
		if cmd == CommandDisplayOn {
			c.displayOn(ctx)
		} else {
			c.displayOff(ctx)
		}
		st := c.display.Status()
		c.publish(events.EventDisplay, events.Payload{
			"on":        cmd == CommandDisplayOn,
			"available": st.Available,
			"method":    st.Method,
		})
	}

	c.logger.Info().Str("command", string(cmd)).Str("state", string(c.state)).Msg("command applied")
	c.sync(now)
}

func (c *Controller) refresh(ctx context.Context) {
	if c.loaded && !c.stale {
		return
	}

	schedules, err := c.catalog.Schedules(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to load schedules, keeping previous list")
		return
	}
	channels, err := c.catalog.EnabledChannels(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to load channels, keeping previous list")
		return
	}

	c.schedules = schedules
	c.selector.SetChannels(channels)
	c.channels = len(channels)
	c.loaded, c.stale = true, false

	c.logger.Info().Int("schedules", len(schedules)).Int("channels", len(channels)).Msg("catalog loaded")
	c.publish(events.EventCatalog, events.Payload{
		"schedules": len(schedules),
		"channels":  len(channels),
	})
}

func (c *Controller) evaluate(now time.Time) bool {
	natural, matched := schedule.ShouldPlay(now, c.schedules)
	c.matched = matched

	if c.override != OverrideNone && natural != c.overrideBase {
		c.logger.Info().Str("override", string(c.override)).Bool("schedule", natural).Msg("schedule changed, override released")
		c.override = OverrideNone
	}

	play := natural
	switch c.override {
	case OverridePlay:
		play = true
	case OverrideStop:
		play = false
	}
	c.shouldPlay = play
	return play
}

func (c *Controller) step(ctx context.Context, now time.Time, play bool) {
	switch c.state {
	case StateIdle:
		if play {
			c.start(ctx, now)
		}

	case StateStarting, StateRecovering:
		// Left over from a tick that ran out of budget.
		if play {
			c.start(ctx, now)
		} else {
			c.idle(ctx)
		}

	case StatePlaying:
		switch {
		case !c.player.IsAlive():
			c.recover(ctx, now, play)
		case !play:
			c.stop(ctx, now)
		case c.manual != nil:
			c.replace(ctx, now, "manual")
		case c.rotationDue(now):
			c.replace(ctx, now, "rotation")
		}

	case StateFailed:
		switch {
		case !play:
			c.resetFailures()
			c.retryAt = time.Time{}
			c.backoff.Reset()
			c.idle(ctx)
		case !now.Before(c.retryAt):
			c.start(ctx, now)
		}
	}
}

// start selects and launches videos until one plays, the failure budget is
// spent, or every channel is exhausted.
func (c *Controller) start(ctx context.Context, now time.Time) {
	from := c.state
	c.transition(StateStarting)
	if from == StateIdle {
		c.displayOn(ctx)
	}

	ctx, span := telemetry.StartSpan(ctx, tracerName, "playback.start")
	defer span.End()

	for {
		var (
			candidate rotation.Candidate
			err       error
		)
		if c.manual != nil {
			candidate, c.manual = *c.manual, nil
		} else {
			candidate, err = c.selector.Select(ctx)
		}
		if err != nil {
			if ctx.Err() != nil {
				c.lastError = "tick budget exceeded while selecting"
				c.logger.Warn().Err(err).Msg("selection interrupted, retrying next tick")
				return
			}
			telemetry.RecordError(span, err)
			reason := err.Error()
			c.recorder.RecordFailure(context.WithoutCancel(ctx), nil, reason, now)
			c.fail(now, reason)
			return
		}

		if c.cancel.Load() {
			c.logger.Info().Str("video_id", candidate.VideoID).Msg("start cancelled by stop command")
			c.idle(ctx)
			return
		}

		err = c.player.Start(ctx, player.Target{URL: candidate.URL, Title: candidate.Title})
		if err == nil {
			c.playing(ctx, candidate, now)
			return
		}
		if ctx.Err() != nil {
			c.lastError = "tick budget exceeded while launching player"
			c.logger.Warn().Err(err).Msg("launch interrupted, retrying next tick")
			return
		}

		telemetry.RecordError(span, err)
		reason := err.Error()
		c.logger.Warn().Err(err).Str("video_id", candidate.VideoID).Msg("player launch failed")
		c.recorder.RecordFailure(context.WithoutCancel(ctx), &candidate, reason, now)
		c.lastError = reason
		if !c.consumeFailure(now) {
			c.fail(now, reason)
			return
		}
	}
}

func (c *Controller) playing(ctx context.Context, candidate rotation.Candidate, now time.Time) {
	c.current = &candidate
	c.startedAt = now
	c.lastError = ""
	c.retryAt = time.Time{}
	c.backoff.Reset()

	c.recorder.RecordStart(context.WithoutCancel(ctx), candidate, now)
	c.transition(StatePlaying)

	c.logger.Info().
		Str("video_id", candidate.VideoID).
		Str("title", candidate.Title).
		Str("channel", candidate.ChannelName).
		Msg("now playing")
	c.publish(events.EventNowPlaying, events.Payload{
		"playing":      true,
		"video_id":     candidate.VideoID,
		"title":        candidate.Title,
		"channel_id":   candidate.ChannelID,
		"channel_name": candidate.ChannelName,
		"started_at":   now,
	})
}

func (c *Controller) recover(ctx context.Context, now time.Time, play bool) {
	exit, ok := c.player.LastExit()
	c.transition(StateRecovering)
	c.current = nil

	if ok && exit.Clean() {
		c.recorder.RecordEnd(context.WithoutCancel(ctx), models.PlaybackCompleted, now, "")
		c.logger.Info().Dur("runtime", exit.Runtime).Msg("video finished")
		c.resetFailures()
	} else {
		reason := exitReason(exit, ok)
		c.recorder.RecordEnd(context.WithoutCancel(ctx), models.PlaybackFailed, now, reason)
		c.lastError = reason
		c.logger.Warn().Str("reason", reason).Msg("player exited unexpectedly")
		if !c.consumeFailure(now) && play {
			c.fail(now, reason)
			return
		}
	}

	if !play {
		c.idle(ctx)
		return
	}
	c.start(ctx, now)
}

func (c *Controller) stop(ctx context.Context, now time.Time) {
	c.transition(StateStopping)
	if err := c.player.Stop(); err != nil {
		c.logger.Warn().Err(err).Msg("player stop failed")
	}
	c.recorder.RecordEnd(context.WithoutCancel(ctx), models.PlaybackCompleted, now, "")
	c.current = nil
	c.resetFailures()
	c.transition(StateIdle)
	c.displayOff(ctx)
	c.publish(events.EventNowPlaying, events.Payload{"playing": false})
}

// replace closes the current entry as skipped and starts the next video.
func (c *Controller) replace(ctx context.Context, now time.Time, reason string) {
	c.logger.Info().Str("reason", reason).Msg("replacing current video")
	c.recorder.RecordEnd(context.WithoutCancel(ctx), models.PlaybackSkipped, now, reason)
	c.current = nil
	c.start(ctx, now)
}

func (c *Controller) rotationDue(now time.Time) bool {
	if c.opts.RotationInterval <= 0 || c.current == nil {
		return false
	}
	return !now.Before(c.startedAt.Add(c.opts.RotationInterval))
}

// fail enters Failed and schedules the next attempt.
func (c *Controller) fail(now time.Time, reason string) {
	if err := c.player.Stop(); err != nil {
		c.logger.Warn().Err(err).Msg("player stop failed")
	}
	c.current = nil
	c.lastError = reason

	delay := c.backoff.NextBackOff()
	c.retryAt = now.Add(delay)
	c.transition(StateFailed)

	c.logger.Warn().Str("reason", reason).Dur("retry_in", delay).Msg("playback failed, backing off")
}

// idle stops anything still running and blanks the display.
func (c *Controller) idle(ctx context.Context) {
	if err := c.player.Stop(); err != nil {
		c.logger.Warn().Err(err).Msg("player stop failed")
	}
	c.current = nil
	c.transition(StateIdle)
	c.displayOff(ctx)
}

func (c *Controller) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.player.Stop(); err != nil {
		c.logger.Warn().Err(err).Msg("player stop failed during shutdown")
	}
	if c.state == StatePlaying {
		c.transition(StateStopping)
		c.recorder.RecordEnd(ctx, models.PlaybackCompleted, c.opts.Now(), "")
	}
	c.current = nil
	c.transition(StateIdle)
	c.logger.Info().Msg("playback loop stopped")
}

// consumeFailure records a failure and reports whether the budget allows
// another attempt.
func (c *Controller) consumeFailure(now time.Time) bool {
	cutoff := now.Add(-c.opts.FailureWindow)
	kept := c.failures[:0]
	for _, t := range c.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.failures = append(kept, now)
	return len(c.failures) < c.opts.MaxConsecutiveFailures
}

func (c *Controller) resetFailures() {
	c.failures = c.failures[:0]
}

func (c *Controller) transition(to State) {
	from := c.state
	if from == to {
		return
	}
	if !isValidTransition(from, to) {
		c.logger.Error().Str("from", string(from)).Str("to", string(to)).Msg("invalid state transition ignored")
		return
	}

	c.state = to
	telemetry.StateTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	telemetry.SetPlaybackState(string(to), stateNames())

	c.logger.Debug().Str("from", string(from)).Str("to", string(to)).Msg("state transition")

	now := c.opts.Now()
	c.sync(now)
	c.publish(events.EventStateChange, events.Payload{
		"from": string(from),
		"to":   string(to),
		"at":   now,
	})
}

func (c *Controller) sync(now time.Time) {
	snap := Snapshot{
		State:      c.state,
		ShouldPlay: c.shouldPlay,
		Override:   c.override,
		LastError:  c.lastError,
		Failures:   len(c.failures),
		Channels:   c.channels,
		UpdatedAt:  now,
	}
	if c.current != nil {
		current := *c.current
		started := c.startedAt
		snap.Current = &current
		snap.StartedAt = &started
	}
	if c.matched != nil {
		snap.MatchedSchedule = &MatchedSchedule{
			ID:    c.matched.ID,
			Name:  c.matched.Name,
			Start: schedule.FormatClock(c.matched.StartMinute),
			End:   schedule.FormatClock(c.matched.EndMinute),
		}
	}
	if c.state == StateFailed && !c.retryAt.IsZero() {
		retry := c.retryAt
		snap.RetryAt = &retry
	}

	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
}

func (c *Controller) publish(eventType events.EventType, payload events.Payload) {
	if c.bus != nil {
		c.bus.Publish(eventType, payload)
	}
}

func (c *Controller) displayOn(ctx context.Context) {
	if err := c.display.TurnOn(ctx); err != nil && !errors.Is(err, display.ErrUnavailable) {
		c.logger.Warn().Err(err).Msg("display on failed")
	}
}

func (c *Controller) displayOff(ctx context.Context) {
	if err := c.display.TurnOff(ctx); err != nil && !errors.Is(err, display.ErrUnavailable) {
		c.logger.Warn().Err(err).Msg("display off failed")
	}
}

func exitReason(exit player.Exit, known bool) string {
	if !known {
		return "player process ended"
	}
	reason := fmt.Sprintf("player exited with code %d", exit.Code)
	if exit.Err != nil {
		reason = "player exited: " + exit.Err.Error()
	}
	if exit.Stderr != "" {
		lines := strings.Split(exit.Stderr, "\n")
		reason += ": " + strings.TrimSpace(lines[len(lines)-1])
	}
	return reason
}
