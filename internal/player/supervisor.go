/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/cattv/internal/telemetry"
)

// ErrExitedEarly is returned when the player dies inside the startup grace.
var ErrExitedEarly = errors.New("player exited during startup")

// LaunchError wraps a failure to get the player running.
type LaunchError struct {
	Backend string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Backend, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// Target is what the player should show.
type Target struct {
	URL   string
	Title string
}

// Exit describes how the last process ended.
type Exit struct {
	Code     int // -1 when killed by a signal
	Err      error
	Stderr   string
	At       time.Time
	Runtime  time.Duration
	Signaled bool // terminated by Stop
}

// Clean reports a zero exit code not caused by Stop.
func (e Exit) Clean() bool {
	return e.Code == 0 && e.Err == nil && !e.Signaled
}

// Options tune process lifecycle timing.
type Options struct {
	StartupGrace time.Duration
	StopGrace    time.Duration
}

// Supervisor owns at most one running player process.
type Supervisor struct {
	backend  Backend
	resolver Resolver
	opts     Options
	logger   zerolog.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	done      chan struct{} // closed when the process has exited
	stderr    *tailBuffer
	target    Target
	startedAt time.Time
	stopping  bool
	lastExit  *Exit
}

// NewSupervisor creates a supervisor. resolver may be nil.
func NewSupervisor(backend Backend, resolver Resolver, opts Options, logger zerolog.Logger) *Supervisor {
	if opts.StopGrace <= 0 {
		opts.StopGrace = 5 * time.Second
	}
	return &Supervisor{
		backend:  backend,
		resolver: resolver,
		opts:     opts,
		logger:   logger.With().Str("component", "player").Str("backend", backend.Name()).Logger(),
	}
}

// Backend returns the configured backend.
func (s *Supervisor) Backend() Backend {
	return s.backend
}

// Start launches the player for t, stopping any running process first.
// ctx bounds URL resolution and the startup grace; the process itself
// outlives it.
func (s *Supervisor) Start(ctx context.Context, t Target) error {
	if err := s.Stop(); err != nil {
		return err
	}

	url := t.URL
	if s.backend.NeedsDirectURL() && s.resolver != nil {
		resolved, err := s.resolver.Resolve(ctx, t.URL)
		if err != nil {
			telemetry.PlayerStartsTotal.WithLabelValues(s.backend.Name(), "resolve_error").Inc()
			return &LaunchError{Backend: s.backend.Name(), Err: fmt.Errorf("resolve stream: %w", err)}
		}
		url = resolved
	}

	bin, args := s.backend.Command(url)
	cmd := exec.Command(bin, args...)
	configureProcess(cmd)
	stderr := newTailBuffer(4096)
	cmd.Stdout = nil
	cmd.Stderr = stderr
	cmd.WaitDelay = time.Second // detached grandchildren may keep stderr open

	if err := cmd.Start(); err != nil {
		telemetry.PlayerStartsTotal.WithLabelValues(s.backend.Name(), "error").Inc()
		return &LaunchError{Backend: s.backend.Name(), Err: err}
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.cmd = cmd
	s.done = done
	s.stderr = stderr
	s.target = t
	s.startedAt = time.Now()
	s.stopping = false
	s.mu.Unlock()

	// Single goroutine to wait for process completion
	go s.wait(cmd, done)

	s.logger.Info().Int("pid", cmd.Process.Pid).Str("title", t.Title).Str("url", t.URL).Msg("player started")

	grace := s.opts.StartupGrace
	if grace <= 0 {
		telemetry.PlayerStartsTotal.WithLabelValues(s.backend.Name(), "ok").Inc()
		return nil
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		telemetry.PlayerStartsTotal.WithLabelValues(s.backend.Name(), "exited_early").Inc()
		exit, _ := s.LastExit()
		err := ErrExitedEarly
		if exit.Stderr != "" {
			err = fmt.Errorf("%w: %s", ErrExitedEarly, exit.Stderr)
		}
		s.clear(cmd)
		return &LaunchError{Backend: s.backend.Name(), Err: err}
	case <-ctx.Done():
		telemetry.PlayerStartsTotal.WithLabelValues(s.backend.Name(), "timeout").Inc()
		_ = s.Stop()
		return &LaunchError{Backend: s.backend.Name(), Err: ctx.Err()}
	case <-timer.C:
		telemetry.PlayerStartsTotal.WithLabelValues(s.backend.Name(), "ok").Inc()
		return nil
	}
}

func (s *Supervisor) wait(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()

	s.mu.Lock()
	exit := Exit{Code: 0, At: time.Now(), Runtime: time.Since(s.startedAt), Signaled: s.stopping}
	if cmd.ProcessState != nil {
		exit.Code = cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		exit.Err = err
	}
	if s.stderr != nil && s.cmd == cmd {
		exit.Stderr = strings.TrimSpace(s.stderr.String())
	}
	if s.cmd == cmd {
		s.lastExit = &exit
	}
	s.mu.Unlock()
	close(done)

	reason := "clean"
	switch {
	case exit.Signaled:
		reason = "stopped"
	case exit.Code != 0 || exit.Err != nil:
		reason = "error"
	}
	telemetry.PlayerExitsTotal.WithLabelValues(reason).Inc()

	if reason == "error" {
		s.logger.Warn().Int("code", exit.Code).Str("stderr", exit.Stderr).Dur("runtime", exit.Runtime).Msg("player exited")
	} else {
		s.logger.Info().Str("reason", reason).Dur("runtime", exit.Runtime).Msg("player exited")
	}
}

// Stop terminates the running player. It is a no-op when nothing runs.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	cmd := s.cmd
	done := s.done
	if cmd != nil {
		s.stopping = true
	}
	s.mu.Unlock()

	if cmd == nil || done == nil {
		return nil
	}

	// Check if already exited
	select {
	case <-done:
		s.clear(cmd)
		return nil
	default:
	}

	signalProcess(cmd, syscall.SIGTERM)

	timer := time.NewTimer(s.opts.StopGrace)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		s.logger.Warn().Dur("grace", s.opts.StopGrace).Msg("player ignored SIGTERM, killing")
		signalProcess(cmd, syscall.SIGKILL)
		<-done
	}

	s.clear(cmd)
	s.logger.Info().Msg("player stopped")
	return nil
}

func (s *Supervisor) clear(cmd *exec.Cmd) {
	s.mu.Lock()
	if s.cmd == cmd {
		s.cmd = nil
		s.done = nil
		s.stderr = nil
	}
	s.mu.Unlock()
}

// IsAlive reports whether the owned process is still running.
func (s *Supervisor) IsAlive() bool {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// LastExit returns how the most recent process ended.
func (s *Supervisor) LastExit() (Exit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastExit == nil {
		return Exit{}, false
	}
	return *s.lastExit, true
}

// Current returns the target of the running process.
func (s *Supervisor) Current() (Target, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil {
		return Target{}, false
	}
	return s.target, true
}

// PID returns the running process id, or 0.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
