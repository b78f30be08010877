/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package display switches the attached screen on and off.
package display

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// ErrUnavailable is returned when no display control path exists.
var ErrUnavailable = errors.New("display control unavailable")

// Status describes the controller for the status snapshot.
type Status struct {
	Available bool   `json:"available"`
	Method    string `json:"method"`
	Path      string `json:"path,omitempty"`
	Blank     bool   `json:"blank"`
}

// Controller powers the display. Callers treat errors as advisory.
type Controller interface {
	TurnOn(ctx context.Context) error
	TurnOff(ctx context.Context) error
	Status() Status
}

// DefaultBlankFiles are tried in order.
var DefaultBlankFiles = []string{
	"/sys/class/graphics/fb0/blank",
	"/sys/class/graphics/fb1/blank",
}

// Framebuffer blanks the console framebuffer through sysfs.
type Framebuffer struct {
	path   string
	logger zerolog.Logger

	mu    sync.Mutex
	blank bool
}

// NewFramebuffer returns a controller on the first writable blank file.
func NewFramebuffer(candidates []string, logger zerolog.Logger) (*Framebuffer, error) {
	logger = logger.With().Str("component", "display").Logger()
	for _, path := range candidates {
		f, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err != nil {
			logger.Debug().Err(err).Str("path", path).Msg("framebuffer not writable")
			continue
		}
		_ = f.Close()
		logger.Info().Str("path", path).Msg("framebuffer display control enabled")
		return &Framebuffer{path: path, logger: logger}, nil
	}
	return nil, fmt.Errorf("%w: no writable framebuffer in %s", ErrUnavailable, strings.Join(candidates, ", "))
}

// TurnOn unblanks the framebuffer.
func (f *Framebuffer) TurnOn(ctx context.Context) error {
	return f.write("0", false)
}

// TurnOff blanks the framebuffer.
func (f *Framebuffer) TurnOff(ctx context.Context) error {
	return f.write("1", true)
}

func (f *Framebuffer) write(value string, blank bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.WriteFile(f.path, []byte(value), 0); err != nil {
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	f.blank = blank
	f.logger.Info().Bool("blank", blank).Msg("display power changed")
	return nil
}

// Status reads the current blank state, falling back to the last written one.
func (f *Framebuffer) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()

	st := Status{Available: true, Method: "framebuffer", Path: f.path, Blank: f.blank}
	if raw, err := os.ReadFile(f.path); err == nil {
		st.Blank = strings.TrimSpace(string(raw)) == "1"
	}
	return st
}

// Noop is used when no display control is configured.
type Noop struct{}

func (Noop) TurnOn(ctx context.Context) error  { return nil }
func (Noop) TurnOff(ctx context.Context) error { return nil }
func (Noop) Status() Status                    { return Status{Method: "none"} }

// New picks a framebuffer controller when enabled and available, otherwise Noop.
func New(enabled bool, logger zerolog.Logger) Controller {
	if !enabled {
		return Noop{}
	}
	fb, err := NewFramebuffer(DefaultBlankFiles, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("display control disabled")
		return Noop{}
	}
	return fb
}
