/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package player supervises the external video player process.
package player

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/friendsincode/cattv/internal/config"
)

// Backend turns a media URL into a player command line.
type Backend interface {
	Name() string
	Command(url string) (bin string, args []string)
	// NeedsDirectURL reports whether page URLs must be resolved to a media
	// stream before launch.
	NeedsDirectURL() bool
}

// Resolver maps a video page URL to a directly playable stream URL.
type Resolver interface {
	Resolve(ctx context.Context, pageURL string) (string, error)
}

// NewBackend returns the backend for name. bin overrides the default binary.
func NewBackend(name, bin, audio string) (Backend, error) {
	switch strings.ToLower(name) {
	case config.PlayerVLC:
		return &vlcBackend{bin: orDefault(bin, "cvlc"), audio: audio}, nil
	case config.PlayerMPV:
		return &mpvBackend{bin: orDefault(bin, "mpv"), audio: audio}, nil
	case config.PlayerOMXPlayer:
		return &omxBackend{bin: orDefault(bin, "omxplayer"), audio: audio}, nil
	default:
		return nil, fmt.Errorf("unknown player backend %q", name)
	}
}

// Available reports whether the backend binary is on PATH.
func Available(b Backend) bool {
	bin, _ := b.Command("")
	_, err := exec.LookPath(bin)
	return err == nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

type vlcBackend struct {
	bin   string
	audio string
}

func (b *vlcBackend) Name() string         { return config.PlayerVLC }
func (b *vlcBackend) NeedsDirectURL() bool { return false }

func (b *vlcBackend) Command(url string) (string, []string) {
	args := []string{
		"--fullscreen",
		"--no-video-title-show",
		"--no-mouse-events",
		"--no-keyboard-events",
		"--intf", "dummy",
		"--play-and-exit",
		"--quiet",
	}
	switch b.audio {
	case "hdmi":
		args = append(args, "--alsa-audio-device", "hdmi")
	case "local":
		args = append(args, "--alsa-audio-device", "default")
	}
	return b.bin, append(args, url)
}

type mpvBackend struct {
	bin   string
	audio string
}

func (b *mpvBackend) Name() string         { return config.PlayerMPV }
func (b *mpvBackend) NeedsDirectURL() bool { return false }

func (b *mpvBackend) Command(url string) (string, []string) {
	args := []string{
		"--fullscreen",
		"--no-input-default-bindings",
		"--no-osc",
		"--no-input-cursor",
		"--really-quiet",
	}
	switch b.audio {
	case "hdmi":
		args = append(args, "--audio-device=alsa/hdmi")
	case "local":
		args = append(args, "--audio-device=alsa/default")
	}
	return b.bin, append(args, url)
}

type omxBackend struct {
	bin   string
	audio string
}

func (b *omxBackend) Name() string         { return config.PlayerOMXPlayer }
func (b *omxBackend) NeedsDirectURL() bool { return true }

func (b *omxBackend) Command(url string) (string, []string) {
	args := []string{"--blank"}
	switch b.audio {
	case "hdmi", "local", "both":
		args = append(args, "-o", b.audio)
	}
	return b.bin, append(args, url)
}
