/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package rotation

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/cattv/internal/models"
	"github.com/friendsincode/cattv/internal/provider"
)

// fakeProvider answers by source. Sources listed in failing return an error.
type fakeProvider struct {
	failing map[string]bool
	empty   map[string]bool
	calls   []string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Search(ctx context.Context, source string) ([]provider.Video, error) {
	f.calls = append(f.calls, source)
	if f.failing[source] {
		return nil, &provider.Error{Provider: "fake", Kind: provider.KindNetwork, Err: errors.New("unreachable")}
	}
	if f.empty[source] {
		return nil, nil
	}
	return []provider.Video{
		{ID: source + "-1", Title: source + " one"},
		{ID: source + "-2", Title: source + " two"},
	}, nil
}

func threeChannels() []models.Channel {
	return []models.Channel{
		{ID: 1, Name: "A", Source: "a", Enabled: true, Position: 0},
		{ID: 2, Name: "B", Source: "b", Enabled: true, Position: 1},
		{ID: 3, Name: "C", Source: "c", Enabled: true, Position: 2},
	}
}

func newSelector(p provider.Client) *Selector {
	return New(p, time.Second, rand.New(rand.NewSource(1)), zerolog.Nop())
}

func TestSelectRoundRobin(t *testing.T) {
	s := newSelector(&fakeProvider{})
	s.SetChannels(threeChannels())

	var got []uint
	for i := 0; i < 6; i++ {
		c, err := s.Select(context.Background())
		if err != nil {
			t.Fatalf("select %d: %v", i, err)
		}
		got = append(got, c.ChannelID)
	}

	want := []uint{1, 2, 3, 1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rotation order = %v, want %v", got, want)
		}
	}
}

func TestSelectFallsBackWithoutRaising(t *testing.T) {
	p := &fakeProvider{failing: map[string]bool{"a": true}}
	s := newSelector(p)
	s.SetChannels(threeChannels())

	c, err := s.Select(context.Background())
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if c.ChannelID != 2 {
		t.Fatalf("expected candidate from B, got channel %d", c.ChannelID)
	}
	if c.VideoID != "b-1" && c.VideoID != "b-2" {
		t.Fatalf("unexpected video %q", c.VideoID)
	}
	if c.URL == "" {
		t.Fatal("expected watch URL")
	}

	// Cursor behaves as if B had been the starting channel.
	if s.Cursor() != 2 {
		t.Fatalf("cursor = %d, want 2 (channel C)", s.Cursor())
	}
	next, err := s.Select(context.Background())
	if err != nil {
		t.Fatalf("second select: %v", err)
	}
	if next.ChannelID != 3 {
		t.Fatalf("expected C next, got channel %d", next.ChannelID)
	}
}

func TestSelectEmptyResultFallsThrough(t *testing.T) {
	p := &fakeProvider{empty: map[string]bool{"a": true, "b": true}}
	s := newSelector(p)
	s.SetChannels(threeChannels())

	c, err := s.Select(context.Background())
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if c.ChannelID != 3 {
		t.Fatalf("expected C, got %d", c.ChannelID)
	}
	if s.Cursor() != 0 {
		t.Fatalf("cursor should wrap to 0, got %d", s.Cursor())
	}
}

func TestSelectExhausted(t *testing.T) {
	p := &fakeProvider{failing: map[string]bool{"a": true, "b": true, "c": true}}
	s := newSelector(p)
	s.SetChannels(threeChannels())

	_, err := s.Select(context.Background())
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if len(p.calls) != 3 {
		t.Fatalf("expected each channel tried once, got %v", p.calls)
	}
	if s.Cursor() != 0 {
		t.Fatalf("cursor must not move on exhaustion, got %d", s.Cursor())
	}
}

func TestSelectNoChannels(t *testing.T) {
	s := newSelector(&fakeProvider{})
	if _, err := s.Select(context.Background()); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
}

func TestSelectStopsOnCancelledContext(t *testing.T) {
	p := &fakeProvider{}
	s := newSelector(p)
	s.SetChannels(threeChannels())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Select(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(p.calls) != 0 {
		t.Fatalf("expected no provider calls, got %v", p.calls)
	}
}

func TestSetChannelsKeepsCursorOnSameChannel(t *testing.T) {
	s := newSelector(&fakeProvider{})
	s.SetChannels(threeChannels())
	if _, err := s.Select(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Cursor is on B (ID 2). Prepend a channel; B moves to index 2.
	updated := append([]models.Channel{{ID: 9, Name: "Z", Source: "z", Enabled: true}}, threeChannels()...)
	s.SetChannels(updated)
	if s.Cursor() != 2 {
		t.Fatalf("cursor = %d, want 2", s.Cursor())
	}

	// B removed: cursor clamps into range.
	s.SetChannels([]models.Channel{{ID: 1, Name: "A", Source: "a"}})
	if s.Cursor() != 0 {
		t.Fatalf("cursor = %d, want 0", s.Cursor())
	}

	s.SetChannels(nil)
	if s.Cursor() != 0 || len(s.Channels()) != 0 {
		t.Fatal("expected empty selector")
	}
}

// cancellingProvider ends the caller's context the first time cancelOn is
// searched, as a tick budget running out mid-chain would.
type cancellingProvider struct {
	fakeProvider
	cancelOn string
	cancel   context.CancelFunc
}

func (p *cancellingProvider) Search(ctx context.Context, source string) ([]provider.Video, error) {
	if source == p.cancelOn && p.cancel != nil {
		p.calls = append(p.calls, source)
		p.cancel()
		p.cancel = nil
		return nil, ctx.Err()
	}
	return p.fakeProvider.Search(ctx, source)
}

func TestSelectResumesInterruptedChain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &cancellingProvider{
		fakeProvider: fakeProvider{failing: map[string]bool{"a": true}},
		cancelOn:     "b",
		cancel:       cancel,
	}
	s := newSelector(p)
	s.SetChannels(threeChannels())

	if _, err := s.Select(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if s.Cursor() != 0 {
		t.Fatalf("interrupted chain moved the cursor to %d", s.Cursor())
	}

	c, err := s.Select(context.Background())
	if err != nil {
		t.Fatalf("resumed select: %v", err)
	}
	if c.ChannelID != 2 {
		t.Fatalf("expected B after resuming, got channel %d", c.ChannelID)
	}
	want := []string{"a", "b", "b"}
	if len(p.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", p.calls, want)
	}
	for i := range want {
		if p.calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", p.calls, want)
		}
	}
	if s.Cursor() != 2 {
		t.Fatalf("cursor = %d, want 2", s.Cursor())
	}
}

func TestSelectInterruptedChainStillExhausts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &cancellingProvider{
		fakeProvider: fakeProvider{failing: map[string]bool{"a": true, "b": true, "c": true}},
		cancelOn:     "b",
		cancel:       cancel,
	}
	s := newSelector(p)
	s.SetChannels(threeChannels())

	if _, err := s.Select(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := s.Select(context.Background()); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	// A is not queried again: the chain covers each channel once.
	want := []string{"a", "b", "b", "c"}
	if len(p.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", p.calls, want)
	}

	// The next chain starts over at the cursor.
	p.calls = nil
	if _, err := s.Select(context.Background()); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if len(p.calls) != 3 || p.calls[0] != "a" {
		t.Fatalf("expected a fresh chain from A, got %v", p.calls)
	}
}

func TestSetChannelsDropsResumeWhenListChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &cancellingProvider{cancelOn: "a", cancel: cancel}
	s := newSelector(p)
	s.SetChannels(threeChannels())

	if _, err := s.Select(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	s.SetChannels(threeChannels()[1:])

	c, err := s.Select(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if c.ChannelID != 2 {
		t.Fatalf("expected B from the new list, got channel %d", c.ChannelID)
	}
}
