/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package provider finds candidate videos for a channel source.
package provider

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Video is a playable search result.
type Video struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Duration time.Duration `json:"duration,omitempty"`
	Live     bool          `json:"live,omitempty"`
}

// WatchURL returns the canonical page URL handed to the player.
func (v Video) WatchURL() string {
	return "https://www.youtube.com/watch?v=" + url.QueryEscape(v.ID)
}

// VideoIDFromURL extracts the video id from a YouTube watch, short or
// youtu.be URL. Other URLs yield "".
func VideoIDFromURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	switch {
	case host == "youtu.be":
		return strings.Trim(u.Path, "/")
	case strings.HasSuffix(host, "youtube.com"):
		if v := u.Query().Get("v"); v != "" {
			return v
		}
		segments := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(segments) == 2 && (segments[0] == "shorts" || segments[0] == "live" || segments[0] == "embed") {
			return segments[1]
		}
	}
	return ""
}

// Client searches a content source. A nil error with an empty slice means
// the source had nothing to offer.
type Client interface {
	Name() string
	Search(ctx context.Context, source string) ([]Video, error)
}

// SourceKind distinguishes free-text queries from fixed channels.
type SourceKind int

const (
	SourceSearch SourceKind = iota
	SourceChannelID
	SourceHandle
	SourceChannelURL
)

func (k SourceKind) String() string {
	switch k {
	case SourceChannelID:
		return "channel_id"
	case SourceHandle:
		return "handle"
	case SourceChannelURL:
		return "channel_url"
	default:
		return "search"
	}
}

// Source is a parsed channel source string.
type Source struct {
	Kind  SourceKind
	Value string
}

var channelIDPattern = regexp.MustCompile(`^UC[A-Za-z0-9_-]{22}$`)

// ParseSource classifies a channel source: a UC channel id, an @handle, a
// YouTube channel URL, or otherwise a search query.
func ParseSource(raw string) Source {
	raw = strings.TrimSpace(raw)

	switch {
	case channelIDPattern.MatchString(raw):
		return Source{Kind: SourceChannelID, Value: raw}
	case strings.HasPrefix(raw, "@") && !strings.ContainsAny(raw, " \t"):
		return Source{Kind: SourceHandle, Value: raw}
	case strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://"):
		u, err := url.Parse(raw)
		if err != nil || !strings.Contains(u.Host, "youtube.com") {
			return Source{Kind: SourceSearch, Value: raw}
		}
		segments := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(segments) >= 2 && segments[0] == "channel" && channelIDPattern.MatchString(segments[1]) {
			return Source{Kind: SourceChannelID, Value: segments[1]}
		}
		if len(segments) >= 1 && strings.HasPrefix(segments[0], "@") {
			return Source{Kind: SourceHandle, Value: segments[0]}
		}
		return Source{Kind: SourceChannelURL, Value: raw}
	default:
		return Source{Kind: SourceSearch, Value: raw}
	}
}

// ErrorKind classifies provider failures. The rotation selector treats all
// of them the same way; the kind is kept for logs and metrics.
type ErrorKind string

const (
	KindNetwork     ErrorKind = "network"
	KindStatus      ErrorKind = "status"
	KindQuota       ErrorKind = "quota"
	KindDecode      ErrorKind = "decode"
	KindUnsupported ErrorKind = "unsupported"
	KindCommand     ErrorKind = "command"
)

// Error is a failed search.
type Error struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s search failed (%s): %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
