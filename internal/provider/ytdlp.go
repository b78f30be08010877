/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Runner executes a command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%w: %s", err, msg)
		}
		return out, err
	}
	return out, nil
}

// YTDLPClient searches by shelling out to yt-dlp. It needs no API key.
type YTDLPClient struct {
	bin        string
	maxResults int
	run        Runner
}

// NewYTDLPClient creates a yt-dlp backed client. A nil runner uses ExecRunner.
func NewYTDLPClient(bin string, maxResults int, run Runner) *YTDLPClient {
	if bin == "" {
		bin = "yt-dlp"
	}
	if maxResults <= 0 {
		maxResults = 10
	}
	if run == nil {
		run = ExecRunner
	}
	return &YTDLPClient{bin: bin, maxResults: maxResults, run: run}
}

// Name implements Client.
func (c *YTDLPClient) Name() string { return "ytdlp" }

type ytdlpEntry struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Duration   float64 `json:"duration"`
	LiveStatus string  `json:"live_status"`
}

// Target returns the yt-dlp argument that lists videos for source.
func (c *YTDLPClient) Target(source string) string {
	src := ParseSource(source)
	switch src.Kind {
	case SourceChannelID:
		return "https://www.youtube.com/channel/" + src.Value + "/videos"
	case SourceHandle:
		return "https://www.youtube.com/" + src.Value + "/videos"
	case SourceChannelURL:
		return strings.TrimSuffix(src.Value, "/") + "/videos"
	default:
		return fmt.Sprintf("ytsearch%d:%s", c.maxResults, src.Value)
	}
}

// Search implements Client.
func (c *YTDLPClient) Search(ctx context.Context, source string) ([]Video, error) {
	args := []string{
		"--flat-playlist",
		"--dump-json",
		"--no-warnings",
		"--playlist-end", fmt.Sprint(c.maxResults),
		c.Target(source),
	}

	out, err := c.run(ctx, c.bin, args...)
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) || ctx.Err() != nil {
			return nil, &Error{Provider: c.Name(), Kind: KindCommand, Err: err}
		}
		return nil, &Error{Provider: c.Name(), Kind: KindStatus, Err: err}
	}

	return parseYTDLPOutput(out)
}

// parseYTDLPOutput decodes one JSON object per line.
func parseYTDLPOutput(out []byte) ([]Video, error) {
	var videos []Video
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var e ytdlpEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, &Error{Provider: "ytdlp", Kind: KindDecode, Err: err}
		}
		if e.ID == "" {
			continue
		}
		videos = append(videos, Video{
			ID:       e.ID,
			Title:    e.Title,
			Duration: time.Duration(e.Duration * float64(time.Second)),
			Live:     e.LiveStatus == "is_live",
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, &Error{Provider: "ytdlp", Kind: KindDecode, Err: err}
	}
	return videos, nil
}

// Resolve returns a direct media URL for a video page, for players that
// cannot fetch YouTube pages themselves.
func (c *YTDLPClient) Resolve(ctx context.Context, pageURL string) (string, error) {
	out, err := c.run(ctx, c.bin, "-g", "-f", "best[ext=mp4]/best", "--no-warnings", "--no-playlist", pageURL)
	if err != nil {
		return "", &Error{Provider: c.Name(), Kind: KindCommand, Err: err}
	}
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line, nil
		}
	}
	return "", &Error{Provider: c.Name(), Kind: KindDecode, Err: errors.New("no stream url in output")}
}
