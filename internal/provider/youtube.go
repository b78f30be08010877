/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// YouTubeClient searches through the YouTube Data API v3.
type YouTubeClient struct {
	apiKey     string
	searchURL  string
	maxResults int
	http       *http.Client
}

// NewYouTubeClient creates an API client. searchURL is normally
// https://www.googleapis.com/youtube/v3/search.
func NewYouTubeClient(apiKey, searchURL string, maxResults int, httpClient *http.Client) *YouTubeClient {
	if maxResults <= 0 || maxResults > 50 {
		maxResults = 10
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &YouTubeClient{
		apiKey:     apiKey,
		searchURL:  searchURL,
		maxResults: maxResults,
		http:       httpClient,
	}
}

// Name implements Client.
func (c *YouTubeClient) Name() string { return "youtube_api" }

type ytSearchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title                string `json:"title"`
			LiveBroadcastContent string `json:"liveBroadcastContent"`
		} `json:"snippet"`
	} `json:"items"`
}

type ytChannelsResponse struct {
	Items []struct {
		ID string `json:"id"`
	} `json:"items"`
}

type ytErrorResponse struct {
	Error struct {
		Code   int `json:"code"`
		Errors []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

// Search implements Client.
func (c *YouTubeClient) Search(ctx context.Context, source string) ([]Video, error) {
	src := ParseSource(source)

	val := url.Values{}
	val.Set("part", "snippet")
	val.Set("type", "video")
	val.Set("maxResults", fmt.Sprint(c.maxResults))
	val.Set("key", c.apiKey)

	switch src.Kind {
	case SourceSearch:
		val.Set("q", src.Value)
	case SourceChannelID:
		val.Set("channelId", src.Value)
		val.Set("order", "date")
	case SourceHandle:
		channelID, err := c.resolveHandle(ctx, src.Value)
		if err != nil {
			return nil, err
		}
		val.Set("channelId", channelID)
		val.Set("order", "date")
	default:
		return nil, &Error{Provider: c.Name(), Kind: KindUnsupported, Err: fmt.Errorf("cannot resolve %s %q", src.Kind, src.Value)}
	}

	var body ytSearchResponse
	if err := c.get(ctx, c.searchURL+"?"+val.Encode(), &body); err != nil {
		return nil, err
	}

	out := make([]Video, 0, len(body.Items))
	for _, it := range body.Items {
		if it.ID.VideoID == "" {
			continue
		}
		out = append(out, Video{
			ID:    it.ID.VideoID,
			Title: it.Snippet.Title,
			Live:  it.Snippet.LiveBroadcastContent == "live",
		})
	}
	return out, nil
}

// resolveHandle maps an @handle to its UC channel id.
func (c *YouTubeClient) resolveHandle(ctx context.Context, handle string) (string, error) {
	val := url.Values{}
	val.Set("part", "id")
	val.Set("forHandle", handle)
	val.Set("key", c.apiKey)

	var body ytChannelsResponse
	if err := c.get(ctx, c.endpoint("channels")+"?"+val.Encode(), &body); err != nil {
		return "", err
	}
	if len(body.Items) == 0 || body.Items[0].ID == "" {
		return "", &Error{Provider: c.Name(), Kind: KindStatus, Err: fmt.Errorf("handle %s not found", handle)}
	}
	return body.Items[0].ID, nil
}

// endpoint derives a sibling API endpoint from the configured search URL.
func (c *YouTubeClient) endpoint(name string) string {
	if base, ok := strings.CutSuffix(c.searchURL, "/search"); ok {
		return base + "/" + name
	}
	return "https://www.googleapis.com/youtube/v3/" + name
}

func (c *YouTubeClient) get(ctx context.Context, reqURL string, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return &Error{Provider: c.Name(), Kind: KindNetwork, Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Provider: c.Name(), Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return &Error{Provider: c.Name(), Kind: KindDecode, Err: err}
	}
	return nil
}

func (c *YouTubeClient) statusError(resp *http.Response) error {
	statusErr := fmt.Errorf("youtube status %d", resp.StatusCode)
	if resp.StatusCode == http.StatusTooManyRequests {
		return &Error{Provider: c.Name(), Kind: KindQuota, Err: statusErr}
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var body ytErrorResponse
	if json.Unmarshal(raw, &body) == nil {
		for _, e := range body.Error.Errors {
			if e.Reason == "quotaExceeded" || e.Reason == "rateLimitExceeded" || e.Reason == "dailyLimitExceeded" {
				return &Error{Provider: c.Name(), Kind: KindQuota, Err: errors.Join(statusErr, errors.New(e.Reason))}
			}
		}
	}
	return &Error{Provider: c.Name(), Kind: KindStatus, Err: statusErr}
}
