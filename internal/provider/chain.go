/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/friendsincode/cattv/internal/config"
	"github.com/friendsincode/cattv/internal/telemetry"
)

// Chain tries each client in order and returns the first non-empty result.
type Chain struct {
	clients []Client
	logger  zerolog.Logger
}

// NewChain builds a fallback chain. It panics on an empty list.
func NewChain(logger zerolog.Logger, clients ...Client) *Chain {
	if len(clients) == 0 {
		panic("provider: empty chain")
	}
	return &Chain{clients: clients, logger: logger.With().Str("component", "provider").Logger()}
}

// Name implements Client.
func (c *Chain) Name() string {
	names := make([]string, len(c.clients))
	for i, cl := range c.clients {
		names[i] = cl.Name()
	}
	return strings.Join(names, "+")
}

// Search implements Client. Errors from every client are joined when none
// succeeds or ctx ends first; an empty result from the last client is
// returned as-is.
func (c *Chain) Search(ctx context.Context, source string) ([]Video, error) {
	var errs []error
	for _, cl := range c.clients {
		videos, err := cl.Search(ctx, source)
		switch {
		case err != nil:
			telemetry.ProviderRequestsTotal.WithLabelValues(cl.Name(), "error").Inc()
			c.logger.Debug().Err(err).Str("provider", cl.Name()).Str("source", source).Msg("search failed")
			errs = append(errs, err)
		case len(videos) == 0:
			telemetry.ProviderRequestsTotal.WithLabelValues(cl.Name(), "empty").Inc()
		default:
			telemetry.ProviderRequestsTotal.WithLabelValues(cl.Name(), "ok").Inc()
			return videos, nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Join(append(errs, err)...)
	}
	if len(errs) == len(c.clients) {
		return nil, errors.Join(errs...)
	}
	return nil, nil
}

// NewFromConfig assembles the search chain: the Data API when a key is set,
// then yt-dlp, wrapped in the Redis cache when one is reachable.
func NewFromConfig(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (Client, func() error) {
	var clients []Client
	if cfg.YouTubeAPIKey != "" {
		clients = append(clients, NewYouTubeClient(cfg.YouTubeAPIKey, cfg.YouTubeSearchURL, cfg.SearchMaxResults, &http.Client{Timeout: cfg.ProviderTimeout}))
	}
	if cfg.YTDLPBin != "" {
		clients = append(clients, NewYTDLPClient(cfg.YTDLPBin, cfg.SearchMaxResults, nil))
	}
	if len(clients) == 0 {
		clients = append(clients, NewYTDLPClient("yt-dlp", cfg.SearchMaxResults, nil))
	}

	chain := NewChain(logger, clients...)
	rdb := NewRedisClient(ctx, RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}, logger)
	closer := func() error { return nil }
	if rdb != nil {
		closer = rdb.Close
	}

	logger.Info().Str("providers", chain.Name()).Bool("cache", rdb != nil).Msg("content provider configured")
	return NewCachedClient(chain, rdb, cfg.SearchCacheTTL, logger), closer
}
