/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package provider

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/cattv/internal/telemetry"
)

// KeySearch prefixes cached search results.
const KeySearch = "cattv:search:" // + sha1(client name + source)

// DefaultSearchTTL bounds how long a cached result list is served.
const DefaultSearchTTL = 30 * time.Minute

// RedisConfig holds connection settings for the search cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects to Redis. It returns nil when Addr is empty or the
// server does not answer a ping, in which case searches are not cached.
func NewRedisClient(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     4,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.Addr).Msg("redis unavailable, search results will not be cached")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Addr).Msg("redis search cache initialized")
	return client
}

// CachedClient memoizes non-empty search results in Redis. Redis errors
// disable the cache instead of failing the search.
type CachedClient struct {
	inner  Client
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger

	mu       sync.RWMutex
	disabled bool
}

// NewCachedClient wraps inner. A nil redis client makes it a pass-through.
func NewCachedClient(inner Client, client *redis.Client, ttl time.Duration, logger zerolog.Logger) *CachedClient {
	if ttl <= 0 {
		ttl = DefaultSearchTTL
	}
	return &CachedClient{
		inner:  inner,
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "search_cache").Logger(),
	}
}

// Name implements Client.
func (c *CachedClient) Name() string { return c.inner.Name() }

// IsAvailable reports whether lookups hit Redis.
func (c *CachedClient) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// Search implements Client.
func (c *CachedClient) Search(ctx context.Context, source string) ([]Video, error) {
	key := c.key(source)

	if c.IsAvailable() {
		data, err := c.client.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var videos []Video
			if jsonErr := json.Unmarshal(data, &videos); jsonErr == nil && len(videos) > 0 {
				telemetry.ProviderCacheTotal.WithLabelValues("hit").Inc()
				return videos, nil
			}
		case errors.Is(err, redis.Nil):
		case ctx.Err() != nil:
			// The caller gave up; Redis itself is fine.
		default:
			c.handleError(err, "get")
		}
		telemetry.ProviderCacheTotal.WithLabelValues("miss").Inc()
	}

	videos, err := c.inner.Search(ctx, source)
	if err != nil || len(videos) == 0 {
		return videos, err
	}

	if c.IsAvailable() {
		if data, jsonErr := json.Marshal(videos); jsonErr == nil {
			if setErr := c.client.Set(ctx, key, data, c.ttl).Err(); setErr != nil && ctx.Err() == nil {
				c.handleError(setErr, "set")
			}
		}
	}
	return videos, nil
}

func (c *CachedClient) key(source string) string {
	sum := sha1.Sum([]byte(c.inner.Name() + "\x00" + strings.ToLower(strings.TrimSpace(source))))
	return KeySearch + hex.EncodeToString(sum[:])
}

func (c *CachedClient) handleError(err error, operation string) {
	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	c.mu.Lock()
	c.disabled = true
	c.mu.Unlock()
	c.logger.Warn().Msg("disabling search cache due to redis error")
}
