/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Player backends understood by the player package.
const (
	PlayerVLC       = "vlc"
	PlayerMPV       = "mpv"
	PlayerOMXPlayer = "omxplayer"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment  string
	LogLevel     string
	HTTPBind     string
	HTTPPort     int
	DBBackend    DatabaseBackend
	DBDSN        string
	SeedDefaults bool

	// Tick loop
	TickInterval time.Duration
	TickBudget   time.Duration

	// Content provider
	ProviderTimeout  time.Duration
	SearchMaxResults int
	YouTubeAPIKey    string
	YouTubeSearchURL string
	YTDLPBin         string

	// Provider search cache (disabled when RedisAddr is empty)
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	SearchCacheTTL time.Duration

	// Player supervisor
	PlayerBackend string
	PlayerBin     string // Optional override of the backend binary
	AudioOutput   string // hdmi, local or both
	StartupGrace  time.Duration
	StopGrace     time.Duration

	// Recovery
	MaxConsecutiveFailures int
	FailureWindow          time.Duration
	BackoffInitial         time.Duration
	BackoffMax             time.Duration
	RotationInterval       time.Duration // 0 disables periodic rotation

	DisplayControl bool

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64
}

// Load reads environment variables, applies defaults, and validates the result.
// A .env file in the working directory is honoured when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment:  getEnvAny([]string{"CATTV_ENV"}, "production"),
		LogLevel:     getEnvAny([]string{"CATTV_LOG_LEVEL", "LOG_LEVEL"}, ""),
		HTTPBind:     getEnvAny([]string{"CATTV_HTTP_BIND", "FLASK_HOST"}, "0.0.0.0"),
		HTTPPort:     getEnvIntAny([]string{"CATTV_HTTP_PORT", "FLASK_PORT"}, 8080),
		DBBackend:    DatabaseBackend(getEnvAny([]string{"CATTV_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:        getEnvAny([]string{"CATTV_DB_DSN", "DATABASE_URL"}, "data/cattv.db"),
		SeedDefaults: getEnvBoolAny([]string{"CATTV_SEED_DEFAULTS"}, true),

		TickInterval: getEnvDurationAny([]string{"CATTV_TICK_INTERVAL"}, 30*time.Second),
		TickBudget:   getEnvDurationAny([]string{"CATTV_TICK_BUDGET"}, 0),

		ProviderTimeout:  getEnvDurationAny([]string{"CATTV_PROVIDER_TIMEOUT"}, 20*time.Second),
		SearchMaxResults: getEnvIntAny([]string{"CATTV_SEARCH_MAX_RESULTS"}, 10),
		YouTubeAPIKey:    getEnvAny([]string{"CATTV_YOUTUBE_API_KEY", "YOUTUBE_API_KEY"}, ""),
		YouTubeSearchURL: getEnvAny([]string{"CATTV_YOUTUBE_SEARCH_URL", "YOUTUBE_SEARCH_URL"}, "https://www.googleapis.com/youtube/v3/search"),
		YTDLPBin:         getEnvAny([]string{"CATTV_YTDLP_BIN"}, "yt-dlp"),

		RedisAddr:      getEnvAny([]string{"CATTV_REDIS_ADDR"}, ""),
		RedisPassword:  getEnvAny([]string{"CATTV_REDIS_PASSWORD"}, ""),
		RedisDB:        getEnvIntAny([]string{"CATTV_REDIS_DB"}, 0),
		SearchCacheTTL: getEnvDurationAny([]string{"CATTV_SEARCH_CACHE_TTL"}, 30*time.Minute),

		PlayerBackend: strings.ToLower(getEnvAny([]string{"CATTV_PLAYER_BACKEND", "PLAYER_BACKEND"}, PlayerVLC)),
		PlayerBin:     getEnvAny([]string{"CATTV_PLAYER_BIN"}, ""),
		AudioOutput:   strings.ToLower(getEnvAny([]string{"CATTV_AUDIO_OUTPUT", "AUDIO_OUTPUT"}, "hdmi")),
		StartupGrace:  getEnvDurationAny([]string{"CATTV_PLAYER_STARTUP_GRACE"}, 2*time.Second),
		StopGrace:     getEnvDurationAny([]string{"CATTV_PLAYER_STOP_GRACE"}, 5*time.Second),

		MaxConsecutiveFailures: getEnvIntAny([]string{"CATTV_MAX_CONSECUTIVE_FAILURES"}, 3),
		FailureWindow:          getEnvDurationAny([]string{"CATTV_FAILURE_WINDOW"}, 5*time.Minute),
		BackoffInitial:         getEnvDurationAny([]string{"CATTV_BACKOFF_INITIAL"}, 30*time.Second),
		BackoffMax:             getEnvDurationAny([]string{"CATTV_BACKOFF_MAX"}, 15*time.Minute),
		RotationInterval:       getEnvDurationAny([]string{"CATTV_ROTATION_INTERVAL"}, time.Hour),

		DisplayControl: getEnvBoolAny([]string{"CATTV_DISPLAY_CONTROL"}, true),

		TracingEnabled:    getEnvBoolAny([]string{"CATTV_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"CATTV_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"CATTV_TRACING_SAMPLE_RATE"}, 1.0),
	}

	if cfg.TickBudget <= 0 {
		cfg.TickBudget = cfg.TickInterval
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DBBackend {
	case DatabasePostgres, DatabaseMySQL, DatabaseSQLite:
	default:
		return fmt.Errorf("unsupported database backend %q", c.DBBackend)
	}

	if c.DBDSN == "" {
		return fmt.Errorf("CATTV_DB_DSN must be provided")
	}

	switch c.PlayerBackend {
	case PlayerVLC, PlayerMPV, PlayerOMXPlayer:
	default:
		return fmt.Errorf("unsupported player backend %q", c.PlayerBackend)
	}

	switch c.AudioOutput {
	case "hdmi", "local", "both":
	default:
		return fmt.Errorf("unsupported audio output %q", c.AudioOutput)
	}

	if c.TickInterval <= 0 {
		return fmt.Errorf("CATTV_TICK_INTERVAL must be positive")
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("CATTV_PROVIDER_TIMEOUT must be positive")
	}
	// Each tick must fit at least one full provider call and a player
	// launch, otherwise an interrupted fallback chain cannot advance.
	if c.TickBudget < c.ProviderTimeout+c.StartupGrace {
		return fmt.Errorf("CATTV_TICK_BUDGET (%s) must be at least CATTV_PROVIDER_TIMEOUT plus CATTV_PLAYER_STARTUP_GRACE (%s)", c.TickBudget, c.ProviderTimeout+c.StartupGrace)
	}
	if c.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("CATTV_MAX_CONSECUTIVE_FAILURES must be at least 1")
	}
	if c.BackoffInitial <= 0 || c.BackoffMax < c.BackoffInitial {
		return fmt.Errorf("CATTV_BACKOFF_INITIAL must be positive and not exceed CATTV_BACKOFF_MAX")
	}
	if c.RotationInterval < 0 {
		return fmt.Errorf("CATTV_ROTATION_INTERVAL must not be negative")
	}
	return nil
}

// HTTPAddr returns the listen address for the control surface.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvDurationAny accepts Go duration strings ("90s", "15m") or bare seconds.
func getEnvDurationAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		v := strings.TrimSpace(os.Getenv(k))
		if v == "" {
			continue
		}
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}
