// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Every key is flat snake_case so that PADDOCK_<KEY> maps onto it directly.
// - Load layers defaults, an optional YAML file and the environment.
// - Validate rejects values the service cannot run with.
package config

import (
	"fmt"
	"math"
	"time"
)

// Result source kinds.
const (
	StoreFile     = "file"
	StorePostgres = "postgres"
)

// DefaultThresholdPct is the patch alert threshold used when none (or an
// out-of-range one) is configured.
const DefaultThresholdPct = 20.0

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log encoding: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// Store selects the result source: file or postgres.
	Store string `koanf:"store"`

	// ResultsFile is the JSON dataset read by the file store.
	ResultsFile string `koanf:"results_file"`

	// WatchResults reloads the dataset whenever the file changes.
	WatchResults bool `koanf:"watch_results"`

	// DatabaseURL is the PostgreSQL DSN used by the postgres store.
	DatabaseURL string `koanf:"database_url"`

	// DBBreakerFailures is how many consecutive query failures open the
	// postgres circuit breaker.
	DBBreakerFailures int `koanf:"db_breaker_failures"`

	// DBBreakerCooldownSeconds is how long an open breaker rejects queries.
	DBBreakerCooldownSeconds int `koanf:"db_breaker_cooldown_seconds"`

	// CacheTTLSeconds bounds how long computed reports are served from memory.
	CacheTTLSeconds int `koanf:"cache_ttl_seconds"`

	// RateLimitPerMinute caps requests per client IP; 0 disables limiting.
	RateLimitPerMinute int `koanf:"rate_limit_per_minute"`

	// WarmWorkers is the number of cache warm-up workers; 0 disables warm-up.
	WarmWorkers int `koanf:"warm_workers"`

	// WarmQueueSize bounds the warm-up job queue.
	WarmQueueSize int `koanf:"warm_queue_size"`

	// ThresholdPct is the default patch alert threshold in percentage points.
	ThresholdPct float64 `koanf:"threshold_pct"`

	// RatingBandWidth is the width of a rating band in the meta report.
	RatingBandWidth int `koanf:"rating_band_width"`

	// RecentWindowSize is the number of recent races used for driver features.
	RecentWindowSize int `koanf:"recent_window_size"`

	// WindowDays is the width of the before and after patch windows.
	WindowDays int `koanf:"window_days"`

	// HistoryLimit is how many past races are fetched per driver.
	HistoryLimit int `koanf:"history_limit"`

	// Advisor thresholds; zero keeps the advisor's default.
	AdvisorRatingGap     float64 `koanf:"advisor_rating_gap"`
	AdvisorTopRankPct    float64 `koanf:"advisor_top_rank_pct"`
	AdvisorBottomRankPct float64 `koanf:"advisor_bottom_rank_pct"`
	AdvisorTrend         float64 `koanf:"advisor_trend"`
	AdvisorOpponentGap   float64 `koanf:"advisor_opponent_gap"`
	AdvisorIncidents     float64 `koanf:"advisor_incidents"`
	AdvisorDNFRate       float64 `koanf:"advisor_dnf_rate"`
}

// New creates a Config holding the defaults.
func New() *Config {
	return &Config{
		LogLevel:                 "info",
		LogFormat:                "text",
		Addr:                     ":9080",
		Store:                    StoreFile,
		ResultsFile:              "data/results.json",
		WatchResults:             true,
		DBBreakerFailures:        5,
		DBBreakerCooldownSeconds: 30,
		CacheTTLSeconds:          60,
		RateLimitPerMinute:       120,
		WarmWorkers:              2,
		WarmQueueSize:            256,
		ThresholdPct:             DefaultThresholdPct,
		RatingBandWidth:          100,
		RecentWindowSize:         5,
		WindowDays:               7,
		HistoryLimit:             20,
	}
}

// CacheTTL returns the cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// BreakerCooldown returns the breaker cooldown as a duration.
func (c *Config) BreakerCooldown() time.Duration {
	return time.Duration(c.DBBreakerCooldownSeconds) * time.Second
}

// Validate reports the first setting the service cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.Store != StoreFile && c.Store != StorePostgres:
		return fmt.Errorf("%w: unknown store %q", ErrInvalidConfig, c.Store)
	case c.Store == StoreFile && c.ResultsFile == "":
		return fmt.Errorf("%w: results_file is required for the file store", ErrInvalidConfig)
	case c.Store == StorePostgres && c.DatabaseURL == "":
		return fmt.Errorf("%w: database_url is required for the postgres store", ErrInvalidConfig)
	case c.RatingBandWidth <= 0:
		return fmt.Errorf("%w: rating_band_width must be positive", ErrInvalidConfig)
	case c.RecentWindowSize <= 0:
		return fmt.Errorf("%w: recent_window_size must be positive", ErrInvalidConfig)
	case c.WindowDays <= 0:
		return fmt.Errorf("%w: window_days must be positive", ErrInvalidConfig)
	case c.HistoryLimit < c.RecentWindowSize:
		return fmt.Errorf("%w: history_limit must be at least recent_window_size", ErrInvalidConfig)
	case c.CacheTTLSeconds < 0, c.RateLimitPerMinute < 0, c.WarmWorkers < 0, c.WarmQueueSize < 0,
		c.DBBreakerFailures < 0, c.DBBreakerCooldownSeconds < 0:
		return fmt.Errorf("%w: negative sizes are not allowed", ErrInvalidConfig)
	}
	return nil
}

// NormalizeThreshold replaces an out-of-range threshold with the default and
// reports whether it did.
func (c *Config) NormalizeThreshold() bool {
	t := c.ThresholdPct
	if math.IsNaN(t) || t <= 0 || t > 100 {
		c.ThresholdPct = DefaultThresholdPct
		return true
	}
	return false
}
