package service

import (
	"time"

	"github.com/simgrid/paddock/internal/config"
	"github.com/simgrid/paddock/internal/domain/strategy"
	"github.com/simgrid/paddock/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the time source used for default periods and reference dates.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithCacheTTL sets how long computed reports are served from memory.
// Zero disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl >= 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithThreshold sets the default patch alert threshold in percentage points.
// Out-of-range values are ignored.
func WithThreshold(pct float64) Option {
	return func(s *Service) {
		if pct > 0 && pct <= 100 {
			s.thresholdPct = pct
		}
	}
}

// WithBandWidth sets the rating band width of meta reports.
func WithBandWidth(width int) Option {
	return func(s *Service) {
		if width > 0 {
			s.bandWidth = width
		}
	}
}

// WithRecentWindow sets how many recent races feed a driver's features.
func WithRecentWindow(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.recentWindow = n
		}
	}
}

// WithWindowDays sets the width of the windows around a patch.
func WithWindowDays(days int) Option {
	return func(s *Service) {
		if days > 0 {
			s.windowDays = days
		}
	}
}

// WithHistoryLimit sets how many past races are fetched per driver.
func WithHistoryLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// WithAdvisorThresholds overrides strategy thresholds; zero fields keep
// the advisor defaults.
func WithAdvisorThresholds(t strategy.Thresholds) Option {
	return func(s *Service) {
		s.advisorThresholds = t
	}
}

// WithWarmWorkers sets the number of cache warm-up workers. Zero disables
// warm-up.
func WithWarmWorkers(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.warmWorkers = n
		}
	}
}

// WithWarmQueueSize bounds the warm-up job queue.
func WithWarmQueueSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.warmQueueSize = n
		}
	}
}

// WithConfig applies every analytics setting of cfg.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg == nil {
			return
		}
		for _, opt := range []Option{
			WithCacheTTL(cfg.CacheTTL()),
			WithThreshold(cfg.ThresholdPct),
			WithBandWidth(cfg.RatingBandWidth),
			WithRecentWindow(cfg.RecentWindowSize),
			WithWindowDays(cfg.WindowDays),
			WithHistoryLimit(cfg.HistoryLimit),
			WithWarmWorkers(cfg.WarmWorkers),
			WithWarmQueueSize(cfg.WarmQueueSize),
			WithAdvisorThresholds(strategy.Thresholds{
				RatingGap:     cfg.AdvisorRatingGap,
				TopRankPct:    cfg.AdvisorTopRankPct,
				BottomRankPct: cfg.AdvisorBottomRankPct,
				Trend:         cfg.AdvisorTrend,
				OpponentGap:   cfg.AdvisorOpponentGap,
				Incidents:     cfg.AdvisorIncidents,
				DNFRate:       cfg.AdvisorDNFRate,
			}),
		} {
			opt(s)
		}
	}
}
