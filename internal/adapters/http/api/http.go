// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/simgrid/paddock/pkg/logger"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	MetaDependencies
	StrategyDependencies
	StatsProvider
}

// Server wires HTTP routes for the analytics API.
type Server struct {
	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	metaHandler     *MetaHandler
	strategyHandler *StrategyHandler

	limiter *RateLimiter
}

// Option configures a Server.
type Option func(*serverConfig)

type serverConfig struct {
	ratePerMinute int
	rateIdle      time.Duration
	log           logger.Logger
}

// WithRateLimit caps requests per client IP per minute. Zero disables
// limiting.
func WithRateLimit(perMinute int) Option {
	return func(c *serverConfig) {
		if perMinute >= 0 {
			c.ratePerMinute = perMinute
		}
	}
}

// WithRateLimitIdle sets how long an idle client's bucket is kept.
func WithRateLimitIdle(d time.Duration) Option {
	return func(c *serverConfig) {
		if d > 0 {
			c.rateIdle = d
		}
	}
}

// WithLogger sets the logger used for failed requests.
func WithLogger(l logger.Logger) Option {
	return func(c *serverConfig) {
		if l != nil {
			c.log = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	cfg := serverConfig{log: logger.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Server{
		healthHandler:   NewHealthHandler(),
		statsHandler:    NewStatsHandler(deps),
		metaHandler:     NewMetaHandler(deps, cfg.log),
		strategyHandler: NewStrategyHandler(deps, cfg.log),
	}
	if cfg.ratePerMinute > 0 {
		s.limiter = NewRateLimiter(cfg.ratePerMinute, cfg.rateIdle)
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("GET /meta/report", s.api(s.metaHandler.HandleReport, "meta_report"))
	mux.HandleFunc("GET /meta/bop-alerts", s.api(s.metaHandler.HandleAlerts, "bop_alerts"))
	mux.HandleFunc("GET /sessions/{id}/strategy", s.api(s.strategyHandler.HandleStrategy, "session_strategy"))
}

// api chains the middleware of the analytics routes.
func (s *Server) api(h http.HandlerFunc, endpoint string) http.HandlerFunc {
	if s.limiter != nil {
		h = s.limiter.Middleware(h)
	}
	return RequestIDMiddleware(MetricsMiddleware(h, endpoint))
}

// Close releases the rate limiter.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}
