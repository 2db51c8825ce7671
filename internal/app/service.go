// Package service wires the result source, the analytics core and the
// response caches into the operations served by the HTTP API.
package service

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/simgrid/paddock/internal/adapters/cache"
	"github.com/simgrid/paddock/internal/adapters/mq/queue"
	"github.com/simgrid/paddock/internal/adapters/mq/worker"
	"github.com/simgrid/paddock/internal/adapters/repository"
	"github.com/simgrid/paddock/internal/domain/dedupe"
	"github.com/simgrid/paddock/internal/domain/meta"
	"github.com/simgrid/paddock/internal/domain/strategy"
	"github.com/simgrid/paddock/pkg/logger"
	"github.com/simgrid/paddock/pkg/metrics"
)

// Cache names, also used as metric labels.
const (
	reportsCache    = "meta_report"
	alertsCache     = "patch_alerts"
	strategiesCache = "session_strategy"
)

// Service implements the API dependencies of the analytics engine. A Service
// is single-use: once stopped its caches and source are closed and Start
// returns ErrStopped.
type Service struct {
	mu sync.RWMutex

	// Core components
	source     repository.Source
	advisor    *strategy.Advisor
	reports    *cache.Cache[MetaReport]
	alerts     *cache.Cache[[]meta.PatchAlert]
	strategies *cache.Cache[StrategyReport]
	warmQueue  *queue.InMemoryQueue
	warmPool   *worker.Pool
	warmKeys   dedupe.Deduper

	// Configuration
	now               func() time.Time
	cacheTTL          time.Duration
	thresholdPct      float64
	bandWidth         int
	recentWindow      int
	windowDays        int
	historyLimit      int
	advisorThresholds strategy.Thresholds
	warmWorkers       int
	warmQueueSize     int

	// State
	started bool
	stopped bool
	cancel  context.CancelFunc

	logger logger.Logger
}

// New constructs a Service reading from source.
func New(source repository.Source, opts ...Option) *Service {
	s := &Service{
		source:        source,
		now:           time.Now,
		cacheTTL:      time.Minute,
		thresholdPct:  meta.DefaultThreshold,
		bandWidth:     meta.DefaultBandWidth,
		recentWindow:  5,
		windowDays:    meta.DefaultWindowDays,
		historyLimit:  20,
		warmWorkers:   2,
		warmQueueSize: 256,
		logger:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.historyLimit < s.recentWindow {
		s.historyLimit = s.recentWindow
	}

	s.advisor = strategy.New(strategy.WithThresholds(s.advisorThresholds))
	clock := cache.WithClock(s.now)
	s.reports = cache.New[MetaReport](reportsCache, s.cacheTTL, clock)
	s.alerts = cache.New[[]meta.PatchAlert](alertsCache, s.cacheTTL, clock)
	s.strategies = cache.New[StrategyReport](strategiesCache, s.cacheTTL, clock)
	s.warmKeys = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.warmQueueSize))
	return s
}

// Start launches the cache warmer and hooks source reloads. Reports are
// served whether or not the service was started.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting analytics service...")

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	if s.warmWorkers > 0 {
		s.warmQueue = queue.NewInMemoryQueue(queue.WithCapacity(s.warmQueueSize))
		s.warmPool = worker.NewPool(s.warmWorkers, s.warmQueue, s,
			worker.WithLogger(s.logger))
		s.warmPool.Start(runCtx)
	}

	if r, ok := s.source.(interface{ OnReload(func(ctx context.Context)) }); ok {
		r.OnReload(s.onReload)
	}

	s.started = true
	n, err := s.source.Count(ctx)
	if err != nil {
		s.logger.Warn(ctx, "could not count results", logger.Error(err))
	}
	s.logger.Info(ctx, "analytics service started",
		logger.Int("results", n),
		logger.Int("warm_workers", s.warmWorkers),
		logger.Duration("cache_ttl", s.cacheTTL),
		logger.Float64("threshold_pct", s.thresholdPct),
	)

	if s.warmPool != nil {
		s.enqueueWarmups(ctx)
	}
	return nil
}

// Stop drains the warmer and releases the caches and the source.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.stopped = true

	ctx := context.Background()
	if s.started {
		s.logger.Info(ctx, "stopping analytics service...")
	}

	if s.warmPool != nil {
		if err := s.warmPool.Shutdown(ctx); err != nil {
			s.logger.Error(ctx, "warm pool shutdown failed", logger.Error(err))
		}
		s.warmPool = nil
		s.warmQueue = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	_ = s.reports.Close()
	_ = s.alerts.Close()
	_ = s.strategies.Close()

	if closer, ok := s.source.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			s.logger.Error(ctx, "closing result source failed", logger.Error(err))
		}
	}

	if s.started {
		s.started = false
		s.logger.Info(ctx, "analytics service stopped")
	}
}

// onReload drops every cached report and rebuilds the common ones.
func (s *Service) onReload(ctx context.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}
	s.InvalidateCaches()
	if s.started && s.warmPool != nil {
		s.enqueueWarmups(ctx)
	}
}

// InvalidateCaches drops every cached report.
func (s *Service) InvalidateCaches() {
	s.reports.Clear()
	s.alerts.Clear()
	s.strategies.Clear()
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":            s.started,
		"cache_ttl_seconds":  int(s.cacheTTL.Seconds()),
		"threshold_pct":      s.thresholdPct,
		"rating_band_width":  s.bandWidth,
		"recent_window_size": s.recentWindow,
		"window_days":        s.windowDays,
		"warm_workers":       s.warmWorkers,
	}

	if n, err := s.source.Count(ctx); err == nil {
		stats["results"] = n
		metrics.UpdateResultsLoaded(n)
	} else {
		s.logger.Warn(ctx, "could not count results", logger.Error(err))
	}

	caches := map[string]cache.Stats{
		reportsCache:    s.reports.Stats(),
		alertsCache:     s.alerts.Stats(),
		strategiesCache: s.strategies.Stats(),
	}
	cacheStats := make(map[string]any, len(caches))
	for name, cs := range caches {
		cacheStats[name] = map[string]any{
			"hits":     cs.Hits,
			"misses":   cs.Misses,
			"keys":     cs.TotalKeys,
			"hit_rate": meta.Round(cs.HitRate()),
		}
	}
	stats["caches"] = cacheStats

	if s.warmQueue != nil {
		stats["warm_queue_length"] = s.warmQueue.Len()
		stats["warm_pending"] = s.warmKeys.Size()
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
	metrics.UpdateSystemMemoryUsage(mem.HeapInuse)
	stats["goroutines"] = runtime.NumGoroutine()

	return stats
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
