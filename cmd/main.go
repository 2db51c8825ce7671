package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/simgrid/paddock/internal/adapters/http/api"
	"github.com/simgrid/paddock/internal/adapters/http/swagger"
	"github.com/simgrid/paddock/internal/adapters/repository"
	service "github.com/simgrid/paddock/internal/app"
	"github.com/simgrid/paddock/internal/config"
	"github.com/simgrid/paddock/internal/supervisor"
	"github.com/simgrid/paddock/pkg/logger"
	"github.com/simgrid/paddock/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout            = 10 * time.Second
	writeTimeout           = 30 * time.Second
	idleTimeout            = 60 * time.Second
	readHeaderTimeout      = 5 * time.Second
	shutdownTimeout        = 30 * time.Second
	systemMetricsInterval  = 10 * time.Second
	serviceMetricsInterval = 15 * time.Second
)

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		// The logger may not be initialised yet.
		_, _ = os.Stderr.WriteString("paddock: " + err.Error() + "\n")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// Load configuration (defaults -> optional file -> env)
	cfg, thresholdReplaced, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get()

	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	if thresholdReplaced {
		log.Warn(ctx, "threshold_pct invalid or out of range; using default",
			logger.Float64("threshold_pct", cfg.ThresholdPct))
	}

	source, err := newSource(ctx, cfg, log.Named("source"))
	if err != nil {
		return err
	}

	svc := service.New(source,
		service.WithConfig(cfg),
		service.WithLogger(log.Named("service")),
	)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	// Stop also closes the source.
	defer svc.Stop()

	handler, apiServer := newHandler(ctx, cfg, svc, log.Named("http"))
	defer apiServer.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	tree := newTree(cfg, source, svc, srv, log.Named("supervisor"))
	log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
	if err := <-tree.ServeBackground(ctx); err != nil &&
		!errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		log.Error(ctx, "supervisor tree stopped", logger.Error(err))
	}
	unstopped, _ := tree.UnstoppedServiceReport()
	for _, u := range unstopped {
		log.Warn(ctx, "service failed to stop in time", logger.String("service", u.Name))
	}

	log.Info(ctx, "server stopped")
	return nil
}

// newTree supervises the HTTP server, the results watcher when enabled, and
// the metric refreshers.
func newTree(cfg *config.Config, source repository.Source, svc *service.Service, srv supervisor.HTTPServer, log logger.Logger) *supervisor.Tree {
	tree := supervisor.NewTree(logger.Slog(log), supervisor.TreeConfig{ShutdownTimeout: shutdownTimeout})
	tree.AddAPIService(supervisor.NewHTTPService(srv, shutdownTimeout))

	if w, ok := source.(supervisor.Watcher); ok && cfg.WatchResults {
		tree.AddBackgroundService(supervisor.NewWatchService("results-watcher", w))
	}
	tree.AddBackgroundService(supervisor.NewTickerService("system-metrics", systemMetricsInterval,
		func(context.Context) { updateSystemMetrics() }))
	tree.AddBackgroundService(supervisor.NewTickerService("service-metrics", serviceMetricsInterval,
		func(ctx context.Context) { _ = svc.GetStats(ctx) }))
	return tree
}

// newSource opens the configured result source. A postgres source is
// migrated.
func newSource(ctx context.Context, cfg *config.Config, log logger.Logger) (repository.Source, error) {
	switch cfg.Store {
	case config.StorePostgres:
		store, err := repository.Connect(ctx, cfg.DatabaseURL,
			repository.WithLogger(log),
			repository.WithBreaker(uint32(cfg.DBBreakerFailures), cfg.BreakerCooldown()),
		)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		log.Info(ctx, "postgres result source ready")
		return store, nil
	default:
		store, err := repository.NewFileStore(cfg.ResultsFile, repository.WithLogger(log))
		if err != nil {
			return nil, fmt.Errorf("open results file: %w", err)
		}
		return store, nil
	}
}

// newHandler registers the API and its reference on a fresh mux.
func newHandler(ctx context.Context, cfg *config.Config, svc *service.Service, log logger.Logger) (http.Handler, *api.Server) {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)

	apiServer := api.NewServer(svc,
		api.WithRateLimit(cfg.RateLimitPerMinute),
		api.WithLogger(log),
	)
	apiServer.Register(ctx, mux)
	return mux, apiServer
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
}
