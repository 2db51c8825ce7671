package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const defaultHTTPShutdown = 10 * time.Second

// HTTPServer is the lifecycle half of *http.Server.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService serves an HTTP server until its context ends, then shuts it
// down gracefully.
type HTTPService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

// NewHTTPService wraps server. A non-positive shutdownTimeout means 10s.
func NewHTTPService(server HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultHTTPShutdown
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service.
func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPService) String() string { return "http-server" }

// Watcher is a blocking loop that runs until its context ends.
type Watcher interface {
	Watch(ctx context.Context) error
}

// WatchService supervises a Watcher, restarting it when it fails.
type WatchService struct {
	name string
	w    Watcher
}

// NewWatchService names w for supervisor logs.
func NewWatchService(name string, w Watcher) *WatchService {
	return &WatchService{name: name, w: w}
}

// Serve implements suture.Service.
func (s *WatchService) Serve(ctx context.Context) error {
	if err := s.w.Watch(ctx); err != nil {
		return fmt.Errorf("%s: %w", s.name, err)
	}
	return ctx.Err()
}

func (s *WatchService) String() string { return s.name }

// TickerService calls fn every interval until its context ends.
type TickerService struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)
}

// NewTickerService panics on a non-positive interval, as time.NewTicker does.
func NewTickerService(name string, interval time.Duration, fn func(ctx context.Context)) *TickerService {
	if interval <= 0 {
		panic("supervisor: non-positive ticker interval")
	}
	return &TickerService{name: name, interval: interval, fn: fn}
}

// Serve implements suture.Service.
func (s *TickerService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.fn(ctx)
		}
	}
}

func (s *TickerService) String() string { return s.name }
