package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// flaky fails its first run and then blocks until cancelled.
type flaky struct {
	runs    atomic.Int32
	once    sync.Once
	running chan struct{}
}

func (f *flaky) Serve(ctx context.Context) error {
	if f.runs.Add(1) == 1 {
		return errors.New("first run fails")
	}
	f.once.Do(func() { close(f.running) })
	<-ctx.Done()
	return ctx.Err()
}

func (f *flaky) String() string { return "flaky" }

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func TestNewTree(t *testing.T) {
	Convey("Given a zero configuration", t, func() {
		tree := NewTree(nil, TreeConfig{})

		Convey("Then the defaults apply", func() {
			So(tree.config, ShouldResemble, DefaultTreeConfig())
		})
	})

	Convey("Given explicit settings", t, func() {
		tree := NewTree(quietLogger(), TreeConfig{FailureBackoff: time.Second, ShutdownTimeout: time.Second})

		Convey("Then they are kept and the rest default", func() {
			So(tree.config.FailureBackoff, ShouldEqual, time.Second)
			So(tree.config.ShutdownTimeout, ShouldEqual, time.Second)
			So(tree.config.FailureThreshold, ShouldEqual, 5.0)
		})
	})
}

func TestTreeLifecycle(t *testing.T) {
	Convey("Given a tree with a ticker and a failing service", t, func() {
		tree := NewTree(quietLogger(), TreeConfig{FailureBackoff: 50 * time.Millisecond, ShutdownTimeout: time.Second})

		var ticks atomic.Int32
		tree.AddBackgroundService(NewTickerService("ticks", 5*time.Millisecond, func(context.Context) { ticks.Add(1) }))
		f := &flaky{running: make(chan struct{})}
		tree.AddAPIService(f)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		errCh := tree.ServeBackground(ctx)

		Convey("Then the ticker runs and the failed service is restarted", func() {
			So(waitFor(func() bool { return ticks.Load() >= 2 }), ShouldBeTrue)
			select {
			case <-f.running:
			case <-time.After(2 * time.Second):
			}
			So(f.runs.Load(), ShouldBeGreaterThanOrEqualTo, 2)

			Convey("And cancelling stops every service", func() {
				cancel()
				err := <-errCh
				So(err == nil || errors.Is(err, context.Canceled), ShouldBeTrue)
				unstopped, _ := tree.UnstoppedServiceReport()
				So(unstopped, ShouldBeEmpty)
			})
		})
	})
}
