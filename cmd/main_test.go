package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/simgrid/paddock/internal/adapters/repository"
	service "github.com/simgrid/paddock/internal/app"
	"github.com/simgrid/paddock/internal/config"
	"github.com/simgrid/paddock/internal/domain/model"
	"github.com/simgrid/paddock/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func writeDataset(t *testing.T) string {
	t.Helper()
	start := time.Now().UTC().Add(-48 * time.Hour)
	ds := repository.Dataset{
		Series:   []repository.Series{{ID: 1, Name: "GT3 Sprint"}},
		Sessions: []model.RaceSession{{SessionID: 1, SeriesID: 1, TrackID: 7, TrackName: "Spa", StartTime: start}},
		Results: []model.ParticipantResult{
			{SessionID: 1, DriverID: 1, VehicleID: 101, VehicleName: "Alpha", FinishPosition: model.Ptr(1), RatingBefore: model.Ptr(2000.0)},
			{SessionID: 1, DriverID: 2, VehicleID: 202, VehicleName: "Bravo", FinishPosition: model.Ptr(2), RatingBefore: model.Ptr(1800.0)},
		},
	}
	path := filepath.Join(t.TempDir(), "results.json")
	if err := repository.SaveDataset(path, ds); err != nil {
		t.Fatalf("SaveDataset() error: %v", err)
	}
	return path
}

func TestNewSource(t *testing.T) {
	convey.Convey("Given a configuration", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		cfg := config.New()

		convey.Convey("When the file store points at a dataset", func() {
			cfg.ResultsFile = writeDataset(t)
			source, err := newSource(ctx, cfg, logger.Nop())

			convey.Convey("Then the results are served", func() {
				convey.So(err, convey.ShouldBeNil)
				n, err := source.Count(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(n, convey.ShouldEqual, 2)
			})
		})

		convey.Convey("When the results file is missing", func() {
			cfg.ResultsFile = filepath.Join(t.TempDir(), "missing.json")
			cfg.WatchResults = false
			_, err := newSource(ctx, cfg, logger.Nop())

			convey.Convey("Then opening fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When postgres is unreachable", func() {
			cfg.Store = config.StorePostgres
			cfg.DatabaseURL = "postgres://paddock@127.0.0.1:1/paddock?sslmode=disable&connect_timeout=1"
			_, err := newSource(ctx, cfg, logger.Nop())

			convey.Convey("Then connecting fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})
	})
}

func TestNewHandler(t *testing.T) {
	convey.Convey("Given a service over a results file", t, func() {
		ctx := context.Background()
		cfg := config.New()
		cfg.ResultsFile = writeDataset(t)
		cfg.WatchResults = false
		cfg.WarmWorkers = 0

		source, err := newSource(ctx, cfg, logger.Nop())
		convey.So(err, convey.ShouldBeNil)
		svc := service.New(source, service.WithConfig(cfg))
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer svc.Stop()

		handler, apiServer := newHandler(ctx, cfg, svc, logger.Nop())
		defer apiServer.Close()

		convey.Convey("Then every route is served", func() {
			for _, target := range []string{
				"/healthz",
				"/stats",
				"/api-docs",
				"/openapi.yaml",
				"/meta/report?series_id=1",
				"/meta/bop-alerts",
				"/sessions/1/strategy?driver_id=1",
			} {
				w := httptest.NewRecorder()
				handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, http.NoBody))
				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			}
		})
	})
}

func TestRun(t *testing.T) {
	convey.Convey("Given an invalid configuration", t, func() {
		t.Setenv("PADDOCK_STORE", "bogus")

		convey.Convey("Then run fails before serving", func() {
			err := run(context.Background())
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(err.Error(), convey.ShouldContainSubstring, "load config")
		})
	})

	convey.Convey("Given a valid configuration and a cancelled context", t, func() {
		t.Setenv("PADDOCK_RESULTS_FILE", writeDataset(t))
		t.Setenv("PADDOCK_ADDR", "127.0.0.1:0")
		t.Setenv("PADDOCK_WATCH_RESULTS", "false")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		convey.Convey("Then run shuts down cleanly", func() {
			convey.So(run(ctx), convey.ShouldBeNil)
		})
	})
}

func TestNewTree(t *testing.T) {
	convey.Convey("Given a watched results file and a service", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		cfg := config.New()
		cfg.ResultsFile = writeDataset(t)
		cfg.WarmWorkers = 0

		source, err := newSource(ctx, cfg, logger.Nop())
		convey.So(err, convey.ShouldBeNil)
		svc := service.New(source, service.WithConfig(cfg))
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer svc.Stop()

		srv := &http.Server{Addr: "127.0.0.1:0", ReadHeaderTimeout: readHeaderTimeout}
		tree := newTree(cfg, source, svc, srv, logger.Nop())

		convey.Convey("Then every service stops with the context", func() {
			err := <-tree.ServeBackground(ctx)
			convey.So(err == nil || errors.Is(err, context.DeadlineExceeded), convey.ShouldBeTrue)
			unstopped, err := tree.UnstoppedServiceReport()
			convey.So(err, convey.ShouldBeNil)
			convey.So(unstopped, convey.ShouldBeEmpty)
		})
	})
}

func TestUpdateSystemMetrics(t *testing.T) {
	convey.Convey("Refreshing system metrics does not panic", t, func() {
		convey.So(updateSystemMetrics, convey.ShouldNotPanic)
	})
}
