package service_test

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/simgrid/paddock/internal/adapters/repository"
	service "github.com/simgrid/paddock/internal/app"
	"github.com/simgrid/paddock/internal/config"
	"github.com/simgrid/paddock/internal/domain/features"
	"github.com/simgrid/paddock/internal/domain/meta"
	"github.com/simgrid/paddock/internal/domain/model"
	"github.com/simgrid/paddock/internal/domain/strategy"
	. "github.com/smartystreets/goconvey/convey"
)

const (
	seriesGT3       int64 = 1
	seriesPrototype int64 = 2
	seriesEmpty     int64 = 3
	seriesEndurance int64 = 4

	vehicleA int64 = 101
	vehicleB int64 = 202
	vehicleC int64 = 303
	vehicleD int64 = 404

	lobbySession int64 = 50
)

var (
	now       = time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)
	patchDate = time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
)

func clock() time.Time { return now }

func result(session, driver, vehicle int64, finish int, rating float64) model.ParticipantResult {
	r := model.ParticipantResult{
		SessionID:    session,
		DriverID:     driver,
		VehicleID:    vehicle,
		VehicleName:  map[int64]string{vehicleA: "Alpha", vehicleB: "Bravo", vehicleC: "Charlie", vehicleD: "Delta"}[vehicle],
		RatingBefore: model.Ptr(rating),
		RatingAfter:  model.Ptr(rating),
		SafetyBefore: model.Ptr(3.2),
		SafetyAfter:  model.Ptr(3.2),
		Incidents:    model.Ptr(0),
	}
	if finish > 0 {
		r.FinishPosition = model.Ptr(finish)
	}
	return r
}

// dataset builds:
//   - GT3: three races before the patch won by Alpha, three after won by Bravo;
//   - Prototype: three recent races won by driver 1 in Charlie;
//   - Endurance: the lobby session, yesterday, with four rated drivers.
func dataset() repository.Dataset {
	ds := repository.Dataset{
		Series: []repository.Series{
			{ID: seriesGT3, Name: "GT3 Sprint"},
			{ID: seriesPrototype, Name: "Prototype Cup"},
			{ID: seriesEndurance, Name: "Endurance"},
		},
		Patches: []repository.Patch{{SeriesID: seriesGT3, Date: patchDate}},
	}
	add := func(id, series int64, start time.Time, results ...model.ParticipantResult) {
		ds.Sessions = append(ds.Sessions, model.RaceSession{SessionID: id, SeriesID: series, TrackID: 7, TrackName: "Spa", StartTime: start})
		ds.Results = append(ds.Results, results...)
	}

	for i := range 3 {
		before := time.Date(2025, 6, 5+i, 18, 0, 0, 0, time.UTC)
		after := time.Date(2025, 6, 12+i, 18, 0, 0, 0, time.UTC)
		add(int64(10+i), seriesGT3, before, result(int64(10+i), 11, vehicleA, 1, 1500), result(int64(10+i), 12, vehicleB, 2, 1500))
		add(int64(20+i), seriesGT3, after, result(int64(20+i), 11, vehicleA, 2, 1500), result(int64(20+i), 12, vehicleB, 1, 1500))
	}
	for i := range 3 {
		id := int64(30 + i)
		add(id, seriesPrototype, now.Add(-time.Duration(5-i)*24*time.Hour),
			result(id, 1, vehicleC, 1, 2600), result(id, 2, vehicleD, 2, 1800))
	}
	add(lobbySession, seriesEndurance, now.Add(-24*time.Hour),
		result(lobbySession, 1, vehicleC, 0, 2600),
		result(lobbySession, 2, vehicleD, 0, 1800),
		result(lobbySession, 3, vehicleC, 0, 1900),
		result(lobbySession, 4, vehicleD, 0, 1700),
	)
	return ds
}

func newService(opts ...service.Option) *service.Service {
	store, err := repository.NewMemoryStore(dataset())
	So(err, ShouldBeNil)
	return service.New(store, append([]service.Option{service.WithClock(clock), service.WithWarmWorkers(0)}, opts...)...)
}

func cacheStat(svc *service.Service, name, field string) any {
	caches := svc.GetStats(context.Background())["caches"].(map[string]any)
	return caches[name].(map[string]any)[field]
}

func TestMetaReport(t *testing.T) {
	ctx := context.Background()

	Convey("Given a service over the sample results", t, func() {
		svc := newService()
		defer svc.Stop()

		Convey("The default period covers the last seven days of the series", func() {
			report, err := svc.MetaReport(ctx, service.ReportQuery{SeriesID: seriesPrototype})
			So(err, ShouldBeNil)
			So(report.SeriesName, ShouldEqual, "Prototype Cup")
			So(report.PeriodEnd.Equal(now), ShouldBeTrue)
			So(report.PeriodStart.Equal(now.Add(-7*24*time.Hour)), ShouldBeTrue)
			So(report.Vehicles, ShouldHaveLength, 2)

			top := report.Vehicles[0]
			So(top.VehicleID, ShouldEqual, vehicleC)
			So(top.Wins, ShouldEqual, 3)
			So(top.WinRate, ShouldEqual, 100.0)
			So(top.PickRate, ShouldEqual, 50.0)
		})

		Convey("A track filter names the track", func() {
			track := int64(7)
			report, err := svc.MetaReport(ctx, service.ReportQuery{SeriesID: seriesPrototype, TrackID: &track, PeriodDays: 30})
			So(err, ShouldBeNil)
			So(report.TrackName, ShouldEqual, "Spa")
		})

		Convey("A series without results yields an empty report", func() {
			report, err := svc.MetaReport(ctx, service.ReportQuery{SeriesID: seriesEmpty})
			So(err, ShouldBeNil)
			So(report.Vehicles, ShouldBeEmpty)
			So(report.SeriesName, ShouldEqual, meta.SeriesName(seriesEmpty, ""))
		})

		Convey("An out-of-range period is rejected", func() {
			_, err := svc.MetaReport(ctx, service.ReportQuery{SeriesID: seriesGT3, PeriodDays: 91})
			So(errors.Is(err, service.ErrInvalidQuery), ShouldBeTrue)
		})

		Convey("A repeated query is served from the cache", func() {
			_, err := svc.MetaReport(ctx, service.ReportQuery{SeriesID: seriesPrototype})
			So(err, ShouldBeNil)
			_, err = svc.MetaReport(ctx, service.ReportQuery{SeriesID: seriesPrototype, PeriodDays: 7})
			So(err, ShouldBeNil)
			So(cacheStat(svc, "meta_report", "hits"), ShouldEqual, int64(1))
		})
	})
}

func TestPatchAlerts(t *testing.T) {
	ctx := context.Background()

	Convey("Given a service over the sample results", t, func() {
		svc := newService()
		defer svc.Stop()

		Convey("The latest patch is the default reference", func() {
			alerts, err := svc.PatchAlerts(ctx, service.AlertQuery{})
			So(err, ShouldBeNil)
			So(alerts, ShouldHaveLength, 2)

			So(alerts[0].VehicleID, ShouldEqual, vehicleA)
			So(alerts[0].AlertType, ShouldEqual, meta.AlertDrop)
			So(alerts[0].WinRateDelta, ShouldEqual, -100.0)
			So(alerts[0].ReferenceDate.Equal(patchDate), ShouldBeTrue)
			So(alerts[0].SeriesName, ShouldEqual, "GT3 Sprint")

			So(alerts[1].VehicleID, ShouldEqual, vehicleB)
			So(alerts[1].AlertType, ShouldEqual, meta.AlertSurge)
		})

		Convey("An invalid threshold falls back to the default", func() {
			bad := 150.0
			alerts, err := svc.PatchAlerts(ctx, service.AlertQuery{Threshold: &bad})
			So(err, ShouldBeNil)
			So(alerts, ShouldHaveLength, 2)

			notNumber := math.NaN()
			alerts, err = svc.PatchAlerts(ctx, service.AlertQuery{Threshold: &notNumber})
			So(err, ShouldBeNil)
			So(alerts, ShouldHaveLength, 2)
		})

		Convey("An explicit date with no surrounding data yields no alerts", func() {
			date := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
			alerts, err := svc.PatchAlerts(ctx, service.AlertQuery{PatchDate: &date})
			So(err, ShouldBeNil)
			So(alerts, ShouldNotBeNil)
			So(alerts, ShouldBeEmpty)
		})

		Convey("A series without patches compares around one window before now", func() {
			series := seriesEmpty
			alerts, err := svc.PatchAlerts(ctx, service.AlertQuery{SeriesID: &series})
			So(err, ShouldBeNil)
			So(alerts, ShouldBeEmpty)
		})

		Convey("Alerts are cached per query", func() {
			_, _ = svc.PatchAlerts(ctx, service.AlertQuery{})
			_, _ = svc.PatchAlerts(ctx, service.AlertQuery{})
			So(cacheStat(svc, "patch_alerts", "hits"), ShouldEqual, int64(1))

			svc.InvalidateCaches()
			So(cacheStat(svc, "patch_alerts", "keys"), ShouldEqual, int64(0))
		})
	})
}

// unordered returns driver histories oldest first.
type unordered struct {
	repository.Source
}

func (u unordered) DriverHistory(ctx context.Context, driverID int64, before time.Time, limit int) ([]model.RecentRace, error) {
	races, err := u.Source.DriverHistory(ctx, driverID, before, limit)
	slices.Reverse(races)
	return races, err
}

func TestSessionStrategy(t *testing.T) {
	ctx := context.Background()

	Convey("Given a service over the sample results", t, func() {
		svc := newService()
		defer svc.Stop()

		Convey("A strong driver gets an aggressive recommendation", func() {
			driver := int64(1)
			report, err := svc.SessionStrategy(ctx, lobbySession, &driver)
			So(err, ShouldBeNil)
			So(*report.SOF, ShouldEqual, 2000.0)
			So(report.FieldSize, ShouldEqual, 4)
			So(*report.Features.RecentAvgFinishPosition, ShouldEqual, 1.0)
			So(*report.Features.SafetyRating, ShouldEqual, 3.2)

			So(report.Strategy.Strategy, ShouldEqual, strategy.Aggressive)
			So(report.Strategy.Confidence, ShouldEqual, 0.55)
			So(report.Strategy.Reasoning, ShouldResemble, []string{
				"iRating is 600 above the SOF",
				"recent average finish is in the top 30% of the field",
			})
		})

		Convey("Without a driver the lobby recommendation is returned", func() {
			report, err := svc.SessionStrategy(ctx, lobbySession, nil)
			So(err, ShouldBeNil)
			So(report.Features, ShouldBeNil)
			So(report.Strategy.Strategy, ShouldEqual, strategy.Balanced)
			So(report.Strategy.Reasoning, ShouldResemble, []string{
				"iRating is close to the SOF",
				"recent finishes are in the upper part of the field",
			})
		})

		Convey("Unknown sessions and drivers are reported", func() {
			_, err := svc.SessionStrategy(ctx, 999, nil)
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)

			driver := int64(42)
			_, err = svc.SessionStrategy(ctx, lobbySession, &driver)
			So(errors.Is(err, service.ErrDriverNotInSession), ShouldBeTrue)
		})
	})

	Convey("Given a source returning histories out of order", t, func() {
		store, err := repository.NewMemoryStore(dataset())
		So(err, ShouldBeNil)
		svc := service.New(unordered{store}, service.WithClock(clock), service.WithWarmWorkers(0))
		defer svc.Stop()

		_, err = svc.SessionStrategy(ctx, lobbySession, nil)
		So(errors.Is(err, features.ErrInvalidOrder), ShouldBeTrue)
	})
}

func TestServiceLifecycle(t *testing.T) {
	ctx := context.Background()

	Convey("Given a service over a watched results file", t, func() {
		path := filepath.Join(t.TempDir(), "results.json")
		So(repository.SaveDataset(path, dataset()), ShouldBeNil)
		store, err := repository.NewFileStore(path)
		So(err, ShouldBeNil)

		cfg := config.New()
		cfg.WarmWorkers = 1
		svc := service.New(store, service.WithConfig(cfg), service.WithClock(clock))
		So(svc.Start(ctx), ShouldBeNil)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("Stats describe the running service", func() {
			stats := svc.GetStats(ctx)
			So(stats["started"], ShouldBeTrue)
			So(stats["results"], ShouldEqual, 22)
			So(stats["warm_workers"], ShouldEqual, 1)
			So(stats, ShouldContainKey, "warm_pending")
		})

		Convey("Warm rejects malformed jobs", func() {
			So(errors.Is(svc.Warm(ctx, model.WarmJob{Kind: model.WarmMetaReport}), service.ErrInvalidQuery), ShouldBeTrue)
			So(errors.Is(svc.Warm(ctx, model.WarmJob{Kind: "bogus"}), service.ErrInvalidQuery), ShouldBeTrue)

			series := seriesPrototype
			So(svc.Warm(ctx, model.WarmJob{Kind: model.WarmMetaReport, SeriesID: &series}), ShouldBeNil)
		})
	})

	Convey("Given a started service over a results file", t, func() {
		path := filepath.Join(t.TempDir(), "results.json")
		So(repository.SaveDataset(path, dataset()), ShouldBeNil)
		store, err := repository.NewFileStore(path)
		So(err, ShouldBeNil)

		svc := service.New(store, service.WithClock(clock), service.WithWarmWorkers(0))
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("A reload drops cached alerts", func() {
			alerts, err := svc.PatchAlerts(ctx, service.AlertQuery{})
			So(err, ShouldBeNil)
			So(alerts[0].ReferenceDate.Equal(patchDate), ShouldBeTrue)

			ds := dataset()
			ds.Patches = nil
			So(repository.SaveDataset(path, ds), ShouldBeNil)
			So(store.Reload(ctx), ShouldBeNil)

			alerts, err = svc.PatchAlerts(ctx, service.AlertQuery{})
			So(err, ShouldBeNil)
			So(alerts, ShouldNotBeEmpty)
			So(alerts[0].ReferenceDate.Equal(now.Add(-7*24*time.Hour)), ShouldBeTrue)
		})
	})

	Convey("Given a service that was started and stopped", t, func() {
		path := filepath.Join(t.TempDir(), "results.json")
		So(repository.SaveDataset(path, dataset()), ShouldBeNil)
		store, err := repository.NewFileStore(path)
		So(err, ShouldBeNil)

		svc := service.New(store, service.WithClock(clock), service.WithWarmWorkers(1))
		So(svc.Start(ctx), ShouldBeNil)
		svc.Stop()

		Convey("It cannot be started again", func() {
			So(errors.Is(svc.Start(ctx), service.ErrStopped), ShouldBeTrue)
			So(svc.GetStats(ctx)["started"], ShouldBeFalse)
		})

		Convey("A late reload neither queues work nor panics", func() {
			So(store.Reload(ctx), ShouldBeNil)
			So(svc.GetStats(ctx), ShouldNotContainKey, "warm_pending")
		})

		Convey("Stopping again is harmless", func() {
			So(svc.Stop, ShouldNotPanic)
		})
	})
}
