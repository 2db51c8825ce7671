package repository_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/simgrid/paddock/internal/adapters/repository"
	"github.com/simgrid/paddock/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

const (
	seriesGT3 int64 = 1
	seriesLMP int64 = 2

	trackSpa   int64 = 10
	trackMonza int64 = 20
)

var day0 = time.Date(2025, 4, 1, 19, 0, 0, 0, time.UTC)

// sampleDataset holds three sessions: two GT3 races at Spa one day apart and
// an LMP race at Monza. Driver 7 races all three.
func sampleDataset() repository.Dataset {
	result := func(session, driver, vehicle int64, finish int, before, after float64) model.ParticipantResult {
		r := model.ParticipantResult{
			SessionID:    session,
			DriverID:     driver,
			VehicleID:    vehicle,
			VehicleName:  "car",
			RatingBefore: model.Ptr(before),
			RatingAfter:  model.Ptr(after),
			Incidents:    model.Ptr(2),
		}
		if finish > 0 {
			r.FinishPosition = model.Ptr(finish)
		}
		return r
	}
	return repository.Dataset{
		Series: []repository.Series{{ID: seriesGT3, Name: "GT3 Sprint"}, {ID: seriesLMP, Name: "Prototype Cup"}},
		Sessions: []model.RaceSession{
			{SessionID: 300, SeriesID: seriesLMP, TrackID: trackMonza, TrackName: "Monza", StartTime: day0.Add(48 * time.Hour)},
			{SessionID: 100, SeriesID: seriesGT3, TrackID: trackSpa, TrackName: "Spa", StartTime: day0, StrengthOfField: model.Ptr(2100.0)},
			{SessionID: 200, SeriesID: seriesGT3, TrackID: trackSpa, TrackName: "Spa", StartTime: day0.Add(24 * time.Hour)},
		},
		Results: []model.ParticipantResult{
			result(100, 7, 11, 1, 2000, 2050),
			result(100, 8, 12, 2, 2200, 2180),
			result(200, 7, 11, 0, 2050, 2010),
			result(200, 9, 12, 1, 1800, 1850),
			result(300, 7, 31, 3, 2010, 2030),
		},
		Patches: []repository.Patch{
			{SeriesID: seriesGT3, Date: day0.Add(12 * time.Hour), Note: "GT3 BoP"},
			{SeriesID: seriesLMP, Date: day0.Add(36 * time.Hour)},
		},
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	Convey("Given a store built from the sample dataset", t, func() {
		store, err := repository.NewMemoryStore(sampleDataset())
		So(err, ShouldBeNil)

		Convey("Count reports every result", func() {
			n, err := store.Count(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 5)
		})

		Convey("SessionResults without a scope returns everything in start order", func() {
			rows, err := store.SessionResults(ctx, repository.Scope{})
			So(err, ShouldBeNil)
			So(rows, ShouldHaveLength, 5)
			So(rows[0].Session.SessionID, ShouldEqual, 100)
			So(rows[1].Session.SessionID, ShouldEqual, 100)
			So(rows[2].Session.SessionID, ShouldEqual, 200)
			So(rows[4].Session.SessionID, ShouldEqual, 300)
			So(rows[0].Session.SeriesName, ShouldEqual, "GT3 Sprint")
		})

		Convey("SessionResults honours series, track and a half-open time range", func() {
			series := seriesGT3
			rows, err := store.SessionResults(ctx, repository.Scope{SeriesID: &series})
			So(err, ShouldBeNil)
			So(rows, ShouldHaveLength, 4)

			track := trackMonza
			rows, err = store.SessionResults(ctx, repository.Scope{TrackID: &track})
			So(err, ShouldBeNil)
			So(rows, ShouldHaveLength, 1)

			rows, err = store.SessionResults(ctx, repository.Scope{From: day0, To: day0.Add(24 * time.Hour)})
			So(err, ShouldBeNil)
			So(rows, ShouldHaveLength, 2)
			for _, r := range rows {
				So(r.Session.SessionID, ShouldEqual, 100)
			}
		})

		Convey("An empty scope match returns an empty, non-nil slice", func() {
			rows, err := store.SessionResults(ctx, repository.Scope{From: day0.Add(240 * time.Hour)})
			So(err, ShouldBeNil)
			So(rows, ShouldNotBeNil)
			So(rows, ShouldBeEmpty)
		})

		Convey("LatestPatch picks the newest patch overall or per series", func() {
			date, ok, err := store.LatestPatch(ctx, nil)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(date, ShouldEqual, day0.Add(36*time.Hour))

			series := seriesGT3
			date, ok, err = store.LatestPatch(ctx, &series)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(date, ShouldEqual, day0.Add(12*time.Hour))

			unknown := int64(99)
			_, ok, err = store.LatestPatch(ctx, &unknown)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})

		Convey("Session and SessionParticipants look up one session", func() {
			s, err := store.Session(ctx, 100)
			So(err, ShouldBeNil)
			So(s.TrackName, ShouldEqual, "Spa")
			So(*s.StrengthOfField, ShouldEqual, 2100.0)

			ps, err := store.SessionParticipants(ctx, 200)
			So(err, ShouldBeNil)
			So(ps, ShouldHaveLength, 2)
			So(ps[0].DNF(), ShouldBeTrue)

			_, err = store.Session(ctx, 404)
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			_, err = store.SessionParticipants(ctx, 404)
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})

		Convey("DriverHistory returns earlier races, most recent first", func() {
			races, err := store.DriverHistory(ctx, 7, day0.Add(48*time.Hour), 10)
			So(err, ShouldBeNil)
			So(races, ShouldHaveLength, 2)
			So(races[0].StartTime, ShouldEqual, day0.Add(24*time.Hour))
			So(races[0].DNF, ShouldBeTrue)
			So(races[1].FinishPosition, ShouldEqual, 1)
			So(*races[1].IRatingAfter, ShouldEqual, 2050.0)

			races, err = store.DriverHistory(ctx, 7, day0.Add(72*time.Hour), 1)
			So(err, ShouldBeNil)
			So(races, ShouldHaveLength, 1)
			So(races[0].FinishPosition, ShouldEqual, 3)

			races, err = store.DriverHistory(ctx, 7, day0, 5)
			So(err, ShouldBeNil)
			So(races, ShouldBeEmpty)

			_, err = store.DriverHistory(ctx, 7, day0, 0)
			So(errors.Is(err, repository.ErrInvalidLimit), ShouldBeTrue)
		})

		Convey("A memory store cannot reload or watch", func() {
			So(errors.Is(store.Reload(ctx), repository.ErrInvalidDataset), ShouldBeTrue)
			So(errors.Is(store.Watch(ctx), repository.ErrInvalidDataset), ShouldBeTrue)
		})
	})

	Convey("Given inconsistent datasets", t, func() {
		Convey("A result for an unknown session is rejected", func() {
			ds := sampleDataset()
			ds.Results = append(ds.Results, model.ParticipantResult{SessionID: 999, DriverID: 1})
			_, err := repository.NewMemoryStore(ds)
			So(errors.Is(err, repository.ErrInvalidDataset), ShouldBeTrue)
		})

		Convey("A duplicate session is rejected", func() {
			ds := sampleDataset()
			ds.Sessions = append(ds.Sessions, ds.Sessions[0])
			_, err := repository.NewMemoryStore(ds)
			So(errors.Is(err, repository.ErrInvalidDataset), ShouldBeTrue)
		})
	})
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()

	Convey("Given a dataset saved to disk", t, func() {
		path := filepath.Join(t.TempDir(), "data", "results.json")
		So(repository.SaveDataset(path, sampleDataset()), ShouldBeNil)

		store, err := repository.NewFileStore(path)
		So(err, ShouldBeNil)

		Convey("It serves the same data as the memory store", func() {
			n, err := store.Count(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 5)

			ds, err := repository.LoadDataset(path)
			So(err, ShouldBeNil)
			So(ds.Series, ShouldHaveLength, 2)
			So(ds.Patches[0].Note, ShouldEqual, "GT3 BoP")
		})

		Convey("Reload picks up a rewritten file and runs reload hooks", func() {
			hooked := 0
			store.OnReload(func(context.Context) { hooked++ })

			ds := sampleDataset()
			ds.Results = ds.Results[:2]
			So(repository.SaveDataset(path, ds), ShouldBeNil)
			So(store.Reload(ctx), ShouldBeNil)

			n, _ := store.Count(ctx)
			So(n, ShouldEqual, 2)
			So(hooked, ShouldEqual, 1)
		})

		Convey("A broken file keeps the previous data", func() {
			So(os.WriteFile(path, []byte("{not json"), 0o600), ShouldBeNil)
			err := store.Reload(ctx)
			So(errors.Is(err, repository.ErrInvalidDataset), ShouldBeTrue)

			n, _ := store.Count(ctx)
			So(n, ShouldEqual, 5)
		})

		Convey("Watch reloads when the file is replaced", func() {
			wctx, cancel := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() { done <- store.Watch(wctx) }()
			time.Sleep(100 * time.Millisecond)

			ds := sampleDataset()
			ds.Results = ds.Results[:1]
			So(repository.SaveDataset(path, ds), ShouldBeNil)

			deadline := time.Now().Add(5 * time.Second)
			n := 0
			for time.Now().Before(deadline) {
				if n, _ = store.Count(ctx); n == 1 {
					break
				}
				time.Sleep(20 * time.Millisecond)
			}
			So(n, ShouldEqual, 1)

			cancel()
			So(<-done, ShouldBeNil)
		})
	})

	Convey("Loading a missing file fails", t, func() {
		_, err := repository.NewFileStore(filepath.Join(t.TempDir(), "missing.json"))
		So(err, ShouldNotBeNil)
	})
}
