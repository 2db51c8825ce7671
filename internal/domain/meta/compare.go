package meta

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/simgrid/paddock/internal/domain/model"
)

const day = 24 * time.Hour

// AlertType classifies the direction of a patch alert.
type AlertType string

// Alert classifications.
const (
	AlertSurge AlertType = "surge"
	AlertDrop  AlertType = "drop"
)

// PatchAlert reports a vehicle whose statistics moved by at least the
// threshold between the windows before and after a reference date.
type PatchAlert struct {
	VehicleID     int64     `json:"vehicle_id"`
	VehicleName   string    `json:"vehicle_name"`
	SeriesID      int64     `json:"series_id"`
	SeriesName    string    `json:"series_name"`
	ReferenceDate time.Time `json:"reference_date"`
	WinRateDelta  float64   `json:"win_rate_delta"`
	PickRateDelta float64   `json:"pick_rate_delta"`
	Top5RateDelta float64   `json:"top5_rate_delta"`
	AlertType     AlertType `json:"alert_type"`
}

// MaxChange returns the largest absolute delta of the alert.
func (a PatchAlert) MaxChange() float64 {
	return math.Max(math.Abs(a.WinRateDelta), math.Max(math.Abs(a.PickRateDelta), math.Abs(a.Top5RateDelta)))
}

// Window is a half-open time range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t lies in the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Windows returns the before and after windows around reference. Both span
// whole UTC days and exclude the reference day itself.
func Windows(reference time.Time, days int) (before, after Window) {
	if days <= 0 {
		days = DefaultWindowDays
	}
	ref := reference.UTC().Truncate(day)
	before = Window{Start: ref.Add(-time.Duration(days) * day), End: ref}
	after = Window{Start: ref.Add(day), End: ref.Add(time.Duration(days+1) * day)}
	return before, after
}

type seriesKey struct {
	id   int64
	name string
}

// Compare aggregates the windows before and after reference independently
// and emits an alert for every (vehicle, series) present in both whose win,
// pick or top-5 rate moved by at least the threshold. Alerts are sorted by
// their largest absolute change, descending.
func Compare(records []model.SessionResult, reference time.Time, opts ...CompareOption) []PatchAlert {
	cfg := compareConfig{threshold: DefaultThreshold, windowDays: DefaultWindowDays}
	for _, opt := range opts {
		opt(&cfg)
	}

	beforeWin, afterWin := Windows(reference, cfg.windowDays)
	before := make(map[int64][]model.SessionResult)
	after := make(map[int64][]model.SessionResult)
	names := make(map[int64]string)

	// Windows are partitioned by series, so pick rate is a share of the
	// vehicle's own series rather than of every participant in the window.
	for _, rec := range records {
		s := rec.Session
		if cfg.seriesID != nil && s.SeriesID != *cfg.seriesID {
			continue
		}
		switch {
		case beforeWin.Contains(s.StartTime):
			before[s.SeriesID] = append(before[s.SeriesID], rec)
		case afterWin.Contains(s.StartTime):
			after[s.SeriesID] = append(after[s.SeriesID], rec)
		default:
			continue
		}
		if names[s.SeriesID] == "" {
			names[s.SeriesID] = s.SeriesName
		}
	}

	alerts := []PatchAlert{}
	for seriesID, beforeRecs := range before {
		afterRecs, ok := after[seriesID]
		if !ok {
			continue
		}
		series := seriesKey{id: seriesID, name: SeriesName(seriesID, names[seriesID])}
		alerts = append(alerts, diff(series, reference, Aggregate(beforeRecs, cfg.aggregate...), Aggregate(afterRecs, cfg.aggregate...), cfg.threshold)...)
	}

	slices.SortFunc(alerts, func(a, b PatchAlert) int {
		if c := cmp.Compare(b.MaxChange(), a.MaxChange()); c != 0 {
			return c
		}
		if c := cmp.Compare(a.SeriesID, b.SeriesID); c != 0 {
			return c
		}
		return cmp.Compare(a.VehicleID, b.VehicleID)
	})
	return alerts
}

func diff(series seriesKey, reference time.Time, before, after []VehicleStats, threshold float64) []PatchAlert {
	afterByID := make(map[int64]VehicleStats, len(after))
	for _, vs := range after {
		afterByID[vs.VehicleID] = vs
	}

	var out []PatchAlert
	for _, b := range before {
		a, ok := afterByID[b.VehicleID]
		if !ok {
			continue
		}
		alert := PatchAlert{
			VehicleID:     b.VehicleID,
			VehicleName:   b.VehicleName,
			SeriesID:      series.id,
			SeriesName:    series.name,
			ReferenceDate: reference,
			WinRateDelta:  Round(a.WinRate - b.WinRate),
			PickRateDelta: Round(a.PickRate - b.PickRate),
			Top5RateDelta: Round(a.Top5Rate - b.Top5Rate),
			AlertType:     AlertDrop,
		}
		if alert.MaxChange() < threshold {
			continue
		}
		// Any positive win or pick signal is a surge.
		if alert.WinRateDelta > 0 || alert.PickRateDelta > 0 {
			alert.AlertType = AlertSurge
		}
		out = append(out, alert)
	}
	return out
}

// SeriesName returns name, or a generic label when the source carries none.
func SeriesName(id int64, name string) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("Series %d", id)
}
