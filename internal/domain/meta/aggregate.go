// Package meta computes per-vehicle meta statistics from race results and
// detects shifts between two periods around a balance patch.
package meta

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/simgrid/paddock/internal/domain/model"
)

const (
	percent    = 100
	top5Cutoff = 5
)

// Band is the lap-time summary of one rating band.
type Band struct {
	AvgLapTime float64 `json:"avg_lap_time"`
	Count      int     `json:"count"`
}

// VehicleStats are the statistics of one vehicle within a scope.
type VehicleStats struct {
	VehicleID               int64           `json:"vehicle_id"`
	VehicleName             string          `json:"vehicle_name"`
	TotalSessions           int             `json:"total_sessions"`
	TotalParticipantRecords int             `json:"total_participant_records"`
	Wins                    int             `json:"wins"`
	WinRate                 float64         `json:"win_rate"`
	Top5Finishes            int             `json:"top5_finishes"`
	Top5Rate                float64         `json:"top5_rate"`
	PickRate                float64         `json:"pick_rate"`
	AvgLapTime              *float64        `json:"avg_lap_time"`
	RatingBands             map[string]Band `json:"rating_bands"`
}

type bandAcc struct {
	sum   float64
	count int
}

type vehicleAcc struct {
	id       int64
	name     string
	sessions map[int64]struct{}
	records  int
	wins     int
	top5     int
	lapSum   float64
	lapCount int
	bands    map[int]*bandAcc
}

// Aggregate reduces joined results into one VehicleStats per vehicle id. The
// caller is expected to have filtered records to the scope of interest.
// Output is sorted by win rate, then pick rate (both descending), then
// vehicle id.
func Aggregate(records []model.SessionResult, opts ...Option) []VehicleStats {
	cfg := aggregateConfig{bandWidth: DefaultBandWidth}
	for _, opt := range opts {
		opt(&cfg)
	}

	if len(records) == 0 {
		return []VehicleStats{}
	}

	byVehicle := make(map[int64]*vehicleAcc)
	for _, rec := range records {
		r := rec.Result
		acc, ok := byVehicle[r.VehicleID]
		if !ok {
			acc = &vehicleAcc{
				id:       r.VehicleID,
				name:     r.VehicleName,
				sessions: make(map[int64]struct{}),
				bands:    make(map[int]*bandAcc),
			}
			byVehicle[r.VehicleID] = acc
		}
		acc.add(r, cfg.bandWidth)
	}

	total := len(records)
	out := make([]VehicleStats, 0, len(byVehicle))
	for _, acc := range byVehicle {
		out = append(out, acc.stats(total, cfg.bandWidth))
	}

	slices.SortFunc(out, func(a, b VehicleStats) int {
		if c := cmp.Compare(b.WinRate, a.WinRate); c != 0 {
			return c
		}
		if c := cmp.Compare(b.PickRate, a.PickRate); c != 0 {
			return c
		}
		return cmp.Compare(a.VehicleID, b.VehicleID)
	})
	return out
}

func (a *vehicleAcc) add(r model.ParticipantResult, bandWidth int) {
	a.sessions[r.SessionID] = struct{}{}
	a.records++
	if a.name == "" {
		a.name = r.VehicleName
	}

	if pos := r.FinishPosition; pos != nil && *pos >= 1 {
		if *pos == 1 {
			a.wins++
		}
		if *pos <= top5Cutoff {
			a.top5++
		}
	}

	if r.BestLapTime == nil || *r.BestLapTime <= 0 {
		return
	}
	lap := *r.BestLapTime
	a.lapSum += lap
	a.lapCount++

	if r.RatingBefore == nil {
		return
	}
	lower := bandLower(*r.RatingBefore, bandWidth)
	b, ok := a.bands[lower]
	if !ok {
		b = &bandAcc{}
		a.bands[lower] = b
	}
	b.sum += lap
	b.count++
}

func (a *vehicleAcc) stats(totalRecords, bandWidth int) VehicleStats {
	sessions := len(a.sessions)
	vs := VehicleStats{
		VehicleID:               a.id,
		VehicleName:             a.name,
		TotalSessions:           sessions,
		TotalParticipantRecords: a.records,
		Wins:                    a.wins,
		WinRate:                 Round(ratePct(a.wins, sessions)),
		Top5Finishes:            a.top5,
		Top5Rate:                Round(ratePct(a.top5, sessions)),
		PickRate:                Round(ratePct(a.records, totalRecords)),
		RatingBands:             make(map[string]Band, len(a.bands)),
	}
	if a.lapCount > 0 {
		avg := Round(a.lapSum / float64(a.lapCount))
		vs.AvgLapTime = &avg
	}
	for lower, b := range a.bands {
		vs.RatingBands[BandLabel(lower, bandWidth)] = Band{
			AvgLapTime: Round(b.sum / float64(b.count)),
			Count:      b.count,
		}
	}
	return vs
}

// ratePct returns n/d as a percentage clamped to [0, 100]. A zero
// denominator yields 0.
func ratePct(n, d int) float64 {
	if d <= 0 {
		return 0
	}
	return math.Max(0, math.Min(percent, float64(n)/float64(d)*percent))
}

func bandLower(rating float64, width int) int {
	return int(math.Floor(rating/float64(width))) * width
}

// BandLabel formats the rating band starting at lower, e.g. "2100-2200".
func BandLabel(lower, width int) string {
	return fmt.Sprintf("%d-%d", lower, lower+width)
}

// Round rounds v to two decimals, halves away from zero.
func Round(v float64) float64 {
	return math.Round(v*percent) / percent
}
