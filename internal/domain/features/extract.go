// Package features reduces a driver's recent race history into a feature
// vector used by the strategy advisor.
package features

import (
	"math"
	"time"

	"github.com/simgrid/paddock/internal/domain/model"
)

// DefaultWindow is the number of most recent races considered.
const DefaultWindow = 5

const (
	top5Cutoff  = 5
	top10Cutoff = 10
)

// Option applies a configuration option to an extraction.
type Option func(*config)

type config struct {
	window int
}

// WithWindow sets how many recent races feed the rolling statistics.
func WithWindow(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.window = n
		}
	}
}

// Input is everything known about a driver ahead of a session.
type Input struct {
	// Recent must be ordered most recent first.
	Recent           []model.RecentRace
	IRating          *float64
	SafetyRating     *float64
	SOF              *float64
	FieldSize        int
	StartingPosition *int
}

// Vector is a driver's feature snapshot. Nil means "no data"; rates are
// fractions in [0, 1].
type Vector struct {
	IRating      *float64 `json:"i_rating"`
	SafetyRating *float64 `json:"safety_rating"`

	AvgIncidents            *float64 `json:"avg_incidents_per_race"`
	DNFRate                 *float64 `json:"dnf_rate"`
	AvgFinishPosition       *float64 `json:"avg_finish_position"`
	RecentAvgFinishPosition *float64 `json:"recent_avg_finish_position"`
	WinRate                 *float64 `json:"win_rate"`
	Top5Rate                *float64 `json:"top5_rate"`
	Top10Rate               *float64 `json:"top10_rate"`

	IRatingTrend *float64 `json:"ir_trend"`
	SafetyTrend  *float64 `json:"sr_trend"`

	SOF              *float64 `json:"sof"`
	StartingPosition *int     `json:"starting_position"`
	FieldSize        int      `json:"total_participants"`
}

// Extract builds the feature vector for in. It fails with an
// *InvalidOrderError when in.Recent is not ordered most recent first.
func Extract(in Input, opts ...Option) (Vector, error) {
	cfg := config{window: DefaultWindow}
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := checkOrder(in.Recent); err != nil {
		return Vector{}, err
	}

	v := Vector{
		IRating:          in.IRating,
		SafetyRating:     in.SafetyRating,
		SOF:              in.SOF,
		StartingPosition: in.StartingPosition,
		FieldSize:        in.FieldSize,
	}
	if v.SafetyRating == nil && len(in.Recent) > 0 {
		v.SafetyRating = in.Recent[0].SafetyAfter
	}
	if len(in.Recent) == 0 {
		return v, nil
	}

	recent := in.Recent
	if len(recent) > cfg.window {
		recent = recent[:cfg.window]
	}

	var incidentSum float64
	var incidentCount int
	var dnf, completed, wins, top5, top10 int
	var finishSum float64
	for _, r := range recent {
		if r.Incidents != nil {
			incidentSum += float64(*r.Incidents)
			incidentCount++
		}
		if r.DNF {
			dnf++
			continue
		}
		completed++
		finishSum += float64(r.FinishPosition)
		if r.FinishPosition == 1 {
			wins++
		}
		if r.FinishPosition <= top5Cutoff {
			top5++
		}
		if r.FinishPosition <= top10Cutoff {
			top10++
		}
	}

	v.AvgIncidents = ratio(incidentSum, incidentCount)
	v.DNFRate = ratio(float64(dnf), len(recent))
	// Both finish averages cover the same window; consumers read either.
	v.AvgFinishPosition = ratio(finishSum, completed)
	v.RecentAvgFinishPosition = ratio(finishSum, completed)
	v.WinRate = ratio(float64(wins), completed)
	v.Top5Rate = ratio(float64(top5), completed)
	v.Top10Rate = ratio(float64(top10), completed)

	if len(recent) >= 2 {
		latest, previous := recent[0], recent[1]
		v.IRatingTrend = trend(latest.IRatingAfter, previous.IRatingBefore, latest.IRatingBefore)
		v.SafetyTrend = trend(latest.SafetyAfter, previous.SafetyBefore, latest.SafetyBefore)
	}
	return v, nil
}

// trend is latestAfter-previousBefore, falling back to the latest race's own
// delta.
func trend(latestAfter, previousBefore, latestBefore *float64) *float64 {
	if latestAfter == nil {
		return nil
	}
	switch {
	case previousBefore != nil:
		d := *latestAfter - *previousBefore
		return &d
	case latestBefore != nil:
		d := *latestAfter - *latestBefore
		return &d
	default:
		return nil
	}
}

func ratio(sum float64, n int) *float64 {
	if n <= 0 {
		return nil
	}
	v := sum / float64(n)
	return &v
}

// checkOrder compares every dated race with the last dated race before it,
// so undated entries cannot hide an inversion.
func checkOrder(races []model.RecentRace) error {
	var prev time.Time
	for i, r := range races {
		cur := r.StartTime
		if cur.IsZero() {
			continue
		}
		if !prev.IsZero() && cur.After(prev) {
			return &InvalidOrderError{Index: i, Previous: prev, Current: cur}
		}
		prev = cur
	}
	return nil
}

// EstimateSOF returns the rounded mean of the known ratings, or nil when
// none is known.
func EstimateSOF(ratings []*float64) *float64 {
	var sum float64
	var n int
	for _, r := range ratings {
		if r == nil {
			continue
		}
		sum += *r
		n++
	}
	if n == 0 {
		return nil
	}
	sof := math.Round(sum / float64(n))
	return &sof
}
