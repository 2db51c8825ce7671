// Package strategy turns driver feature vectors into an explainable race
// strategy recommendation.
package strategy

import (
	"fmt"
	"math"

	"github.com/simgrid/paddock/internal/domain/features"
)

// Strategy is the recommended race approach.
type Strategy string

// Strategies, from most to least risk tolerant.
const (
	Aggressive Strategy = "aggressive"
	Balanced   Strategy = "balanced"
	Defensive  Strategy = "defensive"
	Survival   Strategy = "survival"
)

// Fallback explanation cut points, used only when no rule fired.
const (
	closeToSOF   = 100
	upperRankPct = 40
	lowerRankPct = 60
)

const (
	baseConfidence    = 0.5
	leanConfidence    = 0.6
	maxConfidence     = 0.9
	confidencePerStep = 0.1
)

// Recommendation is the advisor's verdict. Reasoning lists the triggered
// heuristics in evaluation order and is never empty.
type Recommendation struct {
	Strategy   Strategy `json:"strategy"`
	Confidence float64  `json:"confidence"`
	Reasoning  []string `json:"reasoning"`
}

// Advisor scores feature vectors against configurable thresholds. It holds
// no mutable state and is safe for concurrent use.
type Advisor struct {
	thresholds Thresholds
}

// New creates an Advisor with the default thresholds.
func New(opts ...Option) *Advisor {
	a := &Advisor{thresholds: DefaultThresholds()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Thresholds returns the thresholds in effect.
func (a *Advisor) Thresholds() Thresholds {
	return a.thresholds
}

// Recommend scores me against the opponents of the same session.
func (a *Advisor) Recommend(me features.Vector, opponents []features.Vector) Recommendation {
	t := a.thresholds
	var aggressive, defensive float64
	var reasoning []string

	if me.IRating != nil && me.SOF != nil {
		diff := *me.IRating - *me.SOF
		switch {
		case diff > t.RatingGap:
			aggressive += 2
			reasoning = append(reasoning, fmt.Sprintf("iRating is %.0f above the SOF", diff))
		case diff < -t.RatingGap:
			defensive += 2
			reasoning = append(reasoning, fmt.Sprintf("iRating is %.0f below the SOF", -diff))
		}
	}

	rankPct, hasRank := rankPercentile(me)
	if hasRank {
		switch {
		case rankPct < t.TopRankPct:
			aggressive += 1.5
			reasoning = append(reasoning, fmt.Sprintf("recent average finish is in the top %.0f%% of the field", t.TopRankPct))
		case rankPct > t.BottomRankPct:
			defensive += 1.5
			reasoning = append(reasoning, fmt.Sprintf("recent average finish is in the bottom %.0f%% of the field", 100-t.BottomRankPct))
		}
	}

	if me.IRatingTrend != nil {
		switch {
		case *me.IRatingTrend > t.Trend:
			aggressive++
			reasoning = append(reasoning, "iRating is trending up")
		case *me.IRatingTrend < -t.Trend:
			defensive++
			reasoning = append(reasoning, "iRating is trending down")
		}
	}

	if avg, ok := meanRating(opponents); ok && me.IRating != nil && *me.IRating < avg-t.OpponentGap {
		defensive += 1.5
		reasoning = append(reasoning, fmt.Sprintf("opponents average %.0f iRating, well above yours", avg))
	}

	if me.AvgIncidents != nil && *me.AvgIncidents > t.Incidents {
		defensive++
		reasoning = append(reasoning, "average incidents per race are high")
	}

	highDNF := me.DNFRate != nil && *me.DNFRate > t.DNFRate
	if highDNF {
		defensive += 2
		reasoning = append(reasoning, "DNF rate is high, focus on finishing")
	}

	rec := Recommendation{Strategy: Balanced, Confidence: baseConfidence}
	switch {
	case defensive >= t.StrongScore:
		rec.Strategy = Defensive
		if highDNF {
			rec.Strategy = Survival
		}
		rec.Confidence = math.Min(maxConfidence, baseConfidence+(defensive-t.StrongScore)*confidencePerStep)
	case aggressive >= t.DominantScore:
		rec.Strategy = Aggressive
		rec.Confidence = math.Min(maxConfidence, baseConfidence+(aggressive-t.DominantScore)*confidencePerStep)
	case defensive > aggressive && defensive >= t.LeaningScore:
		rec.Strategy = Defensive
		rec.Confidence = leanConfidence + (defensive-t.LeaningScore)*confidencePerStep
	case aggressive > defensive && aggressive >= t.LeaningScore:
		rec.Strategy = Aggressive
		rec.Confidence = leanConfidence + (aggressive-t.LeaningScore)*confidencePerStep
	}
	rec.Confidence = math.Round(rec.Confidence*100) / 100

	if len(reasoning) == 0 {
		reasoning = fallbackReasoning(me, rankPct, hasRank)
	}
	rec.Reasoning = reasoning
	return rec
}

// RecommendLobby recommends for the average driver of a field when no
// particular driver is of interest. It reports false when no driver in the
// field has a known iRating.
func (a *Advisor) RecommendLobby(field []features.Vector, sof *float64, fieldSize int) (Recommendation, bool) {
	var rated []features.Vector
	for _, v := range field {
		if v.IRating != nil {
			rated = append(rated, v)
		}
	}
	if len(rated) == 0 {
		return Recommendation{}, false
	}

	avg, _ := meanRating(rated)
	avg = math.Round(avg)
	average := features.Vector{
		IRating:                 &avg,
		AvgIncidents:            mean(rated, func(v features.Vector) *float64 { return v.AvgIncidents }),
		DNFRate:                 mean(rated, func(v features.Vector) *float64 { return v.DNFRate }),
		RecentAvgFinishPosition: mean(rated, func(v features.Vector) *float64 { return v.RecentAvgFinishPosition }),
		SOF:                     sof,
		FieldSize:               fieldSize,
	}
	return a.Recommend(average, rated), true
}

func fallbackReasoning(me features.Vector, rankPct float64, hasRank bool) []string {
	var out []string
	if me.IRating != nil && me.SOF != nil {
		diff := *me.IRating - *me.SOF
		switch {
		case math.Abs(diff) < closeToSOF:
			out = append(out, "iRating is close to the SOF")
		case diff > 0:
			out = append(out, fmt.Sprintf("iRating is %.0f above the SOF", math.Round(diff)))
		default:
			out = append(out, fmt.Sprintf("iRating is %.0f below the SOF", math.Round(-diff)))
		}
	}
	if hasRank {
		switch {
		case rankPct < upperRankPct:
			out = append(out, "recent finishes are in the upper part of the field")
		case rankPct > lowerRankPct:
			out = append(out, "recent finishes are in the lower part of the field")
		}
	}
	if len(out) == 0 {
		out = append(out, "balanced lobby, no strong signal either way")
	}
	return out
}

func rankPercentile(v features.Vector) (float64, bool) {
	if v.RecentAvgFinishPosition == nil || v.FieldSize <= 0 {
		return 0, false
	}
	return *v.RecentAvgFinishPosition / float64(v.FieldSize) * 100, true
}

func meanRating(vs []features.Vector) (float64, bool) {
	m := mean(vs, func(v features.Vector) *float64 { return v.IRating })
	if m == nil {
		return 0, false
	}
	return *m, true
}

func mean(vs []features.Vector, field func(features.Vector) *float64) *float64 {
	var sum float64
	var n int
	for _, v := range vs {
		if f := field(v); f != nil {
			sum += *f
			n++
		}
	}
	if n == 0 {
		return nil
	}
	m := sum / float64(n)
	return &m
}
