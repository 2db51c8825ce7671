package strategy

// Thresholds holds the heuristic cut points of the advisor. The defaults are
// empirical and meant to be recalibrated through configuration.
type Thresholds struct {
	// RatingGap is the rating-vs-SOF difference that counts as a clear edge.
	RatingGap float64

	// TopRankPct and BottomRankPct bound the recent finish percentile.
	TopRankPct    float64
	BottomRankPct float64

	// Trend is the rating movement that counts as momentum.
	Trend float64

	// OpponentGap is how far below the opponents' mean rating is risky.
	OpponentGap float64

	// Incidents is the mean incident count considered messy.
	Incidents float64

	// DNFRate above which finishing becomes the priority.
	DNFRate float64

	// Score cut points for the decision table.
	StrongScore   float64
	DominantScore float64
	LeaningScore  float64
}

// DefaultThresholds returns the stock heuristic thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RatingGap:     200,
		TopRankPct:    30,
		BottomRankPct: 70,
		Trend:         50,
		OpponentGap:   300,
		Incidents:     5,
		DNFRate:       0.3,
		StrongScore:   4,
		DominantScore: 3,
		LeaningScore:  2,
	}
}

// Option applies a configuration option to the Advisor.
type Option func(*Advisor)

// WithThresholds replaces the heuristic thresholds. Non-positive fields keep
// their default.
func WithThresholds(t Thresholds) Option {
	return func(a *Advisor) {
		merge(&a.thresholds.RatingGap, t.RatingGap)
		merge(&a.thresholds.TopRankPct, t.TopRankPct)
		merge(&a.thresholds.BottomRankPct, t.BottomRankPct)
		merge(&a.thresholds.Trend, t.Trend)
		merge(&a.thresholds.OpponentGap, t.OpponentGap)
		merge(&a.thresholds.Incidents, t.Incidents)
		merge(&a.thresholds.DNFRate, t.DNFRate)
		merge(&a.thresholds.StrongScore, t.StrongScore)
		merge(&a.thresholds.DominantScore, t.DominantScore)
		merge(&a.thresholds.LeaningScore, t.LeaningScore)
	}
}

func merge(dst *float64, v float64) {
	if v > 0 {
		*dst = v
	}
}
