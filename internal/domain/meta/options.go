package meta

import "math"

// Default analytics configuration constants.
const (
	DefaultBandWidth  = 100
	DefaultThreshold  = 20.0
	DefaultWindowDays = 7
	maxThreshold      = 100.0
)

// Option applies a configuration option to an aggregation.
type Option func(*aggregateConfig)

type aggregateConfig struct {
	bandWidth int
}

// WithBandWidth sets the rating band width. Non-positive widths are ignored.
func WithBandWidth(width int) Option {
	return func(c *aggregateConfig) {
		if width > 0 {
			c.bandWidth = width
		}
	}
}

// CompareOption applies a configuration option to a period comparison.
type CompareOption func(*compareConfig)

type compareConfig struct {
	threshold  float64
	windowDays int
	seriesID   *int64
	aggregate  []Option
}

// WithThreshold sets the alert threshold in percentage points. Values that
// SanitizeThreshold rejects leave the default in place.
func WithThreshold(pct float64) CompareOption {
	return func(c *compareConfig) {
		if v, ok := SanitizeThreshold(pct); ok {
			c.threshold = v
		}
	}
}

// WithWindowDays sets the width of the before and after windows.
func WithWindowDays(days int) CompareOption {
	return func(c *compareConfig) {
		if days > 0 {
			c.windowDays = days
		}
	}
}

// WithSeries restricts the comparison to one series.
func WithSeries(seriesID int64) CompareOption {
	return func(c *compareConfig) {
		c.seriesID = &seriesID
	}
}

// WithAggregateOptions forwards options to the per-window aggregation.
func WithAggregateOptions(opts ...Option) CompareOption {
	return func(c *compareConfig) {
		c.aggregate = append(c.aggregate, opts...)
	}
}

// SanitizeThreshold validates a caller-supplied threshold. It returns the
// value and true when it lies in (0, 100], otherwise DefaultThreshold and false.
func SanitizeThreshold(pct float64) (float64, bool) {
	if math.IsNaN(pct) || math.IsInf(pct, 0) || pct <= 0 || pct > maxThreshold {
		return DefaultThreshold, false
	}
	return pct, true
}
