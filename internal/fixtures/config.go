// Package fixtures generates synthetic race result datasets for demos, load
// tests and end-to-end checks.
package fixtures

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned for a configuration Generate cannot honour.
var ErrInvalidConfig = errors.New("invalid fixture config")

// Config controls the shape of a generated dataset. The same Config always
// yields the same dataset.
type Config struct {
	Seed uint64

	Series    int // number of series
	Tracks    int // tracks shared by every series
	Vehicles  int // vehicles per series
	Drivers   int
	Sessions  int // sessions per series
	FieldSize int

	Start time.Time // first session
	Days  int       // sessions are spread over this many days

	// PatchDay places a BoP patch on every series that many days after
	// Start. Zero means no patch.
	PatchDay int
	// Boost is the performance edge, in rating points, of each series' first
	// vehicle after the patch. Drivers also switch to it after the patch with
	// probability SwitchRate.
	Boost      float64
	SwitchRate float64

	// DNFRate is the chance a participant does not finish.
	DNFRate float64
}

// DefaultConfig returns a month of racing in two series with a patch half-way.
func DefaultConfig() Config {
	return Config{
		Seed:       1,
		Series:     2,
		Tracks:     3,
		Vehicles:   4,
		Drivers:    40,
		Sessions:   30,
		FieldSize:  12,
		Start:      time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Days:       28,
		PatchDay:   14,
		Boost:      400,
		SwitchRate: 0.5,
		DNFRate:    0.05,
	}
}

// Validate reports the first setting Generate cannot honour.
func (c Config) Validate() error {
	switch {
	case c.Series < 1, c.Tracks < 1, c.Vehicles < 1, c.Sessions < 1:
		return fmt.Errorf("%w: series, tracks, vehicles and sessions must be positive", ErrInvalidConfig)
	case c.FieldSize < 1 || c.FieldSize > c.Drivers:
		return fmt.Errorf("%w: field size must be between 1 and the number of drivers (%d)", ErrInvalidConfig, c.Drivers)
	case c.Days < 1:
		return fmt.Errorf("%w: days must be positive", ErrInvalidConfig)
	case c.PatchDay < 0 || c.PatchDay >= c.Days:
		return fmt.Errorf("%w: patch day must be in [0, %d)", ErrInvalidConfig, c.Days)
	case c.SwitchRate < 0 || c.SwitchRate > 1, c.DNFRate < 0 || c.DNFRate > 1:
		return fmt.Errorf("%w: rates must be in [0, 1]", ErrInvalidConfig)
	case c.Start.IsZero():
		return fmt.Errorf("%w: start is required", ErrInvalidConfig)
	}
	return nil
}
