// Package repository provides the result sources the analytics service reads
// race sessions, participant results and balance patches from.
package repository

import (
	"context"
	"time"

	"github.com/simgrid/paddock/internal/domain/model"
)

// Scope selects joined session results. Nil ids and zero times are
// unbounded; the time range is half-open [From, To).
type Scope struct {
	SeriesID *int64
	TrackID  *int64
	From     time.Time
	To       time.Time
}

// Matches reports whether s falls inside the scope.
func (sc Scope) Matches(s model.RaceSession) bool {
	if sc.SeriesID != nil && s.SeriesID != *sc.SeriesID {
		return false
	}
	if sc.TrackID != nil && s.TrackID != *sc.TrackID {
		return false
	}
	if !sc.From.IsZero() && s.StartTime.Before(sc.From) {
		return false
	}
	if !sc.To.IsZero() && !s.StartTime.Before(sc.To) {
		return false
	}
	return true
}

// Series names a racing series.
type Series struct {
	ID   int64  `json:"series_id"`
	Name string `json:"name"`
}

// Patch records a balance-of-performance change applied to a series.
type Patch struct {
	SeriesID int64     `json:"series_id"`
	Date     time.Time `json:"patch_date"`
	Note     string    `json:"note,omitempty"`
}

// Dataset is the serialized form of a result source.
type Dataset struct {
	Series   []Series                  `json:"series"`
	Sessions []model.RaceSession       `json:"sessions"`
	Results  []model.ParticipantResult `json:"results"`
	Patches  []Patch                   `json:"patches"`
}

// Source provides read access to race results.
type Source interface {
	// SessionResults returns every participant result joined with its
	// session, for sessions inside the scope, ordered by start time.
	SessionResults(ctx context.Context, scope Scope) ([]model.SessionResult, error)

	// LatestPatch returns the most recent patch date, restricted to one
	// series when seriesID is set. ok is false when no patch is recorded.
	LatestPatch(ctx context.Context, seriesID *int64) (date time.Time, ok bool, err error)

	// Session returns one session. Returns ErrNotFound if it is unknown.
	Session(ctx context.Context, sessionID int64) (model.RaceSession, error)

	// SessionParticipants returns the results of one session.
	// Returns ErrNotFound if the session is unknown.
	SessionParticipants(ctx context.Context, sessionID int64) ([]model.ParticipantResult, error)

	// DriverHistory returns up to limit races of a driver that started
	// strictly before the given time, most recent first.
	DriverHistory(ctx context.Context, driverID int64, before time.Time, limit int) ([]model.RecentRace, error)

	// Count returns the number of participant results available.
	Count(ctx context.Context) (int, error)
}
