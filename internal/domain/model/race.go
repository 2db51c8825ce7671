// Package model contains domain records passed between layers.
package model

import "time"

// RaceSession describes one hosted or official race session.
type RaceSession struct {
	SessionID       int64     `json:"session_id"`
	SeriesID        int64     `json:"series_id"`
	SeriesName      string    `json:"series_name,omitempty"`
	TrackID         int64     `json:"track_id"`
	TrackName       string    `json:"track_name"`
	StartTime       time.Time `json:"start_time"`
	StrengthOfField *float64  `json:"strength_of_field,omitempty"`
}

// ParticipantResult is one driver's outcome in one session.
// A nil FinishPosition marks a did-not-finish.
type ParticipantResult struct {
	SessionID        int64    `json:"session_id"`
	DriverID         int64    `json:"driver_id"`
	VehicleID        int64    `json:"vehicle_id"`
	VehicleName      string   `json:"vehicle_name"`
	FinishPosition   *int     `json:"finish_position"`
	StartingPosition *int     `json:"starting_position"`
	BestLapTime      *float64 `json:"best_lap_time_seconds"`
	RatingBefore     *float64 `json:"rating_before"`
	RatingAfter      *float64 `json:"rating_after"`
	SafetyBefore     *float64 `json:"safety_rating_before,omitempty"`
	SafetyAfter      *float64 `json:"safety_rating_after,omitempty"`
	Incidents        *int     `json:"incident_count"`
}

// DNF reports whether the result has no valid finishing position.
func (p ParticipantResult) DNF() bool { return p.FinishPosition == nil }

// SessionResult joins a participant result with its session.
type SessionResult struct {
	Session RaceSession
	Result  ParticipantResult
}

// RecentRace is one entry of a driver's history, ordered most recent first
// by the producer.
type RecentRace struct {
	FinishPosition int       `json:"finish_position"`
	Incidents      *int      `json:"incidents"`
	DNF            bool      `json:"dnf"`
	IRatingBefore  *float64  `json:"i_rating_before"`
	IRatingAfter   *float64  `json:"i_rating_after"`
	SafetyBefore   *float64  `json:"safety_rating_before"`
	SafetyAfter    *float64  `json:"safety_rating_after"`
	StartTime      time.Time `json:"session_start_time"`
}

// RecentRaceFrom converts a joined result into a history entry.
func RecentRaceFrom(sr SessionResult) RecentRace {
	r := RecentRace{
		Incidents:     sr.Result.Incidents,
		DNF:           sr.Result.DNF(),
		IRatingBefore: sr.Result.RatingBefore,
		IRatingAfter:  sr.Result.RatingAfter,
		SafetyBefore:  sr.Result.SafetyBefore,
		SafetyAfter:   sr.Result.SafetyAfter,
		StartTime:     sr.Session.StartTime,
	}
	if sr.Result.FinishPosition != nil {
		r.FinishPosition = *sr.Result.FinishPosition
	}
	return r
}

// Ptr returns a pointer to v. Handy for building optional fields.
func Ptr[T any](v T) *T { return &v }
