package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/simgrid/paddock/internal/domain/model"
	"github.com/simgrid/paddock/pkg/logger"
	"github.com/simgrid/paddock/pkg/metrics"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore is a Source backed by PostgreSQL. Source queries run through
// a circuit breaker; while it is open they fail fast with ErrUnavailable.
type PostgresStore struct {
	conn    *sql.DB
	log     logger.Logger
	breaker *breaker
}

// Connect opens and pings a PostgreSQL database.
func Connect(ctx context.Context, dsn string, opts ...Option) (*PostgresStore, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	o.logger.Info(ctx, "connected to postgres")
	return &PostgresStore{conn: conn, log: o.logger, breaker: newBreaker("postgres", o)}, nil
}

// Close closes the connection pool.
func (p *PostgresStore) Close() error {
	return p.conn.Close()
}

// Ping checks the connection.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.conn.PingContext(ctx)
}

// Migrate applies the embedded schema. Every migration is idempotent.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations dir: %w", err)
	}
	for _, entry := range entries {
		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}
		if _, err := p.conn.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", entry.Name(), err)
		}
		p.log.Info(ctx, "applied migration", logger.String("name", entry.Name()))
	}
	return nil
}

// Import upserts a dataset in a single transaction.
func (p *PostgresStore) Import(ctx context.Context, ds Dataset) error {
	tx, err := p.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, s := range ds.Series {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO series (series_id, name) VALUES ($1, $2)
			ON CONFLICT (series_id) DO UPDATE SET name = $2
		`, s.ID, s.Name); err != nil {
			return fmt.Errorf("importing series %d: %w", s.ID, err)
		}
	}
	for _, s := range ds.Sessions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO race_sessions (session_id, series_id, track_id, track_name, start_time, strength_of_field)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (session_id) DO UPDATE SET
				series_id = $2, track_id = $3, track_name = $4, start_time = $5, strength_of_field = $6
		`, s.SessionID, s.SeriesID, s.TrackID, s.TrackName, s.StartTime.UTC(), s.StrengthOfField); err != nil {
			return fmt.Errorf("importing session %d: %w", s.SessionID, err)
		}
	}
	for _, r := range ds.Results {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO participant_results (
				session_id, driver_id, vehicle_id, vehicle_name, finish_position, starting_position,
				best_lap_time_seconds, rating_before, rating_after,
				safety_rating_before, safety_rating_after, incident_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (session_id, driver_id) DO UPDATE SET
				vehicle_id = $3, vehicle_name = $4, finish_position = $5, starting_position = $6,
				best_lap_time_seconds = $7, rating_before = $8, rating_after = $9,
				safety_rating_before = $10, safety_rating_after = $11, incident_count = $12
		`, r.SessionID, r.DriverID, r.VehicleID, r.VehicleName, r.FinishPosition, r.StartingPosition,
			r.BestLapTime, r.RatingBefore, r.RatingAfter, r.SafetyBefore, r.SafetyAfter, r.Incidents); err != nil {
			return fmt.Errorf("importing result %d/%d: %w", r.SessionID, r.DriverID, err)
		}
	}
	for _, pt := range ds.Patches {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO bop_patches (series_id, patch_date, note) VALUES ($1, $2, $3)
			ON CONFLICT (series_id, patch_date) DO UPDATE SET note = $3
		`, pt.SeriesID, pt.Date.UTC(), pt.Note); err != nil {
			return fmt.Errorf("importing patch for series %d: %w", pt.SeriesID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	metrics.UpdateResultsLoaded(len(ds.Results))
	return nil
}

const sessionColumns = `s.session_id, s.series_id, COALESCE(se.name, ''), s.track_id, s.track_name,
	s.start_time, s.strength_of_field`

const resultColumns = `r.session_id, r.driver_id, r.vehicle_id, r.vehicle_name, r.finish_position,
	r.starting_position, r.best_lap_time_seconds, r.rating_before, r.rating_after,
	r.safety_rating_before, r.safety_rating_after, r.incident_count`

func (p *PostgresStore) sessionResults(ctx context.Context, scope Scope) ([]model.SessionResult, error) {
	defer observe("session_results", time.Now())

	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if scope.SeriesID != nil {
		add("s.series_id = $%d", *scope.SeriesID)
	}
	if scope.TrackID != nil {
		add("s.track_id = $%d", *scope.TrackID)
	}
	if !scope.From.IsZero() {
		add("s.start_time >= $%d", scope.From.UTC())
	}
	if !scope.To.IsZero() {
		add("s.start_time < $%d", scope.To.UTC())
	}

	q := `SELECT ` + sessionColumns + `, ` + resultColumns + `
		FROM participant_results r
		JOIN race_sessions s ON s.session_id = r.session_id
		LEFT JOIN series se ON se.series_id = s.series_id`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY s.start_time, s.session_id, r.driver_id"

	rows, err := p.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying session results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]model.SessionResult, 0)
	for rows.Next() {
		var sr model.SessionResult
		if err := scanJoined(rows, &sr); err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

func (p *PostgresStore) latestPatch(ctx context.Context, seriesID *int64) (time.Time, bool, error) {
	var date sql.NullTime
	var err error
	if seriesID != nil {
		err = p.conn.QueryRowContext(ctx,
			`SELECT MAX(patch_date) FROM bop_patches WHERE series_id = $1`, *seriesID).Scan(&date)
	} else {
		err = p.conn.QueryRowContext(ctx, `SELECT MAX(patch_date) FROM bop_patches`).Scan(&date)
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("querying latest patch: %w", err)
	}
	if !date.Valid {
		return time.Time{}, false, nil
	}
	return date.Time.UTC(), true, nil
}

func (p *PostgresStore) session(ctx context.Context, sessionID int64) (model.RaceSession, error) {
	row := p.conn.QueryRowContext(ctx, `SELECT `+sessionColumns+`
		FROM race_sessions s LEFT JOIN series se ON se.series_id = s.series_id
		WHERE s.session_id = $1`, sessionID)

	var s model.RaceSession
	var sof sql.NullFloat64
	err := row.Scan(&s.SessionID, &s.SeriesID, &s.SeriesName, &s.TrackID, &s.TrackName, &s.StartTime, &sof)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.RecordErrorByComponent("repository", "not_found")
		return model.RaceSession{}, fmt.Errorf("session %d: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return model.RaceSession{}, fmt.Errorf("querying session %d: %w", sessionID, err)
	}
	s.StartTime = s.StartTime.UTC()
	s.StrengthOfField = nullFloat(sof)
	return s, nil
}

func (p *PostgresStore) sessionParticipants(ctx context.Context, sessionID int64) ([]model.ParticipantResult, error) {
	if _, err := p.session(ctx, sessionID); err != nil {
		return nil, err
	}
	rows, err := p.conn.QueryContext(ctx, `SELECT `+resultColumns+`
		FROM participant_results r WHERE r.session_id = $1 ORDER BY r.driver_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying participants of %d: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]model.ParticipantResult, 0)
	for rows.Next() {
		var r model.ParticipantResult
		if err := scanResult(rows, &r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) driverHistory(ctx context.Context, driverID int64, before time.Time, limit int) ([]model.RecentRace, error) {
	defer observe("driver_history", time.Now())
	if limit < 1 {
		return nil, ErrInvalidLimit
	}
	rows, err := p.conn.QueryContext(ctx, `SELECT `+sessionColumns+`, `+resultColumns+`
		FROM participant_results r
		JOIN race_sessions s ON s.session_id = r.session_id
		LEFT JOIN series se ON se.series_id = s.series_id
		WHERE r.driver_id = $1 AND s.start_time < $2
		ORDER BY s.start_time DESC, s.session_id DESC
		LIMIT $3`, driverID, before.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("querying history of driver %d: %w", driverID, err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]model.RecentRace, 0, limit)
	for rows.Next() {
		var sr model.SessionResult
		if err := scanJoined(rows, &sr); err != nil {
			return nil, err
		}
		out = append(out, model.RecentRaceFrom(sr))
	}
	return out, rows.Err()
}

func (p *PostgresStore) count(ctx context.Context) (int, error) {
	var n int
	if err := p.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM participant_results`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting results: %w", err)
	}
	return n, nil
}

// SessionResults implements Source.
func (p *PostgresStore) SessionResults(ctx context.Context, scope Scope) ([]model.SessionResult, error) {
	return guarded(p.breaker, func() ([]model.SessionResult, error) { return p.sessionResults(ctx, scope) })
}

type latestPatchRow struct {
	date time.Time
	ok   bool
}

// LatestPatch implements Source.
func (p *PostgresStore) LatestPatch(ctx context.Context, seriesID *int64) (time.Time, bool, error) {
	row, err := guarded(p.breaker, func() (latestPatchRow, error) {
		date, ok, err := p.latestPatch(ctx, seriesID)
		return latestPatchRow{date: date, ok: ok}, err
	})
	return row.date, row.ok, err
}

// Session implements Source.
func (p *PostgresStore) Session(ctx context.Context, sessionID int64) (model.RaceSession, error) {
	return guarded(p.breaker, func() (model.RaceSession, error) { return p.session(ctx, sessionID) })
}

// SessionParticipants implements Source.
func (p *PostgresStore) SessionParticipants(ctx context.Context, sessionID int64) ([]model.ParticipantResult, error) {
	return guarded(p.breaker, func() ([]model.ParticipantResult, error) { return p.sessionParticipants(ctx, sessionID) })
}

// DriverHistory implements Source.
func (p *PostgresStore) DriverHistory(ctx context.Context, driverID int64, before time.Time, limit int) ([]model.RecentRace, error) {
	return guarded(p.breaker, func() ([]model.RecentRace, error) { return p.driverHistory(ctx, driverID, before, limit) })
}

// Count implements Source.
func (p *PostgresStore) Count(ctx context.Context) (int, error) {
	return guarded(p.breaker, func() (int, error) { return p.count(ctx) })
}

// BreakerState reports the query circuit breaker state: closed, half-open or
// open.
func (p *PostgresStore) BreakerState() string {
	return p.breaker.State().String()
}

type scanner interface {
	Scan(dest ...any) error
}

// nullable holds the scan targets of optional result columns.
type nullable struct {
	finish, start, incidents              sql.NullInt64
	lap, before, after, srBefore, srAfter sql.NullFloat64
}

func (n *nullable) targets() []any {
	return []any{&n.finish, &n.start, &n.lap, &n.before, &n.after, &n.srBefore, &n.srAfter, &n.incidents}
}

func (n *nullable) apply(r *model.ParticipantResult) {
	r.FinishPosition = nullInt(n.finish)
	r.StartingPosition = nullInt(n.start)
	r.BestLapTime = nullFloat(n.lap)
	r.RatingBefore = nullFloat(n.before)
	r.RatingAfter = nullFloat(n.after)
	r.SafetyBefore = nullFloat(n.srBefore)
	r.SafetyAfter = nullFloat(n.srAfter)
	r.Incidents = nullInt(n.incidents)
}

func scanResult(row scanner, r *model.ParticipantResult) error {
	var n nullable
	dest := append([]any{&r.SessionID, &r.DriverID, &r.VehicleID, &r.VehicleName}, n.targets()...)
	if err := row.Scan(dest...); err != nil {
		return fmt.Errorf("scanning result: %w", err)
	}
	n.apply(r)
	return nil
}

func scanJoined(row scanner, sr *model.SessionResult) error {
	var (
		n   nullable
		sof sql.NullFloat64
		s   = &sr.Session
		r   = &sr.Result
	)
	dest := []any{
		&s.SessionID, &s.SeriesID, &s.SeriesName, &s.TrackID, &s.TrackName, &s.StartTime, &sof,
		&r.SessionID, &r.DriverID, &r.VehicleID, &r.VehicleName,
	}
	if err := row.Scan(append(dest, n.targets()...)...); err != nil {
		return fmt.Errorf("scanning session result: %w", err)
	}
	s.StartTime = s.StartTime.UTC()
	s.StrengthOfField = nullFloat(sof)
	n.apply(r)
	return nil
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	return model.Ptr(int(v.Int64))
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return model.Ptr(v.Float64)
}
