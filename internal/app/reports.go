package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/simgrid/paddock/internal/adapters/cache"
	"github.com/simgrid/paddock/internal/adapters/repository"
	"github.com/simgrid/paddock/internal/domain/features"
	"github.com/simgrid/paddock/internal/domain/meta"
	"github.com/simgrid/paddock/internal/domain/model"
	"github.com/simgrid/paddock/internal/domain/strategy"
	"github.com/simgrid/paddock/pkg/logger"
	"github.com/simgrid/paddock/pkg/metrics"
)

const (
	day = 24 * time.Hour

	// DefaultPeriodDays is the meta report period when none is given.
	DefaultPeriodDays = 7
	// MaxPeriodDays bounds the meta report period.
	MaxPeriodDays = 90
)

// ReportQuery selects a meta report.
type ReportQuery struct {
	SeriesID   int64  `json:"series_id"`
	TrackID    *int64 `json:"track_id"`
	PeriodDays int    `json:"period_days"`
}

// MetaReport is the vehicle meta of one series, optionally one track, over
// the trailing period.
type MetaReport struct {
	SeriesID    int64               `json:"series_id"`
	SeriesName  string              `json:"series_name"`
	TrackID     *int64              `json:"track_id"`
	TrackName   string              `json:"track_name,omitempty"`
	PeriodStart time.Time           `json:"period_start"`
	PeriodEnd   time.Time           `json:"period_end"`
	Vehicles    []meta.VehicleStats `json:"vehicles"`
}

// MetaReport aggregates vehicle statistics of the trailing period.
func (s *Service) MetaReport(ctx context.Context, q ReportQuery) (MetaReport, error) {
	if q.PeriodDays == 0 {
		q.PeriodDays = DefaultPeriodDays
	}
	if q.PeriodDays < 1 || q.PeriodDays > MaxPeriodDays {
		return MetaReport{}, fmt.Errorf("%w: period_days must be between 1 and %d", ErrInvalidQuery, MaxPeriodDays)
	}

	key := cache.GenerateKey(reportsCache, q)
	if r, ok := s.reports.Get(key); ok {
		return r, nil
	}

	start := time.Now()
	end := s.now().UTC()
	from := end.Add(-time.Duration(q.PeriodDays) * day)
	seriesID := q.SeriesID
	records, err := s.source.SessionResults(ctx, repository.Scope{
		SeriesID: &seriesID,
		TrackID:  q.TrackID,
		From:     from,
		To:       end,
	})
	if err != nil {
		metrics.RecordErrorByComponent("service", "source_error")
		return MetaReport{}, fmt.Errorf("meta report: %w", err)
	}

	report := MetaReport{
		SeriesID:    q.SeriesID,
		TrackID:     q.TrackID,
		PeriodStart: from,
		PeriodEnd:   end,
		Vehicles:    meta.Aggregate(records, meta.WithBandWidth(s.bandWidth)),
	}
	var seriesName string
	if len(records) > 0 {
		seriesName = records[0].Session.SeriesName
		if q.TrackID != nil {
			report.TrackName = records[0].Session.TrackName
		}
	}
	report.SeriesName = meta.SeriesName(q.SeriesID, seriesName)

	metrics.RecordComputation(reportsCache, elapsedMs(start))
	s.reports.Set(key, report)
	s.logger.Debug(ctx, "meta report computed",
		logger.Int64("series_id", q.SeriesID),
		logger.Int("records", len(records)),
		logger.Int("vehicles", len(report.Vehicles)),
	)
	return report, nil
}

// AlertQuery selects patch alerts. Nil fields take the service defaults:
// every series, the latest recorded patch and the configured threshold.
type AlertQuery struct {
	SeriesID  *int64     `json:"series_id"`
	PatchDate *time.Time `json:"patch_date"`
	Threshold *float64   `json:"threshold"`
}

// PatchAlerts compares the windows around a patch and returns the vehicles
// whose rates moved by at least the threshold.
func (s *Service) PatchAlerts(ctx context.Context, q AlertQuery) ([]meta.PatchAlert, error) {
	threshold := s.thresholdPct
	if q.Threshold != nil {
		v, ok := meta.SanitizeThreshold(*q.Threshold)
		if !ok {
			s.logger.Warn(ctx, "invalid alert threshold, using default",
				logger.String("requested", strconv.FormatFloat(*q.Threshold, 'g', -1, 64)),
				logger.Float64("default", s.thresholdPct))
			v = s.thresholdPct
		}
		threshold = v
	}
	q.Threshold = &threshold

	key := cache.GenerateKey(alertsCache, q)
	if alerts, ok := s.alerts.Get(key); ok {
		return alerts, nil
	}

	start := time.Now()
	reference, err := s.referenceDate(ctx, q)
	if err != nil {
		return nil, err
	}

	before, after := meta.Windows(reference, s.windowDays)
	records, err := s.source.SessionResults(ctx, repository.Scope{
		SeriesID: q.SeriesID,
		From:     before.Start,
		To:       after.End,
	})
	if err != nil {
		metrics.RecordErrorByComponent("service", "source_error")
		return nil, fmt.Errorf("patch alerts: %w", err)
	}

	opts := []meta.CompareOption{
		meta.WithThreshold(threshold),
		meta.WithWindowDays(s.windowDays),
		meta.WithAggregateOptions(meta.WithBandWidth(s.bandWidth)),
	}
	if q.SeriesID != nil {
		opts = append(opts, meta.WithSeries(*q.SeriesID))
	}
	alerts := meta.Compare(records, reference, opts...)

	for _, a := range alerts {
		metrics.RecordPatchAlert(string(a.AlertType))
	}
	metrics.RecordComputation(alertsCache, elapsedMs(start))
	s.alerts.Set(key, alerts)
	s.logger.Debug(ctx, "patch alerts computed",
		logger.Any("reference", reference),
		logger.Float64("threshold", threshold),
		logger.Int("alerts", len(alerts)),
	)
	return alerts, nil
}

// referenceDate resolves the comparison pivot: an explicit patch date, the
// latest recorded patch, or one window before now.
func (s *Service) referenceDate(ctx context.Context, q AlertQuery) (time.Time, error) {
	if q.PatchDate != nil {
		return q.PatchDate.UTC(), nil
	}
	date, ok, err := s.source.LatestPatch(ctx, q.SeriesID)
	if err != nil {
		metrics.RecordErrorByComponent("service", "source_error")
		return time.Time{}, fmt.Errorf("latest patch: %w", err)
	}
	if ok {
		return date.UTC(), nil
	}
	fallback := s.now().UTC().Add(-time.Duration(s.windowDays) * day)
	s.logger.Info(ctx, "no patch recorded, comparing around a fallback date",
		logger.Any("reference", fallback))
	return fallback, nil
}

// StrategyReport is the recommendation for one driver or a whole lobby.
type StrategyReport struct {
	SessionID int64                    `json:"session_id"`
	SOF       *float64                 `json:"sof"`
	FieldSize int                      `json:"field_size"`
	DriverID  *int64                   `json:"driver_id,omitempty"`
	Features  *features.Vector         `json:"features,omitempty"`
	Strategy  *strategy.Recommendation `json:"strategy"`
}

// SessionStrategy recommends a race strategy for a driver of a session, or
// for the lobby as a whole when driverID is nil. Every participant's
// features are built from races that started before the session.
func (s *Service) SessionStrategy(ctx context.Context, sessionID int64, driverID *int64) (StrategyReport, error) {
	key := cache.GenerateKey(strategiesCache, struct {
		Session int64  `json:"session"`
		Driver  *int64 `json:"driver"`
	}{sessionID, driverID})
	if r, ok := s.strategies.Get(key); ok {
		return r, nil
	}

	start := time.Now()
	session, err := s.source.Session(ctx, sessionID)
	if err != nil {
		return StrategyReport{}, err
	}
	participants, err := s.source.SessionParticipants(ctx, sessionID)
	if err != nil {
		return StrategyReport{}, err
	}

	sof := session.StrengthOfField
	if sof == nil {
		ratings := make([]*float64, len(participants))
		for i, p := range participants {
			ratings[i] = p.RatingBefore
		}
		sof = features.EstimateSOF(ratings)
	}

	vectors := make([]features.Vector, len(participants))
	me := -1
	for i, p := range participants {
		v, err := s.driverFeatures(ctx, session, p, sof, len(participants))
		if err != nil {
			return StrategyReport{}, err
		}
		vectors[i] = v
		if driverID != nil && p.DriverID == *driverID {
			me = i
		}
	}

	report := StrategyReport{SessionID: sessionID, SOF: sof, FieldSize: len(participants), DriverID: driverID}
	switch {
	case driverID != nil && me < 0:
		return StrategyReport{}, fmt.Errorf("%w: driver %d, session %d", ErrDriverNotInSession, *driverID, sessionID)
	case driverID != nil:
		opponents := make([]features.Vector, 0, len(vectors)-1)
		opponents = append(opponents, vectors[:me]...)
		opponents = append(opponents, vectors[me+1:]...)
		rec := s.advisor.Recommend(vectors[me], opponents)
		report.Features = &vectors[me]
		report.Strategy = &rec
	default:
		if rec, ok := s.advisor.RecommendLobby(vectors, sof, len(participants)); ok {
			report.Strategy = &rec
		}
	}

	if report.Strategy != nil {
		metrics.RecordRecommendation(string(report.Strategy.Strategy))
	}
	metrics.RecordComputation(strategiesCache, elapsedMs(start))
	s.strategies.Set(key, report)
	return report, nil
}

func (s *Service) driverFeatures(ctx context.Context, session model.RaceSession, p model.ParticipantResult, sof *float64, fieldSize int) (features.Vector, error) {
	history, err := s.source.DriverHistory(ctx, p.DriverID, session.StartTime, s.historyLimit)
	if err != nil {
		metrics.RecordErrorByComponent("service", "source_error")
		return features.Vector{}, fmt.Errorf("history of driver %d: %w", p.DriverID, err)
	}
	v, err := features.Extract(features.Input{
		Recent:           history,
		IRating:          p.RatingBefore,
		SafetyRating:     p.SafetyBefore,
		SOF:              sof,
		FieldSize:        fieldSize,
		StartingPosition: p.StartingPosition,
	}, features.WithWindow(s.recentWindow))
	if err != nil {
		metrics.RecordErrorByComponent("service", "invalid_history")
		s.logger.Error(ctx, "driver history out of order",
			logger.Int64("driver_id", p.DriverID), logger.Error(err))
		return features.Vector{}, fmt.Errorf("features of driver %d: %w", p.DriverID, err)
	}
	return v, nil
}
