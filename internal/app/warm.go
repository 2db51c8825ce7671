package service

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/simgrid/paddock/internal/adapters/mq/queue"
	"github.com/simgrid/paddock/internal/adapters/repository"
	"github.com/simgrid/paddock/internal/domain/model"
	"github.com/simgrid/paddock/pkg/logger"
)

// Warm implements worker.Warmer. It computes the default report a job names
// so that the first request is served from the cache.
func (s *Service) Warm(ctx context.Context, job queue.Job) error {
	// Released before running so a reload during the run can queue a fresh job.
	s.warmKeys.Unrecord(ctx, warmKey(job))

	switch job.Kind {
	case model.WarmMetaReport:
		if job.SeriesID == nil {
			return fmt.Errorf("%w: meta report warm-up needs a series", ErrInvalidQuery)
		}
		_, err := s.MetaReport(ctx, ReportQuery{SeriesID: *job.SeriesID, PeriodDays: DefaultPeriodDays})
		return err
	case model.WarmPatchAlerts:
		_, err := s.PatchAlerts(ctx, AlertQuery{SeriesID: job.SeriesID})
		return err
	default:
		return fmt.Errorf("%w: unknown warm-up kind %q", ErrInvalidQuery, job.Kind)
	}
}

// enqueueWarmups queues the default reports of every series raced in the
// last window, plus the all-series patch alerts. Callers hold s.mu so the
// queue cannot be closed underneath it.
func (s *Service) enqueueWarmups(ctx context.Context) {
	series, err := s.recentSeries(ctx)
	if err != nil {
		s.logger.Warn(ctx, "cannot list series to warm", logger.Error(err))
		return
	}

	now := s.now()
	jobs := []queue.Job{{ID: uuid.NewString(), Kind: model.WarmPatchAlerts, EnqueuedAt: now}}
	for _, id := range series {
		jobs = append(jobs,
			queue.Job{ID: uuid.NewString(), Kind: model.WarmMetaReport, SeriesID: model.Ptr(id), EnqueuedAt: now},
			queue.Job{ID: uuid.NewString(), Kind: model.WarmPatchAlerts, SeriesID: model.Ptr(id), EnqueuedAt: now},
		)
	}

	queued := 0
	for _, j := range jobs {
		key := warmKey(j)
		if s.warmKeys.SeenAndRecord(ctx, key) {
			continue
		}
		if err := s.warmQueue.Enqueue(ctx, j); err != nil {
			s.warmKeys.Unrecord(ctx, key)
			s.logger.Warn(ctx, "warm-up job dropped",
				logger.String("kind", string(j.Kind)), logger.Error(err))
			continue
		}
		queued++
	}
	s.logger.Debug(ctx, "warm-up jobs queued", logger.Int("jobs", queued), logger.Int("series", len(series)))
}

// warmKey identifies the report a job computes.
func warmKey(j queue.Job) string {
	if j.SeriesID == nil {
		return string(j.Kind) + ":all"
	}
	return string(j.Kind) + ":" + strconv.FormatInt(*j.SeriesID, 10)
}

func (s *Service) recentSeries(ctx context.Context) ([]int64, error) {
	from := s.now().UTC().Add(-time.Duration(s.windowDays) * day)
	records, err := s.source.SessionResults(ctx, repository.Scope{From: from})
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]struct{})
	var ids []int64
	for _, r := range records {
		if _, ok := seen[r.Session.SeriesID]; !ok {
			seen[r.Session.SeriesID] = struct{}{}
			ids = append(ids, r.Session.SeriesID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}
