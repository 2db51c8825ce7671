package api

import (
	"context"
	"net/http"

	service "github.com/simgrid/paddock/internal/app"
	"github.com/simgrid/paddock/internal/domain/meta"
	"github.com/simgrid/paddock/pkg/logger"
)

// MetaDependencies defines the report operations behind the /meta routes.
type MetaDependencies interface {
	MetaReport(ctx context.Context, q service.ReportQuery) (service.MetaReport, error)
	PatchAlerts(ctx context.Context, q service.AlertQuery) ([]meta.PatchAlert, error)
}

// MetaHandler handles meta report and patch alert requests.
type MetaHandler struct {
	deps MetaDependencies
	log  logger.Logger
}

// NewMetaHandler creates a new meta handler.
func NewMetaHandler(deps MetaDependencies, log logger.Logger) *MetaHandler {
	return &MetaHandler{deps: deps, log: log}
}

type reportParams struct {
	SeriesID   int64  `query:"series_id" validate:"required,gt=0"`
	TrackID    *int64 `query:"track_id" validate:"omitempty,gt=0"`
	PeriodDays *int64 `query:"period_days" validate:"omitempty,gte=1,lte=90"`
}

// HandleReport handles GET /meta/report?series_id=&track_id=&period_days=.
func (h *MetaHandler) HandleReport(w http.ResponseWriter, r *http.Request) {
	const op = "api.meta_report"
	q := r.URL.Query()

	var p reportParams
	series, err := queryInt64(op, "series_id", q.Get("series_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if series != nil {
		p.SeriesID = *series
	}
	if p.TrackID, err = queryInt64(op, "track_id", q.Get("track_id")); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if p.PeriodDays, err = queryInt64(op, "period_days", q.Get("period_days")); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := validateParams(op, p); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	query := service.ReportQuery{SeriesID: p.SeriesID, TrackID: p.TrackID}
	if p.PeriodDays != nil {
		query.PeriodDays = int(*p.PeriodDays)
	}
	report, err := h.deps.MetaReport(r.Context(), query)
	if err != nil {
		h.fail(r, w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type alertParams struct {
	SeriesID *int64 `query:"series_id" validate:"omitempty,gt=0"`
}

// HandleAlerts handles GET /meta/bop-alerts?series_id=&patch_date=&threshold=.
// An out-of-range or non-numeric threshold is not an error: the service falls
// back to its default.
func (h *MetaHandler) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	const op = "api.bop_alerts"
	q := r.URL.Query()

	var (
		p     alertParams
		query service.AlertQuery
		err   error
	)
	if p.SeriesID, err = queryInt64(op, "series_id", q.Get("series_id")); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := validateParams(op, p); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	query.SeriesID = p.SeriesID
	if query.PatchDate, err = queryDate(op, "patch_date", q.Get("patch_date")); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	query.Threshold = queryThreshold(q.Get("threshold"))

	alerts, err := h.deps.PatchAlerts(r.Context(), query)
	if err != nil {
		h.fail(r, w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (h *MetaHandler) fail(r *http.Request, w http.ResponseWriter, op string, err error) {
	status, code := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.log.Error(r.Context(), "request failed", logger.String("op", op), logger.Error(err))
	}
	writeError(w, status, code, Wrap(op, err))
}
