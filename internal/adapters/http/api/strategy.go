package api

import (
	"context"
	"net/http"

	service "github.com/simgrid/paddock/internal/app"
	"github.com/simgrid/paddock/pkg/logger"
)

// StrategyDependencies defines the operation behind the strategy route.
type StrategyDependencies interface {
	SessionStrategy(ctx context.Context, sessionID int64, driverID *int64) (service.StrategyReport, error)
}

// StrategyHandler handles session strategy requests.
type StrategyHandler struct {
	deps StrategyDependencies
	log  logger.Logger
}

// NewStrategyHandler creates a new strategy handler.
func NewStrategyHandler(deps StrategyDependencies, log logger.Logger) *StrategyHandler {
	return &StrategyHandler{deps: deps, log: log}
}

type strategyParams struct {
	SessionID int64  `query:"id" validate:"required,gt=0"`
	DriverID  *int64 `query:"driver_id" validate:"omitempty,gt=0"`
}

// HandleStrategy handles GET /sessions/{id}/strategy?driver_id=.
func (h *StrategyHandler) HandleStrategy(w http.ResponseWriter, r *http.Request) {
	const op = "api.session_strategy"

	var p strategyParams
	id, err := queryInt64(op, "id", r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if id != nil {
		p.SessionID = *id
	}
	if p.DriverID, err = queryInt64(op, "driver_id", r.URL.Query().Get("driver_id")); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := validateParams(op, p); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	report, err := h.deps.SessionStrategy(r.Context(), p.SessionID, p.DriverID)
	if err != nil {
		status, code := statusOf(err)
		if status >= http.StatusInternalServerError {
			h.log.Error(r.Context(), "request failed", logger.String("op", op), logger.Error(err))
		}
		writeError(w, status, code, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, report)
}
