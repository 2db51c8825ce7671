package api

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/simgrid/paddock/internal/adapters/repository"
	service "github.com/simgrid/paddock/internal/app"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// statusOf maps a service error to an HTTP status and error code.
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, service.ErrDriverNotInSession):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrInvalidQuery), errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, repository.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		// Includes *features.InvalidOrderError: the source broke its
		// ordering contract.
		return http.StatusInternalServerError, "internal_error"
	}
}
