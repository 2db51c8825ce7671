package service

import "errors"

// Sentinel kinds for service errors.
var (
	ErrInvalidQuery       = errors.New("invalid query")
	ErrDriverNotInSession = errors.New("driver not in session")
	ErrStopped            = errors.New("service stopped")
)
