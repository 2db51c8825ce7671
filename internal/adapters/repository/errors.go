package repository

import "errors"

// Sentinel kinds for result source errors.
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidDataset = errors.New("invalid results dataset")
	ErrInvalidLimit   = errors.New("invalid history limit")
	ErrUnavailable    = errors.New("result source unavailable")
)
