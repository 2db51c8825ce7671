package features

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidOrder reports a race history that is not ordered most recent first.
var ErrInvalidOrder = errors.New("recent races not ordered most recent first")

// InvalidOrderError locates the first pair of history entries that breaks
// the ordering contract.
type InvalidOrderError struct {
	Index    int
	Previous time.Time
	Current  time.Time
}

func (e *InvalidOrderError) Error() string {
	return fmt.Sprintf("%s: entry %d (%s) is newer than entry %d (%s)",
		ErrInvalidOrder, e.Index, e.Current.Format(time.RFC3339), e.Index-1, e.Previous.Format(time.RFC3339))
}

// Unwrap lets errors.Is match ErrInvalidOrder.
func (e *InvalidOrderError) Unwrap() error { return ErrInvalidOrder }
