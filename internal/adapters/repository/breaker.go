package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/simgrid/paddock/pkg/logger"
	"github.com/simgrid/paddock/pkg/metrics"
)

const (
	defaultBreakerFailures  = 5
	defaultBreakerCooldown  = 30 * time.Second
	breakerHalfOpenRequests = 1
)

// breaker trips after consecutive query failures and rejects queries until
// the cooldown has passed.
type breaker = gobreaker.CircuitBreaker[any]

func newBreaker(name string, o options) *breaker {
	failures := o.breakerFailures
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: breakerHalfOpenRequests,
		Timeout:     o.breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// Lookups that find nothing and abandoned requests say nothing
			// about the database's health.
			return err == nil ||
				errors.Is(err, ErrNotFound) ||
				errors.Is(err, ErrInvalidLimit) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				metrics.RecordErrorByComponent("repository", "breaker_open")
			}
			o.logger.Warn(context.Background(), "circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		},
	})
}

// guarded runs fn through cb. Rejections by an open breaker match
// ErrUnavailable.
func guarded[T any](cb *breaker, fn func() (T, error)) (T, error) {
	v, err := cb.Execute(func() (any, error) {
		out, err := fn()
		return out, err
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return zero, err
	}
	out, _ := v.(T)
	return out, nil
}
