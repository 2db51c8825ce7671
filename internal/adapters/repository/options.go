package repository

import (
	"time"

	"github.com/simgrid/paddock/pkg/logger"
)

// Option applies a configuration option to a result source.
type Option func(*options)

type options struct {
	logger          logger.Logger
	breakerFailures uint32
	breakerCooldown time.Duration
}

func defaultOptions() options {
	return options{
		logger:          logger.Nop(),
		breakerFailures: defaultBreakerFailures,
		breakerCooldown: defaultBreakerCooldown,
	}
}

// WithLogger sets a custom logger for the source.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithBreaker sets how many consecutive failed queries open the postgres
// circuit breaker and how long it stays open. Zero values keep the defaults.
func WithBreaker(failures uint32, cooldown time.Duration) Option {
	return func(o *options) {
		if failures > 0 {
			o.breakerFailures = failures
		}
		if cooldown > 0 {
			o.breakerCooldown = cooldown
		}
	}
}
