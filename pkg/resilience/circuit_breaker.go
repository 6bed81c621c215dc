// Package resilience wraps external store calls (in this module, the
// metadata store's Postgres calls) in a circuit breaker so repeated failures surface as
// apperr.StoreUnavailable instead of hanging the pipeline on a dead store.
package resilience

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/bridgeway/qualify/pkg/apperr"
	"github.com/bridgeway/qualify/pkg/logger"
)

// Breaker wraps a named gobreaker.CircuitBreaker around a store adapter's
// calls, translating trips into apperr.StoreUnavailable.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
}

// Config controls trip sensitivity. Zero values fall back to the defaults
// used for all store adapters.
type Config struct {
	Name                string
	MaxHalfOpenRequests  uint32
	ResetInterval        time.Duration
	OpenTimeout          time.Duration
	ConsecutiveFailures  uint32
	FailureRatio         float64
	MinRequestsForRatio  uint32
}

// New builds a Breaker. With a zero Config it trips after 5 consecutive
// failures or a 60% failure rate over at least 10 requests, and stays open
// for 30s before probing again.
func New(cfg Config) *Breaker {
	if cfg.Name == "" {
		cfg.Name = "store"
	}
	if cfg.MaxHalfOpenRequests == 0 {
		cfg.MaxHalfOpenRequests = 3
	}
	if cfg.ResetInterval == 0 {
		cfg.ResetInterval = 60 * time.Second
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.FailureRatio == 0 {
		cfg.FailureRatio = 0.6
	}
	if cfg.MinRequestsForRatio == 0 {
		cfg.MinRequestsForRatio = 10
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxHalfOpenRequests,
		Interval:    cfg.ResetInterval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures >= uint32(cfg.ConsecutiveFailures) ||
				(counts.Requests >= cfg.MinRequestsForRatio && ratio >= cfg.FailureRatio)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithField("breaker", name).
				WithField("from", from.String()).
				WithField("to", to.String()).
				Warn("circuit breaker state changed")
		},
	}

	return &Breaker{name: cfg.Name, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Do runs fn under the breaker. A trip or a failure both come back wrapped
// as apperr.StoreUnavailable so callers never branch on gobreaker's own
// error type.
func (b *Breaker) Do(ctx context.Context, operation string, fn func(context.Context) error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn(ctx)
	})
	if err == nil {
		return nil
	}
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return apperr.StoreUnavailable(operation, err).WithDetail("breaker", b.name)
	}
	return apperr.StoreUnavailable(operation, err).WithDetail("breaker", b.name)
}

// State reports the breaker's current state name, for health/metrics surfaces.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// Counts returns the breaker's rolling request counters.
func (b *Breaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}
