package storeutil

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/philocrawl/crawlcore/domain"
)

// BreakerConfig configures the circuit breaker's thresholds. Defaults
// match the storage primitive contract: 5 consecutive failures to open,
// a 60s recovery window, 3 consecutive successes to close.
type BreakerConfig struct {
	Name                string
	ConsecutiveFailures uint32
	RecoveryWindow      time.Duration
	ConsecutiveSuccess  uint32
}

// DefaultBreakerConfig returns the contract's defaults for a breaker named
// name.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:                name,
		ConsecutiveFailures: 5,
		RecoveryWindow:      60 * time.Second,
		ConsecutiveSuccess:  3,
	}
}

// Breaker wraps gobreaker.CircuitBreaker. The repository stores run their
// document reads and writes through Execute; index management, bulk
// writes and the Postgres read queries do not use it.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker builds a Breaker from cfg. Half-open admits up to
// ConsecutiveSuccess probe calls; that many consecutive successes from
// half-open close it, and any failure re-opens it.
func NewBreaker(cfg BreakerConfig) *Breaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.ConsecutiveSuccess,
		Interval:    0, // never reset closed-state counts on a timer
		Timeout:     cfg.RecoveryWindow,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn through the breaker. When the breaker is open, fn is not
// called and a domain.ConnectionError is returned immediately (fail fast).
func (b *Breaker) Execute(ctx context.Context, op string, fn func(ctx context.Context) (any, error)) (any, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, domain.NewConnectionError(op, err)
		}
		return nil, err
	}
	return result, nil
}

// State reports the breaker's current state name: "closed", "open", or
// "half-open".
func (b *Breaker) State() string {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}
