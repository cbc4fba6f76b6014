// Package storeutil provides the cross-cutting storage primitives every
// repository builds on: retry with backoff, a circuit breaker, input
// sanitization, content hashing, id validation, and a multi-collection
// atomic scope.
package storeutil

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/philocrawl/crawlcore/domain"
)

// RetryPolicy configures the exponential backoff applied to a transient
// operation. Defaults match the storage primitive contract: base 1s,
// factor 2, cap 60s, 3 retries.
type RetryPolicy struct {
	Base       time.Duration
	Factor     float64
	Cap        time.Duration
	MaxRetries int
}

// DefaultRetryPolicy returns the contract's defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Base:       time.Second,
		Factor:     2,
		Cap:        60 * time.Second,
		MaxRetries: 3,
	}
}

// Transient classifies an error as a retryable transport failure: a
// net.Error timeout, or a message naming a connection reset or refusal, a
// broken pipe, EOF, an i/o or context deadline timeout, no route to host,
// a temporary failure, or a closed redis client. Anything else is treated
// as permanent and surfaces immediately.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection reset",
		"connection refused",
		"broken pipe",
		"eof",
		"i/o timeout",
		"context deadline exceeded",
		"no route to host",
		"temporary failure",
		"redis: client is closed",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Retry runs fn, retrying on transient errors per policy with exponential
// backoff. It never sleeps past ctx's deadline. Non-transient errors
// surface on the first attempt unchanged; a transient error that survives
// every retry surfaces as a domain.ConnectionError instead of the raw
// transport error, per the storage primitive contract.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.Base
	bo.Multiplier = policy.Factor
	bo.MaxInterval = policy.Cap
	bo.MaxElapsedTime = 0 // bounded by MaxRetries, not wall-clock
	withCtx := backoff.WithContext(bo, ctx)

	attempt := 0
	op := func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !Transient(err) {
			return backoff.Permanent(err)
		}
		attempt++
		if attempt > policy.MaxRetries {
			return backoff.Permanent(domain.NewConnectionError("retry exhausted", err))
		}
		return err
	}

	return backoff.Retry(op, withCtx)
}
