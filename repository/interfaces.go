package repository

import "context"

// Pinger is the cheap, idempotent health check every store in this
// package exposes. It must not open the breaker.
type Pinger interface {
	Ping(ctx context.Context) error
}
