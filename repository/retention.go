package repository

import (
	"context"
	"time"
)

// RetentionCollection is the narrow surface the retention engine needs
// from any CouchDB-backed collection store: age-ordered paging, raw
// deletion, counting, and TTL index setup. It lets the retention
// package operate generically across Sessions/Changes/Alerts/Queue
// without depending on their typed entities.
type RetentionCollection interface {
	FindOlderThan(ctx context.Context, field string, cutoff time.Time, limit, skip int) ([]map[string]interface{}, error)
	CountMatching(ctx context.Context, selector map[string]interface{}) (int, error)
	EnsureTTLIndex(ctx context.Context, field string) error
	HasIndex(ctx context.Context, name string) (bool, error)
	DeleteRaw(ctx context.Context, id, rev string) error
}

// Collection exposes the session store's underlying document store for
// retention sweeps.
func (s *SessionStore) Collection() RetentionCollection { return s.store }

// Collection exposes the content-change store's underlying document
// store for retention sweeps.
func (c *ChangeStore) Collection() RetentionCollection { return c.store }

// Collection exposes the alert store's underlying document store for
// retention sweeps.
func (a *AlertStore) Collection() RetentionCollection { return a.store }

// Collection exposes the processing queue's underlying document store
// for retention sweeps.
func (q *QueueStore) Collection() RetentionCollection { return q.store }

// TTLIndexName returns the Mango index name EnsureTTLIndex creates for
// field, so callers can check HasIndex without duplicating the naming
// convention.
func TTLIndexName(field string) string { return "idx_ttl_" + field }
