package repository

import (
	"context"
	"fmt"

	"github.com/philocrawl/crawlcore/ratelimit"
)

// CompositeStore combines every collection store into a single point of
// construction and shutdown, the same composite-repository pattern the
// teacher uses to bundle its four backend-specific repositories.
type CompositeStore struct {
	Sites        *SiteStore
	Pages        *PageStore
	Sessions     *SessionStore
	Queue        *QueueStore
	Changes      *ChangeStore
	Alerts       *AlertStore
	ContentIndex *ContentIndexStore
	SiteMaps     *SiteMapStore
	AuthorWorks  *AuthorWorkStore
	RateLimiter  *ratelimit.Limiter
}

// StoreConfig names every backend connection string the composite needs.
// RedisURL is optional: when empty, RateLimiter is left nil and callers
// must treat rate limiting as unavailable rather than calling into it.
type StoreConfig struct {
	CouchDBURL  string
	PostgresURL string
	RedisURL    string
}

// NewCompositeStore connects every collection store, creating databases/
// schemas and indexes as needed. On any failure it closes whatever was
// already opened before returning the error.
func NewCompositeStore(ctx context.Context, cfg StoreConfig) (*CompositeStore, error) {
	c := &CompositeStore{}

	var err error
	if c.Sites, err = NewSiteStore(ctx, cfg.CouchDBURL); err != nil {
		return nil, fmt.Errorf("sites store: %w", err)
	}
	if c.Pages, err = NewPageStore(ctx, cfg.CouchDBURL); err != nil {
		c.Close()
		return nil, fmt.Errorf("pages store: %w", err)
	}
	if c.Sessions, err = NewSessionStore(ctx, cfg.CouchDBURL, c.Sites); err != nil {
		c.Close()
		return nil, fmt.Errorf("sessions store: %w", err)
	}
	if c.Queue, err = NewQueueStore(ctx, cfg.CouchDBURL); err != nil {
		c.Close()
		return nil, fmt.Errorf("queue store: %w", err)
	}
	if c.Changes, err = NewChangeStore(ctx, cfg.CouchDBURL, c.Pages); err != nil {
		c.Close()
		return nil, fmt.Errorf("changes store: %w", err)
	}
	if c.Alerts, err = NewAlertStore(ctx, cfg.CouchDBURL); err != nil {
		c.Close()
		return nil, fmt.Errorf("alerts store: %w", err)
	}
	if c.ContentIndex, err = NewContentIndexStore(ctx, cfg.PostgresURL); err != nil {
		c.Close()
		return nil, fmt.Errorf("content index store: %w", err)
	}
	if c.SiteMaps, err = NewSiteMapStore(ctx, cfg.CouchDBURL); err != nil {
		c.Close()
		return nil, fmt.Errorf("sitemaps store: %w", err)
	}
	if c.AuthorWorks, err = NewAuthorWorkStore(ctx, cfg.CouchDBURL); err != nil {
		c.Close()
		return nil, fmt.Errorf("author works store: %w", err)
	}
	if cfg.RedisURL != "" {
		if c.RateLimiter, err = ratelimit.New(ctx, cfg.RedisURL); err != nil {
			c.Close()
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}
	return c, nil
}

// Ping fans out a health check to every backend, aggregating the first
// failure it encounters. Exposed for an external readiness probe.
func (c *CompositeStore) Ping(ctx context.Context) error {
	checks := []struct {
		name string
		p    Pinger
	}{
		{"sites", c.Sites},
		{"pages", c.Pages},
		{"sessions", c.Sessions},
		{"queue", c.Queue},
		{"changes", c.Changes},
		{"alerts", c.Alerts},
		{"content_index", c.ContentIndex},
		{"sitemaps", c.SiteMaps},
		{"author_works", c.AuthorWorks},
	}
	for _, check := range checks {
		if check.p == nil {
			continue
		}
		if err := check.p.Ping(ctx); err != nil {
			return fmt.Errorf("%s: %w", check.name, err)
		}
	}
	if c.RateLimiter != nil {
		if err := c.RateLimiter.Ping(ctx); err != nil {
			return fmt.Errorf("rate_limiter: %w", err)
		}
	}
	return nil
}

// RetentionCollections maps each retention-eligible collection name to
// its underlying document store, the shape the retention package's
// Manager is constructed from.
func (c *CompositeStore) RetentionCollections() map[string]RetentionCollection {
	return map[string]RetentionCollection{
		"content_changes":  c.Changes.Collection(),
		"crawl_sessions":   c.Sessions.Collection(),
		"alerts":           c.Alerts.Collection(),
		"processing_queue": c.Queue.Collection(),
	}
}

// Close shuts down every backend that was successfully opened, ignoring
// individual close errors (best-effort, matching the teacher's graceful-
// degradation shutdown).
func (c *CompositeStore) Close() {
	if c.Sites != nil {
		_ = c.Sites.Close()
	}
	if c.Pages != nil {
		_ = c.Pages.Close()
	}
	if c.Sessions != nil {
		_ = c.Sessions.Close()
	}
	if c.Queue != nil {
		_ = c.Queue.Close()
	}
	if c.Changes != nil {
		_ = c.Changes.Close()
	}
	if c.Alerts != nil {
		_ = c.Alerts.Close()
	}
	if c.ContentIndex != nil {
		c.ContentIndex.Close()
	}
	if c.SiteMaps != nil {
		_ = c.SiteMaps.Close()
	}
	if c.AuthorWorks != nil {
		_ = c.AuthorWorks.Close()
	}
	if c.RateLimiter != nil {
		_ = c.RateLimiter.Close()
	}
}
