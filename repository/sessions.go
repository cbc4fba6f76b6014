package repository

import (
	"context"
	"time"

	"github.com/philocrawl/crawlcore/domain"
	"github.com/philocrawl/crawlcore/internal/storeutil"
)

const sessionsDB = "philocrawl_sessions"

// SessionStore is the CouchDB-backed CrawlSessions collection: lifecycle,
// the per-site concurrency cap, and final-stats/site-advance on
// completion.
type SessionStore struct {
	store *couchStore
	sites *SiteStore
}

func NewSessionStore(ctx context.Context, dbURL string, sites *SiteStore) (*SessionStore, error) {
	cs, err := newCouchStore(ctx, dbURL, sessionsDB)
	if err != nil {
		return nil, err
	}
	s := &SessionStore{store: cs, sites: sites}
	for _, idx := range []Index{
		{Name: "idx_site_status", Fields: []string{"site_id", "status"}},
		{Name: "idx_started_at", Fields: []string{"site_id", "started_at"}},
	} {
		if err := cs.createIndex(ctx, idx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *SessionStore) Ping(ctx context.Context) error { return s.store.Ping(ctx) }
func (s *SessionStore) Close() error                   { return s.store.Close() }

// StartCrawlSession verifies the site, rejects with a typed error if the
// site already has maxConcurrent sessions running, and inserts a new
// running session.
func (s *SessionStore) StartCrawlSession(ctx context.Context, siteID string, cfgSnapshot map[string]interface{}, maxConcurrent int) (string, error) {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if err := siteExists(ctx, s.sites, siteID); err != nil {
		return "", err
	}

	running, err := find[domain.CrawlSession](ctx, s.store, MangoQuery{
		Selector: map[string]interface{}{"site_id": siteID, "status": string(domain.SessionRunning)},
	})
	if err != nil {
		return "", err
	}
	if len(running) >= maxConcurrent {
		return "", domain.NewValidationError("max_concurrent_sessions", "Maximum concurrent sessions reached for site")
	}

	now := time.Now().UTC()
	session := domain.CrawlSession{
		ID:         string(storeutil.NewID()),
		SiteID:     siteID,
		Status:     domain.SessionRunning,
		ConfigSnap: cfgSnapshot,
		Stats:      domain.SessionStats{StartTime: now},
		StartedAt:  now,
		LastUpdate: now,
	}
	doc, err := toDoc(session)
	if err != nil {
		return "", err
	}
	if _, err := s.store.put(ctx, session.ID, doc); err != nil {
		return "", err
	}
	return session.ID, nil
}

func (s *SessionStore) getByID(ctx context.Context, id string) (*domain.CrawlSession, error) {
	if _, err := storeutil.ParseID(id); err != nil {
		return nil, err
	}
	var session domain.CrawlSession
	if err := s.store.get(ctx, id, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// UpdateSessionProgress atomically replaces the 5 counters and bumps
// last_update. It only modifies sessions currently in status=running;
// late progress from a slow worker after completion is silently ignored,
// returning false.
func (s *SessionStore) UpdateSessionProgress(ctx context.Context, id string, stats domain.SessionStats) (bool, error) {
	session, err := s.getByID(ctx, id)
	if err != nil {
		return false, err
	}
	if session.Status != domain.SessionRunning {
		return false, nil
	}
	session.Stats.PagesDiscovered = stats.PagesDiscovered
	session.Stats.PagesCrawled = stats.PagesCrawled
	session.Stats.PagesFailed = stats.PagesFailed
	session.Stats.BytesDownloaded = stats.BytesDownloaded
	session.Stats.ErrorsCount = stats.ErrorsCount
	session.LastUpdate = time.Now().UTC()
	if err := s.save(ctx, session); err != nil {
		return false, err
	}
	return true, nil
}

// CompleteCrawlSession computes duration, writes final stats, and, in the
// same atomic scope, advances the parent Site's last_crawl_time.
func (s *SessionStore) CompleteCrawlSession(ctx context.Context, id string, final domain.SessionStats) error {
	session, err := s.getByID(ctx, id)
	if err != nil {
		return err
	}
	if session.Status != domain.SessionRunning {
		return domain.NewValidationError("status", "session is not running")
	}
	now := time.Now().UTC()
	duration := now.Sub(session.StartedAt)

	return storeutil.AtomicScope(ctx, "complete_crawl_session",
		storeutil.Op{
			Name: "update_session",
			Do: func(ctx context.Context) (func(ctx context.Context) error, error) {
				previous := *session
				session.Status = domain.SessionCompleted
				session.Stats = final
				session.Stats.EndTime = &now
				session.Stats.DurationSeconds = duration.Seconds()
				session.CompletedAt = &now
				session.LastUpdate = now
				if err := s.save(ctx, session); err != nil {
					return nil, err
				}
				return func(ctx context.Context) error { return s.save(ctx, &previous) }, nil
			},
		},
		storeutil.Op{
			Name: "advance_site_last_crawl",
			Do: func(ctx context.Context) (func(ctx context.Context) error, error) {
				if s.sites == nil {
					return nil, nil
				}
				return s.sites.setLastCrawlTime(ctx, session.SiteID, now)
			},
		},
	)
}

// AbortSession transitions a running session directly to aborted, with
// reason.
func (s *SessionStore) AbortSession(ctx context.Context, id, reason string) error {
	session, err := s.getByID(ctx, id)
	if err != nil {
		return err
	}
	if session.Status != domain.SessionRunning {
		return domain.NewValidationError("status", "session is not running")
	}
	now := time.Now().UTC()
	session.Status = domain.SessionAborted
	session.AbortReason = reason
	session.CompletedAt = &now
	session.LastUpdate = now
	return s.save(ctx, session)
}

// GetActiveSessions returns every session in status=running.
func (s *SessionStore) GetActiveSessions(ctx context.Context) ([]domain.CrawlSession, error) {
	return find[domain.CrawlSession](ctx, s.store, MangoQuery{
		Selector: map[string]interface{}{"status": string(domain.SessionRunning)},
	})
}

// GetSessionHistory returns up to limit sessions for siteID, most recent
// first.
func (s *SessionStore) GetSessionHistory(ctx context.Context, siteID string, limit int) ([]domain.CrawlSession, error) {
	return find[domain.CrawlSession](ctx, s.store, MangoQuery{
		Selector: map[string]interface{}{"site_id": siteID},
		Sort:     []map[string]string{{"started_at": "desc"}},
		Limit:    limit,
	})
}

func (s *SessionStore) GetSessionStatistics(ctx context.Context, id string) (*domain.SessionStats, error) {
	session, err := s.getByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &session.Stats, nil
}

// CleanupOldSessions deletes terminal sessions older than days.
func (s *SessionStore) CleanupOldSessions(ctx context.Context, days int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	sessions, err := find[domain.CrawlSession](ctx, s.store, MangoQuery{
		Selector: map[string]interface{}{
			"status":     map[string]interface{}{"$in": []string{string(domain.SessionCompleted), string(domain.SessionAborted), string(domain.SessionFailed)}},
			"started_at": map[string]interface{}{"$lte": cutoff.Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, session := range sessions {
		rev, err := s.store.currentRev(ctx, session.ID)
		if err != nil {
			return deleted, err
		}
		if err := s.store.delete(ctx, session.ID, rev); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func (s *SessionStore) save(ctx context.Context, session *domain.CrawlSession) error {
	doc, err := toDoc(session)
	if err != nil {
		return err
	}
	_, err = s.store.put(ctx, session.ID, doc)
	return err
}
