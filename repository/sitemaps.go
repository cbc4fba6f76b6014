package repository

import (
	"context"
	"net/url"
	"time"

	"github.com/philocrawl/crawlcore/domain"
	"github.com/philocrawl/crawlcore/internal/storeutil"
)

const sitemapsDB = "philocrawl_sitemaps"

// SiteMapStore is the CouchDB-backed SiteMap collection: purely passive
// recording of sitemap snapshots.
type SiteMapStore struct {
	store *couchStore
}

func NewSiteMapStore(ctx context.Context, dbURL string) (*SiteMapStore, error) {
	cs, err := newCouchStore(ctx, dbURL, sitemapsDB)
	if err != nil {
		return nil, err
	}
	if err := cs.createIndex(ctx, Index{Name: "idx_site_url", Fields: []string{"site_id", "url"}}); err != nil {
		return nil, err
	}
	return &SiteMapStore{store: cs}, nil
}

func (s *SiteMapStore) Ping(ctx context.Context) error { return s.store.Ping(ctx) }
func (s *SiteMapStore) Close() error                   { return s.store.Close() }

// RecordSiteMap inserts or replaces a sitemap snapshot, the only check
// being that every recorded URL is well-formed.
func (s *SiteMapStore) RecordSiteMap(ctx context.Context, siteID, sitemapURL string, urls []string) (string, error) {
	if _, err := url.Parse(sitemapURL); err != nil {
		return "", domain.NewValidationError("url", "not a well-formed URL")
	}
	for _, u := range urls {
		if _, err := url.Parse(u); err != nil {
			return "", domain.NewValidationError("urls", "contains a malformed URL: "+u)
		}
	}

	existing, err := find[domain.SiteMap](ctx, s.store, MangoQuery{
		Selector: map[string]interface{}{"site_id": siteID, "url": sitemapURL},
		Limit:    1,
	})
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	var sitemap domain.SiteMap
	if len(existing) > 0 {
		sitemap = existing[0]
	} else {
		sitemap = domain.SiteMap{ID: string(storeutil.NewID()), SiteID: siteID, URL: sitemapURL, CreatedAt: now}
	}
	sitemap.LastParsed = now
	sitemap.URLs = urls
	sitemap.UpdatedAt = now

	doc, err := toDoc(sitemap)
	if err != nil {
		return "", err
	}
	if _, err := s.store.put(ctx, sitemap.ID, doc); err != nil {
		return "", err
	}
	return sitemap.ID, nil
}

// GetBySite returns every sitemap recorded for siteID.
func (s *SiteMapStore) GetBySite(ctx context.Context, siteID string) ([]domain.SiteMap, error) {
	return find[domain.SiteMap](ctx, s.store, MangoQuery{
		Selector: map[string]interface{}{"site_id": siteID},
	})
}
