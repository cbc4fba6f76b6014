package repository

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/philocrawl/crawlcore/domain"
	"github.com/philocrawl/crawlcore/internal/storeutil"
)

const sitesDB = "philocrawl_sites"

// dnsLabelPattern enforces a strict DNS label grammar for allowed domains:
// letters, digits, hyphens, dot-separated, no leading/trailing hyphen per
// label.
var dnsLabelPattern = regexp.MustCompile(`^(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)*[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)

// SiteStore is the CouchDB-backed Sites collection: domain uniqueness,
// health status, and crawl-schedule selection.
type SiteStore struct {
	store *couchStore
}

// NewSiteStore connects to dbURL and ensures the indexes every Sites query
// predicate needs.
func NewSiteStore(ctx context.Context, dbURL string) (*SiteStore, error) {
	cs, err := newCouchStore(ctx, dbURL, sitesDB)
	if err != nil {
		return nil, err
	}
	s := &SiteStore{store: cs}
	for _, idx := range []Index{
		{Name: "idx_base_url", Fields: []string{"base_url"}},
		{Name: "idx_monitoring_active_next", Fields: []string{"monitoring.active", "monitoring.next_scheduled_crawl"}},
		{Name: "idx_monitoring_frequency", Fields: []string{"monitoring.frequency", "monitoring.last_crawl_time"}},
	} {
		if err := cs.createIndex(ctx, idx); err != nil {
			return nil, fmt.Errorf("create index %s: %w", idx.Name, err)
		}
	}
	return s, nil
}

func (s *SiteStore) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

func (s *SiteStore) Close() error { return s.store.Close() }

// validateSite checks the invariants spec.md §3 names for a Site, short of
// the base-URL uniqueness check (which needs a round-trip and is done by
// the caller).
func validateSite(site *domain.Site) error {
	if strings.TrimSpace(site.Name) == "" {
		return domain.NewValidationError("name", "must not be empty")
	}
	u, err := url.Parse(site.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return domain.NewValidationError("base_url", "must have a scheme and host")
	}
	if len(site.AllowedDomains) == 0 {
		return domain.NewValidationError("allowed_domains", "must contain at least one domain")
	}
	host := stripPort(u.Hostname())
	found := false
	for _, d := range site.AllowedDomains {
		if !dnsLabelPattern.MatchString(d) {
			return domain.NewValidationError("allowed_domains", fmt.Sprintf("%q is not a valid DNS label", d))
		}
		if strings.EqualFold(d, host) {
			found = true
		}
	}
	if !found {
		return domain.NewValidationError("base_url", "host must be among allowed_domains")
	}
	for _, p := range append(append([]string{}, site.AllowPatterns...), site.DenyPatterns...) {
		if _, err := regexp.Compile(p); err != nil {
			return domain.NewValidationError("patterns", fmt.Sprintf("pattern %q does not compile: %v", p, err))
		}
	}
	return nil
}

func stripPort(host string) string {
	if i := strings.LastIndex(host, ":"); i >= 0 {
		return host[:i]
	}
	return host
}

// normalizeBaseURL ensures the base URL ends with "/", per §3.
func normalizeBaseURL(raw string) string {
	if strings.HasSuffix(raw, "/") {
		return raw
	}
	return raw + "/"
}

// CreateSite validates site, ensures base_url is unique, and inserts it.
func (s *SiteStore) CreateSite(ctx context.Context, site domain.Site) (string, error) {
	site.BaseURL = normalizeBaseURL(site.BaseURL)
	if err := validateSite(&site); err != nil {
		return "", err
	}

	existing, err := find[domain.Site](ctx, s.store, MangoQuery{
		Selector: map[string]interface{}{"base_url": site.BaseURL},
		Limit:    1,
	})
	if err != nil {
		return "", err
	}
	if len(existing) > 0 {
		return "", domain.NewDuplicateResourceError("site", site.BaseURL)
	}

	if site.HealthStatus == "" {
		site.HealthStatus = domain.HealthUnknown
	}
	id := string(storeutil.NewID())
	now := time.Now().UTC()
	site.ID = id
	site.CreatedAt = now
	site.UpdatedAt = now

	doc, err := toDoc(site)
	if err != nil {
		return "", err
	}
	if _, err := s.store.put(ctx, id, doc); err != nil {
		return "", err
	}
	return id, nil
}

// GetActiveSites returns active sites ordered by next_scheduled_crawl
// ascending.
func (s *SiteStore) GetActiveSites(ctx context.Context) ([]domain.Site, error) {
	sites, err := find[domain.Site](ctx, s.store, MangoQuery{
		Selector: map[string]interface{}{"monitoring.active": true},
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(sites, func(i, j int) bool {
		return nextScheduledKey(sites[i]) < nextScheduledKey(sites[j])
	})
	return sites, nil
}

func nextScheduledKey(site domain.Site) int64 {
	if site.Monitoring.NextScheduledCrawl == nil {
		return 0 // null sorts first, ascending
	}
	return site.Monitoring.NextScheduledCrawl.UnixNano()
}

// GetSiteByDomain tolerantly looks up a site by bare host or URL-prefixed
// input.
func (s *SiteStore) GetSiteByDomain(ctx context.Context, d string) (*domain.Site, error) {
	host := d
	if u, err := url.Parse(d); err == nil && u.Host != "" {
		host = u.Host
	}
	host = stripPort(host)

	sites, err := find[domain.Site](ctx, s.store, MangoQuery{
		Selector: map[string]interface{}{"allowed_domains": map[string]interface{}{"$elemMatch": map[string]interface{}{"$eq": host}}},
		Limit:    1,
	})
	if err != nil {
		return nil, err
	}
	if len(sites) == 0 {
		return nil, domain.NewResourceNotFoundError("site", d)
	}
	return &sites[0], nil
}

// getByID is the internal read path used by every mutation below.
func (s *SiteStore) getByID(ctx context.Context, id string) (*domain.Site, error) {
	if _, err := storeutil.ParseID(id); err != nil {
		return nil, err
	}
	var site domain.Site
	if err := s.store.get(ctx, id, &site); err != nil {
		return nil, err
	}
	return &site, nil
}

// UpdateCrawlSettings applies a field-projected update (delay, max_concurrent,
// allowed_domains) over the current site document.
func (s *SiteStore) UpdateCrawlSettings(ctx context.Context, id string, partial map[string]interface{}) error {
	clean, err := storeutil.Sanitize(partial)
	if err != nil {
		return err
	}
	site, err := s.getByID(ctx, id)
	if err != nil {
		return err
	}
	applyCrawlSettings(site, clean)
	if err := validateSite(site); err != nil {
		return err
	}
	return s.save(ctx, site)
}

// applyCrawlSettings projects the documented partial-update keys (delay,
// max_concurrent, allowed_domains) onto site in place. Split out of
// UpdateCrawlSettings so the field projection itself is testable without a
// live CouchDB.
func applyCrawlSettings(site *domain.Site, clean map[string]interface{}) {
	if v, ok := clean["delay"]; ok {
		if d, ok := v.(float64); ok {
			site.Politeness.MinRequestDelay = time.Duration(d * float64(time.Second))
		}
	}
	if v, ok := clean["allowed_domains"]; ok {
		if list, ok := v.([]interface{}); ok {
			domains := make([]string, 0, len(list))
			for _, item := range list {
				if str, ok := item.(string); ok {
					domains = append(domains, str)
				}
			}
			site.AllowedDomains = domains
		}
	}
	if v, ok := clean["max_concurrent"]; ok {
		if f, ok := v.(float64); ok {
			site.Politeness.MaxConcurrent = int(f)
		}
	}
}

// DisableSite sets monitoring.active=false, clears next_scheduled_crawl,
// and records reason.
func (s *SiteStore) DisableSite(ctx context.Context, id, reason string) error {
	site, err := s.getByID(ctx, id)
	if err != nil {
		return err
	}
	site.Monitoring.Active = false
	site.Monitoring.NextScheduledCrawl = nil
	site.Monitoring.DisabledReason = reason
	return s.save(ctx, site)
}

// GetSitesForCrawlSchedule returns active sites matching frequency tag
// whose next_scheduled_crawl is null or ≤ now, ordered by last_crawl_time
// ascending (starve-proof).
func (s *SiteStore) GetSitesForCrawlSchedule(ctx context.Context, tag domain.CrawlFrequency) ([]domain.Site, error) {
	sites, err := find[domain.Site](ctx, s.store, MangoQuery{
		Selector: map[string]interface{}{
			"monitoring.active":    true,
			"monitoring.frequency": string(tag),
		},
	})
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	var due []domain.Site
	for _, site := range sites {
		if site.Monitoring.NextScheduledCrawl == nil || !site.Monitoring.NextScheduledCrawl.After(now) {
			due = append(due, site)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return lastCrawlKey(due[i]) < lastCrawlKey(due[j])
	})
	return due, nil
}

func lastCrawlKey(site domain.Site) int64 {
	if site.Monitoring.LastCrawlTime == nil {
		return 0
	}
	return site.Monitoring.LastCrawlTime.UnixNano()
}

// UpdateSiteHealthStatus sets health_status.
func (s *SiteStore) UpdateSiteHealthStatus(ctx context.Context, id string, status domain.HealthStatus) error {
	site, err := s.getByID(ctx, id)
	if err != nil {
		return err
	}
	site.HealthStatus = status
	return s.save(ctx, site)
}

// GetCrawlConfiguration returns a denormalized projection for consumer
// components (fetchers, parsers).
func (s *SiteStore) GetCrawlConfiguration(ctx context.Context, id string) (map[string]interface{}, error) {
	site, err := s.getByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"site_id":          site.ID,
		"base_url":         site.BaseURL,
		"start_urls":       site.StartURLs,
		"allowed_domains":  site.AllowedDomains,
		"allow_patterns":   site.AllowPatterns,
		"deny_patterns":    site.DenyPatterns,
		"politeness":       site.Politeness,
		"active":           site.Monitoring.Active,
	}, nil
}

// setLastCrawlTime is called by the Sessions store, inside its atomic
// scope, when a session completes.
func (s *SiteStore) setLastCrawlTime(ctx context.Context, id string, at time.Time) (undo func(ctx context.Context) error, err error) {
	site, err := s.getByID(ctx, id)
	if err != nil {
		return nil, err
	}
	previous := site.Monitoring.LastCrawlTime
	site.Monitoring.LastCrawlTime = &at
	if err := s.save(ctx, site); err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		site, err := s.getByID(ctx, id)
		if err != nil {
			return err
		}
		site.Monitoring.LastCrawlTime = previous
		return s.save(ctx, site)
	}, nil
}

func (s *SiteStore) save(ctx context.Context, site *domain.Site) error {
	site.UpdatedAt = time.Now().UTC()
	doc, err := toDoc(site)
	if err != nil {
		return err
	}
	_, err = s.store.put(ctx, site.ID, doc)
	return err
}
