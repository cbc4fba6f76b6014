package repository

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/philocrawl/crawlcore/domain"
	"github.com/philocrawl/crawlcore/internal/storeutil"
)

const pagesDB = "philocrawl_pages"

// PageStore is the CouchDB-backed Pages collection: URL normalization and
// per-site uniqueness, content-hash dedup, and the processing-status
// lifecycle.
type PageStore struct {
	store *couchStore
}

func NewPageStore(ctx context.Context, dbURL string) (*PageStore, error) {
	cs, err := newCouchStore(ctx, dbURL, pagesDB)
	if err != nil {
		return nil, err
	}
	p := &PageStore{store: cs}
	for _, idx := range []Index{
		{Name: "idx_site_url", Fields: []string{"site_id", "url"}},
		{Name: "idx_content_hash", Fields: []string{"content_hash"}},
		{Name: "idx_processing_status", Fields: []string{"site_id", "processing_status"}},
		{Name: "idx_last_modified", Fields: []string{"site_id", "last_modified"}},
	} {
		if err := cs.createIndex(ctx, idx); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *PageStore) Ping(ctx context.Context) error { return p.store.Ping(ctx) }
func (p *PageStore) Close() error                   { return p.store.Close() }

// NormalizeURL lowercases scheme and host, drops the fragment, strips a
// trailing slash from the path (but keeps root "/"), and preserves the
// query intact. Percent-encoding and IDN host encoding are preserved as
// input.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", domain.NewValidationError("url", "not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", domain.NewValidationError("url", "scheme must be http or https")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	return u.String(), nil
}

// PageCreate is the payload accepted by CreatePage.
type PageCreate struct {
	SiteID  string
	URL     string
	Title   string
	Content string
	Author  string
}

func siteExists(ctx context.Context, sites *SiteStore, siteID string) error {
	if sites == nil {
		return nil
	}
	_, err := sites.getByID(ctx, siteID)
	return err
}

// CreatePage verifies the site exists, normalizes the URL, asserts
// (site_id, url) is not already present, computes content_hash if content
// is present, and inserts with processing_status=pending.
func (p *PageStore) CreatePage(ctx context.Context, sites *SiteStore, in PageCreate) (string, error) {
	if err := siteExists(ctx, sites, in.SiteID); err != nil {
		return "", err
	}
	normalized, err := NormalizeURL(in.URL)
	if err != nil {
		return "", err
	}

	existing, err := find[domain.Page](ctx, p.store, MangoQuery{
		Selector: map[string]interface{}{"site_id": in.SiteID, "url": normalized},
		Limit:    1,
	})
	if err != nil {
		return "", err
	}
	if len(existing) > 0 {
		return "", domain.NewDuplicateResourceError("page", in.SiteID+":"+normalized)
	}

	now := time.Now().UTC()
	page := domain.Page{
		ID:               string(storeutil.NewID()),
		SiteID:           in.SiteID,
		URL:              normalized,
		Title:            in.Title,
		Content:          in.Content,
		Author:           in.Author,
		ProcessingStatus: domain.PageStatusPending,
		LastModified:     now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if in.Content != "" {
		page.ContentHash = storeutil.ContentHashString(in.Content)
	}

	doc, err := toDoc(page)
	if err != nil {
		return "", err
	}
	if _, err := p.store.put(ctx, page.ID, doc); err != nil {
		return "", err
	}
	return page.ID, nil
}

func (p *PageStore) getByID(ctx context.Context, id string) (*domain.Page, error) {
	if _, err := storeutil.ParseID(id); err != nil {
		return nil, err
	}
	var page domain.Page
	if err := p.store.get(ctx, id, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetPageByURL normalizes and looks up a page.
func (p *PageStore) GetPageByURL(ctx context.Context, siteID, rawURL string) (*domain.Page, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	pages, err := find[domain.Page](ctx, p.store, MangoQuery{
		Selector: map[string]interface{}{"site_id": siteID, "url": normalized},
		Limit:    1,
	})
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, domain.NewResourceNotFoundError("page", normalized)
	}
	return &pages[0], nil
}

// UpdatePageContent writes content, hash, word count, last_modified=now, and
// resets processing_status to pending.
func (p *PageStore) UpdatePageContent(ctx context.Context, id, content, hash string) error {
	page, err := p.getByID(ctx, id)
	if err != nil {
		return err
	}
	if hash == "" {
		hash = storeutil.ContentHashString(content)
	}
	page.Content = content
	page.ContentHash = hash
	page.Metadata.WordCount = len(strings.Fields(content))
	page.LastModified = time.Now().UTC()
	page.ProcessingStatus = domain.PageStatusPending
	return p.save(ctx, page)
}

// GetPagesBySite returns up to limit pages for siteID.
func (p *PageStore) GetPagesBySite(ctx context.Context, siteID string, limit int) ([]domain.Page, error) {
	return find[domain.Page](ctx, p.store, MangoQuery{
		Selector: map[string]interface{}{"site_id": siteID},
		Limit:    limit,
	})
}

// GetPagesModifiedSince returns pages whose last_modified is at or after t.
func (p *PageStore) GetPagesModifiedSince(ctx context.Context, siteID string, t time.Time) ([]domain.Page, error) {
	return find[domain.Page](ctx, p.store, MangoQuery{
		Selector: map[string]interface{}{
			"site_id":       siteID,
			"last_modified": map[string]interface{}{"$gte": t.UTC().Format(time.RFC3339Nano)},
		},
	})
}

// MarkPageProcessed sets processing_status=processed and stamps
// processed_at and processing_info.
func (p *PageStore) MarkPageProcessed(ctx context.Context, id string, info map[string]interface{}) error {
	page, err := p.getByID(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	page.ProcessingStatus = domain.PageStatusProcessed
	page.ProcessedAt = &now
	page.ProcessingInfo = info
	return p.save(ctx, page)
}

// GetUnprocessedPages returns pages in {pending, failed}, optionally
// scoped to siteID, upper-bounded.
func (p *PageStore) GetUnprocessedPages(ctx context.Context, siteID string) ([]domain.Page, error) {
	selector := map[string]interface{}{
		"processing_status": map[string]interface{}{"$in": []string{string(domain.PageStatusPending), string(domain.PageStatusFailed)}},
	}
	if siteID != "" {
		selector["site_id"] = siteID
	}
	return find[domain.Page](ctx, p.store, MangoQuery{Selector: selector, Limit: 1000})
}

// CheckContentExists reports whether any page currently carries hash.
func (p *PageStore) CheckContentExists(ctx context.Context, hash string) (bool, error) {
	pages, err := find[domain.Page](ctx, p.store, MangoQuery{
		Selector: map[string]interface{}{"content_hash": hash},
		Limit:    1,
	})
	if err != nil {
		return false, err
	}
	return len(pages) > 0, nil
}

// GetPagesByAuthor performs a case-insensitive contains search over author.
func (p *PageStore) GetPagesByAuthor(ctx context.Context, name string) ([]domain.Page, error) {
	all, err := find[domain.Page](ctx, p.store, MangoQuery{
		Selector: map[string]interface{}{"author": map[string]interface{}{"$gte": ""}},
	})
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(name)
	var out []domain.Page
	for _, page := range all {
		if strings.Contains(strings.ToLower(page.Author), needle) {
			out = append(out, page)
		}
	}
	return out, nil
}

// BulkUpdateProcessingStatus applies status to every id in a single
// _bulk_docs request. CouchDB applies each document in the request
// independently: if any document fails, a TransactionError is returned
// and the documents that succeeded stay updated.
func (p *PageStore) BulkUpdateProcessingStatus(ctx context.Context, ids []string, status domain.ProcessingStatus) error {
	now := time.Now().UTC()
	docs := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		page, err := p.getByID(ctx, id)
		if err != nil {
			return err
		}
		page.ProcessingStatus = status
		page.UpdatedAt = now
		doc, err := toDoc(page)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}
	results, err := p.store.bulkSave(ctx, docs)
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Error != nil {
			return domain.NewTransactionError("bulk_update_processing_status", r.Error)
		}
	}
	return nil
}

// PageStatistics is the aggregated view get_page_statistics returns.
type PageStatistics struct {
	CountsByStatus map[domain.ProcessingStatus]int
	MaxLastModified time.Time
}

// GetPageStatistics returns aggregated counts by status and the max
// last_modified for siteID.
func (p *PageStore) GetPageStatistics(ctx context.Context, siteID string) (*PageStatistics, error) {
	pages, err := find[domain.Page](ctx, p.store, MangoQuery{
		Selector: map[string]interface{}{"site_id": siteID},
	})
	if err != nil {
		return nil, err
	}
	stats := &PageStatistics{CountsByStatus: map[domain.ProcessingStatus]int{}}
	for _, page := range pages {
		stats.CountsByStatus[page.ProcessingStatus]++
		if page.LastModified.After(stats.MaxLastModified) {
			stats.MaxLastModified = page.LastModified
		}
	}
	return stats, nil
}

func (p *PageStore) save(ctx context.Context, page *domain.Page) error {
	page.UpdatedAt = time.Now().UTC()
	doc, err := toDoc(page)
	if err != nil {
		return err
	}
	_, err = p.store.put(ctx, page.ID, doc)
	return err
}
