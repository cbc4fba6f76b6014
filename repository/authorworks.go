package repository

import (
	"context"
	"strings"
	"time"

	"github.com/philocrawl/crawlcore/domain"
	"github.com/philocrawl/crawlcore/internal/logging"
	"github.com/philocrawl/crawlcore/internal/storeutil"
)

const authorWorksDB = "philocrawl_author_works"

// AuthorWorkStore is the CouchDB-backed AuthorWork collection: work_id
// uniqueness when present, and a duplicate-candidate warning (not
// rejection) on (author_name, work_title, site_id).
type AuthorWorkStore struct {
	store *couchStore
	log   *logging.ContextLogger
}

func NewAuthorWorkStore(ctx context.Context, dbURL string) (*AuthorWorkStore, error) {
	cs, err := newCouchStore(ctx, dbURL, authorWorksDB)
	if err != nil {
		return nil, err
	}
	for _, idx := range []Index{
		{Name: "idx_work_id", Fields: []string{"work_id"}},
		{Name: "idx_author_title_site", Fields: []string{"author_name", "work_title", "site_id"}},
	} {
		if err := cs.createIndex(ctx, idx); err != nil {
			return nil, err
		}
	}
	return &AuthorWorkStore{store: cs, log: logging.ComponentLogger("author_works")}, nil
}

func (a *AuthorWorkStore) Ping(ctx context.Context) error { return a.store.Ping(ctx) }
func (a *AuthorWorkStore) Close() error                   { return a.store.Close() }

// CreateAuthorWork rejects only a work_id collision; a matching
// (author_name, work_title, site_id) is logged as a duplicate-candidate
// warning but does not block the insert.
func (a *AuthorWorkStore) CreateAuthorWork(ctx context.Context, work domain.AuthorWork) (string, error) {
	if work.WorkID != "" {
		existing, err := find[domain.AuthorWork](ctx, a.store, MangoQuery{
			Selector: map[string]interface{}{"work_id": work.WorkID},
			Limit:    1,
		})
		if err != nil {
			return "", err
		}
		if len(existing) > 0 {
			return "", domain.NewDuplicateResourceError("author_work", work.WorkID)
		}
	}

	candidates, err := find[domain.AuthorWork](ctx, a.store, MangoQuery{
		Selector: map[string]interface{}{
			"author_name": work.AuthorName,
			"work_title":  work.WorkTitle,
			"site_id":     work.SiteID,
		},
		Limit: 1,
	})
	if err != nil {
		return "", err
	}
	if len(candidates) > 0 {
		a.log.WithField("author_name", work.AuthorName).
			WithField("work_title", work.WorkTitle).
			WithField("site_id", work.SiteID).
			Warn("possible duplicate author work")
	}

	now := time.Now().UTC()
	work.ID = string(storeutil.NewID())
	work.CreatedAt = now
	work.UpdatedAt = now

	doc, err := toDoc(work)
	if err != nil {
		return "", err
	}
	if _, err := a.store.put(ctx, work.ID, doc); err != nil {
		return "", err
	}
	return work.ID, nil
}

// GetByPage returns every author work bound to pageID.
func (a *AuthorWorkStore) GetByPage(ctx context.Context, pageID string) ([]domain.AuthorWork, error) {
	return find[domain.AuthorWork](ctx, a.store, MangoQuery{
		Selector: map[string]interface{}{"page_id": pageID},
	})
}

// GetByAuthor performs a case-insensitive contains search over author_name.
func (a *AuthorWorkStore) GetByAuthor(ctx context.Context, name string) ([]domain.AuthorWork, error) {
	all, err := find[domain.AuthorWork](ctx, a.store, MangoQuery{Selector: map[string]interface{}{}})
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(name)
	var out []domain.AuthorWork
	for _, w := range all {
		if strings.Contains(strings.ToLower(w.AuthorName), needle) {
			out = append(out, w)
		}
	}
	return out, nil
}
