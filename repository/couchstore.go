// Package repository implements the CouchDB-, Postgres-, and Redis-backed
// stores named in the data model: Sites, Pages, Sessions, the processing
// queue, content changes, alerts, the content index, sitemaps, and author
// works.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kivik "github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/philocrawl/crawlcore/domain"
	"github.com/philocrawl/crawlcore/internal/logging"
	"github.com/philocrawl/crawlcore/internal/storeutil"
)

// MangoQuery is a CouchDB Mango query: a MongoDB-style declarative
// selector plus projection, sort, and pagination options.
type MangoQuery struct {
	Selector map[string]interface{}
	Fields   []string
	Sort     []map[string]string
	Limit    int
	Skip     int
	UseIndex string
}

func (q MangoQuery) toParams() map[string]interface{} {
	params := make(map[string]interface{})
	if len(q.Fields) > 0 {
		params["fields"] = q.Fields
	}
	if len(q.Sort) > 0 {
		params["sort"] = q.Sort
	}
	if q.Limit > 0 {
		params["limit"] = q.Limit
	}
	if q.Skip > 0 {
		params["skip"] = q.Skip
	}
	if q.UseIndex != "" {
		params["use_index"] = q.UseIndex
	}
	return params
}

// Index is a CouchDB Mango index definition.
type Index struct {
	Name   string
	Fields []string
}

// couchStore wraps one CouchDB database handle with a retry policy and a
// circuit breaker, following the teacher's CouchDBRepository revision-
// preserving read-modify-write idiom generalized across collections.
// get, find, delete, put and putWithRev run through the breaker, and put
// also retries transient errors; currentRev, createIndex, bulkSave and
// HasIndex call the database directly.
type couchStore struct {
	client  *kivik.Client
	db      *kivik.DB
	dbName  string
	retry   storeutil.RetryPolicy
	breaker *storeutil.Breaker
	log     *logging.ContextLogger
}

// newCouchStore connects to url, creating the named database if missing,
// and returns a store ready for use.
func newCouchStore(ctx context.Context, url, dbName string) (*couchStore, error) {
	client, err := kivik.New("couch", url)
	if err != nil {
		return nil, domain.NewConnectionError("connect couchdb", err)
	}
	exists, err := client.DBExists(ctx, dbName)
	if err != nil {
		return nil, domain.NewConnectionError("check database exists", err)
	}
	if !exists {
		if err := client.CreateDB(ctx, dbName); err != nil {
			return nil, domain.NewConnectionError("create database", err)
		}
	}
	return &couchStore{
		client:  client,
		db:      client.DB(dbName),
		dbName:  dbName,
		retry:   storeutil.DefaultRetryPolicy(),
		breaker: storeutil.NewBreaker(storeutil.DefaultBreakerConfig(dbName)),
		log:     logging.ComponentLogger(dbName),
	}, nil
}

// Ping is a cheap, idempotent health check. It must not open the breaker —
// it is called directly against the client, bypassing Breaker.Execute.
func (s *couchStore) Ping(ctx context.Context) error {
	_, err := s.client.Ping(ctx)
	if err != nil {
		return domain.NewConnectionError("ping "+s.dbName, err)
	}
	return nil
}

// get fetches a document by id into dst. Returns domain.ResourceNotFoundError
// when absent.
func (s *couchStore) get(ctx context.Context, id string, dst interface{}) error {
	_, err := s.breaker.Execute(ctx, "get", func(ctx context.Context) (any, error) {
		row := s.db.Get(ctx, id)
		return nil, row.ScanDoc(dst)
	})
	if err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return domain.NewResourceNotFoundError(s.dbName, id)
		}
		return err
	}
	return nil
}

// currentRev returns a document's current _rev, or "" if it does not
// exist, for the revision-preserving read-modify-write pattern.
func (s *couchStore) currentRev(ctx context.Context, id string) (string, error) {
	row := s.db.Get(ctx, id)
	var existing struct {
		Rev string `json:"_rev"`
	}
	if err := row.ScanDoc(&existing); err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return "", nil
		}
		return "", err
	}
	return existing.Rev, nil
}

// put writes doc under id, preserving the current revision if one exists
// (so the caller's update does not need to track _rev itself). Retries
// transient errors through the breaker.
func (s *couchStore) put(ctx context.Context, id string, doc map[string]interface{}) (string, error) {
	var rev string
	err := storeutil.Retry(ctx, s.retry, func(ctx context.Context) error {
		current, err := s.currentRev(ctx, id)
		if err != nil {
			return err
		}
		if current != "" {
			doc["_rev"] = current
		}
		result, err := s.breaker.Execute(ctx, "put", func(ctx context.Context) (any, error) {
			return s.db.Put(ctx, id, doc)
		})
		if err != nil {
			return err
		}
		rev = result.(string)
		return nil
	})
	return rev, err
}

// putWithRev performs a compare-and-swap Put using an explicit expected
// revision, surfacing a 409 conflict unmodified so the queue's atomic
// dequeue can retry against the next candidate.
func (s *couchStore) putWithRev(ctx context.Context, id, rev string, doc map[string]interface{}) (string, error) {
	if rev != "" {
		doc["_rev"] = rev
	}
	result, err := s.breaker.Execute(ctx, "put-cas", func(ctx context.Context) (any, error) {
		return s.db.Put(ctx, id, doc)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (s *couchStore) delete(ctx context.Context, id, rev string) error {
	_, err := s.breaker.Execute(ctx, "delete", func(ctx context.Context) (any, error) {
		return s.db.Delete(ctx, id, rev)
	})
	return err
}

// find executes a Mango query and decodes each match into a fresh T.
func find[T any](ctx context.Context, s *couchStore, q MangoQuery) ([]T, error) {
	results, err := s.breaker.Execute(ctx, "find", func(ctx context.Context) (any, error) {
		rows := s.db.Find(ctx, sanitizeSelector(q.Selector), kivik.Params(q.toParams()))
		defer rows.Close()

		var out []T
		for rows.Next() {
			var doc T
			if err := rows.ScanDoc(&doc); err != nil {
				return nil, fmt.Errorf("scan document: %w", err)
			}
			out = append(out, doc)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("find: %w", err)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return results.([]T), nil
}

func sanitizeSelector(selector map[string]interface{}) map[string]interface{} {
	// Selectors are constructed internally by repository code, which is
	// allowed to use "$" operators; Sanitize is applied only to caller-
	// supplied document bodies (see each store's Create/Update entry point).
	return selector
}

// createIndex ensures a Mango index exists over fields; an equivalent
// existing index is left alone (kivik/CouchDB is itself idempotent here).
func (s *couchStore) createIndex(ctx context.Context, idx Index) error {
	def := map[string]interface{}{
		"fields": idx.Fields,
	}
	return s.db.CreateIndex(ctx, idx.Name, idx.Name, def)
}

// bulkSave writes docs in a single _bulk_docs request, returning per-
// document results. Used by PageStore.BulkUpdateProcessingStatus.
func (s *couchStore) bulkSave(ctx context.Context, docs []interface{}) ([]kivik.BulkResult, error) {
	results, err := s.db.BulkDocs(ctx, docs)
	if err != nil {
		return nil, fmt.Errorf("bulk_docs: %w", err)
	}
	return results, nil
}

func (s *couchStore) Close() error {
	return s.client.Close()
}

// FindOlderThan returns up to limit raw documents whose field value is
// before cutoff, oldest first, skipping the first skip matches. Used by
// the retention engine's batched archival sweep, which needs the full
// document body rather than a typed entity.
func (s *couchStore) FindOlderThan(ctx context.Context, field string, cutoff time.Time, limit, skip int) ([]map[string]interface{}, error) {
	return find[map[string]interface{}](ctx, s, MangoQuery{
		Selector: map[string]interface{}{field: map[string]interface{}{"$lt": cutoff.UTC().Format(time.RFC3339)}},
		Sort:     []map[string]string{{field: "asc"}},
		Limit:    limit,
		Skip:     skip,
	})
}

// CountMatching pages through every document matching selector and
// returns the total count. CouchDB's Mango API has no native count, so
// this fetches only "_id" and pages in batches of 1000.
func (s *couchStore) CountMatching(ctx context.Context, selector map[string]interface{}) (int, error) {
	const page = 1000
	total, skip := 0, 0
	for {
		docs, err := find[struct {
			ID string `json:"_id"`
		}](ctx, s, MangoQuery{Selector: selector, Fields: []string{"_id"}, Limit: page, Skip: skip})
		if err != nil {
			return 0, err
		}
		total += len(docs)
		if len(docs) < page {
			return total, nil
		}
		skip += page
	}
}

// EnsureTTLIndex creates the Mango index the retention engine's sweep
// relies on to order and filter by a policy's ttl_field. An equivalent
// existing index is left alone, matching createIndex's idempotence.
func (s *couchStore) EnsureTTLIndex(ctx context.Context, field string) error {
	return s.createIndex(ctx, Index{Name: "idx_ttl_" + field, Fields: []string{field}})
}

// DeleteRaw deletes a document by id/rev, exported for the retention
// engine's post-archive cleanup.
func (s *couchStore) DeleteRaw(ctx context.Context, id, rev string) error {
	return s.delete(ctx, id, rev)
}

// HasIndex reports whether a Mango index named name currently exists.
func (s *couchStore) HasIndex(ctx context.Context, name string) (bool, error) {
	indexes, err := s.db.GetIndexes(ctx)
	if err != nil {
		return false, fmt.Errorf("list indexes: %w", err)
	}
	for _, idx := range indexes {
		if idx.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// toDoc round-trips v through JSON into a plain map, the shape put/bulkSave
// expect. Every collection's entity struct is already the JSON wire format,
// so this is the one conversion point between typed domain values and the
// document store.
func toDoc(v interface{}) (map[string]interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return doc, nil
}
