package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/philocrawl/crawlcore/domain"
	"github.com/philocrawl/crawlcore/internal/storeutil"
)

// ContentIndexStore is the Postgres-backed ContentIndex collection:
// upsert by page, full-text search over a generated tsvector column with
// metadata facets, and duplicate detection.
type ContentIndexStore struct {
	pg *pgStore
}

func NewContentIndexStore(ctx context.Context, connString string) (*ContentIndexStore, error) {
	pg, err := newPGStore(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := migrateContentIndexSchema(ctx, pg.pool); err != nil {
		return nil, err
	}
	return &ContentIndexStore{pg: pg}, nil
}

func (c *ContentIndexStore) Ping(ctx context.Context) error { return c.pg.Ping(ctx) }
func (c *ContentIndexStore) Close()                         { c.pg.Close() }

// CreateContentIndex inserts a page-scoped record, computing content_hash.
func (c *ContentIndexStore) CreateContentIndex(ctx context.Context, ci domain.ContentIndex) (string, error) {
	if ci.ID == "" {
		ci.ID = string(storeutil.NewID())
	}
	now := time.Now().UTC()
	ci.ContentHash = storeutil.ContentHashString(ci.SearchContent)
	ci.IndexedAt = now
	ci.CreatedAt = now
	ci.UpdatedAt = now

	metadata, err := json.Marshal(ci.Metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	err = c.pg.exec(ctx, `
INSERT INTO content_index (id, page_id, search_content, metadata, content_hash, indexed_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ci.ID, ci.PageID, ci.SearchContent, metadata, ci.ContentHash, ci.IndexedAt, ci.CreatedAt, ci.UpdatedAt)
	if err != nil {
		if isPGUniqueViolation(err) {
			return "", domain.NewDuplicateResourceError("content_index", ci.PageID)
		}
		return "", err
	}
	return ci.ID, nil
}

// UpsertContentIndex updates in place (preserving id, refreshing
// indexed_at and content_hash) if page_id exists; otherwise creates.
func (c *ContentIndexStore) UpsertContentIndex(ctx context.Context, ci domain.ContentIndex) (string, error) {
	existing, err := c.GetByPageID(ctx, ci.PageID)
	if err != nil {
		if _, ok := err.(*domain.ResourceNotFoundError); ok {
			return c.CreateContentIndex(ctx, ci)
		}
		return "", err
	}

	now := time.Now().UTC()
	contentHash := storeutil.ContentHashString(ci.SearchContent)
	metadata, err := json.Marshal(ci.Metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	err = c.pg.exec(ctx, `
UPDATE content_index SET search_content=$1, metadata=$2, content_hash=$3, indexed_at=$4, updated_at=$5
WHERE id=$6`,
		ci.SearchContent, metadata, contentHash, now, now, existing.ID)
	if err != nil {
		return "", err
	}
	return existing.ID, nil
}

func scanContentIndex(row pgx.Row) (*domain.ContentIndex, error) {
	var ci domain.ContentIndex
	var metadata []byte
	err := row.Scan(&ci.ID, &ci.PageID, &ci.SearchContent, &metadata, &ci.ContentHash, &ci.IndexedAt, &ci.CreatedAt, &ci.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.NewResourceNotFoundError("content_index", "")
		}
		return nil, err
	}
	if err := json.Unmarshal(metadata, &ci.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &ci, nil
}

// GetByPageID returns the content-index entry for pageID.
func (c *ContentIndexStore) GetByPageID(ctx context.Context, pageID string) (*domain.ContentIndex, error) {
	row := c.pg.pool.QueryRow(ctx, `
SELECT id, page_id, search_content, metadata, content_hash, indexed_at, created_at, updated_at
FROM content_index WHERE page_id=$1`, pageID)
	ci, err := scanContentIndex(row)
	if err != nil {
		if _, ok := err.(*domain.ResourceNotFoundError); ok {
			return nil, domain.NewResourceNotFoundError("content_index", pageID)
		}
		return nil, err
	}
	return ci, nil
}

// UpdateSearchContent replaces search_content (and the generated tsvector
// along with it) for pageID.
func (c *ContentIndexStore) UpdateSearchContent(ctx context.Context, pageID, content string) error {
	existing, err := c.GetByPageID(ctx, pageID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	hash := storeutil.ContentHashString(content)
	return c.pg.exec(ctx, `
UPDATE content_index SET search_content=$1, content_hash=$2, indexed_at=$3, updated_at=$3 WHERE id=$4`,
		content, hash, now, existing.ID)
}

// DeleteByPageID removes the content-index entry for pageID.
func (c *ContentIndexStore) DeleteByPageID(ctx context.Context, pageID string) error {
	return c.pg.exec(ctx, `DELETE FROM content_index WHERE page_id=$1`, pageID)
}

// SearchContent performs a full-text search over search_content AND-combined
// with metadata equality filters, ranked by relevance.
func (c *ContentIndexStore) SearchContent(ctx context.Context, terms string, metadataFilters map[string]string, limit, skip int) ([]domain.ContentIndex, error) {
	args := []interface{}{terms}
	where := []string{"search_vector @@ plainto_tsquery('english', $1)"}
	i := 2
	for k, v := range metadataFilters {
		where = append(where, fmt.Sprintf("metadata->>'%s' = $%d", k, i))
		args = append(args, v)
		i++
	}
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, skip)

	query := fmt.Sprintf(`
SELECT id, page_id, search_content, metadata, content_hash, indexed_at, created_at, updated_at,
       ts_rank(search_vector, plainto_tsquery('english', $1)) AS rank
FROM content_index
WHERE %s
ORDER BY rank DESC
LIMIT $%d OFFSET $%d`, joinAND(where), i, i+1)

	rows, err := c.pg.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.ContentIndex
	for rows.Next() {
		var ci domain.ContentIndex
		var metadata []byte
		var rank float64
		if err := rows.Scan(&ci.ID, &ci.PageID, &ci.SearchContent, &metadata, &ci.ContentHash, &ci.IndexedAt, &ci.CreatedAt, &ci.UpdatedAt, &rank); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(metadata, &ci.Metadata); err != nil {
			return nil, err
		}
		results = append(results, ci)
	}
	return results, rows.Err()
}

func joinAND(clauses []string) string {
	out := clauses[0]
	for _, c := range clauses[1:] {
		out += " AND " + c
	}
	return out
}

// GetByAuthor is a case-insensitive metadata filter on the "author" facet.
func (c *ContentIndexStore) GetByAuthor(ctx context.Context, name string) ([]domain.ContentIndex, error) {
	rows, err := c.pg.pool.Query(ctx, `
SELECT id, page_id, search_content, metadata, content_hash, indexed_at, created_at, updated_at
FROM content_index WHERE metadata->>'author' ILIKE $1`, "%"+name+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.ContentIndex
	for rows.Next() {
		var ci domain.ContentIndex
		var metadata []byte
		if err := rows.Scan(&ci.ID, &ci.PageID, &ci.SearchContent, &metadata, &ci.ContentHash, &ci.IndexedAt, &ci.CreatedAt, &ci.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(metadata, &ci.Metadata); err != nil {
			return nil, err
		}
		results = append(results, ci)
	}
	return results, rows.Err()
}

// GetRecentContent returns up to limit entries indexed within the last
// hours.
func (c *ContentIndexStore) GetRecentContent(ctx context.Context, hours, limit int) ([]domain.ContentIndex, error) {
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	rows, err := c.pg.pool.Query(ctx, `
SELECT id, page_id, search_content, metadata, content_hash, indexed_at, created_at, updated_at
FROM content_index WHERE indexed_at >= $1 ORDER BY indexed_at DESC LIMIT $2`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.ContentIndex
	for rows.Next() {
		var ci domain.ContentIndex
		var metadata []byte
		if err := rows.Scan(&ci.ID, &ci.PageID, &ci.SearchContent, &metadata, &ci.ContentHash, &ci.IndexedAt, &ci.CreatedAt, &ci.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(metadata, &ci.Metadata); err != nil {
			return nil, err
		}
		results = append(results, ci)
	}
	return results, rows.Err()
}

// GetMetadataFacets returns {key: sorted(distinct values)} over every
// metadata key present in the collection.
func (c *ContentIndexStore) GetMetadataFacets(ctx context.Context) (map[string][]string, error) {
	rows, err := c.pg.pool.Query(ctx, `SELECT metadata FROM content_index`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	facets := map[string]map[string]struct{}{}
	for rows.Next() {
		var metadata []byte
		if err := rows.Scan(&metadata); err != nil {
			return nil, err
		}
		var m map[string]string
		if err := json.Unmarshal(metadata, &m); err != nil {
			return nil, err
		}
		for k, v := range m {
			if facets[k] == nil {
				facets[k] = map[string]struct{}{}
			}
			facets[k][v] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make(map[string][]string, len(facets))
	for k, set := range facets {
		values := make([]string, 0, len(set))
		for v := range set {
			values = append(values, v)
		}
		sort.Strings(values)
		out[k] = values
	}
	return out, nil
}

// ContentStatistics is get_content_statistics's return shape.
type ContentStatistics struct {
	TotalEntries int
}

func (c *ContentIndexStore) GetContentStatistics(ctx context.Context) (*ContentStatistics, error) {
	var count int
	if err := c.pg.pool.QueryRow(ctx, `SELECT COUNT(*) FROM content_index`).Scan(&count); err != nil {
		return nil, err
	}
	return &ContentStatistics{TotalEntries: count}, nil
}

// CleanupOrphanedEntries deletes content-index rows whose page_id is not
// in validPageIDs.
func (c *ContentIndexStore) CleanupOrphanedEntries(ctx context.Context, validPageIDs []string) (int, error) {
	tag, err := c.pg.pool.Exec(ctx, `DELETE FROM content_index WHERE NOT (page_id = ANY($1))`, validPageIDs)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// GetDuplicateContent returns every entry sharing content_hash.
func (c *ContentIndexStore) GetDuplicateContent(ctx context.Context, contentHash string) ([]domain.ContentIndex, error) {
	rows, err := c.pg.pool.Query(ctx, `
SELECT id, page_id, search_content, metadata, content_hash, indexed_at, created_at, updated_at
FROM content_index WHERE content_hash=$1`, contentHash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.ContentIndex
	for rows.Next() {
		var ci domain.ContentIndex
		var metadata []byte
		if err := rows.Scan(&ci.ID, &ci.PageID, &ci.SearchContent, &metadata, &ci.ContentHash, &ci.IndexedAt, &ci.CreatedAt, &ci.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(metadata, &ci.Metadata); err != nil {
			return nil, err
		}
		results = append(results, ci)
	}
	return results, rows.Err()
}

// BulkUpsertContentIndexes processes list in batches of 100.
func (c *ContentIndexStore) BulkUpsertContentIndexes(ctx context.Context, list []domain.ContentIndex) error {
	const batchSize = 100
	for start := 0; start < len(list); start += batchSize {
		end := start + batchSize
		if end > len(list) {
			end = len(list)
		}
		for _, ci := range list[start:end] {
			if _, err := c.UpsertContentIndex(ctx, ci); err != nil {
				return fmt.Errorf("bulk upsert content index %s: %w", ci.PageID, err)
			}
		}
	}
	return nil
}

func isPGUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value violates unique constraint") || strings.Contains(msg, "SQLSTATE 23505")
}
