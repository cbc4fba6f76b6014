package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/philocrawl/crawlcore/repository"
	"github.com/philocrawl/crawlcore/retention"
)

const createContentIndexSQL = `
CREATE TABLE IF NOT EXISTS content_index (
	id TEXT PRIMARY KEY,
	page_id TEXT UNIQUE NOT NULL,
	search_content TEXT NOT NULL,
	search_vector tsvector GENERATED ALWAYS AS (to_tsvector('english', search_content)) STORED,
	metadata JSONB NOT NULL DEFAULT '{}',
	content_hash TEXT NOT NULL,
	indexed_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_content_index_search_vector ON content_index USING GIN (search_vector);
CREATE INDEX IF NOT EXISTS idx_content_index_metadata ON content_index USING GIN (metadata);
`

// ContentIndexMigrations is the versioned Postgres migration path for
// the content index schema (db is a database/sql handle over the same
// Postgres instance repository.ContentIndexStore queries via pgx).
func ContentIndexMigrations(db *sql.DB) []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "create content_index table with generated tsvector and GIN indexes",
			Up: func(ctx context.Context) error {
				_, err := db.ExecContext(ctx, createContentIndexSQL)
				return err
			},
			Down: func(ctx context.Context) error {
				_, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS content_index;`)
				return err
			},
		},
	}
}

// TTLIndexMigrations is the versioned CouchDB migration path for the
// retention engine's per-policy TTL indexes. It is additive and
// idempotent like retention.Manager.SetupTTLIndexes itself — the two
// can run independently (e.g. this one at deploy time via a migration
// run, that one during routine maintenance) without conflict.
func TTLIndexMigrations(collections map[string]repository.RetentionCollection, policies []retention.Policy) []Migration {
	migrations := make([]Migration, 0, len(policies))
	for i, policy := range policies {
		version := int64(i + 1)
		policy := policy
		coll, ok := collections[policy.Collection]
		if !ok {
			continue
		}
		migrations = append(migrations, Migration{
			Version:     version,
			Description: fmt.Sprintf("ensure ttl index on %s.%s", policy.Collection, policy.TTLField),
			Up: func(ctx context.Context) error {
				return coll.EnsureTTLIndex(ctx, policy.TTLField)
			},
			Down: func(ctx context.Context) error {
				// Mango indexes are cheap and harmless to leave in place;
				// there is nothing destructive to undo.
				return nil
			},
		})
	}
	return migrations
}
