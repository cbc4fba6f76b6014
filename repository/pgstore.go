package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/philocrawl/crawlcore/domain"
	"github.com/philocrawl/crawlcore/internal/logging"
	"github.com/philocrawl/crawlcore/internal/storeutil"
)

// pgStore wraps a pgxpool.Pool with the same kind of retry/breaker pair
// the CouchDB stores use. Only exec runs through it; the content-index
// read queries and CleanupOrphanedEntries call the pool directly.
type pgStore struct {
	pool    *pgxpool.Pool
	retry   storeutil.RetryPolicy
	breaker *storeutil.Breaker
	log     *logging.ContextLogger
}

func newPGStore(ctx context.Context, connString string) (*pgStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, domain.NewConnectionError("connect postgres", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, domain.NewConnectionError("ping postgres", err)
	}
	return &pgStore{
		pool:    pool,
		retry:   storeutil.DefaultRetryPolicy(),
		breaker: storeutil.NewBreaker(storeutil.DefaultBreakerConfig("content_index")),
		log:     logging.ComponentLogger("content_index"),
	}, nil
}

func (p *pgStore) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return domain.NewConnectionError("ping postgres", err)
	}
	return nil
}

func (p *pgStore) Close() { p.pool.Close() }

// exec runs a statement through the retry/breaker pair.
func (p *pgStore) exec(ctx context.Context, sql string, args ...interface{}) error {
	return storeutil.Retry(ctx, p.retry, func(ctx context.Context) error {
		_, err := p.breaker.Execute(ctx, "exec", func(ctx context.Context) (any, error) {
			_, err := p.pool.Exec(ctx, sql, args...)
			return nil, err
		})
		return err
	})
}

func migrateContentIndexSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
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
`)
	if err != nil {
		return fmt.Errorf("migrate content_index schema: %w", err)
	}
	return nil
}
