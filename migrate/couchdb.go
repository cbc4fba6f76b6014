package migrate

import (
	"context"
	"fmt"
	"time"

	kivik "github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/philocrawl/crawlcore/domain"
	"github.com/philocrawl/crawlcore/internal/logging"
	"github.com/philocrawl/crawlcore/internal/storeutil"
)

const migrationsDB = "philocrawl_migrations"

// CouchDBMigrator applies document-store migrations (index creation,
// document backfills) and records each applied version as a document
// in its own ledger database, following the teacher's CreateDB-if-
// missing idiom. CouchDB has no native unique-constraint mechanism, so
// uniqueness on version is enforced by querying the Mango index for the
// version just before the atomic scope that runs the migration and
// records it — best-effort, not a database-level guarantee.
type CouchDBMigrator struct {
	client     *kivik.Client
	ledger     *kivik.DB
	migrations []Migration
	log        *logging.ContextLogger
}

func NewCouchDBMigrator(ctx context.Context, url string, migrations []Migration) (*CouchDBMigrator, error) {
	client, err := kivik.New("couch", url)
	if err != nil {
		return nil, domain.NewConnectionError("connect couchdb", err)
	}
	exists, err := client.DBExists(ctx, migrationsDB)
	if err != nil {
		return nil, domain.NewConnectionError("check migrations ledger", err)
	}
	if !exists {
		if err := client.CreateDB(ctx, migrationsDB); err != nil {
			return nil, domain.NewConnectionError("create migrations ledger", err)
		}
	}
	ledger := client.DB(migrationsDB)
	if err := ledger.CreateIndex(ctx, "idx_version", "idx_version", map[string]interface{}{
		"fields": []string{"version"},
	}); err != nil {
		return nil, fmt.Errorf("create version index: %w", err)
	}
	return &CouchDBMigrator{client: client, ledger: ledger, migrations: migrations, log: logging.ComponentLogger("migrate.couchdb")}, nil
}

type ledgerEntry struct {
	Version     int64     `json:"version"`
	Description string    `json:"description"`
	AppliedAt   time.Time `json:"applied_at"`
}

func (m *CouchDBMigrator) isApplied(ctx context.Context, version int64) (bool, error) {
	rows := m.ledger.Find(ctx, map[string]interface{}{"version": version}, kivik.Params(map[string]interface{}{"limit": 1}))
	defer rows.Close()
	applied := rows.Next()
	return applied, rows.Err()
}

// Up applies every migration not yet recorded in the ledger, in
// ascending version order.
func (m *CouchDBMigrator) Up(ctx context.Context) error {
	for _, mig := range m.migrations {
		mig := mig
		applied, err := m.isApplied(ctx, mig.Version)
		if err != nil {
			return fmt.Errorf("check version %d applied: %w", mig.Version, err)
		}
		if applied {
			continue
		}
		if err := storeutil.AtomicScope(ctx, fmt.Sprintf("migrate_couchdb_up_%d", mig.Version),
			storeutil.Op{Name: mig.Description, Do: func(ctx context.Context) (func(ctx context.Context) error, error) {
				if err := mig.Up(ctx); err != nil {
					return nil, err
				}
				return func(ctx context.Context) error { return mig.Down(ctx) }, nil
			}},
			storeutil.Op{Name: "record_ledger_entry", Do: func(ctx context.Context) (func(ctx context.Context) error, error) {
				id, rev, err := m.recordApplied(ctx, mig)
				if err != nil {
					return nil, err
				}
				return func(ctx context.Context) error {
					_, err := m.ledger.Delete(ctx, id, rev)
					return err
				}, nil
			}},
		); err != nil {
			return fmt.Errorf("migration %d (%s): %w", mig.Version, mig.Description, err)
		}
		m.log.WithField("version", mig.Version).Info("applied couchdb migration")
	}
	return nil
}

func (m *CouchDBMigrator) recordApplied(ctx context.Context, mig Migration) (id, rev string, err error) {
	id = string(storeutil.NewID())
	entry := ledgerEntry{Version: mig.Version, Description: mig.Description, AppliedAt: time.Now().UTC()}
	rev, err = m.ledger.Put(ctx, id, map[string]interface{}{
		"version":     entry.Version,
		"description": entry.Description,
		"applied_at":  entry.AppliedAt,
	})
	if err != nil {
		return "", "", fmt.Errorf("record ledger entry: %w", err)
	}
	return id, rev, nil
}

func (m *CouchDBMigrator) Close() error { return m.client.Close() }
