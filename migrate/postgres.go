package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/philocrawl/crawlcore/internal/logging"
	"github.com/philocrawl/crawlcore/internal/storeutil"
)

// OpenPostgresDB opens a database/sql handle over connString via pgx's
// stdlib driver, the handle goose's provider needs. This is separate
// from repository.ContentIndexStore's pgxpool connection — the
// migrator needs database/sql, the query path needs native pgx.
func OpenPostgresDB(connString string) (*sql.DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

// PostgresMigrator applies content-index schema migrations through
// goose's version provider, which owns the native goose_db_version
// ledger table against db. Migrations are supplied as in-memory Go
// functions rather than files on disk.
type PostgresMigrator struct {
	db         *sql.DB
	migrations []Migration
	log        *logging.ContextLogger
}

func NewPostgresMigrator(db *sql.DB, migrations []Migration) *PostgresMigrator {
	return &PostgresMigrator{db: db, migrations: migrations, log: logging.ComponentLogger("migrate.postgres")}
}

func (m *PostgresMigrator) provider() (*goose.Provider, error) {
	goMigrations := make([]*goose.Migration, 0, len(m.migrations))
	for _, mig := range m.migrations {
		up, down := mig.Up, mig.Down
		goMigrations = append(goMigrations, goose.NewGoMigration(
			mig.Version,
			&goose.GoFunc{RunDB: func(ctx context.Context, _ *sql.DB) error { return up(ctx) }},
			&goose.GoFunc{RunDB: func(ctx context.Context, _ *sql.DB) error { return down(ctx) }},
		))
	}
	return goose.NewProvider(goose.DialectPostgres, m.db, nil, goose.WithGoMigrations(goMigrations...))
}

// Up applies every migration newer than the ledger's current version,
// in ascending order, inside an atomic scope per migration.
func (m *PostgresMigrator) Up(ctx context.Context) error {
	provider, err := m.provider()
	if err != nil {
		return fmt.Errorf("build migration provider: %w", err)
	}
	for _, mig := range m.migrations {
		version, mig := mig.Version, mig
		if err := storeutil.AtomicScope(ctx, fmt.Sprintf("migrate_postgres_up_%d", version),
			storeutil.Op{Name: mig.Description, Do: func(ctx context.Context) (func(ctx context.Context) error, error) {
				results, err := provider.UpByOne(ctx)
				if err != nil {
					if err == goose.ErrNoNextVersion {
						return nil, nil
					}
					return nil, err
				}
				m.log.WithField("version", version).WithField("results", len(results)).Info("applied postgres migration")
				return func(ctx context.Context) error {
					_, downErr := provider.DownTo(ctx, version-1)
					return downErr
				}, nil
			}},
		); err != nil {
			return fmt.Errorf("migration %d (%s): %w", mig.Version, mig.Description, err)
		}
	}
	return nil
}

// Down reverts the ledger to targetVersion.
func (m *PostgresMigrator) Down(ctx context.Context, targetVersion int64) error {
	provider, err := m.provider()
	if err != nil {
		return fmt.Errorf("build migration provider: %w", err)
	}
	_, err = provider.DownTo(ctx, targetVersion)
	return err
}

// Status reports each migration's applied state per goose's ledger.
func (m *PostgresMigrator) Status(ctx context.Context) ([]*goose.MigrationStatus, error) {
	provider, err := m.provider()
	if err != nil {
		return nil, fmt.Errorf("build migration provider: %w", err)
	}
	return provider.Status(ctx)
}
