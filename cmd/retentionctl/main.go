// Command retentionctl drives the retention engine's maintenance
// operations (TTL index setup, batched archival, status reporting) and
// the schema migrators from the command line. It also doubles, via
// dequeue-demo, as a thin driver for the processing queue's worker
// pool — a demonstration of the queue's concurrency model, not a
// feature this command owns.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/philocrawl/crawlcore/domain"
	"github.com/philocrawl/crawlcore/migrate"
	"github.com/philocrawl/crawlcore/repository"
	"github.com/philocrawl/crawlcore/retention"
	"github.com/philocrawl/crawlcore/worker"
)

var (
	couchdbURL  string
	postgresURL string
	redisURL    string
	s3Bucket    string
	awsRegion   string
	dryRun      bool
	collection  string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "retentionctl",
		Short: "Retention maintenance and schema migration for the crawl store",
	}
	root.PersistentFlags().StringVar(&couchdbURL, "couchdb-url", os.Getenv("COUCHDB_URL"), "CouchDB server URL")
	root.PersistentFlags().StringVar(&postgresURL, "postgres-url", os.Getenv("DATABASE_URL"), "Postgres connection string")
	root.PersistentFlags().StringVar(&redisURL, "redis-url", os.Getenv("REDIS_URL"), "Redis connection string for the rate limiter (optional)")
	root.PersistentFlags().StringVar(&s3Bucket, "s3-bucket", os.Getenv("ARCHIVE_S3_BUCKET"), "S3 bucket for archive uploads")
	root.PersistentFlags().StringVar(&awsRegion, "aws-region", "us-east-1", "AWS region for the archive uploader")
	root.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "log intended changes without writing them")

	root.AddCommand(newSetupTTLCmd())
	root.AddCommand(newArchiveCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newMaintainCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newDequeueDemoCmd())
	return root
}

func newSetupTTLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup-ttl",
		Short: "Create any missing TTL indexes for the configured retention policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd.Context(), func(ctx context.Context, m *retention.Manager) error {
				return m.SetupTTLIndexes(ctx)
			})
		},
	}
}

func newArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Archive one collection's documents older than its policy's archive_after_days",
		RunE: func(cmd *cobra.Command, args []string) error {
			if collection == "" {
				return fmt.Errorf("--collection is required")
			}
			return withManager(cmd.Context(), func(ctx context.Context, m *retention.Manager) error {
				stats, err := m.ArchiveOldDocuments(ctx, collection)
				if err != nil {
					return err
				}
				fmt.Printf("archived %d documents in %d batches, deleted %d\n",
					stats.DocumentsArchived, stats.BatchesUploaded, stats.DocumentsDeleted)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "", "collection name to archive (e.g. crawl_sessions)")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report current totals, nearing-expiry counts, and TTL index state per policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd.Context(), func(ctx context.Context, m *retention.Manager) error {
				statuses, err := m.GetRetentionStatus(ctx)
				if err != nil {
					return err
				}
				for _, s := range statuses {
					fmt.Printf("%-20s total=%-8d nearing_expiry=%-6d ttl_index=%v\n",
						s.Collection, s.Total, s.NearingExpiry, s.TTLIndexExists)
				}
				return nil
			})
		},
	}
}

func newMaintainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "maintain",
		Short: "Run one full maintenance pass: TTL setup, then archival of every archive-enabled collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd.Context(), func(ctx context.Context, m *retention.Manager) error {
				results, err := m.RunMaintenance(ctx)
				if err != nil {
					return err
				}
				for _, stats := range results {
					fmt.Printf("%-20s archived=%d batches=%d deleted=%d\n",
						stats.Collection, stats.DocumentsArchived, stats.BatchesUploaded, stats.DocumentsDeleted)
				}
				return nil
			})
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending Postgres and CouchDB migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			pgDB, err := migrate.OpenPostgresDB(postgresURL)
			if err != nil {
				return err
			}
			defer pgDB.Close()
			if err := migrate.NewPostgresMigrator(pgDB, migrate.ContentIndexMigrations(pgDB)).Up(ctx); err != nil {
				return fmt.Errorf("postgres migrations: %w", err)
			}

			store, err := repository.NewCompositeStore(ctx, repository.StoreConfig{
				CouchDBURL:  couchdbURL,
				PostgresURL: postgresURL,
				RedisURL:    redisURL,
			})
			if err != nil {
				return err
			}
			defer store.Close()

			ttlMigrator, err := migrate.NewCouchDBMigrator(ctx, couchdbURL,
				migrate.TTLIndexMigrations(store.RetentionCollections(), retention.DefaultPolicies()))
			if err != nil {
				return err
			}
			defer ttlMigrator.Close()
			if err := ttlMigrator.Up(ctx); err != nil {
				return fmt.Errorf("couchdb migrations: %w", err)
			}
			return nil
		},
	}
}

func newDequeueDemoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dequeue-demo",
		Short: "Run a demonstration worker pool polling the processing queue until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			store, err := repository.NewCompositeStore(ctx, repository.StoreConfig{
				CouchDBURL:  couchdbURL,
				PostgresURL: postgresURL,
				RedisURL:    redisURL,
			})
			if err != nil {
				return err
			}
			defer store.Close()

			pool := worker.NewPool(store.Queue, noopProcessor{}, worker.DefaultConfig())
			pool.Start(ctx)

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig
			pool.Stop()
			return nil
		},
	}
}

// noopProcessor demonstrates the pool's control flow without depending
// on any particular task-type handler; a real deployment supplies its
// own worker.Processor per task type.
type noopProcessor struct{}

func (noopProcessor) Process(ctx context.Context, task *domain.ProcessingTask) (map[string]interface{}, error) {
	return map[string]interface{}{"demo": true, "task_type": task.TaskType}, nil
}

func withManager(ctx context.Context, fn func(ctx context.Context, m *retention.Manager) error) error {
	store, err := repository.NewCompositeStore(ctx, repository.StoreConfig{
		CouchDBURL:  couchdbURL,
		PostgresURL: postgresURL,
		RedisURL:    redisURL,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	uploadCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	uploader, err := retention.NewS3Uploader(uploadCtx, awsRegion)
	if err != nil {
		return err
	}

	manager, err := retention.NewManager(store.RetentionCollections(), retention.DefaultPolicies(), uploader, s3Bucket, dryRun)
	if err != nil {
		return err
	}
	return fn(ctx, manager)
}
