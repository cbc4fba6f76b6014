package retention

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/philocrawl/crawlcore/domain"
	"github.com/philocrawl/crawlcore/internal/logging"
	"github.com/philocrawl/crawlcore/repository"
)

// archiveBatchSize is the number of documents streamed per archive
// batch and per uploaded object.
const archiveBatchSize = 1000

// Manager runs TTL index setup and batched archival across every
// configured collection. CouchDB has no native expiring-document
// feature, so both sweeps are application-driven and independently
// scheduled: TTL cleanup can expire a document before archival ever
// sees it unless archive_after_days < retention_days, which
// Policy.Validate enforces at load.
type Manager struct {
	collections map[string]repository.RetentionCollection
	policies    []Policy
	uploader    Uploader
	bucket      string
	dryRun      bool
	log         *logging.ContextLogger
}

// NewManager builds a retention engine bound to collections (by policy
// collection name) and validates every policy up front.
func NewManager(collections map[string]repository.RetentionCollection, policies []Policy, uploader Uploader, bucket string, dryRun bool) (*Manager, error) {
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("policy %q: %w", p.Collection, err)
		}
		if p.ArchiveEnabled {
			if _, ok := collections[p.Collection]; !ok {
				return nil, domain.NewValidationError("collection", "archive_enabled policy has no bound store: "+p.Collection)
			}
		}
	}
	return &Manager{
		collections: collections,
		policies:    policies,
		uploader:    uploader,
		bucket:      bucket,
		dryRun:      dryRun,
		log:         logging.ComponentLogger("retention"),
	}, nil
}

// SetupTTLIndexes ensures every policy's ttl_field has a Mango index
// backing its age-ordered queries. Idempotent: an equivalent existing
// index is left alone. In dry-run mode this only logs what would be
// created.
func (m *Manager) SetupTTLIndexes(ctx context.Context) error {
	for _, p := range m.policies {
		coll, ok := m.collections[p.Collection]
		if !ok {
			continue
		}
		exists, err := coll.HasIndex(ctx, repository.TTLIndexName(p.TTLField))
		if err != nil {
			return fmt.Errorf("check ttl index for %s: %w", p.Collection, err)
		}
		if exists {
			continue
		}
		if m.dryRun {
			m.log.WithField("collection", p.Collection).WithField("ttl_field", p.TTLField).
				Info("dry run: would create ttl index")
			continue
		}
		if err := coll.EnsureTTLIndex(ctx, p.TTLField); err != nil {
			return fmt.Errorf("create ttl index for %s: %w", p.Collection, err)
		}
		m.log.WithField("collection", p.Collection).WithField("ttl_field", p.TTLField).Info("created ttl index")
	}
	return nil
}

// ArchiveStats summarizes one archive_old_documents run.
type ArchiveStats struct {
	Collection        string
	BatchesUploaded   int
	DocumentsArchived int
	DocumentsDeleted  int
	LastArchivedAt    time.Time
}

// ArchiveOldDocuments streams collection's documents older than its
// policy's archive_after_days in batches of 1000, uploads one archive
// object per batch, and deletes a batch only after its upload succeeds.
// On an upload failure the batch (and everything after it) is left in
// place, so a retry resumes from the same point.
func (m *Manager) ArchiveOldDocuments(ctx context.Context, collection string) (*ArchiveStats, error) {
	policy, ok := m.policyFor(collection)
	if !ok {
		return nil, domain.NewValidationError("collection", "no retention policy configured for "+collection)
	}
	stats := &ArchiveStats{Collection: collection}
	if !policy.ArchiveEnabled {
		return stats, nil
	}
	coll := m.collections[collection]
	cutoff := time.Now().UTC().AddDate(0, 0, -policy.ArchiveAfterDays)

	for {
		batch, err := coll.FindOlderThan(ctx, policy.TTLField, cutoff, archiveBatchSize, 0)
		if err != nil {
			return stats, fmt.Errorf("find archivable batch: %w", err)
		}
		if len(batch) == 0 {
			return stats, nil
		}

		key, err := m.uploadBatch(ctx, collection, batch, policy.CompressionEnabled)
		if err != nil {
			return stats, fmt.Errorf("upload batch starting at %s: %w", docID(batch[0]), err)
		}
		stats.BatchesUploaded++
		stats.DocumentsArchived += len(batch)
		stats.LastArchivedAt = time.Now().UTC()
		m.log.WithFields(map[string]interface{}{
			"collection": collection, "key": key, "count": len(batch),
		}).Info("archived batch")

		for _, doc := range batch {
			if err := coll.DeleteRaw(ctx, docID(doc), docRev(doc)); err != nil {
				return stats, fmt.Errorf("delete archived document %s: %w", docID(doc), err)
			}
			stats.DocumentsDeleted++
		}

		if len(batch) < archiveBatchSize {
			return stats, nil
		}
	}
}

// uploadBatch serializes batch as a JSON array (stripping the CouchDB
// revision, which has no meaning once archived), optionally gzips it,
// and uploads it under a deterministic key naming the batch's id range.
func (m *Manager) uploadBatch(ctx context.Context, collection string, batch []map[string]interface{}, compress bool) (string, error) {
	docs := make([]map[string]interface{}, len(batch))
	for i, d := range batch {
		docs[i] = stripRevision(d)
	}

	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(docs); err != nil {
		return "", fmt.Errorf("marshal batch: %w", err)
	}

	payload := body.Bytes()
	ext := ".json"
	if compress {
		var gz bytes.Buffer
		w := gzip.NewWriter(&gz)
		if _, err := w.Write(body.Bytes()); err != nil {
			return "", fmt.Errorf("gzip batch: %w", err)
		}
		if err := w.Close(); err != nil {
			return "", fmt.Errorf("close gzip writer: %w", err)
		}
		payload = gz.Bytes()
		ext += ".gz"
	}

	key := fmt.Sprintf("archives/%s/%s_%s_%s%s",
		collection, time.Now().UTC().Format("20060102T150405Z"), docID(batch[0]), docID(batch[len(batch)-1]), ext)
	if err := m.uploader.Upload(ctx, m.bucket, key, bytes.NewReader(payload)); err != nil {
		return "", err
	}
	return key, nil
}

// RunMaintenance performs one full maintenance pass: TTL index setup,
// then archival of every archive-enabled collection.
func (m *Manager) RunMaintenance(ctx context.Context) ([]*ArchiveStats, error) {
	if err := m.SetupTTLIndexes(ctx); err != nil {
		return nil, fmt.Errorf("setup ttl indexes: %w", err)
	}
	var results []*ArchiveStats
	for _, p := range m.policies {
		if !p.ArchiveEnabled {
			continue
		}
		stats, err := m.ArchiveOldDocuments(ctx, p.Collection)
		if err != nil {
			return results, fmt.Errorf("archive %s: %w", p.Collection, err)
		}
		results = append(results, stats)
	}
	return results, nil
}

func (m *Manager) policyFor(collection string) (Policy, bool) {
	for _, p := range m.policies {
		if p.Collection == collection {
			return p, true
		}
	}
	return Policy{}, false
}

func docID(doc map[string]interface{}) string {
	id, _ := doc["_id"].(string)
	return id
}

func docRev(doc map[string]interface{}) string {
	rev, _ := doc["_rev"].(string)
	return rev
}

func stripRevision(doc map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		if k == "_rev" {
			continue
		}
		out[k] = v
	}
	return out
}
