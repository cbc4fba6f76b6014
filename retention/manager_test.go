package retention

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/philocrawl/crawlcore/repository"
)

// fakeCollection is an in-memory stand-in for repository.RetentionCollection.
type fakeCollection struct {
	docs    map[string]map[string]interface{} // id -> doc
	indexes map[string]bool
}

func newFakeCollection(n int, field string, oldest time.Time, step time.Duration) *fakeCollection {
	c := &fakeCollection{docs: map[string]map[string]interface{}{}, indexes: map[string]bool{}}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("doc-%04d", i)
		c.docs[id] = map[string]interface{}{
			"_id":  id,
			"_rev": "1-abc",
			field:  oldest.Add(time.Duration(i) * step).UTC().Format(time.RFC3339),
		}
	}
	return c
}

func (c *fakeCollection) FindOlderThan(ctx context.Context, field string, cutoff time.Time, limit, skip int) ([]map[string]interface{}, error) {
	var matches []string
	for id, doc := range c.docs {
		ts, _ := time.Parse(time.RFC3339, doc[field].(string))
		if ts.Before(cutoff) {
			matches = append(matches, id)
		}
	}
	// deterministic ascending order by id, mirroring a sort on field
	for i := 0; i < len(matches); i++ {
		for j := i + 1; j < len(matches); j++ {
			if matches[j] < matches[i] {
				matches[i], matches[j] = matches[j], matches[i]
			}
		}
	}
	if skip > len(matches) {
		return nil, nil
	}
	matches = matches[skip:]
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]map[string]interface{}, 0, len(matches))
	for _, id := range matches {
		out = append(out, c.docs[id])
	}
	return out, nil
}

func (c *fakeCollection) CountMatching(ctx context.Context, selector map[string]interface{}) (int, error) {
	if len(selector) == 0 {
		return len(c.docs), nil
	}
	total := 0
	for field, cond := range selector {
		lt, ok := cond.(map[string]interface{})["$lt"].(string)
		if !ok {
			continue
		}
		cutoff, err := time.Parse(time.RFC3339, lt)
		if err != nil {
			return 0, err
		}
		for _, doc := range c.docs {
			ts, _ := time.Parse(time.RFC3339, doc[field].(string))
			if ts.Before(cutoff) {
				total++
			}
		}
	}
	return total, nil
}

func (c *fakeCollection) EnsureTTLIndex(ctx context.Context, field string) error {
	c.indexes[repository.TTLIndexName(field)] = true
	return nil
}

func (c *fakeCollection) HasIndex(ctx context.Context, name string) (bool, error) {
	return c.indexes[name], nil
}

func (c *fakeCollection) DeleteRaw(ctx context.Context, id, rev string) error {
	if _, ok := c.docs[id]; !ok {
		return errors.New("not found")
	}
	delete(c.docs, id)
	return nil
}

// fakeUploader records every uploaded key and can be told to fail after
// a given number of successful uploads.
type fakeUploader struct {
	failAfter int
	uploaded  []string
}

func (u *fakeUploader) Upload(ctx context.Context, bucket, key string, body io.Reader) error {
	if _, err := io.ReadAll(body); err != nil {
		return err
	}
	if u.failAfter > 0 && len(u.uploaded) >= u.failAfter {
		return errors.New("simulated upload failure")
	}
	u.uploaded = append(u.uploaded, key)
	return nil
}

func crawlSessionsPolicy() Policy {
	for _, p := range DefaultPolicies() {
		if p.Collection == "crawl_sessions" {
			return p
		}
	}
	panic("crawl_sessions policy missing")
}

func TestSetupTTLIndexesIsIdempotent(t *testing.T) {
	coll := newFakeCollection(0, "started_at", time.Now(), time.Hour)
	m, err := NewManager(
		map[string]repository.RetentionCollection{"crawl_sessions": coll},
		[]Policy{crawlSessionsPolicy()},
		&fakeUploader{}, "archive-bucket", false,
	)
	require.NoError(t, err)

	require.NoError(t, m.SetupTTLIndexes(context.Background()))
	assert.True(t, coll.indexes[repository.TTLIndexName("started_at")])

	// second call must not error and must leave the index alone
	require.NoError(t, m.SetupTTLIndexes(context.Background()))
	assert.True(t, coll.indexes[repository.TTLIndexName("started_at")])
}

func TestSetupTTLIndexesDryRunCreatesNothing(t *testing.T) {
	coll := newFakeCollection(0, "started_at", time.Now(), time.Hour)
	m, err := NewManager(
		map[string]repository.RetentionCollection{"crawl_sessions": coll},
		[]Policy{crawlSessionsPolicy()},
		&fakeUploader{}, "archive-bucket", true,
	)
	require.NoError(t, err)

	require.NoError(t, m.SetupTTLIndexes(context.Background()))
	assert.False(t, coll.indexes[repository.TTLIndexName("started_at")])
}

func TestArchiveOldDocumentsBatchesAndDeletes(t *testing.T) {
	oldest := time.Now().UTC().AddDate(0, 0, -120)
	coll := newFakeCollection(2500, "started_at", oldest, time.Second)
	uploader := &fakeUploader{}
	m, err := NewManager(
		map[string]repository.RetentionCollection{"crawl_sessions": coll},
		[]Policy{crawlSessionsPolicy()},
		uploader, "archive-bucket", false,
	)
	require.NoError(t, err)

	stats, err := m.ArchiveOldDocuments(context.Background(), "crawl_sessions")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.BatchesUploaded, 3)
	assert.Equal(t, 2500, stats.DocumentsArchived)
	assert.Equal(t, 2500, stats.DocumentsDeleted)
	assert.Empty(t, coll.docs)
	for _, key := range uploader.uploaded {
		assert.Regexp(t, `^archives/crawl_sessions/\d{8}T\d{6}Z_doc-\d{4}_doc-\d{4}\.json\.gz$`, key)
	}
}

func TestArchiveOldDocumentsStopsDeletingAfterUploadFailure(t *testing.T) {
	oldest := time.Now().UTC().AddDate(0, 0, -120)
	coll := newFakeCollection(2500, "started_at", oldest, time.Second)
	uploader := &fakeUploader{failAfter: 2}
	m, err := NewManager(
		map[string]repository.RetentionCollection{"crawl_sessions": coll},
		[]Policy{crawlSessionsPolicy()},
		uploader, "archive-bucket", false,
	)
	require.NoError(t, err)

	stats, err := m.ArchiveOldDocuments(context.Background(), "crawl_sessions")
	require.Error(t, err)
	assert.Equal(t, 2, stats.BatchesUploaded)
	assert.Equal(t, 2000, stats.DocumentsDeleted)
	assert.Equal(t, 500, len(coll.docs))
}

func TestArchiveOldDocumentsNoopWhenArchiveDisabled(t *testing.T) {
	coll := newFakeCollection(10, "detected_at", time.Now().AddDate(-1, 0, 0), time.Hour)
	m, err := NewManager(
		map[string]repository.RetentionCollection{"content_changes": coll},
		DefaultPolicies(),
		&fakeUploader{}, "archive-bucket", false,
	)
	require.NoError(t, err)

	stats, err := m.ArchiveOldDocuments(context.Background(), "content_changes")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.BatchesUploaded)
	assert.Len(t, coll.docs, 10)
}

func TestGetRetentionStatusReportsTotalsAndNearingExpiry(t *testing.T) {
	now := time.Now().UTC()
	coll := &fakeCollection{docs: map[string]map[string]interface{}{}, indexes: map[string]bool{}}
	// one document comfortably within retention, one nearing the 7-day window
	coll.docs["fresh"] = map[string]interface{}{"_id": "fresh", "_rev": "1", "created_at": now.Format(time.RFC3339)}
	coll.docs["near"] = map[string]interface{}{"_id": "near", "_rev": "1", "created_at": now.AddDate(0, 0, -175).Format(time.RFC3339)}

	m, err := NewManager(
		map[string]repository.RetentionCollection{"alerts": coll},
		DefaultPolicies(),
		&fakeUploader{}, "archive-bucket", false,
	)
	require.NoError(t, err)

	statuses, err := m.GetRetentionStatus(context.Background())
	require.NoError(t, err)

	var alertStatus CollectionStatus
	for _, s := range statuses {
		if s.Collection == "alerts" {
			alertStatus = s
		}
	}
	assert.Equal(t, 2, alertStatus.Total)
	assert.Equal(t, 1, alertStatus.NearingExpiry)
	assert.False(t, alertStatus.TTLIndexExists)
}

func TestPolicyValidateRejectsArchiveAfterNotBeforeRetention(t *testing.T) {
	p := Policy{Collection: "x", TTLField: "created_at", RetentionDays: 30, ArchiveEnabled: true, ArchiveAfterDays: 30}
	assert.Error(t, p.Validate())

	p.ArchiveAfterDays = 10
	assert.NoError(t, p.Validate())
}
