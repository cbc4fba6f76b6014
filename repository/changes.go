package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/philocrawl/crawlcore/domain"
	"github.com/philocrawl/crawlcore/internal/storeutil"
)

const changesDB = "philocrawl_changes"

// ChangeStore is the CouchDB-backed ContentChange collection: recording,
// priority derivation, notification-state, frequency analytics, and
// history windowing.
type ChangeStore struct {
	store *couchStore
	pages *PageStore
}

func NewChangeStore(ctx context.Context, dbURL string, pages *PageStore) (*ChangeStore, error) {
	cs, err := newCouchStore(ctx, dbURL, changesDB)
	if err != nil {
		return nil, err
	}
	c := &ChangeStore{store: cs, pages: pages}
	for _, idx := range []Index{
		{Name: "idx_site_detected", Fields: []string{"site_id", "detected_at"}},
		{Name: "idx_notification_sent", Fields: []string{"notification_sent", "priority", "detected_at"}},
	} {
		if err := cs.createIndex(ctx, idx); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *ChangeStore) Ping(ctx context.Context) error { return c.store.Ping(ctx) }
func (c *ChangeStore) Close() error                   { return c.store.Close() }

// ChangeRecord is the payload accepted by RecordContentChange.
type ChangeRecord struct {
	PageID       string
	SiteID       string
	ChangeType   domain.ChangeType
	PreviousHash string
	NewHash      string
	Context      map[string]interface{}
}

// derivePriority implements §4.G's deterministic priority rules.
func derivePriority(changeType domain.ChangeType, ctx map[string]interface{}) domain.ChangePriority {
	switch changeType {
	case domain.ChangeDeleted:
		return domain.ChangePriorityHigh
	case domain.ChangeNew:
		if boolFlag(ctx, "author_known") || boolFlag(ctx, "philosophical_content") {
			return domain.ChangePriorityHigh
		}
		return domain.ChangePriorityMedium
	case domain.ChangeModified:
		ratio, _ := ctx["content_change_ratio"].(float64)
		switch {
		case ratio > 0.5:
			return domain.ChangePriorityHigh
		case ratio > 0.1:
			return domain.ChangePriorityMedium
		default:
			return domain.ChangePriorityLow
		}
	default:
		return domain.ChangePriorityLow
	}
}

func boolFlag(ctx map[string]interface{}, key string) bool {
	v, ok := ctx[key].(bool)
	return ok && v
}

// RecordContentChange validates change_type, auto-fills url/title from the
// Page for new/modified, rejects new/modified whose page_id does not
// resolve, and derives priority deterministically.
func (c *ChangeStore) RecordContentChange(ctx context.Context, in ChangeRecord) (string, error) {
	switch in.ChangeType {
	case domain.ChangeNew, domain.ChangeModified, domain.ChangeDeleted:
	default:
		return "", domain.NewValidationError("change_type", "must be one of new, modified, deleted")
	}

	var url, title string
	if in.ChangeType == domain.ChangeNew || in.ChangeType == domain.ChangeModified {
		if c.pages == nil {
			return "", domain.NewResourceNotFoundError("page", in.PageID)
		}
		page, err := c.pages.getByID(ctx, in.PageID)
		if err != nil {
			return "", domain.NewResourceNotFoundError("page", in.PageID)
		}
		url = page.URL
		title = page.Title
	}

	now := time.Now().UTC()
	change := domain.ContentChange{
		ID:           string(storeutil.NewID()),
		PageID:       in.PageID,
		SiteID:       in.SiteID,
		ChangeType:   in.ChangeType,
		PreviousHash: in.PreviousHash,
		NewHash:      in.NewHash,
		URL:          url,
		Title:        title,
		Priority:     derivePriority(in.ChangeType, in.Context),
		DetectedAt:   now,
		Context:      in.Context,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	doc, err := toDoc(change)
	if err != nil {
		return "", err
	}
	if _, err := c.store.put(ctx, change.ID, doc); err != nil {
		return "", err
	}
	return change.ID, nil
}

// GetChangesSince returns changes detected at or after t for siteID.
func (c *ChangeStore) GetChangesSince(ctx context.Context, siteID string, t time.Time) ([]domain.ContentChange, error) {
	return find[domain.ContentChange](ctx, c.store, MangoQuery{
		Selector: map[string]interface{}{
			"site_id":     siteID,
			"detected_at": map[string]interface{}{"$gte": t.UTC().Format(time.RFC3339Nano)},
		},
	})
}

// GetNewPagesToday returns change_type=new changes detected since midnight
// UTC, optionally scoped to siteID.
func (c *ChangeStore) GetNewPagesToday(ctx context.Context, siteID string) ([]domain.ContentChange, error) {
	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	selector := map[string]interface{}{
		"change_type": string(domain.ChangeNew),
		"detected_at": map[string]interface{}{"$gte": midnight.Format(time.RFC3339Nano)},
	}
	if siteID != "" {
		selector["site_id"] = siteID
	}
	return find[domain.ContentChange](ctx, c.store, MangoQuery{Selector: selector})
}

// ModifiedPagesSummary is get_modified_pages_summary's return shape.
type ModifiedPagesSummary struct {
	TotalModified int
	BySite        map[string]int
}

// GetModifiedPagesSummary summarizes change_type=modified changes over
// the last days.
func (c *ChangeStore) GetModifiedPagesSummary(ctx context.Context, days int) (*ModifiedPagesSummary, error) {
	since := time.Now().UTC().AddDate(0, 0, -days)
	changes, err := find[domain.ContentChange](ctx, c.store, MangoQuery{
		Selector: map[string]interface{}{
			"change_type": string(domain.ChangeModified),
			"detected_at": map[string]interface{}{"$gte": since.Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return nil, err
	}
	summary := &ModifiedPagesSummary{BySite: map[string]int{}}
	for _, ch := range changes {
		summary.TotalModified++
		summary.BySite[ch.SiteID]++
	}
	return summary, nil
}

// changePriorityRank orders priority descending for get_unnotified_changes.
var changePriorityRank = map[domain.ChangePriority]int{
	domain.ChangePriorityCritical: 4,
	domain.ChangePriorityHigh:     3,
	domain.ChangePriorityMedium:   2,
	domain.ChangePriorityLow:      1,
}

// GetUnnotifiedChanges returns changes with notification_sent=false,
// ordered by priority desc then detected_at asc, capped at limit.
func (c *ChangeStore) GetUnnotifiedChanges(ctx context.Context, priority domain.ChangePriority, limit int) ([]domain.ContentChange, error) {
	selector := map[string]interface{}{"notification_sent": false}
	if priority != "" {
		selector["priority"] = string(priority)
	}
	changes, err := find[domain.ContentChange](ctx, c.store, MangoQuery{Selector: selector})
	if err != nil {
		return nil, err
	}
	sort.Slice(changes, func(i, j int) bool {
		if changePriorityRank[changes[i].Priority] != changePriorityRank[changes[j].Priority] {
			return changePriorityRank[changes[i].Priority] > changePriorityRank[changes[j].Priority]
		}
		return changes[i].DetectedAt.Before(changes[j].DetectedAt)
	})
	if limit > 0 && len(changes) > limit {
		changes = changes[:limit]
	}
	return changes, nil
}

// MarkChangeNotified sets notification_sent=true, notified_at=now.
// Idempotent.
func (c *ChangeStore) MarkChangeNotified(ctx context.Context, id string) error {
	var change domain.ContentChange
	if err := c.store.get(ctx, id, &change); err != nil {
		return err
	}
	if change.NotificationSent {
		return nil
	}
	now := time.Now().UTC()
	change.NotificationSent = true
	change.NotifiedAt = &now
	change.UpdatedAt = now
	doc, err := toDoc(change)
	if err != nil {
		return err
	}
	_, err = c.store.put(ctx, change.ID, doc)
	return err
}

// ChangeFrequency is get_change_frequency's return shape.
type ChangeFrequency struct {
	TotalsByType   map[domain.ChangeType]int
	ChangesPerDay  float64
	MostActiveDay  string
	Trend          string // increasing, decreasing, stable
}

// GetChangeFrequency totals by type, changes/day, the most-active day by
// date string, and a trend comparing first- vs second-half counts with a
// ±20% band.
func (c *ChangeStore) GetChangeFrequency(ctx context.Context, siteID string, days int) (*ChangeFrequency, error) {
	since := time.Now().UTC().AddDate(0, 0, -days)
	changes, err := find[domain.ContentChange](ctx, c.store, MangoQuery{
		Selector: map[string]interface{}{
			"site_id":     siteID,
			"detected_at": map[string]interface{}{"$gte": since.Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return nil, err
	}

	freq := &ChangeFrequency{TotalsByType: map[domain.ChangeType]int{}}
	byDay := map[string]int{}
	for _, ch := range changes {
		freq.TotalsByType[ch.ChangeType]++
		byDay[ch.DetectedAt.Format("2006-01-02")]++
	}
	if days > 0 {
		freq.ChangesPerDay = float64(len(changes)) / float64(days)
	}

	var mostActiveDay string
	maxCount := -1
	for day, count := range byDay {
		if count > maxCount || (count == maxCount && day < mostActiveDay) {
			maxCount = count
			mostActiveDay = day
		}
	}
	freq.MostActiveDay = mostActiveDay

	sort.Slice(changes, func(i, j int) bool { return changes[i].DetectedAt.Before(changes[j].DetectedAt) })
	mid := len(changes) / 2
	firstHalf, secondHalf := len(changes[:mid]), len(changes[mid:])
	freq.Trend = "stable"
	if firstHalf > 0 {
		ratio := float64(secondHalf) / float64(firstHalf)
		switch {
		case ratio > 1.2:
			freq.Trend = "increasing"
		case ratio < 0.8:
			freq.Trend = "decreasing"
		}
	} else if secondHalf > 0 {
		freq.Trend = "increasing"
	}
	return freq, nil
}

// CleanupOldChanges deletes changes older than days.
func (c *ChangeStore) CleanupOldChanges(ctx context.Context, days int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	changes, err := find[domain.ContentChange](ctx, c.store, MangoQuery{
		Selector: map[string]interface{}{
			"detected_at": map[string]interface{}{"$lte": cutoff.Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, ch := range changes {
		rev, err := c.store.currentRev(ctx, ch.ID)
		if err != nil {
			return deleted, err
		}
		if err := c.store.delete(ctx, ch.ID, rev); err != nil {
			return deleted, fmt.Errorf("cleanup change %s: %w", ch.ID, err)
		}
		deleted++
	}
	return deleted, nil
}
