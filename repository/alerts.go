package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/philocrawl/crawlcore/domain"
	"github.com/philocrawl/crawlcore/internal/storeutil"
)

const alertsDB = "philocrawl_alerts"
const suppressionsDB = "philocrawl_alert_suppressions"

// AlertStore is the CouchDB-backed Alerts collection: fingerprint dedup,
// severity ordering, suppression windows, and escalation.
type AlertStore struct {
	store        *couchStore
	suppressions *couchStore
}

func NewAlertStore(ctx context.Context, dbURL string) (*AlertStore, error) {
	cs, err := newCouchStore(ctx, dbURL, alertsDB)
	if err != nil {
		return nil, err
	}
	for _, idx := range []Index{
		{Name: "idx_fingerprint_status", Fields: []string{"fingerprint", "status"}},
		{Name: "idx_status_severity_created", Fields: []string{"status", "severity", "created_at"}},
	} {
		if err := cs.createIndex(ctx, idx); err != nil {
			return nil, err
		}
	}
	supp, err := newCouchStore(ctx, dbURL, suppressionsDB)
	if err != nil {
		return nil, err
	}
	if err := supp.createIndex(ctx, Index{Name: "idx_alert_type", Fields: []string{"alert_type"}}); err != nil {
		return nil, err
	}
	return &AlertStore{store: cs, suppressions: supp}, nil
}

func (a *AlertStore) Ping(ctx context.Context) error {
	if err := a.store.Ping(ctx); err != nil {
		return err
	}
	return a.suppressions.Ping(ctx)
}

func (a *AlertStore) Close() error {
	_ = a.suppressions.Close()
	return a.store.Close()
}

// AlertCreate is the payload accepted by CreateAlert.
type AlertCreate struct {
	AlertType       string
	Severity        domain.AlertSeverity
	Title           string
	Message         string
	SiteID          string
	SourceComponent string
	Context         map[string]interface{}
}

// Fingerprint computes the deterministic identity an Alert is
// deduplicated under: SHA-256 of a canonical JSON encoding of
// (alert_type, site_id, context), per the Open Question resolution
// favoring a collision-resistant hash over the source's unsalted fast
// hash.
func Fingerprint(alertType, siteID string, context map[string]interface{}) string {
	canonical := map[string]interface{}{
		"alert_type": alertType,
		"site_id":    siteID,
		"context":    context,
	}
	b, _ := json.Marshal(canonical)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// alertLock is the deterministic-id claim document CreateAlert uses to
// make fingerprint dedup race-free, the same pattern SuppressAlertType
// uses for its own deterministic id: CouchDB only ever accepts one
// create for a given _id, so whichever concurrent CreateAlert call wins
// the lock is the one that creates the new active alert. Every loser
// increments that winner's occurrence_count instead of inserting its own
// document, so the count of active alerts sharing a fingerprint can never
// exceed one.
type alertLock struct {
	Fingerprint string `json:"fingerprint"`
	AlertID     string `json:"alert_id"`
}

func activeLockDocID(fingerprint string) string {
	return "active-" + fingerprint
}

// CreateAlert drops the create if the fingerprint is currently suppressed
// (returning "" with no error, the sentinel for "dropped"); increments
// occurrence_count if an active alert with the same fingerprint exists;
// otherwise inserts a new active alert. Racing calls for the same
// fingerprint are serialized through activeLockDocID's create-time
// conflict detection rather than an unprotected find-then-branch.
func (a *AlertStore) CreateAlert(ctx context.Context, in AlertCreate) (string, error) {
	fp := Fingerprint(in.AlertType, in.SiteID, in.Context)

	suppressed, err := a.isSuppressed(ctx, in.AlertType)
	if err != nil {
		return "", err
	}
	if suppressed {
		return "", nil
	}

	lockID := activeLockDocID(fp)
	const maxAttempts = 10
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lockRev, err := a.store.currentRev(ctx, lockID)
		if err != nil {
			return "", err
		}
		if lockRev == "" {
			id, claimed, err := a.claimActiveLock(ctx, lockID, fp, in)
			if err != nil {
				return "", err
			}
			if claimed {
				return id, nil
			}
			continue // another caller claimed the lock first; retry as the increment path
		}

		var lock alertLock
		if err := a.store.get(ctx, lockID, &lock); err != nil {
			if _, ok := err.(*domain.ResourceNotFoundError); ok {
				continue // lock was deleted between currentRev and get; retry
			}
			return "", err
		}

		alertRev, err := a.store.currentRev(ctx, lock.AlertID)
		if err != nil {
			return "", err
		}
		if alertRev == "" {
			// The lock outlived the alert it points to (e.g. purged by
			// CleanupOldAlerts out of band); clear it and retry.
			_ = a.store.delete(ctx, lockID, lockRev)
			continue
		}
		var alert domain.Alert
		if err := a.store.get(ctx, lock.AlertID, &alert); err != nil {
			return "", err
		}
		if alert.Status != domain.AlertActive {
			// ResolveAlert normally clears the lock itself; this is a
			// defensive fallback in case that best-effort clear lost a race.
			_ = a.store.delete(ctx, lockID, lockRev)
			continue
		}

		now := time.Now().UTC()
		alert.OccurrenceCount++
		alert.LastSeen = now
		alert.UpdatedAt = now
		doc, err := toDoc(alert)
		if err != nil {
			return "", err
		}
		if _, err := a.store.putWithRev(ctx, alert.ID, alertRev, doc); err != nil {
			if isConflict(err) {
				continue // another caller incremented first; retry against its new revision
			}
			return "", err
		}
		return alert.ID, nil
	}
	return "", fmt.Errorf("create alert: exhausted %d attempts racing fingerprint %s", maxAttempts, fp)
}

// claimActiveLock attempts to become the sole creator of a new active
// alert for fingerprint fp. claimed is false, with no error, when another
// caller's create beat this one to the lock id — the caller falls back
// to the increment path in that case.
func (a *AlertStore) claimActiveLock(ctx context.Context, lockID, fp string, in AlertCreate) (id string, claimed bool, err error) {
	newID := string(storeutil.NewID())
	lockDoc, err := toDoc(alertLock{Fingerprint: fp, AlertID: newID})
	if err != nil {
		return "", false, err
	}
	if _, err := a.store.putWithRev(ctx, lockID, "", lockDoc); err != nil {
		if isConflict(err) {
			return "", false, nil
		}
		return "", false, err
	}

	now := time.Now().UTC()
	alert := domain.Alert{
		ID:              newID,
		AlertType:       in.AlertType,
		Severity:        in.Severity,
		Title:           in.Title,
		Message:         in.Message,
		SiteID:          in.SiteID,
		SourceComponent: in.SourceComponent,
		Context:         in.Context,
		Status:          domain.AlertActive,
		Fingerprint:     fp,
		OccurrenceCount: 1,
		FirstSeen:       now,
		LastSeen:        now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	doc, err := toDoc(alert)
	if err != nil {
		return "", false, err
	}
	if _, err := a.store.put(ctx, alert.ID, doc); err != nil {
		return "", false, err
	}
	return alert.ID, true, nil
}

// GetActiveAlerts returns active alerts, optionally filtered by severity,
// ordered by severity descending then created_at descending.
func (a *AlertStore) GetActiveAlerts(ctx context.Context, severity domain.AlertSeverity) ([]domain.Alert, error) {
	selector := map[string]interface{}{"status": string(domain.AlertActive)}
	if severity != "" {
		selector["severity"] = string(severity)
	}
	alerts, err := find[domain.Alert](ctx, a.store, MangoQuery{Selector: selector})
	if err != nil {
		return nil, err
	}
	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].Severity.Rank() != alerts[j].Severity.Rank() {
			return alerts[i].Severity.Rank() > alerts[j].Severity.Rank()
		}
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})
	return alerts, nil
}

// ResolveAlert transitions active→resolved. A non-active alert is a
// no-op, returning false.
func (a *AlertStore) ResolveAlert(ctx context.Context, id, resolution string) (bool, error) {
	var alert domain.Alert
	if err := a.store.get(ctx, id, &alert); err != nil {
		return false, err
	}
	if alert.Status != domain.AlertActive {
		return false, nil
	}
	now := time.Now().UTC()
	alert.Status = domain.AlertResolved
	alert.ResolvedAt = &now
	alert.Resolution = resolution
	if err := a.save(ctx, &alert); err != nil {
		return false, err
	}
	a.clearActiveLock(ctx, alert.Fingerprint, alert.ID)
	return true, nil
}

// clearActiveLock best-effort deletes the fingerprint lock once its alert
// is no longer active, so the next occurrence claims a fresh lock instead
// of perpetually incrementing a resolved alert. A failure here is not
// fatal to the resolve itself: CreateAlert's defensive stale-lock check
// cleans up lazily on the next occurrence either way.
func (a *AlertStore) clearActiveLock(ctx context.Context, fingerprint, alertID string) {
	lockID := activeLockDocID(fingerprint)
	rev, err := a.store.currentRev(ctx, lockID)
	if err != nil || rev == "" {
		return
	}
	var lock alertLock
	if err := a.store.get(ctx, lockID, &lock); err != nil || lock.AlertID != alertID {
		return
	}
	if err := a.store.delete(ctx, lockID, rev); err != nil && !isConflict(err) {
		a.store.log.WithError(err).Warn("failed to clear resolved alert's active lock")
	}
}

// SuppressAlertType upserts a suppression row with
// suppressed_until = now + hours. The suppression's document id is
// deterministic from alert_type, so put's revision-preserving
// read-modify-write naturally upserts in place.
func (a *AlertStore) SuppressAlertType(ctx context.Context, alertType string, hours int) error {
	suppression := domain.AlertSuppression{
		AlertType:       alertType,
		SuppressedUntil: time.Now().UTC().Add(time.Duration(hours) * time.Hour),
	}
	doc, err := toDoc(suppression)
	if err != nil {
		return err
	}
	_, err = a.suppressions.put(ctx, suppressionDocID(alertType), doc)
	return err
}

func suppressionDocID(alertType string) string {
	sum := sha256.Sum256([]byte(alertType))
	return "suppression-" + hex.EncodeToString(sum[:8])
}

func (a *AlertStore) isSuppressed(ctx context.Context, alertType string) (bool, error) {
	rows, err := find[domain.AlertSuppression](ctx, a.suppressions, MangoQuery{
		Selector: map[string]interface{}{"alert_type": alertType},
		Limit:    1,
	})
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, nil
	}
	return rows[0].SuppressedUntil.After(time.Now().UTC()), nil
}

// GetSuppressedAlerts lists non-expired suppressions.
func (a *AlertStore) GetSuppressedAlerts(ctx context.Context) ([]domain.AlertSuppression, error) {
	rows, err := find[domain.AlertSuppression](ctx, a.suppressions, MangoQuery{Selector: map[string]interface{}{}})
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	var active []domain.AlertSuppression
	for _, r := range rows {
		if r.SuppressedUntil.After(now) {
			active = append(active, r)
		}
	}
	return active, nil
}

// CleanupOldAlerts deletes resolved alerts older than days.
func (a *AlertStore) CleanupOldAlerts(ctx context.Context, days int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	alerts, err := find[domain.Alert](ctx, a.store, MangoQuery{
		Selector: map[string]interface{}{
			"status":      string(domain.AlertResolved),
			"resolved_at": map[string]interface{}{"$lte": cutoff.Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, alert := range alerts {
		rev, err := a.store.currentRev(ctx, alert.ID)
		if err != nil {
			return deleted, err
		}
		if err := a.store.delete(ctx, alert.ID, rev); err != nil {
			return deleted, fmt.Errorf("cleanup alert %s: %w", alert.ID, err)
		}
		deleted++
	}
	return deleted, nil
}

// AlertStatistics is get_alert_statistics's return shape.
type AlertStatistics struct {
	ByStatus    map[domain.AlertStatus]int
	BySeverity  map[domain.AlertSeverity]int
	Escalated   int
}

// GetAlertStatistics returns totals by status and severity plus escalated
// count, over the last days.
func (a *AlertStore) GetAlertStatistics(ctx context.Context, days int) (*AlertStatistics, error) {
	since := time.Now().UTC().AddDate(0, 0, -days)
	alerts, err := find[domain.Alert](ctx, a.store, MangoQuery{
		Selector: map[string]interface{}{
			"created_at": map[string]interface{}{"$gte": since.Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return nil, err
	}
	stats := &AlertStatistics{ByStatus: map[domain.AlertStatus]int{}, BySeverity: map[domain.AlertSeverity]int{}}
	for _, alert := range alerts {
		stats.ByStatus[alert.Status]++
		stats.BySeverity[alert.Severity]++
		if alert.EscalatedAt != nil {
			stats.Escalated++
		}
	}
	return stats, nil
}

// EscalateUnresolvedAlerts marks active alerts of severity ∈
// {critical, high} older than the threshold with escalated_at=now, only
// once per alert, and returns the newly escalated alerts for downstream
// notification.
func (a *AlertStore) EscalateUnresolvedAlerts(ctx context.Context, hours int) ([]domain.Alert, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	candidates, err := find[domain.Alert](ctx, a.store, MangoQuery{
		Selector: map[string]interface{}{
			"status":     string(domain.AlertActive),
			"severity":   map[string]interface{}{"$in": []string{string(domain.AlertCritical), string(domain.AlertHigh)}},
			"first_seen": map[string]interface{}{"$lte": cutoff.Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return nil, err
	}
	var escalated []domain.Alert
	now := time.Now().UTC()
	for _, alert := range candidates {
		if alert.EscalatedAt != nil {
			continue
		}
		alert.EscalatedAt = &now
		if err := a.save(ctx, &alert); err != nil {
			return escalated, err
		}
		escalated = append(escalated, alert)
	}
	return escalated, nil
}

func (a *AlertStore) save(ctx context.Context, alert *domain.Alert) error {
	alert.UpdatedAt = time.Now().UTC()
	doc, err := toDoc(alert)
	if err != nil {
		return err
	}
	_, err = a.store.put(ctx, alert.ID, doc)
	return err
}
