package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/philocrawl/crawlcore/domain"
)

func TestFingerprintDeterministic(t *testing.T) {
	ctx1 := map[string]interface{}{"url": "https://example.org/a", "code": float64(500)}
	ctx2 := map[string]interface{}{"url": "https://example.org/a", "code": float64(500)}

	fp1 := Fingerprint("crawl_failure", "site-1", ctx1)
	fp2 := Fingerprint("crawl_failure", "site-1", ctx2)
	assert.Equal(t, fp1, fp2, "identical alert_type/site_id/context must fingerprint identically")
	assert.Len(t, fp1, 64, "sha256 hex digest is 64 characters")
}

func TestFingerprintDistinguishesContext(t *testing.T) {
	base := Fingerprint("crawl_failure", "site-1", map[string]interface{}{"code": float64(500)})
	other := Fingerprint("crawl_failure", "site-1", map[string]interface{}{"code": float64(404)})
	assert.NotEqual(t, base, other)
}

func TestFingerprintDistinguishesSite(t *testing.T) {
	base := Fingerprint("crawl_failure", "site-1", nil)
	other := Fingerprint("crawl_failure", "site-2", nil)
	assert.NotEqual(t, base, other)
}

func TestSuppressionDocIDDeterministic(t *testing.T) {
	a := suppressionDocID("crawl_failure")
	b := suppressionDocID("crawl_failure")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, suppressionDocID("parse_error"))
}

func TestActiveLockDocIDDeterministic(t *testing.T) {
	fp := Fingerprint("crawl_failure", "site-1", nil)
	assert.Equal(t, activeLockDocID(fp), activeLockDocID(fp))
	assert.NotEqual(t, activeLockDocID(fp), activeLockDocID(Fingerprint("parse_error", "site-1", nil)))
}

func TestAlertSeverityRankOrdering(t *testing.T) {
	assert.Greater(t, domain.AlertCritical.Rank(), domain.AlertHigh.Rank())
	assert.Greater(t, domain.AlertHigh.Rank(), domain.AlertMedium.Rank())
	assert.Greater(t, domain.AlertMedium.Rank(), domain.AlertLow.Rank())
	assert.Greater(t, domain.AlertLow.Rank(), domain.AlertInfo.Rank())
}
