// Package retention implements the crawl data retention engine: TTL
// index setup and batched cold-storage archival, driven independently
// per collection.
package retention

import "github.com/philocrawl/crawlcore/domain"

// Policy is one collection's retention configuration.
type Policy struct {
	Collection         string
	TTLField           string
	RetentionDays      int
	ArchiveEnabled     bool
	ArchiveAfterDays   int
	CompressionEnabled bool
}

// nearingExpiryWindowDays is the lookahead used by GetRetentionStatus to
// report documents about to age out.
const nearingExpiryWindowDays = 7

// DefaultPolicies returns the documented per-collection defaults:
// content_changes (365d, no archive), crawl_sessions (90d, archived
// after 60d), alerts (180d), processing_queue (30d).
func DefaultPolicies() []Policy {
	return []Policy{
		{
			Collection:    "content_changes",
			TTLField:      "detected_at",
			RetentionDays: 365,
		},
		{
			Collection:         "crawl_sessions",
			TTLField:           "started_at",
			RetentionDays:      90,
			ArchiveEnabled:     true,
			ArchiveAfterDays:   60,
			CompressionEnabled: true,
		},
		{
			Collection:    "alerts",
			TTLField:      "created_at",
			RetentionDays: 180,
		},
		{
			Collection:    "processing_queue",
			TTLField:      "created_at",
			RetentionDays: 30,
		},
	}
}

// Validate enforces the configuration constraint noted for every
// archive-enabled policy: archival must run before TTL expiry, or TTL
// cleanup could delete documents the archive sweep never saw.
func (p Policy) Validate() error {
	if p.Collection == "" {
		return domain.NewValidationError("collection", "must not be empty")
	}
	if p.TTLField == "" {
		return domain.NewValidationError("ttl_field", "must not be empty")
	}
	if p.RetentionDays <= 0 {
		return domain.NewValidationError("retention_days", "must be positive")
	}
	if p.ArchiveEnabled {
		if p.ArchiveAfterDays <= 0 {
			return domain.NewValidationError("archive_after_days", "must be positive when archive_enabled")
		}
		if p.ArchiveAfterDays >= p.RetentionDays {
			return domain.NewValidationError("archive_after_days", "must be less than retention_days or TTL cleanup may outrun archival")
		}
	}
	return nil
}
