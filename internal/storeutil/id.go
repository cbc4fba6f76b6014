package storeutil

import (
	"regexp"

	"github.com/google/uuid"

	"github.com/philocrawl/crawlcore/domain"
)

// ID is the canonical opaque identifier form used across every collection.
type ID string

// couchDocIDPattern allows kivik/CouchDB document ids: a UUID, or a short
// collection-prefixed slug (letters, digits, underscore, hyphen).
var couchDocIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,200}$`)

// ParseID validates that s is either a well-formed UUID or a CouchDB-legal
// document id string, and returns it in canonical form. Malformed input
// fails with a validation error before any I/O.
func ParseID(s string) (ID, error) {
	if s == "" {
		return "", domain.NewValidationError("id", "must not be empty")
	}
	if _, err := uuid.Parse(s); err == nil {
		return ID(s), nil
	}
	if couchDocIDPattern.MatchString(s) {
		return ID(s), nil
	}
	return "", domain.NewValidationError("id", "malformed identifier")
}

// NewID generates a fresh opaque identifier.
func NewID() ID {
	return ID(uuid.NewString())
}

func (id ID) String() string { return string(id) }
