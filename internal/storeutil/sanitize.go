package storeutil

import (
	"strings"

	"github.com/philocrawl/crawlcore/domain"
)

// Sanitize recursively strips keys beginning with the reserved operator
// sigil "$" from a document body or filter map, including nested maps and
// list elements. CouchDB Mango selectors borrow Mongo-style operators, so
// a caller-supplied map must never be allowed to smuggle one in.
func Sanitize(input map[string]interface{}) (map[string]interface{}, error) {
	if input == nil {
		return nil, domain.NewValidationError("input", "must be a map")
	}
	return sanitizeMap(input), nil
}

func sanitizeMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if strings.HasPrefix(k, "$") {
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v interface{}) interface{} {
	switch vv := v.(type) {
	case map[string]interface{}:
		return sanitizeMap(vv)
	case []interface{}:
		out := make([]interface{}, len(vv))
		for i, elem := range vv {
			out[i] = sanitizeValue(elem)
		}
		return out
	default:
		return v
	}
}
