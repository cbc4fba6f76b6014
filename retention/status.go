package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/philocrawl/crawlcore/repository"
)

// CollectionStatus is one policy's current retention state.
type CollectionStatus struct {
	Collection     string
	Total          int
	NearingExpiry  int
	TTLIndexExists bool
}

// GetRetentionStatus reports, per configured policy, the collection's
// current total, how many documents fall within nearingExpiryWindowDays
// of expiry, and whether its TTL index exists.
func (m *Manager) GetRetentionStatus(ctx context.Context) ([]CollectionStatus, error) {
	out := make([]CollectionStatus, 0, len(m.policies))
	for _, p := range m.policies {
		coll, ok := m.collections[p.Collection]
		if !ok {
			continue
		}
		status, err := collectionStatus(ctx, coll, p)
		if err != nil {
			return nil, fmt.Errorf("status for %s: %w", p.Collection, err)
		}
		out = append(out, status)
	}
	return out, nil
}

func collectionStatus(ctx context.Context, coll repository.RetentionCollection, p Policy) (CollectionStatus, error) {
	total, err := coll.CountMatching(ctx, map[string]interface{}{})
	if err != nil {
		return CollectionStatus{}, fmt.Errorf("count total: %w", err)
	}

	expiryCutoff := time.Now().UTC().AddDate(0, 0, -(p.RetentionDays - nearingExpiryWindowDays))
	nearing, err := coll.CountMatching(ctx, map[string]interface{}{
		p.TTLField: map[string]interface{}{"$lt": expiryCutoff.Format(time.RFC3339)},
	})
	if err != nil {
		return CollectionStatus{}, fmt.Errorf("count nearing expiry: %w", err)
	}

	indexExists, err := coll.HasIndex(ctx, repository.TTLIndexName(p.TTLField))
	if err != nil {
		return CollectionStatus{}, fmt.Errorf("check ttl index: %w", err)
	}

	return CollectionStatus{
		Collection:     p.Collection,
		Total:          total,
		NearingExpiry:  nearing,
		TTLIndexExists: indexExists,
	}, nil
}
