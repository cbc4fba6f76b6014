package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/philocrawl/crawlcore/domain"
)

// Enqueue validates before touching storage, so these reject-path cases
// exercise a zero-value QueueStore safely — no live CouchDB required.

func TestEnqueueRejectsPriorityOutOfRange(t *testing.T) {
	q := &QueueStore{}
	_, err := q.Enqueue(context.Background(), TaskCreate{TaskType: "crawl_page", Priority: 0})
	require.Error(t, err)
	assert.IsType(t, &domain.ValidationError{}, err)

	_, err = q.Enqueue(context.Background(), TaskCreate{TaskType: "crawl_page", Priority: 6})
	require.Error(t, err)
}

func TestEnqueueRejectsUnserializablePayload(t *testing.T) {
	q := &QueueStore{}
	_, err := q.Enqueue(context.Background(), TaskCreate{
		TaskType: "crawl_page",
		Priority: 3,
		Payload:  map[string]interface{}{"fn": func() {}},
	})
	require.Error(t, err)
	assert.IsType(t, &domain.ValidationError{}, err)
}

func TestDefaultBackoffPolicyDoubling(t *testing.T) {
	p := DefaultBackoffPolicy()
	assert.Equal(t, p.BaseDelay*1, p.BaseDelay<<0)
	assert.Equal(t, p.BaseDelay*8, p.BaseDelay<<3)
	// six doublings already exceeds the one-hour cap per §4.F defaults.
	assert.Greater(t, p.BaseDelay<<6, p.Cap)
}
