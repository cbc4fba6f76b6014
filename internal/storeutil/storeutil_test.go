package storeutil

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/philocrawl/crawlcore/domain"
)

func TestTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"validation error", errors.New("field must not be empty"), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, Transient(c.err))
		})
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.Base = 0
	policy.Cap = 0

	attempts := 0
	err := Retry(context.Background(), policy, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryDoesNotRetryPermanentErrors(t *testing.T) {
	policy := DefaultRetryPolicy()
	attempts := 0
	err := Retry(context.Background(), policy, func(ctx context.Context) error {
		attempts++
		return errors.New("duplicate key")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	var connErr *domain.ConnectionError
	assert.False(t, errors.As(err, &connErr), "non-transient errors must not be reclassified as ConnectionError")
}

func TestRetrySurfacesConnectionErrorOnExhaustion(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.Base = 0
	policy.Cap = 0
	policy.MaxRetries = 2

	attempts := 0
	err := Retry(context.Background(), policy, func(ctx context.Context) error {
		attempts++
		return errors.New("connection reset")
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts) // initial attempt + 2 retries
	var connErr *domain.ConnectionError
	require.True(t, errors.As(err, &connErr), "exhausted transient retries must surface as domain.ConnectionError")
}

func TestSanitizeStripsOperatorKeys(t *testing.T) {
	input := map[string]interface{}{
		"name": "Epictetus",
		"$gt":  5,
		"nested": map[string]interface{}{
			"$or":  []interface{}{1, 2},
			"safe": "value",
		},
		"list": []interface{}{
			map[string]interface{}{"$ne": 1, "keep": "yes"},
		},
	}
	out, err := Sanitize(input)
	require.NoError(t, err)
	assert.Equal(t, "Epictetus", out["name"])
	_, hasOperator := out["$gt"]
	assert.False(t, hasOperator)

	nested := out["nested"].(map[string]interface{})
	_, hasNestedOperator := nested["$or"]
	assert.False(t, hasNestedOperator)
	assert.Equal(t, "value", nested["safe"])

	list := out["list"].([]interface{})
	elem := list[0].(map[string]interface{})
	_, hasElemOperator := elem["$ne"]
	assert.False(t, hasElemOperator)
	assert.Equal(t, "yes", elem["keep"])
}

func TestParseID(t *testing.T) {
	valid, err := ParseID("philocrawl-site-001")
	require.NoError(t, err)
	assert.Equal(t, ID("philocrawl-site-001"), valid)

	_, err = ParseID("")
	assert.Error(t, err)

	_, err = ParseID("has a space")
	assert.Error(t, err)
}

func TestContentHashIsStable(t *testing.T) {
	h1 := ContentHashString("the unexamined life is not worth living")
	h2 := ContentHashString("the unexamined life is not worth living")
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestAtomicScopeCompensatesOnFailure(t *testing.T) {
	var undone []string

	ops := []Op{
		{
			Name: "write-page",
			Do: func(ctx context.Context) (func(ctx context.Context) error, error) {
				return func(ctx context.Context) error {
					undone = append(undone, "write-page")
					return nil
				}, nil
			},
		},
		{
			Name: "delete-tasks",
			Do: func(ctx context.Context) (func(ctx context.Context) error, error) {
				return nil, errors.New("boom")
			},
		},
	}

	err := AtomicScope(context.Background(), "page-update-scope", ops...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page-update-scope")
	assert.Equal(t, []string{"write-page"}, undone)
}

func TestAtomicScopeCommitsAllOnSuccess(t *testing.T) {
	var done []string
	ops := []Op{
		{Name: "a", Do: func(ctx context.Context) (func(ctx context.Context) error, error) {
			done = append(done, "a")
			return nil, nil
		}},
		{Name: "b", Do: func(ctx context.Context) (func(ctx context.Context) error, error) {
			done = append(done, "b")
			return nil, nil
		}},
	}
	err := AtomicScope(context.Background(), "scope", ops...)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, done)
}
