package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/philocrawl/crawlcore/domain"
)

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	l, err := New(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestCheckGlobalAllowsWithinBudget(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		assert.NoError(t, l.CheckGlobal(ctx, 5))
	}
}

func TestCheckGlobalRejectsOverBudget(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.CheckGlobal(ctx, 3))
	}
	err := l.CheckGlobal(ctx, 3)
	require.Error(t, err)
	var rateErr *domain.RateLimitExceededError
	assert.ErrorAs(t, err, &rateErr)
	assert.Equal(t, "global", rateErr.Scope)
}

func TestCheckGlobalUnsetIsUnbounded(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		assert.NoError(t, l.CheckGlobal(ctx, 0))
	}
}

func TestCheckSiteEnforcesPerMinuteIndependentlyOfDaily(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	require.NoError(t, l.CheckSite(ctx, "site-a", 2, 100))
	require.NoError(t, l.CheckSite(ctx, "site-a", 2, 100))
	err := l.CheckSite(ctx, "site-a", 2, 100)
	require.Error(t, err)
	var rateErr *domain.RateLimitExceededError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, "site-a:requests_per_minute", rateErr.Scope)
}

func TestCheckSiteEnforcesDailyLimit(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	require.NoError(t, l.CheckSite(ctx, "site-b", 0, 1))
	err := l.CheckSite(ctx, "site-b", 0, 1)
	require.Error(t, err)
	var rateErr *domain.RateLimitExceededError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, "site-b:daily_limit", rateErr.Scope)
}

func TestCheckSiteIsolatesCountersPerSite(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	require.NoError(t, l.CheckSite(ctx, "site-a", 1, 0))
	require.NoError(t, l.CheckSite(ctx, "site-b", 1, 0))
}
