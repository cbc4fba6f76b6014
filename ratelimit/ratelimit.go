// Package ratelimit enforces the request-rate ceilings the configuration
// tree describes — security.rate_limit_per_minute globally and each site's
// requests_per_minute/daily_limit — as fixed-window counters in Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/philocrawl/crawlcore/domain"
)

// Limiter enforces fixed-window request budgets: INCR a window-scoped key,
// EXPIRE it on the first increment of the window, reject once the count
// exceeds limit. Grounded on the teacher's counter idiom (RedisRepository.
// Increment) and connection-test-on-construct idiom (NewRedisRepository) in
// db/repository/redis.go.
type Limiter struct {
	client *redis.Client
}

// New parses url (a redis:// connection string) and verifies the
// connection before returning, the same fail-fast-on-construct contract
// every repository in this module follows.
func New(ctx context.Context, url string) (*Limiter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, domain.NewConnectionError("redis connect", err)
	}
	return &Limiter{client: client}, nil
}

func (l *Limiter) Ping(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return domain.NewConnectionError("redis ping", err)
	}
	return nil
}

func (l *Limiter) Close() error { return l.client.Close() }

// allow increments key's counter and reports whether it is still within
// limit, setting window as the key's expiry on the increment that creates
// it. limit <= 0 means the budget is unset: always allow.
func (l *Limiter) allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, domain.NewConnectionError("redis incr", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, window).Err(); err != nil {
			return false, domain.NewConnectionError("redis expire", err)
		}
	}
	return count <= int64(limit), nil
}

// CheckGlobal enforces security.rate_limit_per_minute across the whole
// deployment, one counter per wall-clock minute.
func (l *Limiter) CheckGlobal(ctx context.Context, limitPerMinute int) error {
	key := fmt.Sprintf("ratelimit:global:minute:%d", time.Now().UTC().Unix()/60)
	ok, err := l.allow(ctx, key, limitPerMinute, time.Minute)
	if err != nil {
		return err
	}
	if !ok {
		return domain.NewRateLimitExceededError("global", limitPerMinute)
	}
	return nil
}

// CheckSite enforces a site's requests_per_minute and daily_limit budgets
// (each 0 means unset, i.e. unbounded). requests_per_minute is checked
// first, so a burst trips the cheaper, shorter-lived counter before the
// daily one is even touched.
func (l *Limiter) CheckSite(ctx context.Context, site string, requestsPerMinute, dailyLimit int) error {
	now := time.Now().UTC()

	if requestsPerMinute > 0 {
		key := fmt.Sprintf("ratelimit:site:%s:minute:%d", site, now.Unix()/60)
		ok, err := l.allow(ctx, key, requestsPerMinute, time.Minute)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NewRateLimitExceededError(site+":requests_per_minute", requestsPerMinute)
		}
	}

	if dailyLimit > 0 {
		key := fmt.Sprintf("ratelimit:site:%s:day:%s", site, now.Format("2006-01-02"))
		// 25h, not 24h: covers the key outliving a UTC-midnight rollover by
		// the margin a delayed EXPIRE call could otherwise miss.
		ok, err := l.allow(ctx, key, dailyLimit, 25*time.Hour)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NewRateLimitExceededError(site+":daily_limit", dailyLimit)
		}
	}

	return nil
}
