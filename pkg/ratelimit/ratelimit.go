package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of checking one request against a window.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      time.Duration
	RetryAfter time.Duration
}

// Limiter implements a fixed-window counter on Redis. The counter and its
// expiry are created in one pipelined round trip so a partially executed
// request cannot leave a counter without a deadline.
type Limiter struct {
	client *redis.Client
	prefix string
}

// NewLimiter creates a limiter using the given Redis client. All keys are
// namespaced under the prefix.
func NewLimiter(client *redis.Client, prefix string) *Limiter {
	return &Limiter{
		client: client,
		prefix: prefix,
	}
}

func (l *Limiter) key(scope, clientIP, tenantID string) string {
	key := fmt.Sprintf("%s:%s:%s", l.prefix, scope, clientIP)
	if tenantID != "" {
		key += ":" + tenantID
	}
	return key
}

// Allow counts the request against its window and reports the decision.
// A non-nil error means the backend could not be consulted; callers decide
// what to do with that (the HTTP layer fails open).
func (l *Limiter) Allow(ctx context.Context, scope, clientIP, tenantID string, limit int, window time.Duration) (*Decision, error) {
	key := l.key(scope, clientIP, tenantID)

	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	ttl := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	count := incr.Val()
	reset := ttl.Val()
	if reset < 0 {
		reset = window
	}

	decision := &Decision{
		Limit: limit,
		Reset: reset,
	}

	if count > int64(limit) {
		decision.Remaining = 0
		decision.RetryAfter = reset
		return decision, nil
	}

	decision.Allowed = true
	decision.Remaining = limit - int(count)
	if decision.Remaining < 0 {
		decision.Remaining = 0
	}
	return decision, nil
}
