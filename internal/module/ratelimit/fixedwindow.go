package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// FixedWindow implements Strategy with a naive fixed-window counter.
// Bursts at window boundaries can briefly exceed the nominal rate by
// up to 2x, which is acceptable for abuse protection but not for
// billing-accurate limiting.
type FixedWindow struct {
	client redis.Cmdable
	now    func() time.Time
}

// NewFixedWindow creates a fixed-window strategy backed by Redis.
func NewFixedWindow(client redis.Cmdable) *FixedWindow {
	return &FixedWindow{client: client, now: time.Now}
}

func (s *FixedWindow) Check(ctx context.Context, key string, rule Rule) (*Result, error) {
	resetKey := key + ":reset"
	now := s.now().Unix()

	pipe := s.client.Pipeline()
	countCmd := pipe.Get(ctx, key)
	resetCmd := pipe.Get(ctx, resetKey)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	resetAt, resetErr := resetCmd.Int64()

	// Missing or expired reset marker starts a fresh window.
	if resetErr != nil || resetAt < now {
		resetAt = now + int64(rule.Window.Seconds())
		pipe := s.client.Pipeline()
		pipe.Set(ctx, key, 1, 0)
		pipe.Set(ctx, resetKey, resetAt, 0)
		pipe.Expire(ctx, key, rule.Window)
		pipe.Expire(ctx, resetKey, rule.Window)
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}
		return &Result{
			Allowed:   true,
			Limit:     rule.Limit,
			Remaining: rule.Limit - 1,
			Reset:     resetAt,
		}, nil
	}

	count, err := countCmd.Int()
	if err != nil && err != redis.Nil {
		return nil, err
	}

	if count < rule.Limit {
		newCount, err := s.client.Incr(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		remaining := rule.Limit - int(newCount)
		if remaining < 0 {
			remaining = 0
		}
		return &Result{
			Allowed:   true,
			Limit:     rule.Limit,
			Remaining: remaining,
			Reset:     resetAt,
		}, nil
	}

	return &Result{
		Allowed:    false,
		Limit:      rule.Limit,
		Remaining:  0,
		Reset:      resetAt,
		RetryAfter: time.Duration(resetAt-now) * time.Second,
	}, nil
}
