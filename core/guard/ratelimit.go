// Package guard defends the authentication surface against brute force:
// a per-category request rate limiter and a per-account lockout tracker.
// Both keep their counters in a kv.Store and fail closed when it errors.
package guard

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/kv"
)

// Decision reports the state of a client's window after a request was counted.
type Decision struct {
	Allowed    bool
	Count      int64
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type RateLimiter struct {
	store  kv.Store
	rules  map[string]core.RateLimitRule
	logger core.Logger
}

func NewRateLimiter(store kv.Store, rules map[string]core.RateLimitRule, logger core.Logger) *RateLimiter {
	return &RateLimiter{store: store, rules: rules, logger: logger}
}

func rateLimitKey(category, clientKey string) string {
	return "ratelimit:" + category + ":" + clientKey
}

// Allow counts a request of clientKey in category. The (Max+1)th request within
// the window and every one after it is refused with a rate limit error.
func (rl *RateLimiter) Allow(ctx context.Context, category, clientKey string) (Decision, error) {
	rule, ok := rl.rules[category]
	if !ok {
		return Decision{}, errors.Errorf("unknown rate limit category %q", category)
	}

	count, ttl, err := rl.store.Increment(ctx, rateLimitKey(category, clientKey), rule.Window)
	if err != nil {
		return Decision{}, errors.Wrapf(err, "counting %s request", category)
	}
	if ttl <= 0 {
		ttl = rule.Window
	}

	dec := Decision{Count: count, Limit: rule.Max, RetryAfter: ttl}
	if count <= int64(rule.Max) {
		dec.Allowed = true
		dec.Remaining = rule.Max - int(count)
		return dec, nil
	}

	rl.logger.Warn("rate limit exceeded", map[string]interface{}{
		"category": category,
		"client":   clientKey,
		"count":    count,
		"limit":    rule.Max,
	})
	return dec, core.NewRateLimitError(rule.Message, ttl)
}

// Reset forgets the window of clientKey in category.
func (rl *RateLimiter) Reset(ctx context.Context, category, clientKey string) error {
	return errors.Wrap(rl.store.Expire(ctx, rateLimitKey(category, clientKey), 0), "resetting rate limit")
}
