package guard

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/kv"
)

const textLocked = "Account temporarily locked due to too many failed attempts. Please try again later."

// LockoutTracker counts failed sign-ins per identifier (client address, account email)
// and locks an identifier once MaxAttempts failures accumulate within Duration.
type LockoutTracker struct {
	store  kv.Store
	conf   core.LockoutConfig
	logger core.Logger
}

func NewLockoutTracker(store kv.Store, conf core.LockoutConfig, logger core.Logger) *LockoutTracker {
	return &LockoutTracker{store: store, conf: conf, logger: logger}
}

func failKey(id string) string { return "lockout:fail:" + id }
func lockKey(id string) string { return "lockout:lock:" + id }

// Check returns a rate limit error if any of ids is locked.
func (lt *LockoutTracker) Check(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		if id == "" {
			continue
		}
		until, err := lt.store.Get(ctx, lockKey(id))
		if err == kv.ErrNotFound {
			continue
		}
		if err != nil {
			return errors.Wrap(err, "checking lockout")
		}
		retryAfter := time.Until(time.Unix(until, 0))
		if retryAfter <= 0 {
			retryAfter = lt.conf.Duration
		}
		return core.NewRateLimitError(textLocked, retryAfter)
	}
	return nil
}

// Fail records a failed attempt for each of ids. It returns true if this failure
// locked any of them.
func (lt *LockoutTracker) Fail(ctx context.Context, ids ...string) (bool, error) {
	var locked bool
	for _, id := range ids {
		if id == "" {
			continue
		}
		count, _, err := lt.store.Increment(ctx, failKey(id), lt.conf.Duration)
		if err != nil {
			return locked, errors.Wrap(err, "recording failed attempt")
		}
		if count < int64(lt.conf.MaxAttempts) {
			continue
		}
		if _, err = lt.store.Get(ctx, lockKey(id)); err == nil {
			continue // already locked
		} else if err != kv.ErrNotFound {
			return locked, errors.Wrap(err, "checking lockout")
		}

		until := time.Now().Add(lt.conf.Duration)
		if err = lt.store.Set(ctx, lockKey(id), until.Unix(), lt.conf.Duration); err != nil {
			return locked, errors.Wrap(err, "locking")
		}
		locked = true
		lt.logger.Warn("identifier locked out", map[string]interface{}{
			"id":       id,
			"attempts": count,
			"until":    until.UTC().Format(time.RFC3339),
		})
	}
	return locked, nil
}

// Succeed clears the failures and any lock of each of ids.
func (lt *LockoutTracker) Succeed(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		if id == "" {
			continue
		}
		if err := lt.store.Expire(ctx, failKey(id), 0); err != nil {
			return errors.Wrap(err, "clearing failed attempts")
		}
		if err := lt.store.Expire(ctx, lockKey(id), 0); err != nil {
			return errors.Wrap(err, "clearing lock")
		}
	}
	return nil
}

// Unlock lifts the lock on id ahead of time.
func (lt *LockoutTracker) Unlock(ctx context.Context, id string) error {
	return lt.Succeed(ctx, id)
}

// LockedUntil returns when the lock on id lifts, and false if it is not locked.
func (lt *LockoutTracker) LockedUntil(ctx context.Context, id string) (time.Time, bool, error) {
	until, err := lt.store.Get(ctx, lockKey(id))
	if err == kv.ErrNotFound {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errors.Wrap(err, "checking lockout")
	}
	return time.Unix(until, 0), true, nil
}

func (lt *LockoutTracker) Duration() time.Duration { return lt.conf.Duration }
