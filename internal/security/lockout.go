package security

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockoutTracker counts failed login attempts per username in Redis and
// reports when the account should be temporarily refused. The counter
// expires with the window, so lockouts clear themselves.
type LockoutTracker struct {
	client *redis.Client
	cfg    LockoutConfig
}

// LockoutConfig contains lockout policy configuration.
type LockoutConfig struct {
	MaxAttempts    int           // failed attempts before refusing logins
	WindowDuration time.Duration // window for counting attempts
}

// NewLockoutTracker creates a tracker. A nil client disables tracking.
func NewLockoutTracker(client *redis.Client, cfg LockoutConfig) *LockoutTracker {
	return &LockoutTracker{client: client, cfg: cfg}
}

func (t *LockoutTracker) key(username string) string {
	return fmt.Sprintf("lockout:attempts:%s", username)
}

// TrackFailedAttempt increments the counter and reports whether the
// account is now locked out.
func (t *LockoutTracker) TrackFailedAttempt(ctx context.Context, username string) (int, bool, error) {
	if t.client == nil {
		return 0, false, nil
	}
	pipe := t.client.TxPipeline()
	incr := pipe.Incr(ctx, t.key(username))
	pipe.Expire(ctx, t.key(username), t.cfg.WindowDuration)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, false, fmt.Errorf("lockout tracker: increment counter: %w", err)
	}
	count := int(incr.Val())
	return count, count >= t.cfg.MaxAttempts, nil
}

// IsLockedOut reports whether the account has exhausted its attempts.
func (t *LockoutTracker) IsLockedOut(ctx context.Context, username string) (bool, error) {
	if t.client == nil {
		return false, nil
	}
	count, err := t.client.Get(ctx, t.key(username)).Int()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lockout tracker: get count: %w", err)
	}
	return count >= t.cfg.MaxAttempts, nil
}

// ClearAttempts resets the counter after a successful login.
func (t *LockoutTracker) ClearAttempts(ctx context.Context, username string) error {
	if t.client == nil {
		return nil
	}
	return t.client.Del(ctx, t.key(username)).Err()
}
