package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"formauth-service/internal/client"
	"formauth-service/internal/util"
)

const (
	failedLoginPrefix = "failed_logins:"
	lockoutPrefix     = "lockout:"
)

// LockoutCache tracks failed login counters per login and temporary
// account locks. Counters expire with the failure window so old
// failures stop counting against the user.
type LockoutCache struct {
	client *client.RedisClient
}

func NewLockoutCache(redisClient *client.RedisClient) *LockoutCache {
	return &LockoutCache{client: redisClient}
}

// IncrementFailures bumps the failure counter for a login and refreshes
// the window TTL. Returns the new count.
func (c *LockoutCache) IncrementFailures(ctx context.Context, login string, window time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := failedLoginPrefix + login
	count, err := c.client.IncrWithExpire(ctx, key, window)
	if err != nil {
		util.Error("Failed to increment failed login counter",
			zap.String("login", login),
			zap.Error(err))
		return 0, fmt.Errorf("failed to increment failed login counter: %w", err)
	}

	util.Debug("Failed login counter incremented",
		zap.String("login", login),
		zap.Int64("count", count),
		zap.Duration("window", window))

	return int(count), nil
}

// Failures returns the current failure count inside the window.
func (c *LockoutCache) Failures(ctx context.Context, login string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	countStr, err := c.client.Get(ctx, failedLoginPrefix+login)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get failed login counter: %w", err)
	}

	count, err := strconv.Atoi(countStr)
	if err != nil {
		return 0, fmt.Errorf("invalid counter format: %w", err)
	}
	return count, nil
}

// ResetFailures clears the counter after a successful login.
func (c *LockoutCache) ResetFailures(ctx context.Context, login string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, failedLoginPrefix+login); err != nil {
		util.Error("Failed to reset failed login counter",
			zap.String("login", login),
			zap.Error(err))
		return fmt.Errorf("failed to reset failed login counter: %w", err)
	}
	return nil
}

// Lock places a temporary lock on the login.
func (c *LockoutCache) Lock(ctx context.Context, login string, duration time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := lockoutPrefix + login
	ok, err := c.client.SetNX(ctx, key, "locked", duration)
	if err != nil {
		util.Error("Failed to set lockout",
			zap.String("login", login),
			zap.Duration("duration", duration),
			zap.Error(err))
		return fmt.Errorf("failed to set lockout: %w", err)
	}
	if !ok {
		// Already locked; the existing lock keeps its TTL.
		return nil
	}

	util.Warn("Account temporarily locked",
		zap.String("login", login),
		zap.Duration("duration", duration))
	return nil
}

// IsLocked reports whether the login is currently locked out.
func (c *LockoutCache) IsLocked(ctx context.Context, login string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := c.client.Exists(ctx, lockoutPrefix+login)
	if err != nil {
		return false, fmt.Errorf("failed to check lockout: %w", err)
	}
	return exists, nil
}

// Unlock removes a lock before its TTL expires.
func (c *LockoutCache) Unlock(ctx context.Context, login string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, lockoutPrefix+login); err != nil {
		return fmt.Errorf("failed to remove lockout: %w", err)
	}
	return nil
}
