package ratelimit

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed rate_limit.lua
var rateLimitScript string

// Logger interface for logging.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Result contains the outcome of a rate limit check.
type Result struct {
	Allowed           bool
	Limit             int64
	Remaining         int64
	ResetAt           time.Time
	RetryAfterSeconds int64
}

// RateLimiter provides per-user execution admission control using a
// Redis-backed sliding window (atomic via Lua).
type RateLimiter struct {
	redis  *redis.Client
	script *redis.Script
	logger Logger
}

// NewRateLimiter creates a rate limiter with the embedded Lua script.
func NewRateLimiter(redisClient *redis.Client, logger Logger) *RateLimiter {
	return &RateLimiter{
		redis:  redisClient,
		script: redis.NewScript(rateLimitScript),
		logger: logger,
	}
}

// Check admits or rejects one execution start for the given user. The
// window is keyed by (user, trigger class, sync/async) so API traffic
// cannot starve UI runs and vice versa.
func (r *RateLimiter) Check(ctx context.Context, userID string, plan Plan, trigger TriggerType, isAsync bool) (*Result, error) {
	limit, windowSec := LimitFor(plan, trigger, isAsync)
	key := windowKey(userID, trigger, isAsync)

	now := time.Now()
	raw, err := r.script.Run(ctx, r.redis, []string{key}, limit, windowSec, now.UnixMilli()).Result()
	if err != nil {
		r.logger.Error("rate limit check failed", "key", key, "error", err)
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	// Script returns {allowed, current_count, limit, retry_after}.
	arr, ok := raw.([]interface{})
	if !ok || len(arr) != 4 {
		return nil, fmt.Errorf("unexpected script result format")
	}

	allowed := arr[0].(int64) == 1
	current := arr[1].(int64)
	returnedLimit := arr[2].(int64)
	retryAfter := arr[3].(int64)

	remaining := returnedLimit - current
	if remaining < 0 {
		remaining = 0
	}

	result := &Result{
		Allowed:           allowed,
		Limit:             returnedLimit,
		Remaining:         remaining,
		ResetAt:           now.Add(time.Duration(windowSec) * time.Second),
		RetryAfterSeconds: retryAfter,
	}

	if !allowed {
		r.logger.Warn("rate limit exceeded",
			"user_id", userID,
			"trigger", trigger,
			"async", isAsync,
			"current", current,
			"limit", limit,
			"retry_after", retryAfter)
	}

	return result, nil
}

// ResetLimit clears a user's window (for testing/admin).
func (r *RateLimiter) ResetLimit(ctx context.Context, userID string, trigger TriggerType, isAsync bool) error {
	key := windowKey(userID, trigger, isAsync)
	return r.redis.Del(ctx, key, key+":seq").Err()
}

func windowKey(userID string, trigger TriggerType, isAsync bool) string {
	class := "ui"
	if IsAPITrigger(trigger) {
		if isAsync {
			class = "api-async"
		} else {
			class = "api-sync"
		}
	}
	return fmt.Sprintf("rate_limit:user:%s:%s", userID, class)
}
