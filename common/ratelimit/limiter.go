package ratelimit

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

//go:embed rate_limit.lua
var rateLimitScript string

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed           bool  // Whether the request is allowed
	CurrentCount      int64 // Current count in the window
	Limit             int64 // The limit that was checked
	RetryAfterSeconds int64 // Seconds until the limit resets (0 if allowed)
}

// RateLimiter counts requests and run starts in Redis with a Lua script
type RateLimiter struct {
	redis  *redis.Client
	script *redis.Script
	prefix string
	logger Logger
}

// NewRateLimiter creates a new rate limiter with embedded Lua script
func NewRateLimiter(redisClient *redis.Client, logger Logger) *RateLimiter {
	return &RateLimiter{
		redis:  redisClient,
		script: redis.NewScript(rateLimitScript),
		prefix: "mutwizard:rate_limit",
		logger: logger,
	}
}

// CheckGlobalLimit checks the service-wide request limit
func (r *RateLimiter) CheckGlobalLimit(ctx context.Context, cfg GlobalConfig) (*RateLimitResult, error) {
	return r.checkLimit(ctx, r.prefix+":global", cfg.Limit, cfg.WindowSeconds)
}

// CheckOwnerLimit checks an arbitrary per-owner limit
func (r *RateLimiter) CheckOwnerLimit(ctx context.Context, owner string, limit int64, windowSec int) (*RateLimitResult, error) {
	key := fmt.Sprintf("%s:owner:%s", r.prefix, owner)
	return r.checkLimit(ctx, key, limit, windowSec)
}

// CheckTieredLimit checks the run-start limit of an owner for a tier.
// Each tier has its own counter so small runs are not blocked by large ones.
func (r *RateLimiter) CheckTieredLimit(ctx context.Context, owner string, tier RunTier) (*RateLimitResult, error) {
	key := fmt.Sprintf("%s:owner:%s:tier:%s", r.prefix, owner, tier)
	return r.checkLimit(ctx, key, GetLimitForTier(tier), GetWindowForTier(tier))
}

// checkLimit executes the rate limit Lua script
func (r *RateLimiter) checkLimit(ctx context.Context, key string, limit int64, windowSec int) (*RateLimitResult, error) {
	result, err := r.script.Run(ctx, r.redis, []string{key}, limit, windowSec).Result()
	if err != nil {
		r.logger.Error("rate limit check failed", "key", key, "error", err)
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	res, err := parseResult(result)
	if err != nil {
		return nil, err
	}

	if !res.Allowed {
		r.logger.Warn("rate limit exceeded",
			"key", key,
			"current", res.CurrentCount,
			"limit", limit,
			"retry_after", res.RetryAfterSeconds)
	} else {
		r.logger.Debug("rate limit check passed",
			"key", key,
			"current", res.CurrentCount,
			"limit", limit)
	}

	return res, nil
}

// parseResult decodes {allowed, current_count, limit, retry_after}
func parseResult(result interface{}) (*RateLimitResult, error) {
	values, ok := result.([]interface{})
	if !ok || len(values) != 4 {
		return nil, fmt.Errorf("unexpected script result format: %v", result)
	}

	ints := make([]int64, 4)
	for i, v := range values {
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("unexpected script result element %d: %T", i, v)
		}
		ints[i] = n
	}

	return &RateLimitResult{
		Allowed:           ints[0] == 1,
		CurrentCount:      ints[1],
		Limit:             ints[2],
		RetryAfterSeconds: ints[3],
	}, nil
}

// GetCurrentCount returns the owner's count for a tier without incrementing
func (r *RateLimiter) GetCurrentCount(ctx context.Context, owner string, tier RunTier) (int64, error) {
	key := fmt.Sprintf("%s:owner:%s:tier:%s", r.prefix, owner, tier)
	count, err := r.redis.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return count, err
}

// ResetLimit clears an owner's counter for a tier
func (r *RateLimiter) ResetLimit(ctx context.Context, owner string, tier RunTier) error {
	key := fmt.Sprintf("%s:owner:%s:tier:%s", r.prefix, owner, tier)
	return r.redis.Del(ctx, key).Err()
}
