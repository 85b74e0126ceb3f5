package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/mutwizard/common/ratelimit"
)

// GlobalLimiter is the subset of ratelimit.RateLimiter the middleware needs
type GlobalLimiter interface {
	CheckGlobalLimit(ctx context.Context, cfg ratelimit.GlobalConfig) (*ratelimit.RateLimitResult, error)
}

// OwnerLimiter checks a per-owner limit
type OwnerLimiter interface {
	CheckOwnerLimit(ctx context.Context, owner string, limit int64, windowSec int) (*ratelimit.RateLimitResult, error)
}

// GlobalRateLimitMiddleware checks the service-wide request limit.
// A failed check lets the request through.
func GlobalRateLimitMiddleware(limiter GlobalLimiter, cfg ratelimit.GlobalConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			result, err := limiter.CheckGlobalLimit(c.Request().Context(), cfg)
			if err != nil {
				return next(c)
			}

			if !result.Allowed {
				return tooManyRequests(c, "global_rate_limit_exceeded", result, nil)
			}
			return next(c)
		}
	}
}

// OwnerRateLimitMiddleware checks a per-owner request limit. ownerOf reads
// the owner set by an earlier middleware; requests without one are not
// limited.
func OwnerRateLimitMiddleware(limiter OwnerLimiter, ownerOf func(echo.Context) string, limit int64, windowSec int) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			owner := ownerOf(c)
			if owner == "" {
				return next(c)
			}

			result, err := limiter.CheckOwnerLimit(c.Request().Context(), owner, limit, windowSec)
			if err != nil {
				return next(c)
			}

			if !result.Allowed {
				return tooManyRequests(c, "owner_rate_limit_exceeded", result, map[string]interface{}{
					"owner":         owner,
					"current_count": result.CurrentCount,
				})
			}
			return next(c)
		}
	}
}

func tooManyRequests(c echo.Context, code string, result *ratelimit.RateLimitResult, extra map[string]interface{}) error {
	details := map[string]interface{}{
		"limit":               result.Limit,
		"retry_after_seconds": result.RetryAfterSeconds,
	}
	for k, v := range extra {
		details[k] = v
	}

	c.Response().Header().Set("Retry-After", strconv.FormatInt(result.RetryAfterSeconds, 10))
	return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
		"error":   code,
		"details": details,
	})
}
