package middleware

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/mutwizard/common/clients"
	"github.com/lyzr/mutwizard/common/logger"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// OwnerKey is the context key for the session owner
	OwnerKey ContextKey = "owner"
)

// ExtractOwner stores the X-User-ID header as the session owner. Requests
// without the header share the anonymous session.
//
// The owner and the echo request id are also put on the request context so
// outgoing structure bridge calls and log lines carry them.
func ExtractOwner() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			owner := c.Request().Header.Get("X-User-ID")
			if owner != "" {
				c.Set(string(OwnerKey), owner)
			}

			c.SetRequest(c.Request().WithContext(withIDs(c, owner)))
			return next(c)
		}
	}
}

// GetOwner retrieves the owner from the request context.
// Returns empty string if not set.
func GetOwner(c echo.Context) string {
	owner, _ := c.Get(string(OwnerKey)).(string)
	return owner
}

func withIDs(c echo.Context, owner string) context.Context {
	ctx := c.Request().Context()
	if owner != "" {
		ctx = clients.WithUserID(ctx, owner)
	}

	requestID := c.Response().Header().Get(echo.HeaderXRequestID)
	if requestID == "" {
		requestID = c.Request().Header.Get(echo.HeaderXRequestID)
	}
	if requestID != "" {
		ctx = clients.WithRequestID(ctx, requestID)
		ctx = context.WithValue(ctx, logger.RequestIDKey, requestID)
	}
	return ctx
}
