package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/mutwizard/cmd/wizard/service"
	"github.com/lyzr/mutwizard/common/engine"
	"github.com/lyzr/mutwizard/common/logger"
	"github.com/lyzr/mutwizard/common/mutation"
	"github.com/lyzr/mutwizard/common/residue"
	"github.com/lyzr/mutwizard/common/validation"
)

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, validation.ErrInvalidRequest),
		errors.Is(err, mutation.ErrInvalidTarget),
		errors.Is(err, residue.ErrMalformed),
		errors.Is(err, service.ErrInvalidFilter):
		return http.StatusBadRequest
	case errors.Is(err, mutation.ErrNotFound),
		errors.Is(err, engine.ErrNoRun):
		return http.StatusNotFound
	case errors.Is(err, mutation.ErrInvalidState),
		errors.Is(err, mutation.ErrInvalidRotamerIndex),
		errors.Is(err, engine.ErrRunActive),
		errors.Is(err, engine.ErrClashesDetected),
		errors.Is(err, service.ErrEmptySelection):
		return http.StatusConflict
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrPersistenceDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes {"error": ...} with the mapped status. Server errors
// are logged.
func respondError(c echo.Context, log *logger.Logger, err error) error {
	status := statusFor(err)

	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg = fmt.Sprint(he.Message)
	}

	var rl *service.RateLimitError
	if errors.As(err, &rl) {
		c.Response().Header().Set("Retry-After", strconv.FormatInt(rl.RetryAfterSeconds, 10))
	}

	if status >= http.StatusInternalServerError {
		log.WithContext(c.Request().Context()).Error("request failed",
			"method", c.Request().Method,
			"path", c.Path(),
			"error", err)
	}

	return c.JSON(status, map[string]interface{}{
		"error": msg,
	})
}

// bindAndValidate binds the request body into req and validates it
func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return fmt.Errorf("%w: invalid request body", validation.ErrInvalidRequest)
	}
	return c.Validate(req)
}

// residueParam parses the :residue path parameter. Both the key form
// "A:123" and the canonical form "A 123" are accepted.
func residueParam(c echo.Context) (residue.ID, error) {
	raw, err := url.PathUnescape(c.Param("residue"))
	if err != nil {
		return residue.ID{}, fmt.Errorf("%w: %v", residue.ErrMalformed, err)
	}
	if strings.Contains(raw, " ") {
		return residue.Parse(raw)
	}
	return residue.ParseKey(raw)
}
