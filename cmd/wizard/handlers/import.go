package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/mutwizard/cmd/wizard/container"
	"github.com/lyzr/mutwizard/cmd/wizard/middleware"
	"github.com/lyzr/mutwizard/cmd/wizard/service"
	"github.com/lyzr/mutwizard/common/logger"
	"github.com/lyzr/mutwizard/common/validation"
)

// maxImportBytes bounds an uploaded mutation list
const maxImportBytes = 10 << 20

// ImportHandler handles CSV mutation list imports
type ImportHandler struct {
	sessions *service.SessionManager
	log      *logger.Logger
}

// NewImportHandler creates a new import handler
func NewImportHandler(c *container.Container) *ImportHandler {
	return &ImportHandler{
		sessions: c.Sessions,
		log:      c.Components.Logger,
	}
}

// Import merges a CSV mutation list into the staging table. The list is the
// raw request body, or the "file" field of a multipart form. Rejected lines
// are reported in line_errors; they never fail the request.
// POST /api/v1/imports
func (h *ImportHandler) Import(c echo.Context) error {
	body, closeBody, err := importBody(c)
	if err != nil {
		return respondError(c, h.log, err)
	}
	defer closeBody()

	s, err := h.sessions.Get(middleware.GetOwner(c))
	if err != nil {
		return respondError(c, h.log, err)
	}

	res, err := s.Import(c.Request().Context(), io.LimitReader(body, maxImportBytes))
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"imported":    len(res.Imported),
		"records":     res.Imported,
		"line_errors": res.Errors,
		"lines":       res.Lines,
	})
}

func importBody(c echo.Context) (io.Reader, func(), error) {
	ctype := c.Request().Header.Get(echo.HeaderContentType)
	if !strings.HasPrefix(ctype, echo.MIMEMultipartForm) {
		return c.Request().Body, func() {}, nil
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return nil, nil, fmt.Errorf("%w: multipart import needs a \"file\" field", validation.ErrInvalidRequest)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open uploaded file: %w", err)
	}
	return f, func() { f.Close() }, nil
}
