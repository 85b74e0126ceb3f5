package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lyzr/mutwizard/common/engine"
	"github.com/lyzr/mutwizard/common/mutation"
	"github.com/lyzr/mutwizard/common/residue"
	"github.com/lyzr/mutwizard/common/staging"
)

// maxErrorBody bounds how much of an error response is kept
const maxErrorBody = 4096

// StructureClient talks to the structure bridge, the process that owns the
// loaded 3-D model. It implements the mutation primitive, rotamer setter,
// selection source, residue lookup, exporter, and clash scanner.
type StructureClient struct {
	baseURL string
	http    *HTTPClient
	logger  Logger
}

// StructureClientOpts contains options for creating a structure client
type StructureClientOpts struct {
	BaseURL string
	// Timeout bounds one request; a mutation with sculpting can be slow
	Timeout time.Duration
	// Client overrides the underlying http.Client (tests)
	Client *http.Client
	Logger Logger
}

// NewStructureClient creates a new structure bridge client
func NewStructureClient(opts *StructureClientOpts) *StructureClient {
	httpClient := opts.Client
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &StructureClient{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    NewHTTPClient(httpClient, opts.Logger),
		logger:  opts.Logger,
	}
}

type mutateRequest struct {
	Residue    residue.ID        `json:"residue"`
	Target     string            `json:"target"`
	Refinement engine.Refinement `json:"refinement"`
}

type mutateResponse struct {
	Candidates []engine.Candidate `json:"candidates"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Apply implements engine.Primitive: POST /mutate.
// Every failure, transport included, comes back as *mutation.PrimitiveError.
func (c *StructureClient) Apply(ctx context.Context, req engine.ApplyRequest) ([]engine.Candidate, error) {
	c.logger.Debug("applying mutation", "residue", req.Residue.String(), "target", req.Target)

	var out mutateResponse
	err := c.call(ctx, http.MethodPost, "/mutate", mutateRequest{
		Residue:    req.Residue,
		Target:     req.Target,
		Refinement: req.Refinement,
	}, &out)
	if err != nil {
		return nil, primitiveError(err)
	}
	return out.Candidates, nil
}

type rotamerRequest struct {
	Residue residue.ID `json:"residue"`
	Index   int        `json:"rotamer_index"`
}

// SetRotamer implements engine.RotamerSetter: POST /rotamer
func (c *StructureClient) SetRotamer(ctx context.Context, id residue.ID, index int) error {
	if err := c.call(ctx, http.MethodPost, "/rotamer", rotamerRequest{Residue: id, Index: index}, nil); err != nil {
		return primitiveError(err)
	}
	return nil
}

type selectionResponse struct {
	Residues []staging.SelectedResidue `json:"residues"`
}

// CurrentSelection implements staging.SelectionSource: GET /selection
func (c *StructureClient) CurrentSelection(ctx context.Context) ([]staging.SelectedResidue, error) {
	var out selectionResponse
	if err := c.call(ctx, http.MethodGet, "/selection", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch selection: %w", err)
	}
	return out.Residues, nil
}

type residueResponse struct {
	Type string `json:"type"`
}

// LookupResidue implements engine.Lookup and csvimport.Lookup:
// GET /residues/{chain}/{seq}{icode}. A 404 means not found.
func (c *StructureClient) LookupResidue(ctx context.Context, id residue.ID) (string, bool, error) {
	path := "/residues/" + url.PathEscape(id.Chain) + "/" + strconv.Itoa(id.Seq) + url.PathEscape(id.ICode)

	var out residueResponse
	err := c.call(ctx, http.MethodGet, path, nil, &out)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up %s: %w", id, err)
	}
	return residue.Normalize(out.Type), true, nil
}

type exportRequest struct {
	Format engine.ExportFormat `json:"format"`
}

type exportResponse struct {
	Paths []string `json:"paths"`
}

// ExportStructure implements engine.Exporter: POST /export
func (c *StructureClient) ExportStructure(ctx context.Context, format engine.ExportFormat) ([]string, error) {
	var out exportResponse
	if err := c.call(ctx, http.MethodPost, "/export", exportRequest{Format: format}, &out); err != nil {
		return nil, fmt.Errorf("failed to export structure: %w", err)
	}
	return out.Paths, nil
}

type clashRequest struct {
	Residues []residue.ID `json:"residues"`
}

type clashResponse struct {
	Severe int `json:"severe"`
}

// CountClashes implements engine.ClashScanner: POST /clashes
func (c *StructureClient) CountClashes(ctx context.Context, residues []residue.ID) (int, error) {
	var out clashResponse
	if err := c.call(ctx, http.MethodPost, "/clashes", clashRequest{Residues: residues}, &out); err != nil {
		return 0, fmt.Errorf("failed to scan clashes: %w", err)
	}
	return out.Severe, nil
}

// StatusError is a non-2xx bridge response
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("structure bridge returned %d: %s", e.Code, e.Message)
}

// call sends in as JSON (if non-nil) and decodes the response into out (if non-nil)
func (c *StructureClient) call(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	start := time.Now()
	resp, err := c.http.DoRequest(ctx, method, c.baseURL+path, body)
	if err != nil {
		c.logger.Warn("structure bridge request failed", "method", method, "path", path, "error", err)
		return err
	}
	defer resp.Body.Close()

	c.logger.Debug("structure bridge request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(raw))
		var er errorResponse
		if json.Unmarshal(raw, &er) == nil && er.Error != "" {
			msg = er.Error
		}
		return &StatusError{Code: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// primitiveError keeps the bridge's own reason for rejected mutations
func primitiveError(err error) error {
	var se *StatusError
	if errors.As(err, &se) {
		return &mutation.PrimitiveError{Reason: se.Message, Err: se}
	}
	return &mutation.PrimitiveError{Reason: err.Error(), Err: err}
}
