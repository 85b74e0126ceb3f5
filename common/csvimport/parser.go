// Package csvimport turns a two-column mutation list into staged records.
//
// Each line is "<chain> <seq>,<TARGET>", e.g. "A 123,TRP". There is no
// header. Bad lines are reported, never fatal.
package csvimport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/lyzr/mutwizard/common/mutation"
	"github.com/lyzr/mutwizard/common/residue"
)

const utf8BOM = "\ufeff"

// maxLineBytes bounds a single input line
const maxLineBytes = 64 * 1024

// Lookup resolves a residue against the currently loaded structure
type Lookup interface {
	LookupResidue(ctx context.Context, id residue.ID) (observedType string, found bool, err error)
}

// LineError describes one rejected input line
type LineError struct {
	Line   int    `json:"line"`
	Raw    string `json:"raw"`
	Reason string `json:"reason"`
}

func (e LineError) String() string {
	return fmt.Sprintf("line %d %q: %s", e.Line, e.Raw, e.Reason)
}

// Result is the outcome of one import
type Result struct {
	Records []mutation.Record `json:"records"`
	Errors  []LineError       `json:"line_errors"`
	Lines   int               `json:"lines"`
}

// OK reports whether every non-blank line was imported
func (r *Result) OK() bool {
	return len(r.Errors) == 0
}

// ParseFile opens path and parses it
func ParseFile(ctx context.Context, path string, lookup Lookup) (*Result, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mutation list: %w", err)
	}
	defer fh.Close()

	return Parse(ctx, fh, lookup)
}

// Parse reads mutation lines from r. lookup may be nil, in which case
// residues are not checked against the structure and their source type is
// recorded as UNK.
//
// The returned error is only non-nil if r itself fails or ctx is cancelled.
func Parse(ctx context.Context, r io.Reader, lookup Lookup) (*Result, error) {
	res := &Result{}
	seen := make(map[residue.ID]int)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLineBytes)

	ln := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ln++
		raw := strings.TrimRight(sc.Text(), "\r")
		if ln == 1 {
			raw = strings.TrimPrefix(raw, utf8BOM)
		}
		if strings.TrimSpace(raw) == "" {
			continue
		}

		rec, reason := parseLine(ctx, raw, seen, lookup)
		if reason != "" {
			res.Errors = append(res.Errors, LineError{Line: ln, Raw: raw, Reason: reason})
			continue
		}

		seen[rec.Residue] = ln
		res.Records = append(res.Records, rec)
	}
	res.Lines = ln

	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read mutation list: %w", err)
	}

	return res, nil
}

// parseLine returns either a record or a non-empty rejection reason
func parseLine(ctx context.Context, raw string, seen map[residue.ID]int, lookup Lookup) (mutation.Record, string) {
	cols := strings.Split(raw, ",")
	if len(cols) != 2 {
		return mutation.Record{}, fmt.Sprintf("expected 2 comma-separated columns, got %d", len(cols))
	}

	id, err := residue.Parse(strings.TrimSpace(cols[0]))
	if err != nil {
		return mutation.Record{}, err.Error()
	}

	target := residue.Normalize(cols[1])
	if !residue.IsRecognized(target) {
		return mutation.Record{}, fmt.Sprintf("unrecognized amino acid code %q", target)
	}

	if first, dup := seen[id]; dup {
		return mutation.Record{}, fmt.Sprintf("duplicate residue %s (first seen on line %d)", id, first)
	}

	source := residue.Unknown
	if lookup != nil {
		observed, found, err := lookup.LookupResidue(ctx, id)
		if err != nil {
			return mutation.Record{}, fmt.Sprintf("residue lookup failed: %v", err)
		}
		if !found {
			return mutation.Record{}, fmt.Sprintf("residue %s not found in the current structure", id)
		}
		source = observed
	}

	rec, err := mutation.New(id, target, source)
	if err != nil {
		return mutation.Record{}, err.Error()
	}
	return rec, ""
}
