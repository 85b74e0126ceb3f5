// Package condition filters residue selections with CEL expressions.
//
// Expressions see four variables: chain (string), seq (int), icode (string)
// and type (string, the residue type observed in the structure), e.g.
//
//	chain == "A" && seq >= 100 && type in ["LEU", "ILE"]
package condition

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/lyzr/mutwizard/common/residue"
	"github.com/lyzr/mutwizard/common/staging"
)

// Filter evaluates residue filter expressions, caching compiled programs
type Filter struct {
	env   *cel.Env
	cache map[string]cel.Program
	mu    sync.RWMutex
}

// NewFilter creates a new residue filter
func NewFilter() (*Filter, error) {
	env, err := cel.NewEnv(
		cel.Variable("chain", cel.StringType),
		cel.Variable("seq", cel.IntType),
		cel.Variable("icode", cel.StringType),
		cel.Variable("type", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	return &Filter{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

// Compile checks an expression without evaluating it
func (f *Filter) Compile(expr string) error {
	_, err := f.program(expr)
	return err
}

// Match reports whether a residue satisfies expr. An empty expression
// matches everything.
func (f *Filter) Match(expr string, id residue.ID, observedType string) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true, nil
	}

	prg, err := f.program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"chain": id.Chain,
		"seq":   int64(id.Seq),
		"icode": id.ICode,
		"type":  residue.Normalize(observedType),
	})
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return boolean, got %T", out.Value())
	}
	return result, nil
}

// Select returns the residues of sel matching expr, in selection order
func (f *Filter) Select(expr string, sel []staging.SelectedResidue) ([]staging.SelectedResidue, error) {
	out := make([]staging.SelectedResidue, 0, len(sel))
	for _, s := range sel {
		ok, err := f.Match(expr, s.Residue, s.ObservedType)
		if err != nil {
			return nil, fmt.Errorf("filter on %s: %w", s.Residue, err)
		}
		if ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *Filter) program(expr string) (cel.Program, error) {
	f.mu.RLock()
	prg, exists := f.cache[expr]
	f.mu.RUnlock()
	if exists {
		return prg, nil
	}

	ast, issues := f.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation error: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("filter must be a boolean expression, got %s", ast.OutputType())
	}

	prg, err := f.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	f.mu.Lock()
	f.cache[expr] = prg
	f.mu.Unlock()

	return prg, nil
}

// CacheSize returns the number of cached expressions
func (f *Filter) CacheSize() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.cache)
}
