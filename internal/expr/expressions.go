package expr

import (
	"fmt"
	"maps"
	"slices"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/hashicorp/hcl/v2/hclwrite"
)

// TraversalKey renders a traversal as it would appear in source, e.g.
// `step.get_value.teff.output`.
func TraversalKey(t hcl.Traversal) string {
	return string(hclwrite.TokensForTraversal(t).Bytes())
}

// Parse parses a standalone expression such as `ecc * sin(rad(per0))`.
func Parse(src, filename string) (hcl.Expression, error) {
	e, diags := hclsyntax.ParseExpression([]byte(src), filename, hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse expression %q: %w", src, diags)
	}
	return e, nil
}

// Analysis lists what a group of expressions reads and calls. Both lists
// are sorted and free of duplicates.
type Analysis struct {
	Traversals []hcl.Traversal
	Functions  []string
}

// Analyze collects the variable traversals and function calls of exprs.
// Nil expressions are skipped.
func Analyze(exprs ...hcl.Expression) Analysis {
	traversals := make(map[string]hcl.Traversal)
	functions := make(map[string]bool)
	for _, e := range exprs {
		if e == nil {
			continue
		}
		for _, t := range e.Variables() {
			traversals[TraversalKey(t)] = t
		}
		if node, ok := e.(hclsyntax.Node); ok {
			hclsyntax.VisitAll(node, func(n hclsyntax.Node) hcl.Diagnostics {
				if call, ok := n.(*hclsyntax.FunctionCallExpr); ok {
					functions[call.Name] = true
				}
				return nil
			})
		}
	}

	var a Analysis
	for _, key := range slices.Sorted(maps.Keys(traversals)) {
		a.Traversals = append(a.Traversals, traversals[key])
	}
	a.Functions = slices.Sorted(maps.Keys(functions))
	return a
}

// RootNames returns the distinct root variable names, sorted.
func (a Analysis) RootNames() []string {
	var out []string
	for _, t := range a.Traversals {
		if name := t.RootName(); !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}
