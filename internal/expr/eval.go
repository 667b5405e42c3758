package expr

import (
	"fmt"
	"maps"
	"math"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// NewEvalContext builds an evaluation context holding the built-in
// constants, the given variables and the given function table.
func NewEvalContext(vars map[string]cty.Value, funcs map[string]function.Function) *hcl.EvalContext {
	variables := Variables()
	maps.Copy(variables, vars)
	return &hcl.EvalContext{
		Variables: variables,
		Functions: funcs,
	}
}

// Compiled is a parsed constraint expression together with the aliases it
// references.
type Compiled struct {
	Source string
	Expr   hcl.Expression
	Refs   []string
}

// Compile parses src and records the variables it references, excluding
// built-in constants.
func Compile(src string) (*Compiled, error) {
	e, err := Parse(src, "constraint")
	if err != nil {
		return nil, err
	}
	a := Analyze(e)

	funcs := MathFunctions()
	for _, name := range a.Functions {
		if _, ok := funcs[name]; !ok {
			return nil, fmt.Errorf("expression %q calls unknown function %q", src, name)
		}
	}

	builtins := Variables()
	var refs []string
	for _, name := range a.RootNames() {
		if _, ok := builtins[name]; ok {
			continue
		}
		refs = append(refs, name)
	}
	return &Compiled{Source: src, Expr: e, Refs: refs}, nil
}

// EvalFloat evaluates the expression with numeric variables and returns a
// finite-or-infinite number. Unknown, null, or non-numeric results are errors.
func (c *Compiled) EvalFloat(vars map[string]float64) (float64, error) {
	ctyVars := make(map[string]cty.Value, len(vars))
	for name, f := range vars {
		if math.IsNaN(f) {
			return 0, fmt.Errorf("variable %q is not a number", name)
		}
		ctyVars[name] = cty.NumberFloatVal(f)
	}
	for _, name := range c.Refs {
		if _, ok := ctyVars[name]; !ok {
			return 0, fmt.Errorf("expression %q: variable %q is not bound", c.Source, name)
		}
	}

	v, diags := c.Expr.Value(NewEvalContext(ctyVars, MathFunctions()))
	if diags.HasErrors() {
		return 0, fmt.Errorf("evaluating %q: %w", c.Source, diags)
	}
	if v.IsNull() || !v.IsKnown() || v.Type() != cty.Number {
		return 0, fmt.Errorf("evaluating %q: result is not a number", c.Source)
	}
	f, _ := v.AsBigFloat().Float64()
	return f, nil
}
