package constraint

import (
	"errors"
	"fmt"
	"math"

	"github.com/vk/starbundle/internal/expr"
	"github.com/vk/starbundle/internal/param"
	"github.com/vk/starbundle/internal/paramstore"
	"github.com/zclconf/go-cty/cty"
)

var (
	// ErrConstrained is returned when writing to, or constraining, a
	// parameter that a constraint already drives.
	ErrConstrained  = errors.New("parameter is constrained")
	ErrNotFlippable = errors.New("constraint cannot solve for parameter")
	ErrCycle        = errors.New("constraint cycle")
)

// Problem reports a constraint whose result could not be applied cleanly.
type Problem struct {
	Constraint string
	Target     string
	Err        error
}

func (p Problem) Error() string {
	return fmt.Sprintf("constraint %s -> %s: %v", p.Constraint, p.Target, p.Err)
}

func (p Problem) Unwrap() error { return p.Err }

// Result is the outcome of a recompute pass.
type Result struct {
	Updated  []*param.Parameter
	Problems []Problem
}

// All returns every constraint in set in insertion order.
func All(set *paramstore.Set) []*param.Parameter {
	return set.Filter(paramstore.Query{
		Tags:          param.Tags{Context: param.ContextConstraint},
		IncludeHidden: true,
	}).All()
}

// Order returns the constraints of set sorted so that each one comes after
// the constraints producing its inputs.
func Order(set *paramstore.Set) ([]*param.Parameter, error) {
	constraints := All(set)
	g := NewGraph()
	byTarget := make(map[string]*param.Parameter, len(constraints))
	byID := make(map[string]*param.Parameter, len(constraints))
	for _, c := range constraints {
		g.AddNode(c.UniqueID)
		byTarget[c.SolveFor] = c
		byID[c.UniqueID] = c
	}
	for _, c := range constraints {
		for _, id := range c.Vars {
			if id == c.SolveFor {
				continue
			}
			if producer, ok := byTarget[id]; ok {
				if err := g.AddEdge(producer.UniqueID, c.UniqueID); err != nil {
					return nil, fmt.Errorf("%w: %v", ErrCycle, err)
				}
			}
		}
	}
	ids, err := g.Order()
	if err != nil {
		return nil, err
	}
	out := make([]*param.Parameter, len(ids))
	for i, id := range ids {
		out[i] = byID[id]
	}
	return out, nil
}

// Attach validates c, adds it to set and marks its target as constrained.
// The caller runs Recompute to populate the target.
func Attach(set *paramstore.Set, c *param.Parameter) error {
	target, ok := set.ByID(c.SolveFor)
	if !ok {
		return fmt.Errorf("constraint %s: target %s not found", c.Twig(), c.SolveFor)
	}
	if target.IsConstrained() {
		return fmt.Errorf("%w: %s", ErrConstrained, target.Twig())
	}
	if err := validate(set, c); err != nil {
		return err
	}
	if err := set.Add(c); err != nil {
		return err
	}
	target.ConstrainedBy = c.UniqueID
	if _, err := Order(set); err != nil {
		target.ConstrainedBy = ""
		set.RemoveID(c.UniqueID)
		return err
	}
	return nil
}

// Restore re-links constraints that were loaded together with their
// targets: ConstrainedBy is rebuilt from SolveFor.
func Restore(set *paramstore.Set) error {
	for _, p := range set.All() {
		p.ConstrainedBy = ""
	}
	for _, c := range All(set) {
		target, ok := set.ByID(c.SolveFor)
		if !ok {
			return fmt.Errorf("constraint %s: target %s not found", c.Twig(), c.SolveFor)
		}
		if target.IsConstrained() {
			return fmt.Errorf("%w: %s is driven by two constraints", ErrConstrained, target.Twig())
		}
		if err := validate(set, c); err != nil {
			return err
		}
		target.ConstrainedBy = c.UniqueID
	}
	_, err := Order(set)
	return err
}

// Detach removes c from set and frees its target.
func Detach(set *paramstore.Set, c *param.Parameter) {
	if target, ok := set.ByID(c.SolveFor); ok && target.ConstrainedBy == c.UniqueID {
		target.ConstrainedBy = ""
	}
	set.RemoveID(c.UniqueID)
}

// Flip re-targets c so it solves for the parameter with uniqueid
// newTarget, using the inverse expression stored on the constraint.
func Flip(set *paramstore.Set, c *param.Parameter, newTarget string) error {
	if newTarget == c.SolveFor {
		return nil
	}
	alias, ok := c.Alias(newTarget)
	if !ok {
		return fmt.Errorf("%w: %s does not reference %s", ErrNotFlippable, c.Twig(), newTarget)
	}
	form, ok := c.Forms[alias]
	if !ok {
		return fmt.Errorf("%w: %s has no inverse solving for %q", ErrNotFlippable, c.Twig(), alias)
	}
	next, ok := set.ByID(newTarget)
	if !ok {
		return fmt.Errorf("constraint %s: parameter %s not found", c.Twig(), newTarget)
	}
	if next.IsConstrained() {
		return fmt.Errorf("%w: %s", ErrConstrained, next.Twig())
	}
	prev, _ := set.ByID(c.SolveFor)

	prevExpr, prevTarget := c.Expression, c.SolveFor
	apply := func(expression, target string, from, to *param.Parameter) {
		c.Expression = expression
		c.SolveFor = target
		c.Value = cty.StringVal(expression)
		if from != nil {
			from.ConstrainedBy = ""
		}
		if to != nil {
			to.ConstrainedBy = c.UniqueID
		}
	}

	apply(form, newTarget, prev, next)
	if err := validate(set, c); err != nil {
		apply(prevExpr, prevTarget, next, prev)
		return err
	}
	if _, err := Order(set); err != nil {
		apply(prevExpr, prevTarget, next, prev)
		return err
	}
	return nil
}

// Recompute re-evaluates every constraint that depends, directly or through
// other constraints, on one of the changed uniqueids. A constraint's own
// uniqueid marks it dirty as well. With no changed ids every constraint is
// evaluated.
func Recompute(set *paramstore.Set, changed ...string) (Result, error) {
	ordered, err := Order(set)
	if err != nil {
		return Result{}, err
	}

	all := len(changed) == 0
	dirty := make(map[string]bool, len(changed))
	for _, id := range changed {
		dirty[id] = true
	}

	var res Result
	for _, c := range ordered {
		if !all && !dirty[c.UniqueID] && !readsAny(c, dirty) {
			continue
		}
		target, ok := set.ByID(c.SolveFor)
		if !ok {
			continue
		}
		f, err := Evaluate(set, c)
		if err != nil {
			res.Problems = append(res.Problems, Problem{Constraint: c.Twig(), Target: target.Twig(), Err: err})
			continue
		}
		if math.IsInf(f, 0) {
			res.Problems = append(res.Problems, Problem{Constraint: c.Twig(), Target: target.Twig(), Err: errors.New("result overflows")})
		}
		if err := target.Set(f); err != nil {
			// Out-of-limit results are still applied so checks can report them.
			res.Problems = append(res.Problems, Problem{Constraint: c.Twig(), Target: target.Twig(), Err: err})
			target.Value = cty.NumberFloatVal(f)
		}
		dirty[target.UniqueID] = true
		res.Updated = append(res.Updated, target)
	}
	return res, nil
}

// Evaluate computes the current value of c's expression.
func Evaluate(set *paramstore.Set, c *param.Parameter) (float64, error) {
	compiled, err := expr.Compile(c.Expression)
	if err != nil {
		return 0, err
	}
	vars := make(map[string]float64, len(c.Vars))
	for alias, id := range c.Vars {
		if id == c.SolveFor {
			continue
		}
		p, ok := set.ByID(id)
		if !ok {
			return 0, fmt.Errorf("alias %q: parameter %s not found", alias, id)
		}
		f, err := p.Float()
		if err != nil {
			return 0, err
		}
		vars[alias] = f
	}
	return compiled.EvalFloat(vars)
}

func validate(set *paramstore.Set, c *param.Parameter) error {
	compiled, err := expr.Compile(c.Expression)
	if err != nil {
		return fmt.Errorf("constraint %s: %w", c.Twig(), err)
	}
	targetAlias, _ := c.Alias(c.SolveFor)
	for _, ref := range compiled.Refs {
		id, ok := c.Vars[ref]
		if !ok {
			return fmt.Errorf("constraint %s: %q is not bound to a parameter", c.Twig(), ref)
		}
		if ref == targetAlias {
			return fmt.Errorf("%w: %s reads its own target %q", ErrCycle, c.Twig(), ref)
		}
		if _, ok := set.ByID(id); !ok {
			return fmt.Errorf("constraint %s: %q refers to missing parameter %s", c.Twig(), ref, id)
		}
	}
	return nil
}

func readsAny(c *param.Parameter, ids map[string]bool) bool {
	for _, id := range c.Vars {
		if id != c.SolveFor && ids[id] {
			return true
		}
	}
	return false
}
