package bundle

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/vk/starbundle/internal/backend"
	"github.com/vk/starbundle/internal/constraint"
	"github.com/vk/starbundle/internal/ctxlog"
	"github.com/vk/starbundle/internal/param"
	"github.com/vk/starbundle/internal/paramstore"
	"github.com/zclconf/go-cty/cty"
)

// Query selects parameters of a bundle.
type Query = paramstore.Query

// Twig builds a query from a twig string such as "requiv@primary".
func Twig(raw string) Query {
	return paramstore.Twig(raw)
}

// Bundle is the modeling bundle.
type Bundle struct {
	mu       sync.RWMutex
	set      *paramstore.Set
	registry *backend.Registry
}

// New creates an empty bundle using the backends of reg.
func New(reg *backend.Registry) *Bundle {
	if reg == nil {
		reg = backend.NewRegistry()
	}
	return &Bundle{set: paramstore.Empty(), registry: reg}
}

// Registry returns the backend registry the bundle was created with.
func (b *Bundle) Registry() *backend.Registry {
	return b.registry
}

// Filter returns copies of every visible parameter matching q.
func (b *Bundle) Filter(q Query) *paramstore.Set {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.set.Filter(q).Clone()
}

// Len returns the number of parameters, hidden ones included.
func (b *Bundle) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.set.Len()
}

// GetParameter returns a copy of the single parameter matching q. A query
// matching nothing fails with a *ParameterNotFoundError; one matching
// several parameters fails with ErrAmbiguous.
func (b *Bundle) GetParameter(q Query) (*param.Parameter, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, err := b.set.Get(q)
	if err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// Get is GetParameter for a twig.
func (b *Bundle) Get(twig string) (*param.Parameter, error) {
	return b.GetParameter(Twig(twig))
}

// GetValue returns the value of the single parameter matching q.
func (b *Bundle) GetValue(q Query) (cty.Value, error) {
	p, err := b.GetParameter(q)
	if err != nil {
		return cty.NilVal, err
	}
	return p.Value, nil
}

// GetFloat returns the value of the single numeric parameter matching q.
func (b *Bundle) GetFloat(q Query) (float64, error) {
	p, err := b.GetParameter(q)
	if err != nil {
		return 0, err
	}
	return p.Float()
}

// SetValue validates value against the parameter matching q, stores it and
// recomputes the constraints depending on it. Constraint results that are
// physically invalid are logged, not returned; run RunChecks to inspect
// them.
func (b *Bundle) SetValue(ctx context.Context, q Query, value any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.set.Get(q)
	if err != nil {
		return err
	}
	if err := b.checkSettable(p); err != nil {
		return err
	}
	if p.Context == param.ContextConstraint {
		return b.setExpressionLocked(ctx, p, value)
	}
	if err := p.Set(value); err != nil {
		return fmt.Errorf("set %s: %w", p.Twig(), err)
	}
	ctxlog.FromContext(ctx).Debug("Parameter set.", "twig", p.Twig(), "value", param.FormatValue(p.Value))
	return b.recomputeLocked(ctx, p.UniqueID)
}

// SetValueAll sets every visible parameter matching q. All values are
// validated before any is stored. It returns the number of parameters set.
func (b *Bundle) SetValueAll(ctx context.Context, q Query, value any) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n, err := setAll(b.set, q, value, b.checkSettable)
	if err != nil {
		return 0, err
	}
	ctxlog.FromContext(ctx).Debug("Parameters set.", "query", q.String(), "count", len(n))
	return len(n), b.recomputeLocked(ctx, n...)
}

// setAll converts and validates value for every match of q in set, then
// stores it. It returns the uniqueids of the parameters set.
func setAll(set *paramstore.Set, q Query, value any, check func(*param.Parameter) error) ([]string, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParameterNotFound, err)
	}
	matches := set.Filter(q).All()
	if len(matches) == 0 {
		_, err := set.Get(q)
		return nil, err
	}

	values := make([]cty.Value, len(matches))
	for i, p := range matches {
		if check != nil {
			if err := check(p); err != nil {
				return nil, err
			}
		}
		v, err := p.Convert(value)
		if err == nil {
			err = p.Validate(v)
		}
		if err != nil {
			return nil, fmt.Errorf("set %s: %w", p.Twig(), err)
		}
		values[i] = v
	}

	ids := make([]string, len(matches))
	for i, p := range matches {
		p.Value = values[i]
		ids[i] = p.UniqueID
	}
	return ids, nil
}

// applyValues applies a map of twig -> value to the parameters of set, in
// sorted key order. Every key must match at least one parameter.
func applyValues(set *paramstore.Set, values map[string]any) error {
	for _, key := range slices.Sorted(maps.Keys(values)) {
		if _, err := setAll(set, paramstore.Query{Twig: key, IncludeHidden: true}, values[key], nil); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bundle) checkSettable(p *param.Parameter) error {
	if p.IsConstrained() {
		driver := p.ConstrainedBy
		if c, ok := b.set.ByID(p.ConstrainedBy); ok {
			driver = c.Twig()
		}
		return fmt.Errorf("%w: %s is constrained by %s; flip the constraint to set it directly", ErrConstrained, p.Twig(), driver)
	}
	if p.Readonly {
		return fmt.Errorf("%w: %s is read-only", ErrInvalidValue, p.Twig())
	}
	switch p.Context {
	case param.ContextModel, param.ContextSolution:
		return fmt.Errorf("%w: %s holds a result and cannot be set", ErrInvalidValue, p.Twig())
	}
	return nil
}

// setExpressionLocked replaces the expression of a constraint. The new
// expression may only reference the constraint's existing aliases.
func (b *Bundle) setExpressionLocked(ctx context.Context, c *param.Parameter, value any) error {
	v, err := c.Convert(value)
	if err != nil {
		return fmt.Errorf("set %s: %w", c.Twig(), err)
	}
	prev := c.Expression
	c.Expression = v.AsString()
	c.Value = v
	if _, err := constraint.Order(b.set); err != nil {
		c.Expression, c.Value = prev, cty.StringVal(prev)
		return err
	}
	if _, err := constraint.Evaluate(b.set, c); err != nil {
		c.Expression, c.Value = prev, cty.StringVal(prev)
		return fmt.Errorf("%w: %s: %v", ErrInvalidValue, c.Twig(), err)
	}
	ctxlog.FromContext(ctx).Debug("Constraint expression set.", "twig", c.Twig(), "expression", c.Expression)
	return b.recomputeLocked(ctx, c.UniqueID)
}

// recomputeLocked re-evaluates constraints depending on the changed ids and
// logs any problems as warnings.
func (b *Bundle) recomputeLocked(ctx context.Context, changed ...string) error {
	if len(changed) == 0 {
		return nil
	}
	res, err := constraint.Recompute(b.set, changed...)
	if err != nil {
		return err
	}
	logProblems(ctx, res)
	b.warnInvalidLocked(ctx)
	return nil
}

// warnInvalidLocked logs the physical problems of the system after a
// change. Setting a value never fails on them; computing does.
func (b *Bundle) warnInvalidLocked(ctx context.Context) {
	r := &CheckReport{}
	b.checkOrbitLocked(r)
	b.checkStarsLocked(r)
	if len(r.Items) == 0 {
		return
	}
	logger := ctxlog.FromContext(ctx)
	for _, it := range r.Items {
		logger.Warn("System is not physically valid.", "problem", it.Message)
	}
}

func logProblems(ctx context.Context, res constraint.Result) {
	logger := ctxlog.FromContext(ctx)
	for _, p := range res.Problems {
		logger.Warn("Constraint produced an invalid value; run checks before computing.",
			"constraint", p.Constraint, "target", p.Target, "error", p.Err)
	}
}

// labelsLocked returns the distinct values of tag among parameters of the
// given context.
func (b *Bundle) labelsLocked(tag, context string) []string {
	return b.set.Filter(Query{Tags: param.Tags{Context: context}, IncludeHidden: true}).Values(tag)
}

func (b *Bundle) labels(tag, context string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.labelsLocked(tag, context)
}

// nextLabelLocked returns prefix01, prefix02, ... whichever is free first.
func (b *Bundle) nextLabelLocked(prefix, tag, context string) string {
	taken := b.labelsLocked(tag, context)
	for i := 1; ; i++ {
		name := fmt.Sprintf("%s%02d", prefix, i)
		if !slices.Contains(taken, name) {
			return name
		}
	}
}

// claimLabelLocked makes name available for a new sub-configuration. An
// existing one is removed when overwrite is set.
func (b *Bundle) claimLabelLocked(ctx context.Context, tag, context, name string, overwrite bool) error {
	if name == "" {
		return fmt.Errorf("%w: empty %s name", ErrInvalidValue, tag)
	}
	if !slices.Contains(b.labelsLocked(tag, context), name) {
		return nil
	}
	if !overwrite {
		return fmt.Errorf("%w: %s %q already exists; set overwrite to replace it", ErrNameCollision, tag, name)
	}
	removed := b.removeLabelLocked(tag, name)
	ctxlog.FromContext(ctx).Debug("Overwriting existing label.", "tag", tag, "name", name, "removed", removed)
	return nil
}

// removeLabelLocked deletes every parameter tagged tag=name, in any context.
func (b *Bundle) removeLabelLocked(tag, name string) int {
	return len(b.set.Remove(Query{Tags: param.Tags{}.With(tag, name), IncludeHidden: true}))
}

func (b *Bundle) removeLabel(ctx context.Context, tag, context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !slices.Contains(b.labelsLocked(tag, context), name) {
		return fmt.Errorf("%w: no %s named %q", ErrParameterNotFound, tag, name)
	}
	n := b.removeLabelLocked(tag, name)
	b.refreshChoicesLocked()
	ctxlog.FromContext(ctx).Debug("Removed label.", "tag", tag, "name", name, "parameters", n)
	return nil
}

// Datasets returns the dataset labels in creation order.
func (b *Bundle) Datasets() []string { return b.labels("dataset", param.ContextDataset) }

// Features returns the feature labels.
func (b *Bundle) Features() []string { return b.labels("feature", param.ContextFeature) }

// Computes returns the compute configuration labels.
func (b *Bundle) Computes() []string { return b.labels("compute", param.ContextCompute) }

// Solvers returns the solver configuration labels.
func (b *Bundle) Solvers() []string { return b.labels("solver", param.ContextSolver) }

// Models returns the model labels.
func (b *Bundle) Models() []string { return b.labels("model", param.ContextModel) }

// Solutions returns the solution labels.
func (b *Bundle) Solutions() []string { return b.labels("solution", param.ContextSolution) }

// Distributions returns the distribution labels.
func (b *Bundle) Distributions() []string {
	return b.labels("distribution", param.ContextDistribution)
}

// Components returns the component labels: the orbit, if any, then stars.
func (b *Bundle) Components() []string { return b.labels("component", param.ContextComponent) }

// Hierarchy returns the orbit label (empty for a single star) and the star
// labels, primary first.
func (b *Bundle) Hierarchy() (orbit string, stars []string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return backend.Hierarchy(b.set)
}

// String renders every visible parameter.
func (b *Bundle) String() string {
	return b.Filter(Query{}).String()
}
