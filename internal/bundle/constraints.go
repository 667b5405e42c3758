package bundle

import (
	"context"
	"fmt"

	"github.com/vk/starbundle/internal/constraint"
	"github.com/vk/starbundle/internal/ctxlog"
	"github.com/vk/starbundle/internal/param"
	"github.com/vk/starbundle/internal/paramstore"
)

// Constraint kinds that can be added on demand.
const (
	ConstraintSemidetached = "semidetached"
)

// AddConstraint adds a constraint from the built-in library to a component
// and returns the constraint's twig.
func (b *Bundle) AddConstraint(ctx context.Context, kind, component string) (string, error) {
	var t constraint.Template
	switch kind {
	case ConstraintSemidetached:
		t = constraint.Semidetached(component)
	default:
		return "", fmt.Errorf("%w: constraint kind %q (expected %s)", ErrUnknownKind, kind, ConstraintSemidetached)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	c, err := t.Build(b.set)
	if err != nil {
		return "", err
	}
	if err := constraint.Attach(b.set, c); err != nil {
		return "", err
	}
	ctxlog.FromContext(ctx).Debug("Added constraint.", "twig", c.Twig(), "expression", c.Expression)
	return c.Twig(), b.recomputeLocked(ctx, c.UniqueID)
}

// RemoveConstraint removes the constraint matching twig. Its target keeps
// its current value and becomes free.
func (b *Bundle) RemoveConstraint(ctx context.Context, twig string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, err := b.constraintLocked(twig)
	if err != nil {
		return err
	}
	constraint.Detach(b.set, c)
	ctxlog.FromContext(ctx).Debug("Removed constraint.", "twig", c.Twig())
	return nil
}

// FlipConstraint re-targets the constraint matching twig so that it solves
// for the parameter selected by solveFor, which must be one of the
// constraint's inputs. The previous target becomes free.
func (b *Bundle) FlipConstraint(ctx context.Context, twig, solveFor string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, err := b.constraintLocked(twig)
	if err != nil {
		return err
	}

	inputs := paramstore.Empty()
	for _, id := range c.Vars {
		if p, ok := b.set.ByID(id); ok {
			_ = inputs.Add(p)
		}
	}
	target, err := inputs.Get(Query{Twig: solveFor, IncludeHidden: true})
	if err != nil {
		return fmt.Errorf("flip %s: %w", c.Twig(), err)
	}
	if err := constraint.Flip(b.set, c, target.UniqueID); err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Debug("Flipped constraint.", "twig", c.Twig(), "solve_for", target.Twig(), "expression", c.Expression)
	return b.recomputeLocked(ctx, c.UniqueID)
}

func (b *Bundle) constraintLocked(twig string) (*param.Parameter, error) {
	return b.set.Get(Query{Twig: twig, Tags: param.Tags{Context: param.ContextConstraint}, IncludeHidden: true})
}
