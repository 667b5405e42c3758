package bundle

import (
	"context"
	"fmt"

	"github.com/vk/starbundle/internal/backend"
	"github.com/vk/starbundle/internal/ctxlog"
	"github.com/vk/starbundle/internal/param"
)

// DistributionOptions attaches a distribution to a parameter.
type DistributionOptions struct {
	// Twig selects the parameter the distribution applies to.
	Twig         string
	Distribution param.Distribution
	// Name is the distribution label, "dists" when empty. One label
	// groups distributions on several parameters.
	Name string
	// Overwrite replaces a distribution already attached to the same
	// parameter under Name.
	Overwrite bool
}

// AddDistribution attaches a distribution to the parameter selected by
// opts.Twig and returns the label used.
func (b *Bundle) AddDistribution(ctx context.Context, opts DistributionOptions) (string, error) {
	if err := opts.Distribution.Validate(); err != nil {
		return "", err
	}
	name := opts.Name
	if name == "" {
		name = DefaultDists
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	target, err := backend.ResolveFittable(b.set, opts.Twig)
	if err != nil {
		return "", fmt.Errorf("add_distribution: %w", err)
	}
	tags := target.Tags
	tags.Distribution = name
	tags.Context = param.ContextDistribution

	if existing, err := b.set.Get(Query{Tags: tags, IncludeHidden: true}); err == nil {
		if !opts.Overwrite {
			return "", fmt.Errorf("%w: distribution %q already covers %s; set overwrite to replace it", ErrNameCollision, name, target.Twig())
		}
		b.set.RemoveID(existing.UniqueID)
	}

	d, err := param.New(tags, param.TypeDistribution, opts.Distribution.Cty(),
		fmt.Sprintf("Distribution on %s", target.Twig()), param.WithUnit(target.Unit))
	if err != nil {
		return "", err
	}
	if err := b.set.Add(d); err != nil {
		return "", err
	}
	b.refreshChoicesLocked()
	ctxlog.FromContext(ctx).Debug("Added distribution.", "distribution", name, "target", target.Twig(), "value", opts.Distribution.String())
	return name, nil
}

// GetDistribution returns the distribution under name attached to the
// parameter selected by twig.
func (b *Bundle) GetDistribution(twig, name string) (param.Distribution, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	target, err := backend.ResolveFittable(b.set, twig)
	if err != nil {
		return param.Distribution{}, err
	}
	tags := target.Tags
	tags.Distribution = name
	tags.Context = param.ContextDistribution
	d, err := b.set.Get(Query{Tags: tags, IncludeHidden: true})
	if err != nil {
		return param.Distribution{}, err
	}
	return param.DistributionFromCty(d.Value)
}

// RemoveDistribution removes every distribution under a label.
func (b *Bundle) RemoveDistribution(ctx context.Context, name string) error {
	return b.removeLabel(ctx, "distribution", param.ContextDistribution, name)
}
