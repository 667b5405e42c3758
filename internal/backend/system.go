package backend

import (
	"fmt"

	"github.com/vk/starbundle/internal/param"
	"github.com/vk/starbundle/internal/paramstore"
)

// Component kinds.
const (
	KindOrbit = "orbit"
	KindStar  = "star"
)

// fittableContexts are the contexts holding parameters a solver may vary.
var fittableContexts = []string{
	param.ContextSystem,
	param.ContextComponent,
	param.ContextDataset,
	param.ContextFeature,
}

// Hierarchy returns the orbit label (empty for a single star) and the star
// labels of a system, primary first.
func Hierarchy(system *paramstore.Set) (orbit string, stars []string) {
	components := system.Filter(paramstore.Query{
		Tags:          param.Tags{Context: param.ContextComponent},
		IncludeHidden: true,
	})
	if orbits := components.Filter(paramstore.Query{Tags: param.Tags{Kind: KindOrbit}, IncludeHidden: true}).Values("component"); len(orbits) > 0 {
		orbit = orbits[0]
	}
	stars = components.Filter(paramstore.Query{Tags: param.Tags{Kind: KindStar}, IncludeHidden: true}).Values("component")
	return orbit, stars
}

// Fittable returns the parameters of system that a solver may vary.
func Fittable(system *paramstore.Set) *paramstore.Set {
	out := paramstore.Empty()
	for _, ctxName := range fittableContexts {
		view := system.Filter(paramstore.Query{Tags: param.Tags{Context: ctxName}, IncludeHidden: true})
		for _, p := range view.All() {
			_ = out.Add(p)
		}
	}
	return out
}

// ResolveFittable finds the single numeric, unconstrained parameter twig
// refers to.
func ResolveFittable(system *paramstore.Set, twig string) (*param.Parameter, error) {
	p, err := Fittable(system).Get(paramstore.Query{Twig: twig, IncludeHidden: true})
	if err != nil {
		return nil, err
	}
	if p.Type != param.TypeFloat && p.Type != param.TypeInt {
		return nil, fmt.Errorf("%w: %s is not numeric", param.ErrInvalidValue, p.Twig())
	}
	if p.IsConstrained() {
		return nil, fmt.Errorf("%s is constrained and cannot be fitted", p.Twig())
	}
	return p, nil
}

// DistributionTarget returns the tags of the parameter a distribution
// parameter applies to.
func DistributionTarget(d *param.Parameter) param.Tags {
	tags := d.Tags
	tags.Distribution = ""
	switch {
	case tags.Feature != "":
		tags.Context = param.ContextFeature
	case tags.Dataset != "":
		tags.Context = param.ContextDataset
	case tags.Component != "":
		tags.Context = param.ContextComponent
	default:
		tags.Context = param.ContextSystem
	}
	return tags
}

// Distributions collects the distributions stored under the given labels,
// keyed by the uniqueid of the parameter they apply to. Later labels win
// when two labels cover the same parameter.
func Distributions(system *paramstore.Set, labels []string) (map[string]param.Distribution, error) {
	out := make(map[string]param.Distribution)
	for _, label := range labels {
		view := system.Filter(paramstore.Query{
			Tags:          param.Tags{Distribution: label, Context: param.ContextDistribution},
			IncludeHidden: true,
		})
		if view.Len() == 0 {
			return nil, fmt.Errorf("%w: distribution %q", paramstore.ErrParameterNotFound, label)
		}
		for _, d := range view.All() {
			target, err := system.Get(paramstore.Query{Tags: DistributionTarget(d), IncludeHidden: true})
			if err != nil {
				return nil, fmt.Errorf("distribution %s: %w", d.Twig(), err)
			}
			dist, err := param.DistributionFromCty(d.Value)
			if err != nil {
				return nil, fmt.Errorf("distribution %s: %w", d.Twig(), err)
			}
			out[target.UniqueID] = dist
		}
	}
	return out, nil
}
