package bundle

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/vk/starbundle/internal/backend"
	"github.com/vk/starbundle/internal/ctxlog"
	"github.com/vk/starbundle/internal/param"
	"github.com/vk/starbundle/internal/paramstore"
)

// Dataset kinds.
const (
	KindLC   = "lc"
	KindRV   = "rv"
	KindMesh = "mesh"
)

var (
	passbands   = []string{"Johnson:V", "Johnson:B", "Johnson:R", "Kepler:mean", "TESS:default", "Bolometric:900-40000"}
	pblumModes  = []string{"component-coupled", "absolute"}
	ldModes     = []string{"interp", "lookup", "manual"}
	meshColumns = []string{"volume", "teffs", "loggs", "rs", "us", "vs", "ws", "areas", "mus"}
)

// DatasetOptions configures a new dataset.
type DatasetOptions struct {
	// Name defaults to the kind followed by a counter: lc01, lc02, ...
	Name      string
	Overwrite bool
	// Components restricts per-star parameters to the given stars. All stars
	// are used when empty.
	Components []string
	// Values maps twigs, resolved within the new dataset, to initial values.
	// A twig matching several parameters sets all of them.
	Values map[string]any
}

// AddDataset adds a dataset of the given kind and returns its name. Every
// existing compute configuration gains the backend's per-dataset options
// for it.
func (b *Bundle) AddDataset(ctx context.Context, kind string, opts DatasetOptions) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	name := opts.Name
	if name == "" {
		name = b.nextLabelLocked(kind, "dataset", param.ContextDataset)
	}

	_, stars := backend.Hierarchy(b.set)
	components := stars
	if len(opts.Components) > 0 {
		for _, c := range opts.Components {
			if !slices.Contains(stars, c) {
				return "", fmt.Errorf("%w: %q is not a star (stars: %v)", ErrInvalidValue, c, stars)
			}
		}
		components = opts.Components
	}

	params, err := datasetParams(kind, name, components)
	if err != nil {
		return "", err
	}
	staged, err := paramstore.New(params...)
	if err != nil {
		return "", err
	}
	if err := applyValues(staged, opts.Values); err != nil {
		return "", fmt.Errorf("add_dataset %s: %w", name, err)
	}

	// Per-compute options are built before anything is claimed, so a compute
	// whose backend is missing leaves the bundle untouched.
	var options []*param.Parameter
	for _, compute := range b.labelsLocked("compute", param.ContextCompute) {
		o, err := b.datasetOptionsLocked(compute, name)
		if err != nil {
			return "", fmt.Errorf("add_dataset %s: %w", name, err)
		}
		options = append(options, o...)
	}

	if err := b.claimLabelLocked(ctx, "dataset", param.ContextDataset, name, opts.Overwrite); err != nil {
		return "", err
	}
	if err := b.set.AddAll(append(params, options...)...); err != nil {
		return "", err
	}

	ctxlog.FromContext(ctx).Debug("Added dataset.", "kind", kind, "dataset", name, "parameters", len(params))
	return name, nil
}

// RemoveDataset removes a dataset together with its compute options and
// model results.
func (b *Bundle) RemoveDataset(ctx context.Context, name string) error {
	return b.removeLabel(ctx, "dataset", param.ContextDataset, name)
}

func datasetParams(kind, name string, stars []string) ([]*param.Parameter, error) {
	base := param.Tags{Dataset: name, Kind: kind, Context: param.ContextDataset}
	perStar := func(star string) *catalog {
		tags := base
		tags.Component = star
		return newCatalog(tags)
	}

	var params []*param.Parameter
	switch kind {
	case KindLC:
		c := newCatalog(base).
			add("times", param.TypeFloatArray, []float64{}, "Observed times", param.WithUnit("d")).
			add("fluxes", param.TypeFloatArray, []float64{}, "Observed flux", param.WithUnit("W/m2")).
			add("sigmas", param.TypeFloatArray, []float64{}, "Observed uncertainty on flux", param.WithUnit("W/m2")).
			choice("passband", "Johnson:V", passbands, "Passband").
			choice("pblum_mode", "component-coupled", pblumModes, "Mode for scaling passband luminosities").
			float("pblum", 4*math.Pi, "W", "Passband luminosity (defined at t0)",
				param.WithLimits(zero, nil), param.WithVisibleIf("pblum_mode:component-coupled")).
			float("l3", 0, "W/m2", "Third light", param.WithLimits(zero, nil))
		params = c.params
		for _, star := range stars {
			params = append(params, ldParams(perStar(star))...)
		}
	case KindRV:
		params = newCatalog(base).
			choice("passband", "Johnson:V", passbands, "Passband").
			params
		for _, star := range stars {
			c := perStar(star).
				add("times", param.TypeFloatArray, []float64{}, "Observed times", param.WithUnit("d")).
				add("rvs", param.TypeFloatArray, []float64{}, "Observed radial velocity", param.WithUnit("km/s")).
				add("sigmas", param.TypeFloatArray, []float64{}, "Observed uncertainty on rv", param.WithUnit("km/s"))
			params = append(params, c.params...)
			params = append(params, ldParams(perStar(star))...)
		}
	case KindMesh:
		columns, err := param.NewSelect(base.With("qualifier", "columns"), []string{}, meshColumns,
			"Columns to expose within the mesh")
		if err != nil {
			return nil, err
		}
		params = newCatalog(base).
			add("times", param.TypeFloatArray, []float64{}, "Times to expose the mesh", param.WithUnit("d")).
			params
		params = append(params, columns)
	default:
		return nil, fmt.Errorf("%w: dataset kind %q (expected one of %s, %s, %s)", ErrUnknownKind, kind, KindLC, KindRV, KindMesh)
	}
	return params, nil
}

func ldParams(c *catalog) []*param.Parameter {
	return c.
		choice("ld_mode", "interp", ldModes, "Mode to use for limb-darkening").
		choice("ld_func", "logarithmic", ldFuncs, "Limb-darkening model", param.WithVisibleIf("ld_mode:!interp")).
		add("ld_coeffs", param.TypeFloatArray, []float64{0.5, 0.5}, "Limb-darkening coefficients",
			param.WithVisibleIf("ld_mode:manual")).
		params
}

// computeKindLocked returns the backend kind of a compute configuration.
func (b *Bundle) computeKindLocked(compute string) (string, error) {
	kinds := b.set.Filter(Query{Tags: param.Tags{Compute: compute, Context: param.ContextCompute}, IncludeHidden: true}).Values("kind")
	if len(kinds) == 0 {
		return "", fmt.Errorf("%w: no compute named %q", ErrParameterNotFound, compute)
	}
	return kinds[0], nil
}

// datasetOptionsLocked builds the per-dataset options of compute's backend
// for dataset.
func (b *Bundle) datasetOptionsLocked(compute, dataset string) ([]*param.Parameter, error) {
	kind, err := b.computeKindLocked(compute)
	if err != nil {
		return nil, err
	}
	be, err := b.registry.Compute(kind)
	if err != nil {
		return nil, err
	}
	var out []*param.Parameter
	for _, o := range be.Options().PerDataset {
		p := o.Duplicate()
		p.Tags = param.Tags{Qualifier: o.Qualifier, Compute: compute, Dataset: dataset, Kind: kind, Context: param.ContextCompute}
		out = append(out, p)
	}
	return out, nil
}
