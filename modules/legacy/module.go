// Package legacy provides a second compute backend standing in for the
// previous generation of the modeling code. Stars are integrated on a square
// raster of the plane of the sky, so results converge on the built-in
// backend's as gridsize grows. It computes light curves and radial
// velocities; meshes are not exposed.
package legacy

import (
	"context"
	"fmt"

	"github.com/vk/starbundle/internal/backend"
	"github.com/vk/starbundle/internal/ctxlog"
	"github.com/vk/starbundle/internal/param"
	"github.com/vk/starbundle/internal/paramstore"
)

// Kind is the compute kind this backend registers under.
const Kind = "legacy"

var (
	irradMethods = []string{"none", "wilson"}
	atmospheres  = []string{"extern_atmx", "extern_planckint"}
)

// Module implements the backend.Module interface for this package.
type Module struct{}

// Register registers the compute backend.
func (m *Module) Register(r *backend.Registry) {
	r.RegisterCompute(&Backend{})
}

// Backend is the legacy compute backend.
type Backend struct{}

func (b *Backend) Kind() string { return Kind }

// Options returns the compute options of a legacy configuration.
func (b *Backend) Options() backend.Options {
	choice := func(qualifier, value string, choices []string, description string) *param.Parameter {
		p, err := param.NewChoice(param.Tags{Qualifier: qualifier}, value, choices, description)
		if err != nil {
			panic(err)
		}
		return p
	}
	return backend.Options{
		Global: []*param.Parameter{
			choice("irrad_method", "wilson", irradMethods, "Which method to use to handle irradiation effects"),
			param.MustNew(param.Tags{Qualifier: "refl_num"}, param.TypeInt, 1, "Number of reflections",
				param.WithLimits(param.Float64(0), nil)),
		},
		PerStar: []*param.Parameter{
			choice("atm", "extern_atmx", atmospheres, "Atmosphere table"),
			param.MustNew(param.Tags{Qualifier: "gridsize"}, param.TypeInt, 60, "Number of raster rows across the stellar disk",
				param.WithLimits(param.Float64(4), nil)),
		},
		PerDataset: []*param.Parameter{
			param.MustNew(param.Tags{Qualifier: "enabled"}, param.TypeBool, true, "Whether to create synthetics in compute/solver run"),
		},
	}
}

// Run computes the synthetic observables of every requested dataset.
func (b *Backend) Run(ctx context.Context, req *backend.ComputeRequest) ([]*param.Parameter, error) {
	logger := ctxlog.FromContext(ctx).With("backend", Kind, "compute", req.Compute)

	sys, err := newSystem(req.System, req.Options)
	if err != nil {
		return nil, err
	}
	if sys.irradMethod != "none" && sys.reflections > 0 {
		// Spheres on the raster carry no reflected light.
		logger.Debug("Ignoring reflection for spherical stars.", "irrad_method", sys.irradMethod, "refl_num", sys.reflections)
	}

	var out []*param.Parameter
	for _, ds := range req.Datasets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		kinds := req.System.Filter(paramstore.Query{Tags: param.Tags{Dataset: ds, Context: param.ContextDataset}, IncludeHidden: true}).Values("kind")
		if len(kinds) == 0 {
			return nil, fmt.Errorf("%w: dataset %q", paramstore.ErrParameterNotFound, ds)
		}
		var params []*param.Parameter
		switch kinds[0] {
		case "lc":
			params, err = sys.lightCurve(ctx, req.System, ds)
		case "rv":
			params, err = sys.radialVelocities(req.System, ds)
		default:
			err = fmt.Errorf("legacy cannot compute %s datasets", kinds[0])
		}
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", ds, err)
		}
		logger.Debug("Computed dataset.", "dataset", ds, "kind", kinds[0], "parameters", len(params))
		out = append(out, params...)
	}
	return out, nil
}
