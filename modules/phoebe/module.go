// Package phoebe provides the built-in compute backend. It models stars as
// uniform spheres on a Keplerian orbit: enough to produce light curves with
// eclipses and spots, radial velocities and surface meshes for fitting and
// testing, without the cost of a full surface-integration code.
package phoebe

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/starbundle/internal/backend"
	"github.com/vk/starbundle/internal/ctxlog"
	"github.com/vk/starbundle/internal/param"
	"github.com/vk/starbundle/internal/paramstore"
)

// Kind is the compute kind this backend registers under.
const Kind = "phoebe"

// ErrOverflow is returned when a star exceeds its critical radius.
var ErrOverflow = errors.New("star overflows its roche lobe")

var (
	irradMethods      = []string{"none", "wilson", "horvat"}
	dynamicsMethods   = []string{"keplerian"}
	distortionMethods = []string{"roche", "rotstar", "sphere", "none"}
	atmospheres       = []string{"ck2004", "blackbody", "extern_planckint", "extern_atmx"}
)

// Module implements the backend.Module interface for this package.
type Module struct{}

// Register registers the compute backend.
func (m *Module) Register(r *backend.Registry) {
	r.RegisterCompute(&Backend{})
}

// Backend is the phoebe compute backend.
type Backend struct{}

func (b *Backend) Kind() string { return Kind }

// Options returns the compute options of a phoebe configuration.
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
			choice("irrad_method", "horvat", irradMethods, "Which method to use to handle all irradiation effects"),
			choice("dynamics_method", "keplerian", dynamicsMethods, "Which method to use to determine the dynamics of components"),
			param.MustNew(param.Tags{Qualifier: "ltte"}, param.TypeBool, false, "Correct for light travel time effects"),
		},
		PerStar: []*param.Parameter{
			choice("distortion_method", "roche", distortionMethods, "Method to use for distorting stars"),
			choice("atm", "ck2004", atmospheres, "Atmosphere table"),
			param.MustNew(param.Tags{Qualifier: "ntriangles"}, param.TypeInt, 1500, "Requested number of triangles (won't be exact)",
				param.WithLimits(param.Float64(100), nil)),
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
			params, err = sys.lightCurve(req.System, ds)
		case "rv":
			params, err = sys.radialVelocities(req.System, ds)
		case "mesh":
			params, err = sys.mesh(req.System, ds)
		default:
			err = fmt.Errorf("phoebe cannot compute %s datasets", kinds[0])
		}
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", ds, err)
		}
		logger.Debug("Computed dataset.", "dataset", ds, "kind", kinds[0], "parameters", len(params))
		out = append(out, params...)
	}
	return out, nil
}
