package bundle

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/vk/starbundle/internal/backend"
	"github.com/vk/starbundle/internal/constraint"
	"github.com/vk/starbundle/internal/ctxlog"
	"github.com/vk/starbundle/internal/param"
)

// Default labels.
const (
	DefaultOrbit      = "binary"
	DefaultPrimary    = "primary"
	DefaultSecondary  = "secondary"
	DefaultSingleStar = "starA"
	DefaultCompute    = "phoebe"
	DefaultModel      = "latest"
	DefaultSolution   = "latest"
	DefaultDists      = "dists"
)

var (
	ldFuncs    = []string{"linear", "logarithmic", "quadratic", "square_root", "power"}
	ldModesBol = []string{"lookup", "manual"}
	zero       = param.Float64(0)
	one        = param.Float64(1)
	deg180     = param.Float64(180)
	deg360     = param.Float64(360)
	tinyTime   = param.Float64(1e-6)
)

// catalog builds parameters sharing a set of base tags.
type catalog struct {
	tags   param.Tags
	params []*param.Parameter
}

func newCatalog(tags param.Tags) *catalog {
	return &catalog{tags: tags}
}

func (c *catalog) add(qualifier string, typ param.Type, value any, description string, opts ...param.Option) *catalog {
	tags := c.tags
	tags.Qualifier = qualifier
	c.params = append(c.params, param.MustNew(tags, typ, value, description, opts...))
	return c
}

func (c *catalog) float(qualifier string, value float64, unit, description string, opts ...param.Option) *catalog {
	return c.add(qualifier, param.TypeFloat, value, description, append([]param.Option{param.WithUnit(unit)}, opts...)...)
}

func (c *catalog) choice(qualifier, value string, choices []string, description string, opts ...param.Option) *catalog {
	tags := c.tags
	tags.Qualifier = qualifier
	p, err := param.NewChoice(tags, value, choices, description, opts...)
	if err != nil {
		panic(err)
	}
	c.params = append(c.params, p)
	return c
}

func systemParams() []*param.Parameter {
	return newCatalog(param.Tags{Context: param.ContextSystem}).
		float("t0", 0, "d", "Time at which all values are provided").
		float("vgamma", 0, "km/s", "Systemic velocity").
		float("distance", 1, "m", "Distance to the system", param.WithLimits(param.Float64(1e-10), nil)).
		params
}

func orbitParams(orbit string) []*param.Parameter {
	return newCatalog(param.Tags{Component: orbit, Kind: backend.KindOrbit, Context: param.ContextComponent}).
		float("period", 1, "d", "Orbital period", param.WithLimits(tinyTime, nil)).
		float("freq", 2*math.Pi, "rad/d", "Orbital frequency").
		float("dpdt", 0, "s/yr", "Time derivative of the orbital period").
		float("per0", 0, "deg", "Argument of periastron", param.WithLimits(zero, deg360)).
		float("dperdt", 0, "deg/yr", "Periastron change").
		float("ecc", 0, "", "Eccentricity", param.WithExclusiveMax(0, 1)).
		float("t0_perpass", 0, "d", "Zeropoint date at periastron passage of the primary component").
		float("t0_supconj", 0, "d", "Zeropoint date at superior conjunction of the primary component").
		float("t0_ref", 0, "d", "Zeropoint date at reference point of the primary component").
		float("mean_anom", 0, "deg", "Mean anomaly at t0").
		float("incl", 90, "deg", "Orbital inclination angle", param.WithLimits(zero, deg180)).
		float("q", 1, "", "Mass ratio", param.WithLimits(zero, nil)).
		float("sma", 5.3, "solRad", "Semi-major axis of the orbit", param.WithLimits(zero, nil)).
		float("long_an", 0, "deg", "Longitude of the ascending node", param.WithLimits(zero, deg360)).
		float("asini", 5.3, "solRad", "Projected semi-major axis of the orbit").
		float("ecosw", 0, "", "Eccentricity times cos of argument of periastron").
		float("esinw", 0, "", "Eccentricity times sin of argument of periastron").
		params
}

// starParams returns the parameters of a star. Orbit-dependent quantities
// (requiv_max, pitch, yaw, syncpar) only exist in a binary.
func starParams(star string, inBinary bool) []*param.Parameter {
	c := newCatalog(param.Tags{Component: star, Kind: backend.KindStar, Context: param.ContextComponent}).
		float("requiv", 1, "solRad", "Equivalent radius", param.WithLimits(param.Float64(1e-6), nil))
	if inBinary {
		c.float("requiv_max", 1, "solRad", "Critical (maximum) value of the equivalent radius for the given morphology")
	}
	c.float("teff", 6000, "K", "Mean effective temperature", param.WithLimits(param.Float64(300), nil)).
		float("abun", 0, "", "Abundance/Metallicity")
	if inBinary {
		c.float("syncpar", 1, "", "Synchronicity parameter", param.WithLimits(zero, nil))
	}
	c.float("period", 1, "d", "Rotation period", param.WithLimits(tinyTime, nil)).
		float("freq", 2*math.Pi, "rad/d", "Rotation frequency")
	if inBinary {
		c.float("pitch", 0, "deg", "Pitch of the stellar rotation axis with respect to the orbital inclination").
			float("yaw", 0, "deg", "Yaw of the stellar rotation axis with respect to the orbital longitude of ascending node")
	}
	c.float("incl", 90, "deg", "Inclination of the stellar rotation axis", param.WithLimits(zero, deg180)).
		float("long_an", 0, "deg", "Longitude of the ascending node of the stellar rotation axis").
		float("gravb_bol", 0.32, "", "Bolometric gravity brightening", param.WithLimits(zero, one)).
		float("irrad_frac_refl_bol", 0.6, "", "Ratio of incident bolometric light that is used for reflection", param.WithLimits(zero, one)).
		choice("ld_mode_bol", "lookup", ldModesBol, "Mode to use for bolometric limb-darkening").
		choice("ld_func_bol", "logarithmic", ldFuncs, "Bolometric limb-darkening model").
		add("ld_coeffs_bol", param.TypeFloatArray, []float64{0.5, 0.5}, "Bolometric limb-darkening coefficients",
			param.WithVisibleIf("ld_mode_bol:manual")).
		float("mass", 1, "solMass", "Mass", param.WithLimits(param.Float64(1e-6), nil)).
		float("logg", 4.438, "", "Logarithmic surface gravity (cgs)")
	return c.params
}

// DefaultBinary creates a detached binary of two sun-like stars on a circular
// orbit, with one compute configuration of the default compute backend when
// it is registered.
func DefaultBinary(ctx context.Context, reg *backend.Registry) (*Bundle, error) {
	params := slices.Concat(
		systemParams(),
		orbitParams(DefaultOrbit),
		starParams(DefaultPrimary, true),
		starParams(DefaultSecondary, true),
	)
	templates := slices.Concat(
		constraint.Orbit(DefaultOrbit),
		constraint.Star(DefaultPrimary, DefaultOrbit, true),
		constraint.Star(DefaultSecondary, DefaultOrbit, false),
	)
	return build(ctx, reg, "binary", params, templates)
}

// DefaultStar creates a single sun-like star.
func DefaultStar(ctx context.Context, reg *backend.Registry) (*Bundle, error) {
	params := slices.Concat(systemParams(), starParams(DefaultSingleStar, false))
	return build(ctx, reg, "star", params, constraint.SingleStar(DefaultSingleStar))
}

func build(ctx context.Context, reg *backend.Registry, what string, params []*param.Parameter, templates []constraint.Template) (*Bundle, error) {
	logger := ctxlog.FromContext(ctx)
	b := New(reg)

	if err := b.set.AddAll(params...); err != nil {
		return nil, fmt.Errorf("default %s: %w", what, err)
	}
	for _, t := range templates {
		c, err := t.Build(b.set)
		if err != nil {
			return nil, fmt.Errorf("default %s: %w", what, err)
		}
		if err := constraint.Attach(b.set, c); err != nil {
			return nil, fmt.Errorf("default %s: %w", what, err)
		}
	}
	res, err := constraint.Recompute(b.set)
	if err != nil {
		return nil, fmt.Errorf("default %s: %w", what, err)
	}
	logProblems(ctx, res)

	if _, err := b.registry.Compute(DefaultCompute); err == nil {
		if _, err := b.AddCompute(ctx, DefaultCompute, ComputeOptions{}); err != nil {
			return nil, fmt.Errorf("default %s: %w", what, err)
		}
	} else {
		logger.Debug("Default compute backend not registered; bundle has no compute configuration.", "kind", DefaultCompute)
	}

	logger.Debug("Created default bundle.", "kind", what, "parameters", b.Len())
	return b, nil
}
