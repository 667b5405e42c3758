package constraint

import (
	"fmt"
	"maps"

	"github.com/vk/starbundle/internal/param"
	"github.com/vk/starbundle/internal/paramstore"
)

// Ref locates a parameter referenced by a template.
type Ref struct {
	Qualifier string
	Component string
	Context   string
}

func (r Ref) query() paramstore.Query {
	return paramstore.Query{
		Tags:          param.Tags{Qualifier: r.Qualifier, Component: r.Component, Context: r.Context},
		IncludeHidden: true,
	}
}

// Template describes a constraint before it is bound to parameter ids.
type Template struct {
	Kind        string
	Component   string
	Target      string
	Vars        map[string]Ref
	Forms       map[string]string
	Description string
}

// Build resolves the template's references in set and returns the
// constraint parameter. The parameter is not added to set.
func (t Template) Build(set *paramstore.Set) (*param.Parameter, error) {
	if _, ok := t.Forms[t.Target]; !ok {
		return nil, fmt.Errorf("constraint %s: no expression solves for %q", t.Kind, t.Target)
	}
	vars := make(map[string]string, len(t.Vars))
	for alias, ref := range t.Vars {
		p, err := set.Get(ref.query())
		if err != nil {
			return nil, fmt.Errorf("constraint %s@%s: resolving %q: %w", t.Kind, t.Component, alias, err)
		}
		vars[alias] = p.UniqueID
	}
	target := t.Vars[t.Target]
	c := param.NewConstraint(
		param.Tags{Qualifier: target.Qualifier, Component: t.Component, Kind: t.Kind},
		t.Forms[t.Target], vars, vars[t.Target], t.Description,
	)
	c.Forms = maps.Clone(t.Forms)
	return c, nil
}

func comp(qualifier, component string) Ref {
	return Ref{Qualifier: qualifier, Component: component, Context: param.ContextComponent}
}

// Orbit returns the constraints attached to an orbit component.
func Orbit(orbit string) []Template {
	const (
		supconjMean = "true_to_mean(ecc, pi / 2 - rad(per0))"
		refMean     = "true_to_mean(ecc, -rad(per0))"
	)
	return []Template{
		{
			Kind: "freq", Component: orbit, Target: "freq",
			Vars: map[string]Ref{"freq": comp("freq", orbit), "period": comp("period", orbit)},
			Forms: map[string]string{
				"freq":   "2 * pi / period",
				"period": "2 * pi / freq",
			},
			Description: "Orbital frequency",
		},
		{
			Kind: "asini", Component: orbit, Target: "asini",
			Vars: map[string]Ref{"asini": comp("asini", orbit), "sma": comp("sma", orbit), "incl": comp("incl", orbit)},
			Forms: map[string]string{
				"asini": "sma * sin(rad(incl))",
				"sma":   "asini / sin(rad(incl))",
				"incl":  "deg(asin(asini / sma))",
			},
			Description: "Projected semi-major axis",
		},
		{
			Kind: "ecosw", Component: orbit, Target: "ecosw",
			Vars: map[string]Ref{"ecosw": comp("ecosw", orbit), "ecc": comp("ecc", orbit), "per0": comp("per0", orbit)},
			Forms: map[string]string{
				"ecosw": "ecc * cos(rad(per0))",
				"ecc":   "ecosw / cos(rad(per0))",
				"per0":  "deg(acos(ecosw / ecc))",
			},
			Description: "Eccentricity times cos of argument of periastron",
		},
		{
			Kind: "esinw", Component: orbit, Target: "esinw",
			Vars: map[string]Ref{"esinw": comp("esinw", orbit), "ecc": comp("ecc", orbit), "per0": comp("per0", orbit)},
			Forms: map[string]string{
				"esinw": "ecc * sin(rad(per0))",
				"ecc":   "esinw / sin(rad(per0))",
				"per0":  "deg(asin(esinw / ecc))",
			},
			Description: "Eccentricity times sin of argument of periastron",
		},
		{
			Kind: "t0_perpass", Component: orbit, Target: "t0_perpass",
			Vars: map[string]Ref{
				"t0_perpass": comp("t0_perpass", orbit),
				"t0_supconj": comp("t0_supconj", orbit),
				"period":     comp("period", orbit),
				"ecc":        comp("ecc", orbit),
				"per0":       comp("per0", orbit),
			},
			Forms: map[string]string{
				"t0_perpass": "t0_supconj - period * " + supconjMean + " / (2 * pi)",
				"t0_supconj": "t0_perpass + period * " + supconjMean + " / (2 * pi)",
			},
			Description: "Time of periastron passage",
		},
		{
			Kind: "t0_ref", Component: orbit, Target: "t0_ref",
			Vars: map[string]Ref{
				"t0_ref":     comp("t0_ref", orbit),
				"t0_supconj": comp("t0_supconj", orbit),
				"period":     comp("period", orbit),
				"ecc":        comp("ecc", orbit),
				"per0":       comp("per0", orbit),
			},
			Forms: map[string]string{
				"t0_ref":     "t0_supconj + period * (" + refMean + " - " + supconjMean + ") / (2 * pi)",
				"t0_supconj": "t0_ref - period * (" + refMean + " - " + supconjMean + ") / (2 * pi)",
			},
			Description: "Time of passage through the ascending node",
		},
		{
			Kind: "mean_anom", Component: orbit, Target: "mean_anom",
			Vars: map[string]Ref{
				"mean_anom":  comp("mean_anom", orbit),
				"t0":         {Qualifier: "t0", Context: param.ContextSystem},
				"t0_perpass": comp("t0_perpass", orbit),
				"period":     comp("period", orbit),
			},
			Forms: map[string]string{
				"mean_anom": "deg(mod(2 * pi * (t0 - t0_perpass) / period, 2 * pi))",
			},
			Description: "Mean anomaly at t0",
		},
	}
}

// Star returns the constraints attached to a star in a binary. primary
// selects which side of the mass ratio q = M_secondary / M_primary the
// star is on.
func Star(star, orbit string, primary bool) []Template {
	requivMax := "requiv_l1(1 / q, sma, ecc)"
	mass := "kepler_mass(sma, period) * q / (1 + q)"
	smaFromMass := "kepler_sma(mass * (1 + q) / q, period)"
	if primary {
		requivMax = "requiv_l1(q, sma, ecc)"
		mass = "kepler_mass(sma, period) / (1 + q)"
		smaFromMass = "kepler_sma(mass * (1 + q), period)"
	}

	return []Template{
		{
			Kind: "requiv_max", Component: star, Target: "requiv_max",
			Vars: map[string]Ref{
				"requiv_max": comp("requiv_max", star),
				"q":          comp("q", orbit),
				"sma":        comp("sma", orbit),
				"ecc":        comp("ecc", orbit),
			},
			Forms:       map[string]string{"requiv_max": requivMax},
			Description: "Critical (Roche lobe) equivalent radius at periastron",
		},
		{
			Kind: "rotation_period", Component: star, Target: "period",
			Vars: map[string]Ref{
				"period":       comp("period", star),
				"orbit_period": comp("period", orbit),
				"syncpar":      comp("syncpar", star),
			},
			Forms: map[string]string{
				"period":  "orbit_period / syncpar",
				"syncpar": "orbit_period / period",
			},
			Description: "Rotation period",
		},
		starFreq(star),
		{
			Kind: "pitch", Component: star, Target: "incl",
			Vars: map[string]Ref{"incl": comp("incl", star), "orbit_incl": comp("incl", orbit), "pitch": comp("pitch", star)},
			Forms: map[string]string{
				"incl":  "orbit_incl + pitch",
				"pitch": "incl - orbit_incl",
			},
			Description: "Inclination of the stellar rotation axis",
		},
		{
			Kind: "yaw", Component: star, Target: "long_an",
			Vars: map[string]Ref{"long_an": comp("long_an", star), "orbit_long_an": comp("long_an", orbit), "yaw": comp("yaw", star)},
			Forms: map[string]string{
				"long_an": "orbit_long_an + yaw",
				"yaw":     "long_an - orbit_long_an",
			},
			Description: "Longitude of the ascending node of the stellar equator",
		},
		{
			Kind: "mass", Component: star, Target: "mass",
			Vars: map[string]Ref{
				"mass":   comp("mass", star),
				"sma":    comp("sma", orbit),
				"period": comp("period", orbit),
				"q":      comp("q", orbit),
			},
			Forms: map[string]string{
				"mass": mass,
				"sma":  smaFromMass,
			},
			Description: "Stellar mass from Kepler's third law",
		},
		starLogg(star),
	}
}

// SingleStar returns the constraints of a star without an orbit.
func SingleStar(star string) []Template {
	return []Template{starFreq(star), starLogg(star)}
}

// Semidetached fills the star's Roche lobe: requiv = requiv_max.
func Semidetached(star string) Template {
	return Template{
		Kind: "semidetached", Component: star, Target: "requiv",
		Vars:        map[string]Ref{"requiv": comp("requiv", star), "requiv_max": comp("requiv_max", star)},
		Forms:       map[string]string{"requiv": "requiv_max"},
		Description: "Star fills its Roche lobe",
	}
}

func starFreq(star string) Template {
	return Template{
		Kind: "freq", Component: star, Target: "freq",
		Vars: map[string]Ref{"freq": comp("freq", star), "period": comp("period", star)},
		Forms: map[string]string{
			"freq":   "2 * pi / period",
			"period": "2 * pi / freq",
		},
		Description: "Rotation frequency",
	}
}

func starLogg(star string) Template {
	return Template{
		Kind: "logg", Component: star, Target: "logg",
		Vars: map[string]Ref{"logg": comp("logg", star), "mass": comp("mass", star), "requiv": comp("requiv", star)},
		Forms: map[string]string{
			"logg":   "logg(mass, requiv)",
			"requiv": "sqrt(gm_sun * mass * 100 / pow(10, logg)) / r_sun",
		},
		Description: "Surface gravity (cgs)",
	}
}
