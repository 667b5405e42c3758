package phoebe

import (
	"fmt"
	"math"

	"github.com/vk/starbundle/internal/backend"
	"github.com/vk/starbundle/internal/param"
	"github.com/vk/starbundle/internal/paramstore"
)

// stefanBoltzmann is in W m^-2 K^-4.
const stefanBoltzmann = 5.670374419e-8

type spot struct {
	colat   float64 // rad
	long    float64 // rad
	radius  float64 // rad
	relteff float64
}

type star struct {
	name     string
	requiv   float64 // solRad
	teff     float64 // K
	logg     float64
	incl     float64 // rad, rotation axis
	freq     float64 // rad/d
	elements int
	spots    []spot
}

// system is the parsed input of a compute run.
type system struct {
	t0       float64
	vgamma   float64
	distance float64 // m
	binary   *orbit
	stars    []*star
}

type reader struct {
	set *paramstore.Set
	err error
}

func (r *reader) float(tags param.Tags) float64 {
	if r.err != nil {
		return 0
	}
	p, err := r.set.Get(paramstore.Query{Tags: tags, IncludeHidden: true})
	if err != nil {
		r.err = err
		return 0
	}
	f, err := p.Float()
	if err != nil {
		r.err = err
	}
	return f
}

func (r *reader) floatOr(tags param.Tags, fallback float64) float64 {
	if r.set == nil {
		return fallback
	}
	p, err := r.set.Get(paramstore.Query{Tags: tags, IncludeHidden: true})
	if err != nil {
		return fallback
	}
	f, err := p.Float()
	if err != nil {
		return fallback
	}
	return f
}

func rad(deg float64) float64 { return deg * math.Pi / 180 }

func newSystem(set, options *paramstore.Set) (*system, error) {
	r := &reader{set: set}
	opts := &reader{set: options}
	sysTags := param.Tags{Context: param.ContextSystem}
	s := &system{
		t0:       r.float(sysTags.With("qualifier", "t0")),
		vgamma:   r.float(sysTags.With("qualifier", "vgamma")),
		distance: r.float(sysTags.With("qualifier", "distance")),
	}

	orbitName, starNames := backend.Hierarchy(set)
	if len(starNames) == 0 {
		return nil, fmt.Errorf("system has no stars")
	}
	if orbitName != "" {
		o := func(q string) float64 {
			return r.float(param.Tags{Qualifier: q, Component: orbitName, Context: param.ContextComponent})
		}
		s.binary = &orbit{
			period:    o("period"),
			sma:       o("sma"),
			q:         o("q"),
			incl:      rad(o("incl")),
			ecc:       o("ecc"),
			per0:      rad(o("per0")),
			t0Perpass: o("t0_perpass"),
			vgamma:    s.vgamma,
		}
	}

	for _, name := range starNames {
		c := func(q string) param.Tags {
			return param.Tags{Qualifier: q, Component: name, Context: param.ContextComponent}
		}
		st := &star{
			name:     name,
			requiv:   r.float(c("requiv")),
			teff:     r.float(c("teff")),
			logg:     r.float(c("logg")),
			incl:     rad(r.float(c("incl"))),
			freq:     r.float(c("freq")),
			elements: int(opts.floatOr(param.Tags{Qualifier: "ntriangles", Component: name}, 1500)),
		}
		if orbitName != "" {
			requivMax := r.float(c("requiv_max"))
			if r.err == nil && st.requiv > requivMax*(1+1e-9) {
				return nil, fmt.Errorf("%w: %s has requiv=%s > requiv_max=%s", ErrOverflow, name,
					param.FormatFloat(st.requiv), param.FormatFloat(requivMax))
			}
		}
		spots := set.Filter(paramstore.Query{Tags: param.Tags{Component: name, Kind: "spot", Context: param.ContextFeature}, IncludeHidden: true})
		for _, feature := range spots.Values("feature") {
			f := func(q string) float64 {
				return r.float(param.Tags{Qualifier: q, Feature: feature, Context: param.ContextFeature})
			}
			st.spots = append(st.spots, spot{
				colat:   rad(f("colat")),
				long:    rad(f("long")),
				radius:  rad(f("radius")),
				relteff: f("relteff"),
			})
		}
		s.stars = append(s.stars, st)
	}
	if r.err != nil {
		return nil, r.err
	}
	return s, nil
}

// spotFactor returns the flux of st at t relative to an unspotted star.
func (s *system) spotFactor(st *star, t float64) float64 {
	f := 1.0
	for _, sp := range st.spots {
		mu := math.Cos(sp.colat)*math.Cos(st.incl) +
			math.Sin(sp.colat)*math.Sin(st.incl)*math.Cos(sp.long+st.freq*(t-s.t0))
		f += (math.Pow(sp.relteff, 4) - 1) * 2 * (1 - math.Cos(sp.radius)) * math.Max(mu, 0)
	}
	return f
}
