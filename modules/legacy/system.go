package legacy

import (
	"context"
	"fmt"
	"math"

	"github.com/vk/starbundle/internal/backend"
	"github.com/vk/starbundle/internal/expr"
	"github.com/vk/starbundle/internal/param"
	"github.com/vk/starbundle/internal/paramstore"
)

const (
	stefanBoltzmann    = 5.670374419e-8 // W m^-2 K^-4
	kmsPerSolRadPerDay = expr.RSun / 1000 / expr.Day
)

type spot struct {
	// center is the unit vector of the spot center in the star's frame.
	center  [3]float64
	cosRad  float64
	relteff float64
}

type star struct {
	name     string
	requiv   float64 // solRad
	teff     float64 // K
	incl     float64 // rad, rotation axis
	freq     float64 // rad/d
	gridsize int
	spots    []spot
}

type orbit struct {
	period    float64 // d
	sma       float64 // solRad
	q         float64
	incl      float64 // rad
	ecc       float64
	per0      float64 // rad
	t0Perpass float64 // d
}

type system struct {
	t0          float64
	vgamma      float64
	distance    float64 // m
	binary      *orbit
	stars       []*star
	irradMethod string
	reflections int
}

// lookup reads parameters from one set and keeps the first error.
type lookup struct {
	set *paramstore.Set
	err error
}

func (l *lookup) get(tags param.Tags) *param.Parameter {
	if l.err != nil {
		return nil
	}
	p, err := l.set.Get(paramstore.Query{Tags: tags, IncludeHidden: true})
	if err != nil {
		l.err = err
	}
	return p
}

func (l *lookup) float(tags param.Tags) float64 {
	p := l.get(tags)
	if p == nil {
		return 0
	}
	f, err := p.Float()
	if err != nil {
		l.err = err
	}
	return f
}

func (l *lookup) integer(tags param.Tags) int {
	p := l.get(tags)
	if p == nil {
		return 0
	}
	n, err := p.Int()
	if err != nil {
		l.err = err
	}
	return n
}

func (l *lookup) text(tags param.Tags) string {
	p := l.get(tags)
	if p == nil {
		return ""
	}
	s, err := p.StringValue()
	if err != nil {
		l.err = err
	}
	return s
}

func rad(deg float64) float64 { return deg * math.Pi / 180 }

func newSystem(set, options *paramstore.Set) (*system, error) {
	sys := &lookup{set: set}
	opts := &lookup{set: options}
	sysTags := param.Tags{Context: param.ContextSystem}
	s := &system{
		t0:          sys.float(sysTags.With("qualifier", "t0")),
		vgamma:      sys.float(sysTags.With("qualifier", "vgamma")),
		distance:    sys.float(sysTags.With("qualifier", "distance")),
		irradMethod: opts.text(param.Tags{Qualifier: "irrad_method"}),
		reflections: opts.integer(param.Tags{Qualifier: "refl_num"}),
	}

	orbitName, starNames := backend.Hierarchy(set)
	if len(starNames) == 0 {
		return nil, fmt.Errorf("system has no stars")
	}
	if orbitName != "" {
		o := func(q string) float64 {
			return sys.float(param.Tags{Qualifier: q, Component: orbitName, Context: param.ContextComponent})
		}
		s.binary = &orbit{
			period:    o("period"),
			sma:       o("sma"),
			q:         o("q"),
			incl:      rad(o("incl")),
			ecc:       o("ecc"),
			per0:      rad(o("per0")),
			t0Perpass: o("t0_perpass"),
		}
	}

	for _, name := range starNames {
		c := func(q string) param.Tags {
			return param.Tags{Qualifier: q, Component: name, Context: param.ContextComponent}
		}
		st := &star{
			name:     name,
			requiv:   sys.float(c("requiv")),
			teff:     sys.float(c("teff")),
			incl:     rad(sys.float(c("incl"))),
			freq:     sys.float(c("freq")),
			gridsize: opts.integer(param.Tags{Qualifier: "gridsize", Component: name}),
		}
		features := set.Filter(paramstore.Query{Tags: param.Tags{Component: name, Kind: "spot", Context: param.ContextFeature}, IncludeHidden: true})
		for _, feature := range features.Values("feature") {
			f := func(q string) float64 {
				return sys.float(param.Tags{Qualifier: q, Feature: feature, Context: param.ContextFeature})
			}
			colat, long := rad(f("colat")), rad(f("long"))
			st.spots = append(st.spots, spot{
				center:  [3]float64{math.Sin(colat) * math.Cos(long), math.Sin(colat) * math.Sin(long), math.Cos(colat)},
				cosRad:  math.Cos(rad(f("radius"))),
				relteff: f("relteff"),
			})
		}
		s.stars = append(s.stars, st)
	}
	if sys.err != nil {
		return nil, sys.err
	}
	if opts.err != nil {
		return nil, fmt.Errorf("compute options: %w", opts.err)
	}
	return s, nil
}

// centers returns the sky positions of the stars relative to the barycenter
// at t: x and y in the plane of the sky, z towards the observer.
func (s *system) centers(t float64) [][3]float64 {
	out := make([][3]float64, len(s.stars))
	if s.binary == nil || len(s.stars) < 2 {
		return out
	}
	o := s.binary
	mean := 2 * math.Pi * (t - o.t0Perpass) / o.period
	e := expr.MeanToEccentric(o.ecc, mean)
	u := expr.EccentricToTrue(o.ecc, e) + o.per0
	r := o.sma * (1 - o.ecc*math.Cos(e))
	rel := [3]float64{r * math.Cos(u), r * math.Sin(u) * math.Cos(o.incl), r * math.Sin(u) * math.Sin(o.incl)}
	fp, fs := -o.q/(1+o.q), 1/(1+o.q)
	out[0] = [3]float64{fp * rel[0], fp * rel[1], fp * rel[2]}
	out[1] = [3]float64{fs * rel[0], fs * rel[1], fs * rel[2]}
	return out
}

// pixelTeff returns the temperature of the surface of st seen at the sky
// offset (dx, dy) from its center, in units of its radius.
func (s *system) pixelTeff(st *star, dx, dy, t float64) float64 {
	if len(st.spots) == 0 {
		return st.teff
	}
	mu := math.Sqrt(math.Max(0, 1-dx*dx-dy*dy))
	sinI, cosI := math.Sin(st.incl), math.Cos(st.incl)
	// Undo the sky projection, then the rotation about the spin axis.
	v0 := dx*cosI + mu*sinI
	v1 := dy
	v2 := -dx*sinI + mu*cosI
	spin := st.freq * (t - s.t0)
	c, sn := math.Cos(spin), math.Sin(spin)
	body := [3]float64{v0*c + v1*sn, -v0*sn + v1*c, v2}

	teff := st.teff
	for _, sp := range st.spots {
		if body[0]*sp.center[0]+body[1]*sp.center[1]+body[2]*sp.center[2] >= sp.cosRad {
			teff *= sp.relteff
		}
	}
	return teff
}

// rasterFlux integrates the visible surface brightness of every star at t.
// The second value is the same integral with no spots and no eclipses, on
// the same raster.
func (s *system) rasterFlux(t float64) (float64, float64) {
	centers := s.centers(t)
	var f, f0 float64
	for i, st := range s.stars {
		n := max(st.gridsize, 1)
		h := 2 / float64(n)
		pixel := st.requiv * st.requiv * h * h
		base := math.Pow(st.teff, 4)
		for row := range n {
			dy := -1 + (float64(row)+0.5)*h
			for col := range n {
				dx := -1 + (float64(col)+0.5)*h
				if dx*dx+dy*dy > 1 {
					continue
				}
				f0 += pixel * base
				if s.occulted(centers, i, centers[i][0]+st.requiv*dx, centers[i][1]+st.requiv*dy) {
					continue
				}
				f += pixel * math.Pow(s.pixelTeff(st, dx, dy, t), 4)
			}
		}
	}
	return f, f0
}

// occulted reports whether a star in front of star i covers the sky point
// (x, y).
func (s *system) occulted(centers [][3]float64, i int, x, y float64) bool {
	for j, other := range s.stars {
		if j == i || centers[j][2] <= centers[i][2] {
			continue
		}
		if math.Hypot(x-centers[j][0], y-centers[j][1]) <= other.requiv {
			return true
		}
	}
	return false
}

func (s *system) absoluteScale() float64 {
	var f float64
	for _, st := range s.stars {
		r := st.requiv * expr.RSun
		f += r * r * stefanBoltzmann * math.Pow(st.teff, 4)
	}
	return f / (s.distance * s.distance)
}

func datasetParam(set *paramstore.Set, tags param.Tags) (*param.Parameter, error) {
	tags.Context = param.ContextDataset
	return set.Get(paramstore.Query{Tags: tags, IncludeHidden: true})
}

func datasetFloats(set *paramstore.Set, tags param.Tags) ([]float64, error) {
	p, err := datasetParam(set, tags)
	if err != nil {
		return nil, err
	}
	return p.Floats()
}

func (s *system) lightCurve(ctx context.Context, set *paramstore.Set, ds string) ([]*param.Parameter, error) {
	tags := param.Tags{Dataset: ds}
	times, err := datasetFloats(set, tags.With("qualifier", "times"))
	if err != nil {
		return nil, err
	}
	mode, err := datasetParam(set, tags.With("qualifier", "pblum_mode"))
	if err != nil {
		return nil, err
	}
	l3p, err := datasetParam(set, tags.With("qualifier", "l3"))
	if err != nil {
		return nil, err
	}
	l3, _ := l3p.Float()

	var scale float64
	if m, _ := mode.StringValue(); m == "absolute" {
		scale = s.absoluteScale()
	} else {
		pblum, err := datasetParam(set, tags.With("qualifier", "pblum"))
		if err != nil {
			return nil, err
		}
		f, _ := pblum.Float()
		scale = f / (4 * math.Pi)
	}

	fluxes := make([]float64, len(times))
	for i, t := range times {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, f0 := s.rasterFlux(t)
		fluxes[i] = scale*f/f0 + l3
	}

	out := param.Tags{Dataset: ds, Kind: "lc"}
	tp, err := param.New(out.With("qualifier", "times"), param.TypeFloatArray, times, "Synthetic times", param.WithUnit("d"))
	if err != nil {
		return nil, err
	}
	fp, err := param.New(out.With("qualifier", "fluxes"), param.TypeFloatArray, fluxes, "Synthetic flux", param.WithUnit("W/m2"))
	if err != nil {
		return nil, err
	}
	return []*param.Parameter{tp, fp}, nil
}

// rv returns the radial velocity of star i at t, in km/s. Positive values
// recede from the observer.
func (s *system) rv(i int, t float64) float64 {
	if s.binary == nil {
		return s.vgamma
	}
	o := s.binary
	mean := 2 * math.Pi * (t - o.t0Perpass) / o.period
	u := expr.EccentricToTrue(o.ecc, expr.MeanToEccentric(o.ecc, mean)) + o.per0
	k := 2 * math.Pi * o.sma * math.Sin(o.incl) / (o.period * math.Sqrt(1-o.ecc*o.ecc)) * kmsPerSolRadPerDay
	shape := math.Cos(u) + o.ecc*math.Cos(o.per0)
	if i == 0 {
		return s.vgamma + k*o.q/(1+o.q)*shape
	}
	return s.vgamma - k/(1+o.q)*shape
}

func (s *system) radialVelocities(set *paramstore.Set, ds string) ([]*param.Parameter, error) {
	var out []*param.Parameter
	for i, st := range s.stars {
		times, err := datasetFloats(set, param.Tags{Qualifier: "times", Dataset: ds, Component: st.name})
		if err != nil {
			continue
		}
		rvs := make([]float64, len(times))
		for j, t := range times {
			rvs[j] = s.rv(i, t)
		}
		tags := param.Tags{Dataset: ds, Component: st.name, Kind: "rv"}
		tp, err := param.New(tags.With("qualifier", "times"), param.TypeFloatArray, times, "Synthetic times", param.WithUnit("d"))
		if err != nil {
			return nil, err
		}
		rp, err := param.New(tags.With("qualifier", "rvs"), param.TypeFloatArray, rvs, "Synthetic radial velocities", param.WithUnit("km/s"))
		if err != nil {
			return nil, err
		}
		out = append(out, tp, rp)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("rv dataset %s covers no star", ds)
	}
	return out, nil
}
