package phoebe

import (
	"fmt"
	"math"

	"github.com/vk/starbundle/internal/expr"
	"github.com/vk/starbundle/internal/param"
	"github.com/vk/starbundle/internal/paramstore"
)

// goldenAngle spaces mesh elements on a Fibonacci sphere.
var goldenAngle = math.Pi * (3 - math.Sqrt(5))

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

func result(tags param.Tags, typ param.Type, value any, unit, description string) (*param.Parameter, error) {
	return param.New(tags, typ, value, description, param.WithUnit(unit))
}

// eclipsed returns, for the primary and the secondary, the fraction of the
// disk hidden by the other star at t.
func (s *system) eclipsed(t float64) (float64, float64) {
	if s.binary == nil || len(s.stars) < 2 {
		return 0, 0
	}
	p := s.binary.at(t)
	r1, r2 := s.stars[0].requiv, s.stars[1].requiv
	a := overlap(r1, r2, math.Hypot(p.x, p.y))
	if a == 0 {
		return 0, 0
	}
	if p.z > 0 {
		return a / (math.Pi * r1 * r1), 0
	}
	return 0, a / (math.Pi * r2 * r2)
}

// relativeFlux returns the system flux at t divided by the flux of the
// unspotted, uneclipsed system.
func (s *system) relativeFlux(t float64) float64 {
	hidden := [2]float64{}
	hidden[0], hidden[1] = s.eclipsed(t)
	var f, f0 float64
	for i, st := range s.stars {
		base := st.requiv * st.requiv * math.Pow(st.teff, 4)
		f0 += base
		visible := 1.0
		if i < len(hidden) {
			visible -= hidden[i]
		}
		f += base * s.spotFactor(st, t) * visible
	}
	return f / f0
}

// absoluteScale is the uneclipsed bolometric flux of the system at its
// distance, in W/m2.
func (s *system) absoluteScale() float64 {
	var f float64
	for _, st := range s.stars {
		r := st.requiv * expr.RSun
		f += r * r * stefanBoltzmann * math.Pow(st.teff, 4)
	}
	return f / (s.distance * s.distance)
}

func (s *system) lightCurve(set *paramstore.Set, ds string) ([]*param.Parameter, error) {
	tags := param.Tags{Dataset: ds}
	times, err := datasetFloats(set, tags.With("qualifier", "times"))
	if err != nil {
		return nil, err
	}
	mode, err := datasetParam(set, tags.With("qualifier", "pblum_mode"))
	if err != nil {
		return nil, err
	}
	modeValue, _ := mode.StringValue()
	l3p, err := datasetParam(set, tags.With("qualifier", "l3"))
	if err != nil {
		return nil, err
	}
	l3, _ := l3p.Float()

	var scale float64
	switch modeValue {
	case "absolute":
		scale = s.absoluteScale()
	default:
		pblum, err := datasetParam(set, tags.With("qualifier", "pblum"))
		if err != nil {
			return nil, err
		}
		f, _ := pblum.Float()
		scale = f / (4 * math.Pi)
	}

	fluxes := make([]float64, len(times))
	for i, t := range times {
		fluxes[i] = scale*s.relativeFlux(t) + l3
	}

	out := param.Tags{Dataset: ds, Kind: "lc"}
	tp, err := result(out.With("qualifier", "times"), param.TypeFloatArray, times, "d", "Synthetic times")
	if err != nil {
		return nil, err
	}
	fp, err := result(out.With("qualifier", "fluxes"), param.TypeFloatArray, fluxes, "W/m2", "Synthetic flux")
	if err != nil {
		return nil, err
	}
	return []*param.Parameter{tp, fp}, nil
}

func (s *system) radialVelocities(set *paramstore.Set, ds string) ([]*param.Parameter, error) {
	var out []*param.Parameter
	for i, st := range s.stars {
		times, err := datasetFloats(set, param.Tags{Qualifier: "times", Dataset: ds, Component: st.name})
		if err != nil {
			// The dataset may not cover every star.
			continue
		}
		rvs := make([]float64, len(times))
		for j, t := range times {
			if s.binary == nil {
				rvs[j] = s.vgamma
				continue
			}
			rvs[j] = s.binary.rv(t, i == 0)
		}
		tags := param.Tags{Dataset: ds, Component: st.name, Kind: "rv"}
		tp, err := result(tags.With("qualifier", "times"), param.TypeFloatArray, times, "d", "Synthetic times")
		if err != nil {
			return nil, err
		}
		rp, err := result(tags.With("qualifier", "rvs"), param.TypeFloatArray, rvs, "km/s", "Synthetic radial velocities")
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

// mesh exposes per-element columns of every star at each requested time.
// Each column is an array indexed by [time][element].
func (s *system) mesh(set *paramstore.Set, ds string) ([]*param.Parameter, error) {
	times, err := datasetFloats(set, param.Tags{Qualifier: "times", Dataset: ds})
	if err != nil {
		return nil, err
	}
	colsP, err := datasetParam(set, param.Tags{Qualifier: "columns", Dataset: ds})
	if err != nil {
		return nil, err
	}
	columns, err := colsP.Strings()
	if err != nil {
		return nil, err
	}

	tp, err := result(param.Tags{Qualifier: "times", Dataset: ds, Kind: "mesh"}, param.TypeFloatArray, times, "d", "Mesh exposure times")
	if err != nil {
		return nil, err
	}
	out := []*param.Parameter{tp}
	for i, st := range s.stars {
		data := make(map[string][][]float64, len(columns))
		for _, t := range times {
			frame := s.meshFrame(st, i, t)
			for _, c := range columns {
				data[c] = append(data[c], frame[c])
			}
		}
		for _, c := range columns {
			p, err := result(param.Tags{Qualifier: c, Dataset: ds, Component: st.name, Kind: "mesh"},
				param.TypeArray, param.Matrix(data[c]), meshUnits[c], "Mesh column "+c)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
	}
	return out, nil
}

var meshUnits = map[string]string{
	"volume": "solRad3",
	"teffs":  "K",
	"rs":     "solRad",
	"us":     "solRad",
	"vs":     "solRad",
	"ws":     "solRad",
	"areas":  "solRad2",
}

// meshFrame discretizes st as a Fibonacci sphere at time t. Coordinates are
// in the sky frame relative to the barycenter, w pointing to the observer.
func (s *system) meshFrame(st *star, index int, t float64) map[string][]float64 {
	n := max(st.elements, 1)
	var center [3]float64
	if s.binary != nil {
		primary, secondary := s.binary.barycentric(s.binary.at(t))
		center = primary
		if index > 0 {
			center = secondary
		}
	}
	spin := st.freq * (t - s.t0)
	sinI, cosI := math.Sin(st.incl), math.Cos(st.incl)

	frame := map[string][]float64{
		"volume": {4.0 / 3.0 * math.Pi * math.Pow(st.requiv, 3)},
	}
	area := 4 * math.Pi * st.requiv * st.requiv / float64(n)
	for k := range n {
		z := 1 - 2*(float64(k)+0.5)/float64(n)
		colat := math.Acos(z)
		long := float64(k) * goldenAngle
		body := [3]float64{math.Sin(colat) * math.Cos(long), math.Sin(colat) * math.Sin(long), z}

		teff := st.teff
		for _, sp := range st.spots {
			spotVec := [3]float64{math.Sin(sp.colat) * math.Cos(sp.long), math.Sin(sp.colat) * math.Sin(sp.long), math.Cos(sp.colat)}
			if body[0]*spotVec[0]+body[1]*spotVec[1]+body[2]*spotVec[2] >= math.Cos(sp.radius) {
				teff *= sp.relteff
			}
		}

		// Rotate about the spin axis, then project on the sky basis.
		c, sn := math.Cos(spin), math.Sin(spin)
		v := [3]float64{body[0]*c - body[1]*sn, body[0]*sn + body[1]*c, body[2]}
		mu := v[0]*sinI + v[2]*cosI
		u := v[0]*cosI - v[2]*sinI

		frame["teffs"] = append(frame["teffs"], teff)
		frame["loggs"] = append(frame["loggs"], st.logg)
		frame["rs"] = append(frame["rs"], st.requiv)
		frame["us"] = append(frame["us"], center[0]+st.requiv*u)
		frame["vs"] = append(frame["vs"], center[1]+st.requiv*v[1])
		frame["ws"] = append(frame["ws"], center[2]+st.requiv*mu)
		frame["areas"] = append(frame["areas"], area)
		frame["mus"] = append(frame["mus"], mu)
	}
	return frame
}
