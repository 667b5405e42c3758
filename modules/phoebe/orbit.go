package phoebe

import (
	"math"

	"github.com/vk/starbundle/internal/expr"
)

// kmsPerSolRadPerDay converts solRad/d into km/s.
const kmsPerSolRadPerDay = expr.RSun / 1000 / expr.Day

// orbit holds the Keplerian elements of a binary in bundle units.
type orbit struct {
	period    float64 // d
	sma       float64 // solRad
	q         float64
	incl      float64 // rad
	ecc       float64
	per0      float64 // rad
	t0Perpass float64 // d
	vgamma    float64 // km/s
}

// position is the secondary relative to the primary, in solRad, in the sky
// frame: x and y in the plane of the sky, z towards the observer.
type position struct {
	x, y, z float64
	// argLat is the true anomaly plus the argument of periastron.
	argLat float64
	nu     float64
}

func (o orbit) at(t float64) position {
	mean := 2 * math.Pi * (t - o.t0Perpass) / o.period
	e := expr.MeanToEccentric(o.ecc, mean)
	nu := expr.EccentricToTrue(o.ecc, e)
	r := o.sma * (1 - o.ecc*math.Cos(e))
	u := nu + o.per0
	return position{
		x:      r * math.Cos(u),
		y:      r * math.Sin(u) * math.Cos(o.incl),
		z:      r * math.Sin(u) * math.Sin(o.incl),
		argLat: u,
		nu:     nu,
	}
}

// semiAmplitude returns the radial velocity semi-amplitude of the relative
// orbit in km/s.
func (o orbit) semiAmplitude() float64 {
	return 2 * math.Pi * o.sma * math.Sin(o.incl) / (o.period * math.Sqrt(1-o.ecc*o.ecc)) * kmsPerSolRadPerDay
}

// rv returns the radial velocity of the primary (primary=true) or the
// secondary at t, in km/s. Positive values recede from the observer.
func (o orbit) rv(t float64, primary bool) float64 {
	p := o.at(t)
	shape := math.Cos(p.argLat) + o.ecc*math.Cos(o.per0)
	k := o.semiAmplitude()
	if primary {
		return o.vgamma + k*o.q/(1+o.q)*shape
	}
	return o.vgamma - k/(1+o.q)*shape
}

// barycentric splits a relative position into the primary's and the
// secondary's offsets from the barycenter.
func (o orbit) barycentric(p position) (primary, secondary [3]float64) {
	fp := -o.q / (1 + o.q)
	fs := 1 / (1 + o.q)
	return [3]float64{fp * p.x, fp * p.y, fp * p.z}, [3]float64{fs * p.x, fs * p.y, fs * p.z}
}

// overlap returns the area shared by two disks of radii r1 and r2 whose
// centers are d apart.
func overlap(r1, r2, d float64) float64 {
	switch {
	case d >= r1+r2:
		return 0
	case d <= math.Abs(r1-r2):
		r := math.Min(r1, r2)
		return math.Pi * r * r
	}
	a1 := r1 * r1 * math.Acos((d*d+r1*r1-r2*r2)/(2*d*r1))
	a2 := r2 * r2 * math.Acos((d*d+r2*r2-r1*r1)/(2*d*r2))
	k := 0.5 * math.Sqrt((-d+r1+r2)*(d+r1-r2)*(d-r1+r2)*(d+r1+r2))
	return a1 + a2 - k
}
